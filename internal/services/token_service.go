// Package services – TokenService
//
// This file implements TokenService, which owns the access-token lifecycle:
// admin issuance, activation (binding a token to an account with a fresh
// generation budget), per-turn consumption, and retirement. Retirement is the
// one-way door of the model: it appends to an insert-only ledger, and the
// service guarantees it happens exactly once per token no matter how many
// turns race across the zero boundary.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/startintellect/go-chat-gateway/internal/domain"
	"github.com/startintellect/go-chat-gateway/internal/repo"
)

// Issuance bounds for admin batch generation.
const (
	MinBatchCount = 1
	MaxBatchCount = 10
	MinBudget     = 10
	MaxBudget     = 1000
)

// TokenInfo is the admin view of an issued token: the stored row plus its
// ledger state.
type TokenInfo struct {
	domain.Token
	Retired bool `json:"retired"`
}

// TokenService manages issuance, activation, consumption, and retirement of
// access tokens.
type TokenService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewTokenService constructs a TokenService.
func NewTokenService(db *gorm.DB) *TokenService {
	return &TokenService{DB: db}
}

// IssueBatch mints count fresh tokens, each carrying the given generation
// budget. Bounds: count in [1,10], generations in [10,1000].
func (s *TokenService) IssueBatch(ctx context.Context, count, generations int) ([]domain.Token, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "IssueBatch",
		trace.WithAttributes(
			attribute.Int("token.count", count),
			attribute.Int("token.generations", generations),
		),
	)
	defer span.End()

	if count < MinBatchCount || count > MaxBatchCount {
		return nil, ErrBadTokenBatch
	}
	if generations < MinBudget || generations > MaxBudget {
		return nil, ErrBadTokenBatch
	}

	out := make([]domain.Token, 0, count)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < count; i++ {
			t, err := repo.CreateToken(ctx, tx, generations)
			if err != nil {
				return err
			}
			out = append(out, *t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Activate binds tokenID to username with the token's full budget. Rules are
// checked in order: the token must have been issued, must not be retired, and
// must not be another account's active token. Binding overwrites whatever
// token the user held before without retiring it; replacement is not
// retirement. Re-activating the token the user already holds is a no-op and
// does not reset the remaining budget.
func (s *TokenService) Activate(ctx context.Context, username, tokenID string) (*Entitlement, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Activate",
		trace.WithAttributes(
			attribute.String("user.name", username),
			attribute.String("token.id", tokenID),
		),
	)
	defer span.End()

	var ent *Entitlement
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := repo.GetToken(ctx, tx, tokenID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenInvalid
			}
			return err
		}

		retired, err := repo.IsTokenRetired(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if retired {
			return ErrTokenRetired
		}

		if holder, err := repo.FindTokenHolder(ctx, tx, tokenID); err == nil {
			if holder.Username != username {
				return ErrTokenAlreadyBound
			}
			// Same account re-submitting its own token: keep the counter.
			ent = snapshot(holder)
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if _, err := repo.EnsureUser(ctx, tx, username); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := repo.BindToken(ctx, tx, username, tokenID, t.Generations, now); err != nil {
			return err
		}
		if err := repo.MarkTokenUsed(ctx, tx, tokenID); err != nil {
			return err
		}

		u, err := repo.GetUser(ctx, tx, username)
		if err != nil {
			return err
		}
		ent = snapshot(u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ent, nil
}

// Check verifies the user may start a chat turn right now. It returns
// ErrNoActiveToken when no token is bound and ErrQuotaExhausted when the
// bound token has nothing left. On the exhausted path it also performs the
// lazy retirement sweep, so a user whose budget hit zero without crossing it
// here still loses the token.
func (s *TokenService) Check(ctx context.Context, username string) (*domain.User, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Check",
		trace.WithAttributes(attribute.String("user.name", username)),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveToken
		}
		return nil, err
	}
	if u.ActiveToken == nil || *u.ActiveToken == "" {
		return nil, ErrNoActiveToken
	}
	if u.RemainingGenerations <= 0 {
		if _, err := s.retire(ctx, username, *u.ActiveToken); err != nil {
			return nil, err
		}
		return nil, ErrQuotaExhausted
	}
	return u, nil
}

// Consume burns one generation from the user's active token and, when that
// consumes the last one, retires the token. The decrement is a guarded
// update, so of N turns racing on the final generation exactly one consumes
// it, and the release guard hands the ledger write to exactly one caller.
// On the ErrQuotaExhausted path the retired return still reports whether
// this call's sweep performed the release.
func (s *TokenService) Consume(ctx context.Context, username string) (remaining int, retired bool, err error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Consume",
		trace.WithAttributes(attribute.String("user.name", username)),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, ErrNoActiveToken
		}
		return 0, false, err
	}
	if u.ActiveToken == nil || *u.ActiveToken == "" {
		return 0, false, ErrNoActiveToken
	}
	tokenID := *u.ActiveToken

	remaining, changed, err := repo.ApplyGenerationDelta(ctx, s.DB, username, -1)
	if err != nil {
		return 0, false, err
	}
	if !changed {
		// The counter was already at zero; another turn beat us to the
		// last generation. Sweep the retirement in case the winner died
		// between its decrement and its ledger write.
		released, err := s.retire(ctx, username, tokenID)
		if err != nil {
			return 0, false, err
		}
		return 0, released, ErrQuotaExhausted
	}
	if remaining == 0 {
		retired, err = s.retire(ctx, username, tokenID)
		if err != nil {
			return 0, false, err
		}
		// The ledger row exists whether or not this caller released.
		retired = true
	}
	return remaining, retired, nil
}

// Status reports the user's entitlement, lazily retiring a bound token whose
// budget is spent so the snapshot never shows a dead token as active.
func (s *TokenService) Status(ctx context.Context, username string) (*Entitlement, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Status",
		trace.WithAttributes(attribute.String("user.name", username)),
	)
	defer span.End()

	u, err := repo.EnsureUser(ctx, s.DB, username)
	if err != nil {
		return nil, err
	}
	if u.ActiveToken != nil && *u.ActiveToken != "" && u.RemainingGenerations <= 0 {
		if _, err := s.retire(ctx, username, *u.ActiveToken); err != nil {
			return nil, err
		}
		u, err = repo.GetUser(ctx, s.DB, username)
		if err != nil {
			return nil, err
		}
	}
	return snapshot(u), nil
}

// List returns every issued token newest-first, annotated with its ledger
// state (admin view).
func (s *TokenService) List(ctx context.Context) ([]TokenInfo, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "List")
	defer span.End()

	tokens, err := repo.ListTokens(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		retired, err := repo.IsTokenRetired(ctx, s.DB, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, TokenInfo{Token: t, Retired: retired})
	}
	return out, nil
}

// retire unbinds tokenID from username (guarded, single-shot) and appends the
// ledger row. The ledger insert is idempotent, so calling this after another
// racer already retired the token is harmless. Reports whether this call
// performed the release.
func (s *TokenService) retire(ctx context.Context, username, tokenID string) (bool, error) {
	released, err := repo.ReleaseToken(ctx, s.DB, username, tokenID)
	if err != nil {
		return false, err
	}
	if err := repo.RetireToken(ctx, s.DB, tokenID, domain.RetireReasonDepleted); err != nil {
		return released, err
	}
	return released, nil
}
