// Package services – EntitlementService
//
// This file implements EntitlementService, the read side of token-gated
// access. It exposes the entitlement snapshot handlers render (active token,
// remaining generations, activation time) and the partial-update primitive
// used by the admin surface.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the username they operate on.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/startintellect/go-chat-gateway/internal/domain"
	"github.com/startintellect/go-chat-gateway/internal/repo"
)

// Entitlement is the point-in-time snapshot of a user's chat access.
type Entitlement struct {
	Username             string  `json:"username"`
	HasActiveToken       bool    `json:"has_active_token"`
	ActiveToken          *string `json:"active_token,omitempty"`
	RemainingGenerations int     `json:"remaining_generations"`
}

// EntitlementService answers "may this user chat, and how much is left".
type EntitlementService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewEntitlementService constructs an EntitlementService.
func NewEntitlementService(db *gorm.DB) *EntitlementService {
	return &EntitlementService{DB: db}
}

// Status returns the user's entitlement snapshot, creating the bare account
// row on first contact. A user without a bound token gets a zeroed snapshot,
// not an error; callers that need to gate on access check HasActiveToken.
func (s *EntitlementService) Status(ctx context.Context, username string) (*Entitlement, error) {
	tr := otel.Tracer("services/EntitlementService")
	ctx, span := tr.Start(ctx, "Status",
		trace.WithAttributes(attribute.String("user.name", username)),
	)
	defer span.End()

	u, err := repo.EnsureUser(ctx, s.DB, username)
	if err != nil {
		return nil, err
	}
	return snapshot(u), nil
}

// Get returns the raw user record, or ErrNoActiveToken mapped upward as the
// caller sees fit. Unlike Status it never creates the row.
func (s *EntitlementService) Get(ctx context.Context, username string) (*domain.User, error) {
	tr := otel.Tracer("services/EntitlementService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("user.name", username)),
	)
	defer span.End()

	return repo.GetUser(ctx, s.DB, username)
}

// SetFields applies a partial column update to an existing user. It is the
// service form of the old record-merge call: fields are created on the row,
// the row itself never is.
func (s *EntitlementService) SetFields(ctx context.Context, username string, fields map[string]any) error {
	tr := otel.Tracer("services/EntitlementService")
	ctx, span := tr.Start(ctx, "SetFields",
		trace.WithAttributes(attribute.String("user.name", username)),
	)
	defer span.End()

	err := repo.SetUserFields(ctx, s.DB, username, fields)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.ErrNotFound
	}
	return err
}

// snapshot projects a user row onto the entitlement view.
func snapshot(u *domain.User) *Entitlement {
	e := &Entitlement{
		Username:             u.Username,
		RemainingGenerations: u.RemainingGenerations,
	}
	if u.ActiveToken != nil && *u.ActiveToken != "" {
		e.HasActiveToken = true
		e.ActiveToken = u.ActiveToken
	}
	return e
}
