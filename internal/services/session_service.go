// Package services – SessionService
//
// This file implements SessionService, which manages chat flows and the
// sessions inside them. It owns the structural invariants: every flow carries
// exactly one primary session that can be cleared but never deleted, default
// display names are derived from current counts ("Chat {n}", "Session {n}"),
// and flow deletion cascades over sessions and logs best effort, finishing
// the job even when an intermediate step fails.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/startintellect/go-chat-gateway/internal/domain"
	"github.com/startintellect/go-chat-gateway/internal/repo"
)

// Default display names.
const (
	primarySessionName = "Primary"
	flowNamePrefix     = "Chat"
	sessionNamePrefix  = "Session"
)

// SessionService provides flow- and session-level operations: creation with
// derived names, renaming, clearing, deletion with primary protection, and
// log access.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// NameMaxLen caps stored display names by rune length.
	NameMaxLen int
}

// NewSessionService constructs a SessionService with sane naming defaults.
func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{DB: db, NameMaxLen: 60}
}

// CreateFlow registers a flow for the user and provisions its primary
// session atomically. A blank flowID gets a generated one; a blank name
// falls back to "Chat {n+1}" from the user's current flow count. Duplicate
// flow IDs yield ErrDuplicateFlow.
func (s *SessionService) CreateFlow(ctx context.Context, username, flowID, name string) (*domain.Flow, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "CreateFlow",
		trace.WithAttributes(
			attribute.String("user.name", username),
			attribute.String("flow.id", flowID),
		),
	)
	defer span.End()

	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		flowID = repo.NewSessionID()
	}
	name = strings.TrimSpace(name)

	var created *domain.Flow
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if name == "" {
			n, err := repo.CountFlows(ctx, tx, username)
			if err != nil {
				return err
			}
			name = fmt.Sprintf("%s %d", flowNamePrefix, n+1)
		}

		primaryID := repo.NewSessionID()
		f, err := repo.CreateFlow(ctx, tx, username, flowID, s.clip(name), primaryID)
		if err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrDuplicateFlow
			}
			return err
		}

		sess := &domain.Session{
			Username:    username,
			FlowID:      flowID,
			ID:          primaryID,
			DisplayName: primarySessionName,
			IsPrimary:   true,
		}
		if err := tx.Create(sess).Error; err != nil {
			return err
		}
		created = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListFlows returns the user's flows in creation order.
func (s *SessionService) ListFlows(ctx context.Context, username string) ([]domain.Flow, error) {
	return repo.ListFlows(ctx, s.DB, username)
}

// GetFlow fetches one flow or ErrFlowNotFound.
func (s *SessionService) GetFlow(ctx context.Context, username, flowID string) (*domain.Flow, error) {
	f, err := repo.GetFlow(ctx, s.DB, username, flowID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFlowNotFound
		}
		return nil, err
	}
	return f, nil
}

// DeleteFlow removes a flow with everything inside it. The cascade is best
// effort: a failure deleting logs or sessions is logged and the deletion
// presses on, so a half-deleted flow converges on gone rather than wedged.
func (s *SessionService) DeleteFlow(ctx context.Context, username, flowID string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "DeleteFlow",
		trace.WithAttributes(
			attribute.String("user.name", username),
			attribute.String("flow.id", flowID),
		),
	)
	defer span.End()

	if _, err := repo.GetFlow(ctx, s.DB, username, flowID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFlowNotFound
		}
		return err
	}

	if err := repo.DeleteLogsInFlow(ctx, s.DB, username, flowID); err != nil {
		log.Warn().Err(err).Str("flow_id", flowID).Msg("flow cascade: deleting logs failed")
	}
	if err := repo.DeleteSessionsInFlow(ctx, s.DB, username, flowID); err != nil {
		log.Warn().Err(err).Str("flow_id", flowID).Msg("flow cascade: deleting sessions failed")
	}
	if err := repo.DeleteFlow(ctx, s.DB, username, flowID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFlowNotFound
		}
		return err
	}
	return nil
}

// CreateSession adds a session to a flow. A blank displayName falls back to
// "Session {n+1}" from the flow's current session count (the primary counts).
func (s *SessionService) CreateSession(ctx context.Context, username, flowID, displayName string) (*domain.Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "CreateSession",
		trace.WithAttributes(
			attribute.String("user.name", username),
			attribute.String("flow.id", flowID),
		),
	)
	defer span.End()

	if _, err := s.GetFlow(ctx, username, flowID); err != nil {
		return nil, err
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		n, err := repo.CountSessions(ctx, s.DB, username, flowID)
		if err != nil {
			return nil, err
		}
		displayName = fmt.Sprintf("%s %d", sessionNamePrefix, n+1)
	}
	return repo.CreateSession(ctx, s.DB, username, flowID, s.clip(displayName), false)
}

// ListSessions returns a flow's sessions, primary first.
func (s *SessionService) ListSessions(ctx context.Context, username, flowID string) ([]domain.Session, error) {
	if _, err := s.GetFlow(ctx, username, flowID); err != nil {
		return nil, err
	}
	return repo.ListSessions(ctx, s.DB, username, flowID)
}

// GetSession fetches one session or ErrSessionNotFound.
func (s *SessionService) GetSession(ctx context.Context, username, flowID, sessionID string) (*domain.Session, error) {
	sess, err := repo.GetSession(ctx, s.DB, username, flowID, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// Rename updates a session's display name.
func (s *SessionService) Rename(ctx context.Context, username, flowID, sessionID, displayName string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return ErrSessionNotFound
	}
	err := repo.RenameSession(ctx, s.DB, username, flowID, sessionID, s.clip(displayName))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// Clear empties a session's log. Clearing an already-empty session is a
// no-op success; the session itself must exist.
func (s *SessionService) Clear(ctx context.Context, username, flowID, sessionID string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Clear",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	if _, err := s.GetSession(ctx, username, flowID, sessionID); err != nil {
		return err
	}
	return repo.ClearLog(ctx, s.DB, username, flowID, sessionID)
}

// Delete removes a session and its log. The flow's primary session is
// protected: callers get ErrPrimarySessionProtected and are expected to
// Clear instead.
func (s *SessionService) Delete(ctx context.Context, username, flowID, sessionID string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	sess, err := s.GetSession(ctx, username, flowID, sessionID)
	if err != nil {
		return err
	}
	if sess.IsPrimary {
		return ErrPrimarySessionProtected
	}

	if err := repo.ClearLog(ctx, s.DB, username, flowID, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("session delete: clearing log failed")
	}
	err = repo.DeleteSession(ctx, s.DB, username, flowID, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// GetLog returns a session's transcript in order.
func (s *SessionService) GetLog(ctx context.Context, username, flowID, sessionID string) ([]domain.Message, error) {
	if _, err := s.GetSession(ctx, username, flowID, sessionID); err != nil {
		return nil, err
	}
	return repo.ListMessages(ctx, s.DB, username, flowID, sessionID)
}

// DeleteMessage removes the message(s) in a session matching the content
// hash. Returns ErrMessageNotFound when nothing matched.
func (s *SessionService) DeleteMessage(ctx context.Context, username, flowID, sessionID, hash string) error {
	if _, err := s.GetSession(ctx, username, flowID, sessionID); err != nil {
		return err
	}
	err := repo.DeleteMessageByHash(ctx, s.DB, username, flowID, sessionID, hash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMessageNotFound
	}
	return err
}

// clip truncates a display name to the configured maximum rune length.
func (s *SessionService) clip(name string) string {
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		return string([]rune(name)[:s.NameMaxLen])
	}
	return name
}
