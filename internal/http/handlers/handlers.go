// Handler wiring for the public API.
//
// This file defines the service contracts consumed by the HTTP layer and the
// Handlers aggregate that binds them. Handlers are transport-thin: they
// validate input, call application services, and translate results into HTTP
// responses. Business rules live behind the interfaces below.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/startintellect/go-chat-gateway/internal/domain"
	"github.com/startintellect/go-chat-gateway/internal/services"
)

//
// Service contracts (context-aware)
//

// EntitlementService exposes the read side of token-gated access.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type EntitlementService interface {
	// Status returns the user's entitlement snapshot, creating the account
	// row on first contact.
	Status(ctx context.Context, username string) (*services.Entitlement, error)
}

// TokenService exposes the access-token lifecycle consumed by HTTP handlers.
type TokenService interface {
	// IssueBatch mints count tokens carrying the given generation budget.
	IssueBatch(ctx context.Context, count, generations int) ([]domain.Token, error)
	// Activate binds a token to the user and returns the fresh entitlement.
	Activate(ctx context.Context, username, tokenID string) (*services.Entitlement, error)
	// List returns all issued tokens with their ledger state (admin view).
	List(ctx context.Context) ([]services.TokenInfo, error)
}

// SessionService exposes flow and session management.
type SessionService interface {
	CreateFlow(ctx context.Context, username, flowID, name string) (*domain.Flow, error)
	ListFlows(ctx context.Context, username string) ([]domain.Flow, error)
	DeleteFlow(ctx context.Context, username, flowID string) error
	CreateSession(ctx context.Context, username, flowID, displayName string) (*domain.Session, error)
	ListSessions(ctx context.Context, username, flowID string) ([]domain.Session, error)
	Rename(ctx context.Context, username, flowID, sessionID, displayName string) error
	Clear(ctx context.Context, username, flowID, sessionID string) error
	Delete(ctx context.Context, username, flowID, sessionID string) error
	GetLog(ctx context.Context, username, flowID, sessionID string) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, username, flowID, sessionID, hash string) error
}

// ChatService runs one chat turn against a flow session.
type ChatService interface {
	Turn(ctx context.Context, username, flowID, sessionID, prompt, idemKey string) (*services.TurnResult, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for entitlements, tokens, flows, sessions,
// and chat turns. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	entSvc   EntitlementService
	tokenSvc TokenService
	sessSvc  SessionService
	chatSvc  ChatService

	// adminKey gates the token-issuance surface. Empty disables it.
	adminKey string
}

// New constructs and returns a Handlers instance bound to the given services.
func New(entSvc EntitlementService, tokenSvc TokenService, sessSvc SessionService, chatSvc ChatService, adminKey string) *Handlers {
	return &Handlers{
		entSvc:   entSvc,
		tokenSvc: tokenSvc,
		sessSvc:  sessSvc,
		chatSvc:  chatSvc,
		adminKey: adminKey,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}
