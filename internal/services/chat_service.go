// Package services – ChatService
//
// This file implements ChatService, the orchestrator of a single chat turn.
// A turn moves through validation (entitlement check, no side effects on
// failure), the user-message append, the responder round trip, best-effort
// translation, the assistant-message append, and finally the quota decrement.
// The responder call happens with no lock or transaction open; a responder
// failure still completes the turn by persisting a synthetic assistant
// message carrying the error text, so the transcript always shows something
// for a sent turn.
//
// Observability: Turn is OpenTelemetry-instrumented with child spans around
// the responder round trip.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/startintellect/go-chat-gateway/internal/domain"
	"github.com/startintellect/go-chat-gateway/internal/repo"
)

// ResponderFailureText is the assistant content persisted when the upstream
// responder errors out mid-turn.
const ResponderFailureText = "Something went wrong while generating a response. Please try again."

// Responder is the upstream prediction collaborator. The session identifier
// it receives is already composed for upstream memory scoping.
type Responder interface {
	Respond(ctx context.Context, flowID, upstreamSessionID, prompt string) (string, error)
}

// Translator post-processes assistant text best effort. Implementations
// never fail: on any problem they return the input unchanged.
type Translator interface {
	Translate(ctx context.Context, text string) string
}

// TurnResult is what one completed chat turn hands back to the transport
// layer.
type TurnResult struct {
	UserMessage      *domain.Message `json:"user_message"`
	AssistantMessage *domain.Message `json:"assistant_message"`
	Remaining        int             `json:"remaining_generations"`
	TokenRetired     bool            `json:"token_retired"`
	Replayed         bool            `json:"replayed"`
}

// ChatService runs chat turns against a flow session.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Tokens gates and meters the turn.
	Tokens *TokenService
	// Sessions resolves flows/sessions and owns log access.
	Sessions *SessionService
	// Responder produces assistant replies.
	Responder Responder
	// Translator is optional; nil disables translation.
	Translator Translator

	// MaxPromptRunes caps prompts by rune length; 0 disables the cap.
	MaxPromptRunes int
	// IdempotencyTTL bounds how long a recorded turn can be replayed.
	IdempotencyTTL time.Duration
}

// NewChatService constructs a ChatService with sane defaults.
func NewChatService(db *gorm.DB, tokens *TokenService, sessions *SessionService, r Responder, t Translator) *ChatService {
	return &ChatService{
		DB:             db,
		Tokens:         tokens,
		Sessions:       sessions,
		Responder:      r,
		Translator:     t,
		MaxPromptRunes: 4000,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Turn executes one chat turn. idemKey may be empty; when set and a recorded
// turn with the same key exists, the recorded assistant message is returned
// without contacting the responder or consuming a generation.
//
// Validation failures (empty prompt, missing session, no entitlement) abort
// with no side effects. After the user message is appended the turn always
// completes: a responder failure is persisted as a synthetic assistant
// message and the generation is still consumed, and losing a cross-tab race
// on the final generation yields a completed turn with zero remaining
// instead of an error.
func (s *ChatService) Turn(ctx context.Context, username, flowID, sessionID, prompt, idemKey string) (*TurnResult, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Turn",
		trace.WithAttributes(
			attribute.String("user.name", username),
			attribute.String("flow.id", flowID),
			attribute.String("session.id", sessionID),
		),
	)
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}

	if _, err := s.Sessions.GetSession(ctx, username, flowID, sessionID); err != nil {
		return nil, err
	}
	if _, err := s.Tokens.Check(ctx, username); err != nil {
		return nil, err
	}

	if idemKey != "" {
		if res, ok, err := s.replay(ctx, username, flowID, sessionID, idemKey); err != nil {
			return nil, err
		} else if ok {
			span.SetAttributes(attribute.Bool("turn.replayed", true))
			return res, nil
		}
	}

	userMsg, err := repo.AppendMessage(ctx, s.DB, username, flowID, sessionID, domain.RoleUser, prompt)
	if err != nil {
		return nil, err
	}

	answer := s.respond(ctx, username, flowID, sessionID, prompt)

	assistantMsg, err := repo.AppendMessage(ctx, s.DB, username, flowID, sessionID, domain.RoleAssistant, answer)
	if err != nil {
		return nil, err
	}
	if err := repo.TouchSession(ctx, s.DB, username, flowID, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("turn: touching session failed")
	}

	remaining, retired, err := s.Tokens.Consume(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrQuotaExhausted) && !errors.Is(err, ErrNoActiveToken) {
			return nil, err
		}
		// Another tab spent the final generation between this turn's
		// entitlement check and its consume. The transcript already holds
		// both messages, so the turn completed; report it with nothing
		// left rather than disowning persisted messages.
		span.SetAttributes(attribute.Bool("turn.quota_raced", true))
		log.Warn().Str("user", username).Msg("turn: quota raced away mid-turn")
		remaining = 0
	}

	if idemKey != "" {
		if _, err := repo.CreateIdempotency(ctx, s.DB, username, flowID, sessionID, idemKey, assistantMsg.ID, 201, s.IdempotencyTTL); err != nil && err != repo.ErrDuplicate {
			log.Warn().Err(err).Msg("turn: recording idempotency key failed")
		}
	}

	return &TurnResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Remaining:        remaining,
		TokenRetired:     retired,
	}, nil
}

// respond performs the responder round trip plus best-effort translation.
// Never fails: responder errors collapse to the synthetic failure text.
func (s *ChatService) respond(ctx context.Context, username, flowID, sessionID, prompt string) string {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "respond",
		trace.WithAttributes(attribute.String("flow.id", flowID)),
	)
	defer span.End()

	upstream := UpstreamSessionID(username, flowID, sessionID)
	answer, err := s.Responder.Respond(ctx, flowID, upstream, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "responder failure")
		log.Error().Err(err).Str("flow_id", flowID).Msg("responder call failed")
		return ResponderFailureText
	}
	if s.Translator != nil {
		answer = s.Translator.Translate(ctx, answer)
	}
	return answer
}

// replay resolves an idempotency key to a previously recorded turn.
func (s *ChatService) replay(ctx context.Context, username, flowID, sessionID, idemKey string) (*TurnResult, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, username, flowID, sessionID, idemKey, time.Now().UTC())
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	m, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if err != nil {
		// The recorded message was cleared or deleted since; fall through
		// to a fresh turn instead of failing the retry.
		return nil, false, nil
	}
	u, err := repo.GetUser(ctx, s.DB, username)
	if err != nil {
		return nil, false, err
	}
	return &TurnResult{
		AssistantMessage: m,
		Remaining:        u.RemainingGenerations,
		Replayed:         true,
	}, true, nil
}

// UpstreamSessionID composes the session identifier sent to the responder so
// upstream conversation memory stays scoped per user, flow, and session.
func UpstreamSessionID(username, flowID, sessionID string) string {
	return username + "_" + flowID + "_" + sessionID
}
