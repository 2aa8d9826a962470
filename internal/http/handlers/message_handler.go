// Message HTTP handlers.
//
// This file exposes REST endpoints for a session's transcript:
//   - GET    /flows/{id}/sessions/{sid}/messages         (the log, paginated)
//   - POST   /flows/{id}/sessions/{sid}/messages         (one chat turn)
//   - DELETE /flows/{id}/sessions/{sid}/messages/{hash}  (delete by content hash)
//
// The turn endpoint is idempotency-aware: a replayed Idempotency-Key returns
// the previously recorded assistant message without consuming a generation.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/startintellect/go-chat-gateway/internal/domain"
	"github.com/startintellect/go-chat-gateway/internal/http/middleware"
	"github.com/startintellect/go-chat-gateway/internal/services"
	"github.com/startintellect/go-chat-gateway/internal/utils"
)

//
// DTOs
//

// PostTurnRequest is the JSON payload for sending a chat turn.
//
// Content is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. The service also enforces
// a maximum rune count.
type PostTurnRequest struct {
	// Content is the user prompt. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"What are the visa requirements for Japan?"`
}

// ListMessagesResponse contains a page of a session's log and pagination
// metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), defaultPage),
		utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
		maxPageSize)
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxPromptRunes inspects the concrete ChatService for a configured
// prompt-length limit. If unavailable, it returns a conservative fallback.
func discoverMaxPromptRunes(chatSvc ChatService) int {
	const fallback = 4000
	if cs, ok := chatSvc.(*services.ChatService); ok {
		if cs.MaxPromptRunes > 0 {
			return cs.MaxPromptRunes
		}
	}
	return fallback
}

// contentHashRE matches the 32-hex-character message content hash.
var contentHashRE = regexp.MustCompile(`^[0-9a-f]{32}$`)

//
// Handlers
//

// ListMessages godoc
// @ID          listMessages
// @Summary     Get a session's log
// @Description Returns the session's transcript in order, paginated.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Flow ID"
// @Param       sid        path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       page       query   int     false "Page number"      minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"   minimum(1) maximum(200) default(50)
//
// @Success     200  {object}  handlers.ListMessagesResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id}/sessions/{sid}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	page, pageSize := clampPagination(c)

	log, err := h.sessSvc.GetLog(c.Request.Context(), userID(c), c.Param("id"), c.Param("sid"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrFlowNotFound), errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	total := int64(len(log))
	start, end := utils.PageBounds(page, pageSize, len(log))

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: log[start:end],
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// PostTurn godoc
// @ID          postTurn
// @Summary     Send a message and get the assistant reply
// @Description Runs one chat turn: appends the user message, calls the responder, appends the
// @Description assistant reply, and consumes one generation from the active token.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Flow ID"
// @Param       sid              path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostTurnRequest  true  "User message payload"
//
// @Success     201  {object}  services.TurnResult  "Completed turn"
// @Success     200  {object}  services.TurnResult  "Replayed turn"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "No active token / quota exhausted"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id}/sessions/{sid}/messages [post]
func (h *Handlers) PostTurn(c *gin.Context) {
	var req PostTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxPromptRunes(h.chatSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)

	res, err := h.chatSvc.Turn(c.Request.Context(), userID(c), c.Param("id"), c.Param("sid"), content, idemKey)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrFlowNotFound), errors.Is(err, services.ErrSessionNotFound):
			middleware.ObserveTurn("rejected")
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrNoActiveToken):
			middleware.ObserveTurn("rejected")
			fail(c, http.StatusForbidden, ErrCodeNoActiveToken, "no active token")
		case errors.Is(err, services.ErrQuotaExhausted):
			middleware.ObserveTurn("rejected")
			fail(c, http.StatusForbidden, ErrCodeQuotaExhausted, "generation quota exhausted")
		case errors.Is(err, services.ErrEmptyPrompt):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		default:
			fail(c, http.StatusInternalServerError, ErrCodeTurnFailed, err.Error())
		}
		return
	}

	if res.TokenRetired {
		middleware.ObserveRetirement()
	}
	if res.Replayed {
		middleware.ObserveTurn("replayed")
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, res)
		return
	}
	if res.AssistantMessage != nil && res.AssistantMessage.Content == services.ResponderFailureText {
		middleware.ObserveTurn("responder_failure")
	} else {
		middleware.ObserveTurn("ok")
	}
	ok(c, http.StatusCreated, res)
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message
// @Description Removes the message(s) in the session whose content hash matches.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Flow ID"
// @Param       sid        path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       hash       path    string  true  "Content hash (32 hex chars)"
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad hash"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id}/sessions/{sid}/messages/{hash} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	hash := strings.ToLower(c.Param("hash"))
	if !contentHashRE.MatchString(hash) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "hash must be 32 hex characters")
		return
	}

	err := h.sessSvc.DeleteMessage(c.Request.Context(), userID(c), c.Param("id"), c.Param("sid"), hash)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrFlowNotFound), errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrMessageNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}
