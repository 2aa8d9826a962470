// Session HTTP handlers.
//
// This file exposes REST endpoints for sessions within a flow:
//   - POST   /flows/{id}/sessions              (create)
//   - GET    /flows/{id}/sessions              (list, primary first)
//   - PUT    /flows/{id}/sessions/{sid}/name   (rename)
//   - POST   /flows/{id}/sessions/{sid}/clear  (truncate the log)
//   - DELETE /flows/{id}/sessions/{sid}        (delete; primary is protected)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/startintellect/go-chat-gateway/internal/domain"
	"github.com/startintellect/go-chat-gateway/internal/services"
)

//
// DTOs
//

// CreateSessionRequest is the JSON payload for creating a session.
type CreateSessionRequest struct {
	// Name optionally sets the display name; "Session {n}" is derived when empty.
	Name string `json:"name" example:"Brainstorming"`
}

// RenameSessionRequest is the JSON payload for renaming a session.
type RenameSessionRequest struct {
	// Name is the new display name (1–255 chars).
	Name string `json:"name" binding:"required,min=1,max=255" example:"Trip planning"`
}

// ListSessionsResponse wraps a flow's sessions, primary first.
type ListSessionsResponse struct {
	Sessions []domain.Session `json:"sessions"`
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Create a session
// @Description Adds a non-primary session to the flow.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Flow ID"
// @Param       body       body    handlers.CreateSessionRequest  true  "Session payload"
//
// @Success     201  {object}  domain.Session
// @Failure     404  {object}  handlers.ErrorResponse  "Flow not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id}/sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	s, err := h.sessSvc.CreateSession(c.Request.Context(), userID(c), c.Param("id"),
		strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, services.ErrFlowNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "flow not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, s)
}

// ListSessions godoc
// @ID          listSessions
// @Summary     List sessions in a flow
// @Description Returns the flow's sessions: the primary session first, then creation order.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Flow ID"
//
// @Success     200  {object}  handlers.ListSessionsResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Flow not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id}/sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions, err := h.sessSvc.ListSessions(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrFlowNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "flow not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListSessionsResponse{Sessions: sessions})
}

// RenameSession godoc
// @ID          renameSession
// @Summary     Rename a session
// @Description Updates a session's display name.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Flow ID"
// @Param       sid        path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       body       body    handlers.RenameSessionRequest  true  "New name"
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id}/sessions/{sid}/name [put]
func (h *Handlers) RenameSession(c *gin.Context) {
	var req RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required (1-255 chars)")
		return
	}

	err := h.sessSvc.Rename(c.Request.Context(), userID(c), c.Param("id"), c.Param("sid"), req.Name)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ClearSession godoc
// @ID          clearSession
// @Summary     Clear a session's log
// @Description Empties the session's transcript. Clearing an already-empty session succeeds.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Flow ID"
// @Param       sid        path    string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id}/sessions/{sid}/clear [post]
func (h *Handlers) ClearSession(c *gin.Context) {
	err := h.sessSvc.Clear(c.Request.Context(), userID(c), c.Param("id"), c.Param("sid"))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a session
// @Description Removes a session and its log. The flow's primary session cannot be deleted.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Flow ID"
// @Param       sid        path    string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Primary session protected"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id}/sessions/{sid} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	err := h.sessSvc.Delete(c.Request.Context(), userID(c), c.Param("id"), c.Param("sid"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrPrimarySessionProtected):
			fail(c, http.StatusConflict, ErrCodePrimaryProtected, "primary session cannot be deleted")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}
