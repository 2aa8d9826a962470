// Flow HTTP handlers.
//
// This file exposes REST endpoints for chat flows:
//   - POST   /flows       (register a flow; provisions its primary session)
//   - GET    /flows       (list the user's flows)
//   - DELETE /flows/{id}  (delete a flow and everything inside it)
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

// CreateFlowRequest is the JSON payload for registering a flow.
type CreateFlowRequest struct {
	// FlowID addresses the upstream prediction flow; generated when empty.
	FlowID string `json:"flow_id" example:"d7f2a9c1-5b3e-4f6a-9c8d-2e1f0a3b4c5d"`
	// Name optionally sets the display name; "Chat {n}" is derived when empty.
	Name string `json:"name" example:"Travel assistant"`
}

// ListFlowsResponse wraps the user's flows.
type ListFlowsResponse struct {
	Flows []domain.Flow `json:"flows"`
}

//
// Handlers
//

// CreateFlow godoc
// @ID          createFlow
// @Summary     Register a chat flow
// @Description Creates a flow for the current user along with its primary session.
// @Tags        Flows
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateFlowRequest  true  "Flow payload"
//
// @Success     201  {object}  domain.Flow
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Flow already exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows [post]
func (h *Handlers) CreateFlow(c *gin.Context) {
	var req CreateFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	f, err := h.sessSvc.CreateFlow(c.Request.Context(), userID(c),
		strings.TrimSpace(req.FlowID), strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, services.ErrDuplicateFlow) {
			fail(c, http.StatusConflict, ErrCodeConflict, "flow already exists")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, f)
}

// ListFlows godoc
// @ID          listFlows
// @Summary     List the user's flows
// @Description Returns the current user's flows in creation order.
// @Tags        Flows
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  handlers.ListFlowsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows [get]
func (h *Handlers) ListFlows(c *gin.Context) {
	flows, err := h.sessSvc.ListFlows(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListFlowsResponse{Flows: flows})
}

// DeleteFlow godoc
// @ID          deleteFlow
// @Summary     Delete a flow
// @Description Removes the flow, its sessions, and their logs. The cascade is best effort.
// @Tags        Flows
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Flow ID"
//
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Flow not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /flows/{id} [delete]
func (h *Handlers) DeleteFlow(c *gin.Context) {
	err := h.sessSvc.DeleteFlow(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrFlowNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "flow not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
