// Token HTTP handlers.
//
// This file exposes REST endpoints for the access-token lifecycle:
//   - GET  /me/entitlement   (current user's token status and budget)
//   - POST /tokens/activate  (bind an issued token to the current user)
//   - POST /admin/tokens     (mint a batch of tokens; X-Admin-Key gated)
//   - GET  /admin/tokens     (list issued tokens; X-Admin-Key gated)
//
// Handlers are transport-thin: they validate input, call application services,
// and map activation outcomes onto stable HTTP statuses and error codes.
package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/startintellect/go-chat-gateway/internal/domain"
	"github.com/startintellect/go-chat-gateway/internal/services"
)

// HeaderAdminKey carries the out-of-band administrator credential for the
// token issuance surface.
const HeaderAdminKey = "X-Admin-Key"

//
// DTOs
//

// ActivateTokenRequest is the JSON payload for redeeming a token.
type ActivateTokenRequest struct {
	// Token is the issued token identifier (UUID).
	Token string `json:"token" binding:"required" example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
}

// IssueTokensRequest is the JSON payload for minting a token batch.
type IssueTokensRequest struct {
	// Count is how many tokens to mint (1–10).
	Count int `json:"count" example:"5"`
	// Budget is the generation budget per token (10–1000).
	Budget int `json:"budget" example:"100"`
}

// IssueTokensResponse lists the freshly minted tokens.
type IssueTokensResponse struct {
	Tokens []domain.Token `json:"tokens"`
}

// ListTokensResponse is the admin token inventory.
type ListTokensResponse struct {
	Tokens []services.TokenInfo `json:"tokens"`
}

//
// Handlers
//

// GetEntitlement godoc
// @ID          getEntitlement
// @Summary     Current user's entitlement
// @Description Returns the active token (if any) and remaining generations for the current user.
// @Tags        Tokens
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  services.Entitlement
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me/entitlement [get]
func (h *Handlers) GetEntitlement(c *gin.Context) {
	ent, err := h.entSvc.Status(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ent)
}

// ActivateToken godoc
// @ID          activateToken
// @Summary     Activate an access token
// @Description Binds an issued token to the current user, granting its full generation budget.
// @Description Replaces any previously bound token. Retired or foreign-bound tokens are rejected.
// @Tags        Tokens
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.ActivateTokenRequest  true  "Token to activate"
//
// @Success     200  {object}  services.Entitlement
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Token not recognized"
// @Failure     409  {object}  handlers.ErrorResponse  "Token bound to another account"
// @Failure     410  {object}  handlers.ErrorResponse  "Token retired"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tokens/activate [post]
func (h *Handlers) ActivateToken(c *gin.Context) {
	var req ActivateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token required")
		return
	}
	tokenID := strings.TrimSpace(req.Token)
	if _, err := uuid.Parse(tokenID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token must be a UUID")
		return
	}

	ent, err := h.tokenSvc.Activate(c.Request.Context(), userID(c), tokenID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTokenInvalid):
			fail(c, http.StatusNotFound, ErrCodeTokenInvalid, "token not recognized")
		case errors.Is(err, services.ErrTokenRetired):
			fail(c, http.StatusGone, ErrCodeTokenRetired, "token retired")
		case errors.Is(err, services.ErrTokenAlreadyBound):
			fail(c, http.StatusConflict, ErrCodeTokenAlreadyBound, "token already in use by another account")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ent)
}

// IssueTokens godoc
// @ID          issueTokens
// @Summary     Mint a batch of access tokens
// @Description Creates count tokens, each with the given generation budget. Requires X-Admin-Key.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       X-Admin-Key  header  string  true  "Administrator credential"
// @Param       body         body    handlers.IssueTokensRequest  true  "Batch parameters"
//
// @Success     201  {object}  handlers.IssueTokensResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Parameters out of range"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing/invalid admin key"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/tokens [post]
func (h *Handlers) IssueTokens(c *gin.Context) {
	if !h.adminAuthorized(c) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "admin credential required")
		return
	}

	var req IssueTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	tokens, err := h.tokenSvc.IssueBatch(c.Request.Context(), req.Count, req.Budget)
	if err != nil {
		if errors.Is(err, services.ErrBadTokenBatch) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest,
				"count must be 1-10 and budget 10-1000")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeIssueFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, IssueTokensResponse{Tokens: tokens})
}

// ListTokens godoc
// @ID          listTokens
// @Summary     List issued tokens
// @Description Returns all issued tokens newest-first, including retirement state. Requires X-Admin-Key.
// @Tags        Admin
// @Produce     json
//
// @Param       X-Admin-Key  header  string  true  "Administrator credential"
//
// @Success     200  {object}  handlers.ListTokensResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing/invalid admin key"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/tokens [get]
func (h *Handlers) ListTokens(c *gin.Context) {
	if !h.adminAuthorized(c) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "admin credential required")
		return
	}

	tokens, err := h.tokenSvc.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListTokensResponse{Tokens: tokens})
}

// adminAuthorized checks the X-Admin-Key header in constant time. An empty
// configured key disables the admin surface entirely.
func (h *Handlers) adminAuthorized(c *gin.Context) bool {
	if h.adminKey == "" {
		return false
	}
	got := c.GetHeader(HeaderAdminKey)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.adminKey)) == 1
}
