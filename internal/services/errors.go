// Package services defines the business logic for entitlements, access
// tokens, chat flows, sessions, and chat turns. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Token and entitlement errors.
var (
	// ErrNoActiveToken indicates the user has no token bound to their account
	// and therefore no chat entitlement.
	ErrNoActiveToken = errors.New("no active token")

	// ErrQuotaExhausted indicates the user's active token has no remaining
	// generations; the turn was rejected before contacting the responder.
	ErrQuotaExhausted = errors.New("generation quota exhausted")

	// ErrTokenInvalid is returned when an activation names a token that was
	// never issued.
	ErrTokenInvalid = errors.New("token not recognized")

	// ErrTokenAlreadyBound is returned when an activation names a token that
	// is currently the active token of a different user.
	ErrTokenAlreadyBound = errors.New("token already in use by another account")

	// ErrTokenRetired is returned when an activation names a token present in
	// the retirement ledger. Retirement is permanent.
	ErrTokenRetired = errors.New("token retired")

	// ErrBadTokenBatch is returned when an admin issuance request falls
	// outside the allowed count or budget ranges.
	ErrBadTokenBatch = errors.New("token batch parameters out of range")
)

// Flow and session errors.
var (
	// ErrFlowNotFound indicates that the requested flow does not exist or is
	// not accessible to the current user.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrDuplicateFlow is returned when creating a flow whose ID the user
	// already has.
	ErrDuplicateFlow = errors.New("flow already exists")

	// ErrSessionNotFound indicates that the requested session does not exist
	// within the flow.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPrimarySessionProtected is returned when a caller attempts to delete
	// a flow's primary session. The primary session can be cleared, never
	// removed.
	ErrPrimarySessionProtected = errors.New("primary session cannot be deleted")

	// ErrMessageNotFound indicates that no message in the session matches the
	// given content hash.
	ErrMessageNotFound = errors.New("message not found")
)

// Chat turn errors.
var (
	// ErrEmptyPrompt is returned when a chat turn contains an empty prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a prompt exceeds the configured maximum
	// length limit.
	ErrTooLong = errors.New("prompt too long")
)
