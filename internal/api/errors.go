// Package api provides the HTTP handlers for RSVP, check-in, waves and
// conversations, plus standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/TLC405/morganisthebest/internal/checkin"
	"github.com/TLC405/morganisthebest/internal/conversation"
	"github.com/TLC405/morganisthebest/internal/match"
	"github.com/TLC405/morganisthebest/internal/middleware"
	"github.com/TLC405/morganisthebest/internal/wave"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthRequired indicates the request carried no bearer token.
	ErrCodeAuthRequired = "auth_required"

	// ErrCodeInvalidToken indicates the bearer token was rejected.
	ErrCodeInvalidToken = "invalid_token"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limit_exceeded"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeMethodNotAllowed indicates the route exists for other methods.
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// ErrCodeInvalidCredential indicates the door code did not match the RSVP.
	ErrCodeInvalidCredential = "invalid_credential"

	// ErrCodePINSpaceExhausted indicates no free nametag PIN could be allocated.
	ErrCodePINSpaceExhausted = "pin_space_exhausted"

	// ErrCodeNotCheckedIn indicates the caller has not checked in to the event.
	ErrCodeNotCheckedIn = "not_checked_in"

	// ErrCodeSelfWave indicates the entered PIN belongs to the caller.
	ErrCodeSelfWave = "self_wave"

	// ErrCodeMatchIncomplete indicates a mutual match whose conversation could
	// not be provisioned yet. Retrying the wave completes it.
	ErrCodeMatchIncomplete = "match_incomplete"

	// ErrCodeInvalidPIN indicates the PIN is not 4 to 6 digits.
	ErrCodeInvalidPIN = "invalid_pin"

	// ErrCodeInvalidTransition indicates an illegal wave or conversation
	// status change.
	ErrCodeInvalidTransition = "invalid_transition"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The logging middleware records the error code when ctx carries it:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "Conversation not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	// Update the context in the response writer if supported (for logging middleware)
	middleware.UpdateResponseContext(w, ctx)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeInvalidPIN:
		return http.StatusBadRequest
	case ErrCodeAuthRequired, ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrCodeInvalidCredential, ErrCodeNotCheckedIn:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeConflict, ErrCodeInvalidTransition:
		return http.StatusConflict
	case ErrCodeSelfWave:
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodePINSpaceExhausted, ErrCodeMatchIncomplete:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// domainErrors maps sentinel errors from the domain packages to response
// codes and client-facing messages.
var domainErrors = []struct {
	err     error
	code    string
	message string
}{
	{checkin.ErrInvalidRSVP, ErrCodeValidation, "Participant and event are required"},
	{checkin.ErrInvalidCredential, ErrCodeInvalidCredential, "Door code does not match your RSVP"},
	{checkin.ErrPINSpaceExhausted, ErrCodePINSpaceExhausted, "No nametag PIN available, try again shortly"},
	{match.ErrNotCheckedIn, ErrCodeNotCheckedIn, "Check in to the event before waving"},
	{match.ErrSelfWaveRejected, ErrCodeSelfWave, "That PIN is yours"},
	{match.ErrInvalidPIN, ErrCodeInvalidPIN, "PIN must be 4 to 6 digits"},
	{match.ErrMatchIncomplete, ErrCodeMatchIncomplete, "It's a match, but the conversation is not ready yet. Retry the wave"},
	{wave.ErrInvalidTransition, ErrCodeInvalidTransition, "Wave can no longer change status"},
	{conversation.ErrConversationNotFound, ErrCodeNotFound, "Conversation not found"},
	{conversation.ErrAlreadyEnded, ErrCodeInvalidTransition, "Conversation already ended"},
}

// writeDomainError maps err to the response envelope. Unknown errors are
// logged and returned as 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			ctx := middleware.SetErrorCode(r.Context(), de.code)
			WriteError(w, ctx, StatusCodeMapping(de.code), de.code, de.message)
			return
		}
	}

	slog.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}

// writeJSON encodes v with status. Encoding errors are logged; the status line
// has already been sent.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
