package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// TokenValidator resolves a bearer token to a participant id.
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

// RequireAuth rejects requests without a valid bearer token with 401 and
// stores the token subject as the participant id on the request context.
//
// Browsers cannot set headers on a websocket upgrade, so GET requests may
// carry the token in the access_token query parameter instead.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				rejectUnauthorized(w, r, "auth_required", "Missing bearer token")
				return
			}

			participantID, err := validator.ValidateAccessToken(token)
			if err != nil {
				slog.DebugContext(r.Context(), "token rejected", "error", err)
				rejectUnauthorized(w, r, "invalid_token", "Invalid or expired token")
				return
			}

			ctx := SetParticipantID(r.Context(), participantID)
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func rejectUnauthorized(w http.ResponseWriter, r *http.Request, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	writeError(w, http.StatusUnauthorized, code, message)
}

// ErrNoParticipant is returned by ParticipantFromRequest on unauthenticated requests.
var ErrNoParticipant = errors.New("no authenticated participant")

// ParticipantFromRequest returns the participant id set by RequireAuth.
func ParticipantFromRequest(r *http.Request) (string, error) {
	id := GetParticipantID(r.Context())
	if id == "" {
		return "", ErrNoParticipant
	}
	return id, nil
}
