package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubValidator map[string]string

func (s stubValidator) ValidateAccessToken(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func TestRequireAuth(t *testing.T) {
	validator := stubValidator{"good-token": "p-42"}

	tests := []struct {
		name        string
		method      string
		target      string
		header      string
		wantStatus  int
		wantCode    string
		wantSubject string
	}{
		{
			name:        "bearer header",
			method:      http.MethodPost,
			target:      "/events/e1/waves",
			header:      "Bearer good-token",
			wantStatus:  http.StatusOK,
			wantSubject: "p-42",
		},
		{
			name:        "scheme is case-insensitive",
			method:      http.MethodPost,
			target:      "/events/e1/waves",
			header:      "bearer good-token",
			wantStatus:  http.StatusOK,
			wantSubject: "p-42",
		},
		{
			name:        "query token on websocket upgrade",
			method:      http.MethodGet,
			target:      "/realtime/ws?access_token=good-token",
			wantStatus:  http.StatusOK,
			wantSubject: "p-42",
		},
		{
			name:       "query token ignored on POST",
			method:     http.MethodPost,
			target:     "/events/e1/waves?access_token=good-token",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_required",
		},
		{
			name:       "missing header",
			method:     http.MethodPost,
			target:     "/events/e1/checkin",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_required",
		},
		{
			name:       "basic scheme",
			method:     http.MethodPost,
			target:     "/events/e1/checkin",
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_required",
		},
		{
			name:       "unknown token",
			method:     http.MethodGet,
			target:     "/conversations",
			header:     "Bearer other",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			handler := RequireAuth(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, err := ParticipantFromRequest(r)
				if err != nil {
					t.Errorf("ParticipantFromRequest() error = %v", err)
				}
				subject = id
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if subject != tt.wantSubject {
				t.Errorf("participant = %q, want %q", subject, tt.wantSubject)
			}
			if tt.wantCode == "" {
				return
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestRequireAuth_LoggedParticipant(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Logging(logger)(RequireAuth(stubValidator{"t": "p-7"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer t")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"participant_id":"p-7"`) {
		t.Errorf("expected participant_id in log, got %s", buf.String())
	}
}

func TestParticipantFromRequest_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	if _, err := ParticipantFromRequest(req); !errors.Is(err, ErrNoParticipant) {
		t.Errorf("error = %v, want %v", err, ErrNoParticipant)
	}
}
