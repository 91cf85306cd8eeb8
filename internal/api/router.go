package api

import (
	"log/slog"
	"net/http"

	"github.com/TLC405/morganisthebest/internal/middleware"
)

// ServiceName is reported by GET / and used as the tracing service name.
const ServiceName = "morganisthebest-api"

// RouterConfig wires the handlers and per-route middleware into a mux.
type RouterConfig struct {
	RSVP          *RSVPHandlers
	Waves         *WaveHandlers
	Conversations *ConversationHandlers
	Realtime      *RealtimeHandlers
	Health        *HealthHandlers

	// MetricsHandler serves /metrics when non-nil.
	MetricsHandler http.Handler

	// Auth validates bearer tokens on every participant route.
	Auth middleware.TokenValidator

	// RateLimitStore is shared by all limiters; keys are scoped per limit.
	RateLimitStore middleware.RateLimitStore
	GlobalLimit    middleware.RateLimitConfig
	CheckInLimit   middleware.RateLimitConfig
	// WaveLimit applies to sending and declining waves together, since both
	// take a PIN guess.
	WaveLimit middleware.RateLimitConfig

	// Metrics is optional.
	Metrics *middleware.Metrics
}

// NewRouter registers every route. Participant routes require a bearer token
// and are rate limited per participant.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	limited := func(scope string, limit middleware.RateLimitConfig, h http.HandlerFunc) http.Handler {
		keyFunc := middleware.ScopedKeyFunc(scope, middleware.ParticipantKeyFunc())
		return middleware.RequireAuth(cfg.Auth)(
			middleware.RateLimiter(cfg.RateLimitStore, limit, keyFunc, cfg.Metrics)(h),
		)
	}

	mux.Handle("POST /events/{id}/rsvp", limited("global", cfg.GlobalLimit, cfg.RSVP.IssueRSVP))
	mux.Handle("POST /events/{id}/checkin", limited("checkin", cfg.CheckInLimit, cfg.RSVP.CheckIn))
	mux.Handle("POST /events/{id}/waves", limited("wave", cfg.WaveLimit, cfg.Waves.SendWave))
	mux.Handle("POST /events/{id}/waves/decline", limited("wave", cfg.WaveLimit, cfg.Waves.DeclineWave))

	mux.Handle("GET /conversations", limited("global", cfg.GlobalLimit, cfg.Conversations.List))
	mux.Handle("GET /conversations/{id}", limited("global", cfg.GlobalLimit, cfg.Conversations.Get))
	mux.Handle("POST /conversations/{id}/end", limited("global", cfg.GlobalLimit, cfg.Conversations.End))

	mux.Handle("GET /realtime/ws", limited("global", cfg.GlobalLimit, cfg.Realtime.Subscribe))

	mux.HandleFunc("/health", cfg.Health.Health)
	mux.HandleFunc("/ready", cfg.Health.Ready)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"` + ServiceName + `"}`)); err != nil {
			slog.ErrorContext(r.Context(), "failed to write response", "error", err)
		}
	})

	return mux
}
