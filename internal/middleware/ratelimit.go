// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the rate limiting configuration.
// Valid values:
//   - RequestsPerWindow: must be > 0
//   - WindowDuration: must be > 0
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

var (
	defaultGlobalLimit  = RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
	defaultWaveLimit    = RateLimitConfig{RequestsPerWindow: 20, WindowDuration: time.Minute}
	defaultCheckInLimit = RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
)

// DefaultGlobalLimit returns a copy of the default global rate limit config.
func DefaultGlobalLimit() RateLimitConfig {
	return defaultGlobalLimit
}

// DefaultWaveLimit returns a copy of the default limit for wave and decline
// requests. Every wave carries a PIN guess, so this bounds how fast a single
// participant can probe an event's PIN space.
func DefaultWaveLimit() RateLimitConfig {
	return defaultWaveLimit
}

// DefaultCheckInLimit returns a copy of the default limit for check-in requests.
func DefaultCheckInLimit() RateLimitConfig {
	return defaultCheckInLimit
}

// RateLimitStore defines the interface for rate limit state storage.
type RateLimitStore interface {
	// Allow records one request for key and reports whether it fits in the
	// current window, how many requests remain, and the seconds until the
	// window resets when the request is refused.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryRateLimitStore implements RateLimitStore with a fixed window counter
// per key. Safe for concurrent use.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
	}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	b, exists := s.buckets[key]
	if !exists || now.After(b.windowEnd) {
		s.buckets[key] = &bucket{
			count:     1,
			windowEnd: now.Add(config.WindowDuration),
		}
		return true, config.RequestsPerWindow - 1, 0
	}

	if b.count < config.RequestsPerWindow {
		b.count++
		return true, config.RequestsPerWindow - b.count, 0
	}

	return false, 0, secondsUntil(b.windowEnd, now)
}

// Cleanup removes expired buckets. Call it periodically, at an interval a few
// times the longest configured WindowDuration.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, b := range s.buckets {
		if now.After(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *InMemoryRateLimitStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// secondsUntil rounds the remaining window up to whole seconds, minimum 1.
func secondsUntil(end, now time.Time) int {
	d := end.Sub(now)
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs <= 0 {
		secs = 1
	}
	return secs
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First hop in the chain is the client.
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// ParticipantKeyFunc returns a KeyFunc that uses the authenticated participant
// id if available, falling back to the client IP address.
func ParticipantKeyFunc() KeyFunc {
	ipFunc := IPKeyFunc()
	return func(r *http.Request) string {
		if id := GetParticipantID(r.Context()); id != "" {
			return "participant:" + id
		}
		return "ip:" + ipFunc(r)
	}
}

// ScopedKeyFunc suffixes keys from keyFunc with scope so that limiters with
// different configs sharing one store keep separate counters.
func ScopedKeyFunc(scope string, keyFunc KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		return keyFunc(r) + "|" + scope
	}
}

// keyScope returns the scope ScopedKeyFunc appended to key, or "default".
func keyScope(key string) string {
	if i := strings.LastIndexByte(key, '|'); i >= 0 && i < len(key)-1 {
		return key[i+1:]
	}
	return "default"
}

// keyType returns the metric label for a rate limit key.
func keyType(key string) string {
	if strings.HasPrefix(key, "participant:") {
		return "participant"
	}
	return "ip"
}

// RateLimiter is a middleware that limits request rates per key.
// Refused requests get 429 with Retry-After and X-RateLimit-Reset headers and
// the standard error envelope. metrics may be nil.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			scope, kind := keyScope(key), keyType(key)
			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)
			metrics.IncRateLimitRequests(scope, kind)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				metrics.IncRateLimitBlocked(scope, kind)

				ctx := SetErrorCode(r.Context(), "rate_limit_exceeded")
				UpdateResponseContext(w, ctx)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				resetTime := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, slow down")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
