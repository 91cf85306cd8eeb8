// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

type (
	participantIDKey struct{}
	errorCodeKey     struct{}
)

// SetParticipantID stores the authenticated participant in ctx. RequireAuth
// calls it after a bearer token validates.
func SetParticipantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, participantIDKey{}, id)
}

// GetParticipantID returns the participant stored by SetParticipantID, or "".
func GetParticipantID(ctx context.Context) string {
	id, _ := ctx.Value(participantIDKey{}).(string)
	return id
}

// SetErrorCode records the machine-readable code of an error response so the
// request log can carry it.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode returns the code stored by SetErrorCode, or "".
func GetErrorCode(ctx context.Context) string {
	code, _ := ctx.Value(errorCodeKey{}).(string)
	return code
}

type contextCarrier interface {
	setContext(ctx context.Context)
}

type unwrapper interface {
	Unwrap() http.ResponseWriter
}

// UpdateResponseContext hands ctx back to the Logging middleware so values
// added deeper in the chain (error code, participant) reach the request log.
// It walks through wrapping writers and does nothing when Logging is absent.
func UpdateResponseContext(w http.ResponseWriter, ctx context.Context) {
	for w != nil {
		if c, ok := w.(contextCarrier); ok {
			c.setContext(ctx)
			return
		}
		u, ok := w.(unwrapper)
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}

// loggingWriter records the first status and the body size.
type loggingWriter struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
	ctx         context.Context
}

func (lw *loggingWriter) WriteHeader(code int) {
	if lw.wroteHeader {
		return
	}
	lw.status = code
	lw.wroteHeader = true
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	lw.wroteHeader = true
	n, err := lw.ResponseWriter.Write(b)
	lw.written += n
	return n, err
}

func (lw *loggingWriter) Unwrap() http.ResponseWriter { return lw.ResponseWriter }

// Hijack lets the realtime websocket upgrade take over the connection.
func (lw *loggingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(lw.ResponseWriter).Hijack()
}

func (lw *loggingWriter) setContext(ctx context.Context) { lw.ctx = ctx }

// NewLogger returns the process logger for env: JSON at info level in
// production, text at debug level everywhere else.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// statusLevel maps a response status to its log level.
func statusLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Logging writes one "request completed" entry per request with method,
// path, status, latency_ms and size, plus request_id, trace_id, span_id and
// participant_id when known. Error responses also carry error_code. A panicking handler produces
// no entry.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)

			ctx := r.Context()
			if lw.ctx != nil {
				ctx = lw.ctx
			}

			attrs := make([]slog.Attr, 0, 10)
			attrs = append(attrs,
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", lw.status),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int("size", lw.written),
			)
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if traceID, spanID := traceFields(ctx); traceID != "" {
				attrs = append(attrs, slog.String("trace_id", traceID), slog.String("span_id", spanID))
			}
			if id := GetParticipantID(ctx); id != "" {
				attrs = append(attrs, slog.String("participant_id", id))
			}
			if code := GetErrorCode(ctx); code != "" && lw.status >= 400 {
				attrs = append(attrs, slog.String("error_code", code))
			}

			logger.LogAttrs(ctx, statusLevel(lw.status), "request completed", attrs...)
		})
	}
}
