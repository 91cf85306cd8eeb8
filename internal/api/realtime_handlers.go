package api

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TLC405/morganisthebest/internal/middleware"
	"github.com/TLC405/morganisthebest/internal/realtime"
)

const (
	// Clients only send pongs and close frames.
	wsMaxMessageSize = 512
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsWriteWait      = 10 * time.Second
)

// RealtimeHandlers serves the participant's websocket feed of match events.
type RealtimeHandlers struct {
	broadcaster *realtime.Broadcaster
	upgrader    websocket.Upgrader
}

// NewRealtimeHandlers creates a new RealtimeHandlers instance. Browser
// upgrades are accepted only from allowedOrigins; "*" allows any origin.
func NewRealtimeHandlers(broadcaster *realtime.Broadcaster, allowedOrigins []string) *RealtimeHandlers {
	return &RealtimeHandlers{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Not a browser.
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// Subscribe handles GET /realtime/ws. The connection receives a JSON message
// for every match involving the authenticated participant until either side
// closes it.
func (h *RealtimeHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	participantID, ok := requireParticipant(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.WarnContext(ctx, "failed to upgrade websocket connection",
			"error", err,
			"participant_id", participantID,
		)
		return
	}

	h.broadcaster.Subscribe(participantID, conn)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to match events",
		"participant_id", participantID,
		"request_id", requestID,
	)

	done := make(chan struct{})
	defer func() {
		close(done)
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"participant_id", participantID,
			"request_id", requestID,
		)
	}()

	go keepAlive(conn, done)

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reading is how a closed connection is noticed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"participant_id", participantID,
				)
			}
			return
		}
	}
}

// keepAlive pings conn until done is closed. WriteControl may run
// concurrently with the broadcaster's writes.
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
