// Package realtime delivers match notifications to participants over
// WebSocket, optionally fanned out across instances through Redis.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteWait bounds a single websocket write.
const DefaultWriteWait = 10 * time.Second

// errNotSent marks a write that never reached the connection.
var errNotSent = errors.New("message not sent")

// MessageWriter is the part of *websocket.Conn the broadcaster writes to.
// Writers that also implement io.Closer are closed after a failed write.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// client serialises writes; a websocket connection supports one concurrent
// writer. sem holds a token while a write is in progress.
type client struct {
	sem  chan struct{}
	conn MessageWriter
}

func newClient(conn MessageWriter) *client {
	return &client{sem: make(chan struct{}, 1), conn: conn}
}

// write sends data with a deadline of wait or ctx's deadline, whichever is
// sooner. Waiting for an earlier write counts against the same deadline.
func (c *client) write(ctx context.Context, data []byte, wait time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", errNotSent, err)
	}
	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errNotSent, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: connection busy with an earlier write", errNotSent)
	}
	defer func() { <-c.sem }()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcaster tracks WebSocket connections per participant and delivers
// events to every connection a participant has open.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[string]map[MessageWriter]*client // participantID -> connections
	metrics     *Metrics
	writeWait   time.Duration
}

// NewBroadcaster creates a broadcaster. metrics may be nil.
func NewBroadcaster(metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		connections: make(map[string]map[MessageWriter]*client),
		metrics:     metrics,
		writeWait:   DefaultWriteWait,
	}
}

// WithWriteWait sets the per-write bound. Call before the broadcaster is
// shared.
func (b *Broadcaster) WithWriteWait(d time.Duration) *Broadcaster {
	if d > 0 {
		b.writeWait = d
	}
	return b
}

// Subscribe registers conn to receive events for participantID.
func (b *Broadcaster) Subscribe(participantID string, conn MessageWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connections[participantID] == nil {
		b.connections[participantID] = make(map[MessageWriter]*client)
	}
	if _, exists := b.connections[participantID][conn]; !exists {
		b.connections[participantID][conn] = newClient(conn)
		b.metrics.connectionOpened()
	}
}

// Unsubscribe removes conn from every participant it was registered for.
func (b *Broadcaster) Unsubscribe(conn MessageWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for participantID, conns := range b.connections {
		if _, ok := conns[conn]; ok {
			delete(conns, conn)
			b.metrics.connectionClosed()
		}
		if len(conns) == 0 {
			delete(b.connections, participantID)
		}
	}
}

// Publish serialises event and delivers it to participantID's local
// connections. A participant with no open connection is not an error; the
// conversation list remains the durable record.
func (b *Broadcaster) Publish(ctx context.Context, participantID string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	b.Deliver(ctx, participantID, data)
	return nil
}

// Deliver writes an already-encoded message to participantID's connections
// and returns how many writes succeeded. Connections are written in parallel
// and each write is bounded by the write wait and ctx. A connection whose
// write fails is closed and dropped, so a peer that stopped reading stalls at
// most one delivery.
func (b *Broadcaster) Deliver(ctx context.Context, participantID string, data []byte) int {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.connections[participantID]))
	for _, c := range b.connections[participantID] {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		b.metrics.incMessage("no_subscriber")
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := c.write(ctx, data, b.writeWait); err != nil {
				b.metrics.incMessage("failed")
				if errors.Is(err, errNotSent) {
					slog.WarnContext(ctx, "skipped websocket client", "error", err, "participant_id", participantID)
					return
				}
				slog.WarnContext(ctx, "failed to send message to websocket client, dropping it",
					"error", err,
					"participant_id", participantID,
				)
				b.drop(c.conn)
				return
			}
			b.metrics.incMessage("delivered")
			mu.Lock()
			delivered++
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return delivered
}

// drop unsubscribes conn and closes it so its read loop ends.
func (b *Broadcaster) drop(conn MessageWriter) {
	b.Unsubscribe(conn)
	if closer, ok := conn.(io.Closer); ok {
		_ = closer.Close()
	}
}

// ConnectionCount returns the number of open connections for participantID.
func (b *Broadcaster) ConnectionCount(participantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections[participantID])
}
