package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "realtime:participant"

// envelope is the message format on the relay channel.
type envelope struct {
	ParticipantID string          `json:"participant_id"`
	Payload       json.RawMessage `json:"payload"`
}

// RedisRelay publishes events through Redis so that a participant connected
// to any instance receives them. Every instance runs Run to forward relayed
// messages to its local Broadcaster.
type RedisRelay struct {
	client  *redis.Client
	local   *Broadcaster
	channel string
	metrics *Metrics
}

// NewRedisRelay creates a relay over client that delivers to local.
func NewRedisRelay(client *redis.Client, local *Broadcaster, metrics *Metrics) *RedisRelay {
	return &RedisRelay{
		client:  client,
		local:   local,
		channel: DefaultRelayChannel,
		metrics: metrics,
	}
}

// Publish sends event for participantID on the relay channel. If Redis is
// unavailable the event is still delivered to this instance's connections
// and the publish error is returned.
func (r *RedisRelay) Publish(ctx context.Context, participantID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	data, err := json.Marshal(envelope{ParticipantID: participantID, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.metrics.incRelayError("publish")
		r.local.Deliver(ctx, participantID, payload)
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel and forwards messages to the local
// broadcaster until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so publishes made after Run
	// starts are not missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	slog.InfoContext(ctx, "realtime relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.ParticipantID == "" {
		r.metrics.incRelayError("decode")
		slog.WarnContext(ctx, "dropping malformed relay message", "error", err)
		return
	}
	r.local.Deliver(ctx, env.ParticipantID, env.Payload)
}

