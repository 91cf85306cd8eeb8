package realtime

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestRedisRelay_ForwardsToLocalBroadcaster requires a Redis instance on
// localhost:6379 and is skipped otherwise.
func TestRedisRelay_ForwardsToLocalBroadcaster(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	local := NewBroadcaster(nil)
	relay := NewRedisRelay(client, local, nil)
	relay.channel = "test-relay-" + strconv.FormatInt(time.Now().UnixNano(), 10)

	conn := &fakeConn{}
	local.Subscribe("alice", conn)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan error, 1)
	go func() { done <- relay.Run(runCtx) }()

	// Publishing before the subscription is confirmed would be lost; retry
	// until the message arrives.
	deadline := time.Now().Add(3 * time.Second)
	for conn.count() == 0 && time.Now().Before(deadline) {
		if err := relay.Publish(context.Background(), "alice", map[string]string{"type": "match.created"}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if conn.count() == 0 {
		t.Fatal("relayed message never reached the local connection")
	}

	stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Run() did not return after cancellation")
	}
}

func TestRedisRelay_PublishFallsBackLocally(t *testing.T) {
	// Nothing listens on this port, so PUBLISH fails fast.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	m := NewMetrics()
	local := NewBroadcaster(nil)
	relay := NewRedisRelay(client, local, m)

	conn := &fakeConn{}
	local.Subscribe("alice", conn)

	if err := relay.Publish(context.Background(), "alice", map[string]string{"type": "match.created"}); err == nil {
		t.Fatal("expected publish error with Redis unreachable")
	}
	if conn.count() != 1 {
		t.Errorf("local connection received %d messages, want 1", conn.count())
	}
}

func TestRedisRelay_ForwardDropsMalformed(t *testing.T) {
	local := NewBroadcaster(nil)
	relay := NewRedisRelay(nil, local, nil)
	conn := &fakeConn{}
	local.Subscribe("alice", conn)

	relay.forward(context.Background(), "not json")
	relay.forward(context.Background(), `{"payload":{}}`)
	relay.forward(context.Background(), `{"participant_id":"alice","payload":{"ok":true}}`)

	if conn.count() != 1 {
		t.Errorf("received %d messages, want 1", conn.count())
	}
	if got := string(conn.messages[0]); got != `{"ok":true}` {
		t.Errorf("forwarded payload = %s, want {\"ok\":true}", got)
	}
}
