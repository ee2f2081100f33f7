package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/dynamous-community/YokeFlow/internal/hooks"
)

// counterMessage is the JSON shape published on a session's Redis channel.
type counterMessage struct {
	ProjectID    string `json:"project_id"`
	SessionID    string `json:"session_id"`
	ToolUseCount int    `json:"tool_use_count"`
	ErrorCount   int    `json:"error_count"`
	ElapsedMS    int64  `json:"elapsed_ms"`
}

// RedisCounterPublisher republishes hooks.CounterSnapshotEvent to a
// per-session Redis Pub/Sub channel, per SPEC_FULL.md §4.7's "C1 publishes
// counter deltas to a per-session Redis Pub/Sub channel" requirement. It
// implements hooks.Subscriber and ignores every other event type: this
// process owns only the publish side, the dashboard's subscribe side is
// out of scope.
type RedisCounterPublisher struct {
	client *redis.Client
}

// NewRedisCounterPublisher constructs a RedisCounterPublisher.
func NewRedisCounterPublisher(client *redis.Client) *RedisCounterPublisher {
	return &RedisCounterPublisher{client: client}
}

// HandleEvent implements hooks.Subscriber. It never returns an error: a
// Redis outage must not abort event delivery to the rest of the bus's
// subscribers (the event log sink, in particular, must keep writing).
func (p *RedisCounterPublisher) HandleEvent(ctx context.Context, evt hooks.Event) error {
	snap, ok := evt.(*hooks.CounterSnapshotEvent)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(counterMessage{
		ProjectID:    snap.ProjectID(),
		SessionID:    snap.SessionID(),
		ToolUseCount: snap.ToolUseCount,
		ErrorCount:   snap.ErrorCount,
		ElapsedMS:    snap.ElapsedMS,
	})
	if err != nil {
		return nil
	}
	_ = p.client.Publish(ctx, channelFor(snap.SessionID()), payload).Err()
	return nil
}

func channelFor(sessionID string) string {
	return "yokeflow:session:" + sessionID + ":counters"
}
