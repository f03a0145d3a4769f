package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a [Bus] backed by a redis pub/sub channel. Publish is safe for
// concurrent use; Run must be started once to feed subscriptions.
type RedisBus struct {
	client *redis.Client
	log    *slog.Logger
	disp   *dispatcher
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus wraps an existing redis client. The caller owns the client's
// lifecycle.
func NewRedisBus(client *redis.Client, log *slog.Logger) *RedisBus {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{client: client, log: log, disp: newDispatcher(log)}
}

// Publish marshals the event and publishes it on [Topic].
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, Topic, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", Topic, err)
	}
	return nil
}

// Subscribe registers a per-job subscription fed by [RedisBus.Run].
func (b *RedisBus) Subscribe(jobID string) (<-chan Event, func()) {
	return b.disp.subscribe(jobID)
}

// Run consumes the redis channel until ctx is cancelled, decoding messages
// and dispatching them to subscriptions. Malformed messages are logged and
// skipped.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, Topic)
	defer sub.Close()

	// Force the subscription before reporting readiness to callers that
	// publish immediately after Run starts.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", Topic, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("bus: subscription to %s closed", Topic)
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("skipping malformed bus message", "error", err)
				continue
			}
			b.disp.dispatch(ev)
		}
	}
}
