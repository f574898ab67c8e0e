package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/story-runtime/pkg/events"
)

// DefaultPublishTimeout bounds each Redis publish made from a bus listener.
const DefaultPublishTimeout = 2 * time.Second

// Event is the wire form of a forwarded bus event.
type Event struct {
	Type      events.Kind `json:"type"`
	SessionID string      `json:"session_id"`
	Data      any         `json:"data,omitempty"`
	At        time.Time   `json:"at"`
}

// Broadcaster publishes game events to Redis Pub/Sub so other processes can
// follow a session.
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
	sessionID   string
	timeout     time.Duration
}

// NewBroadcaster creates a broadcaster for one game session.
func NewBroadcaster(redisClient *redis.Client, sessionID string, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger.With("session_id", sessionID),
		sessionID:   sessionID,
		timeout:     DefaultPublishTimeout,
	}
}

// Channel returns the Redis channel for a session.
func Channel(sessionID string) string {
	return fmt.Sprintf("game-events:%s", sessionID)
}

// Attach forwards the given kinds from bus, or every kind when none are
// given. The returned function detaches all listeners.
func (b *Broadcaster) Attach(bus *events.Bus, kinds ...events.Kind) func() {
	if len(kinds) == 0 {
		kinds = events.AllKinds
	}
	subs := make([]events.Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, bus.Subscribe(k, func(ev events.Event) error {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()
			return b.Publish(ctx, ev)
		}))
	}
	return func() {
		for _, s := range subs {
			bus.Unsubscribe(s)
		}
	}
}

// Publish forwards one event to the session channel.
func (b *Broadcaster) Publish(ctx context.Context, ev events.Event) error {
	channel := Channel(b.sessionID)

	data, err := json.Marshal(Event{
		Type:      ev.Kind,
		SessionID: b.sessionID,
		Data:      ev.Payload,
		At:        ev.At,
	})
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event", string(ev.Kind))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", string(ev.Kind),
	)

	return nil
}
