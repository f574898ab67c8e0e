package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/scene"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBroadcaster_ForwardsBusEvents(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))

	sub := client.Subscribe(ctx, Channel("abc"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	msgs := sub.Channel()

	bus := events.NewBus(events.WithLogger(logger))
	b := NewBroadcaster(client, "abc", logger)
	detach := b.Attach(bus, events.KindSceneChanged)

	require.NoError(t, bus.Publish(events.KindSceneChanged, scene.SceneChanged{From: "shore", To: "shed", Title: "Boat Shed"}))
	require.NoError(t, bus.Publish(events.KindStateChanged, nil))

	select {
	case msg := <-msgs:
		assert.Equal(t, "game-events:abc", msg.Channel)
		var ev struct {
			Type      string         `json:"type"`
			SessionID string         `json:"session_id"`
			Data      map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, "sceneChanged", ev.Type)
		assert.Equal(t, "abc", ev.SessionID)
		assert.Equal(t, "shed", ev.Data["to"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message for an unattached kind: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}

	detach()
	assert.Equal(t, 0, bus.ListenerCount(events.KindSceneChanged))
}

func TestBroadcaster_PublishFailure(t *testing.T) {
	client := setupTestRedis(t)
	require.NoError(t, client.Close())

	b := NewBroadcaster(client, "abc", nil)
	err := b.Publish(context.Background(), events.Event{Kind: events.KindGameSaved})
	assert.Error(t, err)
}
