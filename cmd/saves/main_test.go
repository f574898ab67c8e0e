package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/persist"
	"github.com/jwebster45206/story-runtime/pkg/state"
	"github.com/jwebster45206/story-runtime/pkg/storage"
)

func newTool(t *testing.T) (*saveTool, *storage.MemoryStorage, *bytes.Buffer) {
	t.Helper()
	store := storage.NewMemoryStorage()
	out := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return &saveTool{
		store:  store,
		conv:   persist.NewConverter(persist.ConverterOptions{Logger: logger}),
		logger: logger,
		out:    out,
	}, store, out
}

func TestSaveTool_ListShowDelete(t *testing.T) {
	tool, store, out := newTool(t)
	ctx := context.Background()

	require.NoError(t, tool.run(ctx, []string{"list"}))
	assert.Contains(t, out.String(), "No saves found.")

	data, err := tool.conv.Marshal(state.NewGameState(state.Partial{
		VisitedScenes: []string{"shore"},
		Variables:     map[string]any{"courage": 2.0},
	}))
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, "slot1", storage.Record{
		Metadata: storage.Metadata{
			ID: "slot1", Name: "Slot 1", CreatedAt: now, UpdatedAt: now,
			SaveFormatVersion: persist.CurrentFormatVersion, CurrentSceneID: "shore",
		},
		Data: data,
	}))

	out.Reset()
	require.NoError(t, tool.run(ctx, []string{"list"}))
	assert.Contains(t, out.String(), "slot1")
	assert.Contains(t, out.String(), "Slot 1")
	assert.Contains(t, out.String(), "shore")

	out.Reset()
	require.NoError(t, tool.run(ctx, []string{"show", "slot1"}))
	var shown struct {
		Metadata storage.Metadata `json:"metadata"`
		Snapshot map[string]any   `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &shown))
	assert.Equal(t, "Slot 1", shown.Metadata.Name)
	assert.Equal(t, map[string]any{"courage": 2.0}, shown.Snapshot["variables"])

	out.Reset()
	require.NoError(t, tool.run(ctx, []string{"delete", "slot1"}))
	assert.Equal(t, 0, store.Len())

	err = tool.run(ctx, []string{"delete", "slot1"})
	assert.ErrorIs(t, err, gameerr.ErrGameNotFound)
}

func TestSaveTool_Migrate(t *testing.T) {
	tool, store, out := newTool(t)
	ctx := context.Background()

	v0 := []byte(`{"visitedScenes":{"shore":true,"shed":false},"metadata":{"timestamp":1}}`)
	require.NoError(t, store.Save(ctx, "old", storage.Record{Metadata: storage.Metadata{ID: "old", Name: "Old"}, Data: v0}))

	require.NoError(t, tool.run(ctx, []string{"migrate", "old"}))
	assert.Contains(t, out.String(), "old migrated from v0 to v1")

	rec, err := store.Load(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, persist.CurrentFormatVersion, rec.Metadata.SaveFormatVersion)
	assert.Equal(t, "Old", rec.Metadata.Name)

	ps, err := tool.conv.Decode(rec.Data)
	require.NoError(t, err)
	v, ok := ps.Version()
	require.True(t, ok)
	assert.Equal(t, persist.CurrentFormatVersion, v)
	assert.Equal(t, []string{"shore"}, ps.VisitedScenes())

	out.Reset()
	require.NoError(t, tool.run(ctx, []string{"migrate", "old"}))
	assert.Contains(t, out.String(), "already at format v1")
}

func TestSaveTool_Errors(t *testing.T) {
	tool, _, _ := newTool(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		code gameerr.Code
	}{
		{"no command", nil, ""},
		{"unknown command", []string{"rename", "a"}, ""},
		{"missing id", []string{"show"}, ""},
		{"list with args", []string{"list", "x"}, ""},
		{"bad id", []string{"show", "../etc"}, gameerr.CodeInvalidSaveID},
		{"missing save", []string{"show", "nope"}, gameerr.CodeGameNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.run(ctx, tt.args)
			require.Error(t, err)
			if tt.code == "" {
				assert.ErrorIs(t, err, errUsage)
				return
			}
			assert.Equal(t, tt.code, gameerr.CodeOf(err))
		})
	}
}
