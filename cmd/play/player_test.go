package main

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/story-runtime/pkg/engine"
	"github.com/jwebster45206/story-runtime/pkg/persist"
	"github.com/jwebster45206/story-runtime/pkg/plugins/inventory"
	"github.com/jwebster45206/story-runtime/pkg/save"
	"github.com/jwebster45206/story-runtime/pkg/storage"
	"github.com/jwebster45206/story-runtime/pkg/story"
)

func newTestPlayer(t *testing.T, script string) (*player, *engine.Engine, *storage.MemoryStorage, *bytes.Buffer) {
	t.Helper()
	s, err := story.LoadFile("../../pkg/story/testdata/lighthouse.json")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	eng, err := engine.New(engine.Options{
		Logger:  logger,
		Initial: s.InitialState(),
		Plugins: []engine.Plugin{s, inventory.New()},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(s.Start))

	st := storage.NewMemoryStorage()
	conv := persist.NewConverter(persist.ConverterOptions{PersistentKeys: eng.PersistentKeys(), Logger: logger})
	coord := save.NewCoordinator(eng.Store(), conv, st,
		save.WithBus(eng.Bus()),
		save.WithLogger(logger),
		save.WithNavigator(eng),
	)

	out := &bytes.Buffer{}
	return newPlayer(eng, coord, bufio.NewReader(strings.NewReader(script)), out), eng, st, out
}

func TestPlayer_Session(t *testing.T) {
	script := strings.Join([]string{
		"1",     // shed
		"1",     // take the oil, back to the shore
		"save",  // quicksave on the shore
		"2",     // climb, courage branch to the lamp room
		"load",  // back to the shore
		"9",     // out of range
		"bogus", // unknown
		"saves",
		"quit",
		"1", // never read
	}, "\n") + "\n"

	p, eng, st, out := newTestPlayer(t, script)
	require.NoError(t, p.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "== The Shore ==")
	assert.Contains(t, text, "== Boat Shed ==")
	assert.Contains(t, text, "== Lamp Room ==")
	assert.Contains(t, text, "2. Climb the tower")
	assert.Contains(t, text, `Saved "Quicksave"`)
	assert.Contains(t, text, "! pick a choice between 1 and 2")
	assert.Contains(t, text, `! unknown command "bogus"`)
	assert.Contains(t, text, "quicksave")

	assert.Equal(t, "shore", eng.CurrentSceneID())
	assert.Equal(t, 1, st.Len())
	v, _ := eng.State().Variable("lamp_oil")
	assert.Equal(t, 1.0, v)
}

func TestPlayer_UndoRedo(t *testing.T) {
	p, eng, _, out := newTestPlayer(t, "undo\nundo\nredo\nredo\n1\n1\n")
	require.NoError(t, p.run(context.Background()))

	assert.Contains(t, out.String(), "! nothing to undo")
	assert.Contains(t, out.String(), "! nothing to redo")
	v, _ := eng.State().Variable("lamp_oil")
	assert.Equal(t, 1.0, v)
}

func TestPlayer_EndOfInput(t *testing.T) {
	p, eng, _, _ := newTestPlayer(t, "1")
	require.NoError(t, p.run(context.Background()))
	assert.Equal(t, "shed", eng.CurrentSceneID(), "a final line without newline still runs")
}

func TestPlayer_LoadMissing(t *testing.T) {
	p, _, _, out := newTestPlayer(t, "load nope\ndelete nope\ndelete\n")
	require.NoError(t, p.run(context.Background()))

	assert.Contains(t, out.String(), `! no save named "nope"`)
	assert.Contains(t, out.String(), "! usage: delete <id>")
}
