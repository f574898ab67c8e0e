package scene

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) (*Graph, *state.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := events.NewBus(events.WithLogger(logger))
	store := state.NewStore(nil, state.WithBus(bus), state.WithLogger(logger))
	return NewGraph(store, bus, logger), store
}

func TestGraph_RegisterRejectsDuplicates(t *testing.T) {
	g, _ := newTestGraph(t)

	require.NoError(t, g.Register(Scene{ID: "start", Title: "One"}))
	err := g.Register(Scene{ID: "start", Title: "Two"})
	assert.True(t, errors.Is(err, gameerr.ErrSceneDuplicate))

	require.NoError(t, g.Override(Scene{ID: "start", Title: "Two"}))
	s, ok := g.Get("start")
	require.True(t, ok)
	assert.Equal(t, "Two", s.Title)

	assert.Equal(t, gameerr.CodeSceneInvalid, gameerr.CodeOf(g.Register(Scene{})))
	assert.Equal(t, gameerr.CodeSceneInvalid, gameerr.CodeOf(g.Register(Scene{
		ID:      "dup",
		Choices: []Choice{{ID: "a"}, {ID: "a"}},
	})))
}

func TestGraph_GoToOrder(t *testing.T) {
	g, store := newTestGraph(t)

	var trace []string
	require.NoError(t, g.Register(Scene{
		ID: "a",
		OnExit: func(gs *state.GameState, h Handle) error {
			trace = append(trace, "exit:a")
			return nil
		},
	}))
	require.NoError(t, g.Register(Scene{
		ID: "b",
		OnEnter: func(gs *state.GameState, h Handle) error {
			trace = append(trace, "enter:b")
			if !gs.HasVisited("b") {
				t.Error("target must be visited before its enter hook runs")
			}
			return nil
		},
	}))
	g.Bus().Subscribe(events.KindSceneChanged, events.Func(func(ev events.Event) {
		p := ev.Payload.(SceneChanged)
		trace = append(trace, "changed:"+p.From+">"+p.To)
	}))

	require.NoError(t, g.GoTo("a", nil))
	require.NoError(t, g.GoTo("b", nil))

	assert.Equal(t, []string{"changed:>a", "exit:a", "enter:b", "changed:a>b"}, trace)
	assert.Equal(t, "b", g.CurrentID())
	assert.Equal(t, []string{"a", "b"}, store.State().VisitedScenes())
}

func TestGraph_GoToUnknownSceneChangesNothing(t *testing.T) {
	g, store := newTestGraph(t)
	require.NoError(t, g.Register(Scene{ID: "start"}))
	require.NoError(t, g.GoTo("start", nil))
	before := store.State()

	err := g.GoTo("nowhere", nil)
	assert.True(t, errors.Is(err, gameerr.ErrSceneNotFound))
	assert.Equal(t, "start", g.CurrentID())
	assert.Same(t, before, store.State())
}

func TestGraph_HookFailuresDoNotBlock(t *testing.T) {
	g, _ := newTestGraph(t)
	require.NoError(t, g.Register(Scene{
		ID:     "a",
		OnExit: func(*state.GameState, Handle) error { panic("exit boom") },
	}))
	require.NoError(t, g.Register(Scene{
		ID:      "b",
		OnEnter: func(*state.GameState, Handle) error { return errors.New("enter failed") },
	}))

	require.NoError(t, g.GoTo("a", nil))
	require.NoError(t, g.GoTo("b", nil))
	assert.Equal(t, "b", g.CurrentID())
}

func TestGraph_ListAvailableChoices(t *testing.T) {
	g, store := newTestGraph(t)
	hasKey := func(gs *state.GameState) bool { return gs.HasVariable("key") }
	require.NoError(t, g.Register(Scene{
		ID: "hall",
		Choices: []Choice{
			{ID: "north", Next: Static("hall")},
			{ID: "door", Next: Static("hall"), Condition: hasKey},
			{ID: "broken", Next: Static("hall"), Condition: func(*state.GameState) bool { panic("bad") }},
			{ID: "south", Next: Static("hall")},
		},
	}))

	assert.Nil(t, g.ListAvailableChoices(store.State()), "no current scene")

	require.NoError(t, g.GoTo("hall", nil))
	ids := func(cs []Choice) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []string{"north", "south"}, ids(g.ListAvailableChoices(store.State())))

	store.SetVariable("key", true)
	assert.Equal(t, []string{"north", "door", "south"}, ids(g.ListAvailableChoices(store.State())))

	c, ok := g.FindChoice("door")
	require.True(t, ok)
	assert.Equal(t, "door", c.ID)
	_, ok = g.FindChoice("window")
	assert.False(t, ok)
}

func TestGraph_Validate(t *testing.T) {
	g, _ := newTestGraph(t)
	require.NoError(t, g.Register(Scene{
		ID: "start",
		Choices: []Choice{
			{ID: "ok", Next: Static("end")},
			{ID: "bad", Next: Static("missing")},
			{ID: "computed", Next: Computed(func(*state.GameState) string { return "anywhere" })},
		},
	}))
	require.NoError(t, g.Register(Scene{ID: "end"}))

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.NotContains(t, err.Error(), "anywhere")
}

func TestDynamic(t *testing.T) {
	gs := state.NewGameState(state.Partial{Variables: map[string]any{"name": "Ada"}})

	static := Static("hello")
	assert.False(t, static.IsComputed())
	assert.Equal(t, "hello", static.Resolve(gs))

	computed := Computed(func(gs *state.GameState) string {
		v, _ := gs.Variable("name")
		s, _ := v.(string)
		return "hello " + s
	})
	assert.True(t, computed.IsComputed())
	assert.Equal(t, "hello Ada", computed.Resolve(gs))
	_, ok := computed.StaticValue()
	assert.False(t, ok)
}
