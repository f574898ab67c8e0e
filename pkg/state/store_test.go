package state

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *events.Bus) {
	t.Helper()
	bus := events.NewBus(events.WithLogger(testLogger()))
	opts = append([]Option{WithBus(bus), WithLogger(testLogger())}, opts...)
	return NewStore(nil, opts...), bus
}

func recordKinds(bus *events.Bus, kinds ...events.Kind) *[]events.Event {
	var got []events.Event
	for _, k := range kinds {
		bus.Subscribe(k, events.Func(func(ev events.Event) { got = append(got, ev) }))
	}
	return &got
}

func TestStore_UpdateCommitsNewSnapshot(t *testing.T) {
	store, bus := newTestStore(t)
	changes := recordKinds(bus, events.KindStateChanged)

	before := store.State()
	after := store.Update(func(d *Draft) {
		d.SetVariable("gold", 10)
		d.MarkVisited("start")
	})

	require.NotSame(t, before, after)
	assert.Same(t, after, store.State())
	assert.False(t, before.HasVariable("gold"), "previous snapshot must not change")

	gold, ok := after.Variable("gold")
	require.True(t, ok)
	assert.Equal(t, 10, gold)
	assert.True(t, after.HasVisited("start"))

	require.Len(t, *changes, 1)
	payload := (*changes)[0].Payload.(Changed)
	assert.Same(t, before, payload.Previous)
	assert.Same(t, after, payload.Next)
	assert.Equal(t, SourceUpdate, payload.Source)
}

func TestStore_NoOpUpdateKeepsReference(t *testing.T) {
	store, bus := newTestStore(t)
	store.SetVariable("gold", 10)
	changes := recordKinds(bus, events.KindStateChanged, events.KindHistoryChanged)
	depth := store.UndoDepth()

	before := store.State()
	tests := []struct {
		name string
		fn   func(*Draft)
	}{
		{"empty mutator", func(d *Draft) {}},
		{"read only", func(d *Draft) { d.Variable("gold") }},
		{"same value", func(d *Draft) { d.SetVariable("gold", 10) }},
		{"remove missing", func(d *Draft) { d.RemoveVariable("nope") }},
		{"unmark unvisited", func(d *Draft) { d.UnmarkVisited("cave") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := store.Update(tt.fn)
			assert.Same(t, before, got)
		})
	}

	assert.Empty(t, *changes)
	assert.Equal(t, depth, store.UndoDepth())
}

func TestStore_CommitFromChecksBase(t *testing.T) {
	store, bus := newTestStore(t)
	got := recordKinds(bus, events.KindStateChanged)

	base := store.State()
	d := NewDraft(base)
	d.SetVariable("gold", 3)
	next := d.Commit()

	store.SetVariable("moved", true)
	assert.False(t, store.CommitFrom("choice", base, next), "stale base is refused")
	assert.False(t, store.HasVariable("gold"))

	base = store.State()
	d = NewDraft(base)
	d.SetVariable("gold", 3)
	next = d.Commit()
	require.True(t, store.CommitFrom("choice", base, next))
	assert.Same(t, next, store.State())
	assert.True(t, store.CanUndo())
	require.Len(t, *got, 2)
	assert.Equal(t, "choice", (*got)[1].Payload.(Changed).Source)

	assert.True(t, store.CommitFrom("choice", next, next), "unchanged draft is a no-op")
	assert.Len(t, *got, 2)
}

func TestStore_StructuralSharing(t *testing.T) {
	store, _ := newTestStore(t)
	store.Update(func(d *Draft) {
		d.SetVariable("gold", 1)
		d.MarkVisited("start")
	})
	before := store.State()

	after := store.Update(func(d *Draft) { d.SetVariable("gold", 2) })

	// untouched visited set is shared, variables were copied
	assert.Equal(t, ptrOf(before.visited), ptrOf(after.visited))
	assert.NotEqual(t, ptrOf(before.variables), ptrOf(after.variables))
}

func TestStore_ValuesAreCopied(t *testing.T) {
	store, _ := newTestStore(t)

	items := []any{"rope"}
	store.SetVariable("bag", items)
	items[0] = "mutated"

	bag, _ := store.GetVariable("bag")
	assert.Equal(t, []any{"rope"}, bag)

	bag.([]any)[0] = "changed"
	again, _ := store.GetVariable("bag")
	assert.Equal(t, []any{"rope"}, again)
}

func TestStore_UndoRedoRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	store.SetVariable("a", 1)
	beforeB := store.State()
	afterB := store.SetVariable("b", 2)

	require.True(t, store.Undo())
	assert.Same(t, beforeB, store.State())
	assert.True(t, store.CanRedo())

	require.True(t, store.Redo())
	assert.Same(t, afterB, store.State())

	require.True(t, store.Undo())
	store.SetVariable("c", 3)
	assert.False(t, store.CanRedo(), "a new commit clears redo")
	assert.Equal(t, 0, store.RedoDepth())
	assert.False(t, store.Redo())
}

func TestStore_UndoEmitsEvents(t *testing.T) {
	store, bus := newTestStore(t)
	store.SetVariable("a", 1)

	got := recordKinds(bus, events.KindStateChanged, events.KindHistoryChanged)
	require.True(t, store.Undo())

	require.Len(t, *got, 2)
	assert.Equal(t, SourceUndo, (*got)[0].Payload.(Changed).Source)
	assert.Equal(t, HistoryChanged{CanUndo: false, CanRedo: true, UndoDepth: 0, RedoDepth: 1}, (*got)[1].Payload)
}

func TestStore_HistoryLimit(t *testing.T) {
	store, _ := newTestStore(t, WithHistoryLimit(3))

	var snapshots []*GameState
	for i := 0; i < 6; i++ {
		snapshots = append(snapshots, store.State())
		store.SetVariable("n", i)
		assert.LessOrEqual(t, store.UndoDepth(), 3)
	}
	assert.Equal(t, 3, store.UndoDepth())

	// the three newest pre-mutation snapshots survive, oldest first evicted
	for i := 5; i >= 3; i-- {
		require.True(t, store.Undo())
		assert.Same(t, snapshots[i], store.State())
	}
	assert.False(t, store.Undo())
}

func TestStore_HistoryDisabled(t *testing.T) {
	for _, limit := range []int{0, -1} {
		store, _ := newTestStore(t, WithHistoryLimit(limit))
		store.SetVariable("a", 1)

		assert.False(t, store.Undo())
		assert.False(t, store.Redo())
		assert.False(t, store.CanUndo())
		assert.Equal(t, 0, store.UndoDepth())
	}
}

func TestStore_ReplaceValidates(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Replace(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gameerr.ErrInvalidState))

	bad := NewGameState(Partial{Variables: map[string]any{"fn": func() {}}})
	err = store.Replace(bad)
	assert.True(t, gameerr.IsCategory(err, gameerr.CategoryState))

	reserved := NewGameState(Partial{Extensions: map[string]any{KeyVariables: 1}})
	assert.Error(t, store.Replace(reserved))

	good := NewGameState(Partial{VisitedScenes: []string{"start"}, Variables: map[string]any{"x": 1.0}})
	require.NoError(t, store.Replace(good))
	assert.Same(t, good, store.State())
	assert.Equal(t, 1, store.UndoDepth(), "replace is undoable")
}

func TestStore_LoadAndResetClearHistory(t *testing.T) {
	store, bus := newTestStore(t)
	store.SetVariable("a", 1)
	store.SetVariable("b", 2)
	store.Undo()
	require.True(t, store.CanUndo())
	require.True(t, store.CanRedo())

	got := recordKinds(bus, events.KindStateChanged, events.KindHistoryChanged)
	loaded := NewGameState(Partial{Variables: map[string]any{"loaded": true}})
	require.NoError(t, store.Load(loaded))

	assert.Same(t, loaded, store.State())
	assert.False(t, store.CanUndo())
	assert.False(t, store.CanRedo())
	assert.False(t, store.Undo())
	require.Len(t, *got, 2)
	assert.Equal(t, SourceLoad, (*got)[0].Payload.(Changed).Source)

	store.SetVariable("c", 3)
	require.NoError(t, store.Reset(nil))
	assert.Equal(t, 0, store.State().VariableCount())
	assert.False(t, store.CanUndo())
}

func TestStore_ApplyExternal(t *testing.T) {
	store, _ := newTestStore(t)
	store.Update(func(d *Draft) {
		d.MarkVisited("start")
		d.SetVariable("gold", 5)
		d.SetVariable("name", "Ada")
	})

	next, err := store.ApplyExternal(Partial{
		VisitedScenes: []string{"start", "forest"},
		Variables:     map[string]any{"gold": 7},
		Extensions:    map[string]any{"inventory": []any{"map"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"forest", "start"}, next.VisitedScenes())
	gold, _ := next.Variable("gold")
	name, _ := next.Variable("name")
	assert.Equal(t, 7, gold)
	assert.Equal(t, "Ada", name)
	inv, ok := next.Extension("inventory")
	require.True(t, ok)
	assert.Equal(t, []any{"map"}, inv)

	_, err = store.ApplyExternal(Partial{Extensions: map[string]any{KeyMetadata: 1}})
	assert.Error(t, err)
}

func TestStore_VisitedWrappers(t *testing.T) {
	store, _ := newTestStore(t)

	store.MarkVisited("start")
	store.MarkVisited("forest")
	store.MarkVisited("start")
	assert.Equal(t, 2, store.VisitedCount())
	assert.True(t, store.HasVisited("forest"))

	store.UnmarkVisited("forest")
	assert.False(t, store.HasVisited("forest"))
	assert.Equal(t, 1, store.VisitedCount())

	store.RemoveVariable("missing")
	store.SetVariable("k", "v")
	assert.True(t, store.HasVariable("k"))
	store.RemoveVariable("k")
	assert.False(t, store.HasVariable("k"))
}

func TestStore_ListenerMayUpdate(t *testing.T) {
	store, bus := newTestStore(t)

	bus.SubscribeOnce(events.KindStateChanged, events.Func(func(events.Event) {
		store.SetVariable("echo", true)
	}))
	store.SetVariable("a", 1)

	assert.True(t, store.HasVariable("echo"))
}

func TestStore_PanickingMutatorReleasesLock(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Panics(t, func() {
		store.Update(func(d *Draft) {
			d.SetVariable("half", true)
			panic("boom")
		})
	})

	assert.False(t, store.HasVariable("half"))
	store.SetVariable("after", true)
	assert.True(t, store.HasVariable("after"))
}

func TestDraft_UseAfterCommitPanics(t *testing.T) {
	store, _ := newTestStore(t)

	var leaked *Draft
	store.Update(func(d *Draft) { leaked = d })

	assert.Panics(t, func() { leaked.SetVariable("late", 1) })
}

func ptrOf[K comparable, V any](m map[K]V) string {
	return fmt.Sprintf("%p", m)
}
