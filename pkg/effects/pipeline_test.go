package effects

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

func testPipeline() (*Pipeline, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return NewPipeline(logger), &buf
}

func applyTo(t *testing.T, p *Pipeline, base *state.GameState, effs ...Effect) (*state.GameState, []error) {
	t.Helper()
	d := state.NewDraft(base)
	errs := p.ApplyAll(effs, d)
	return d.Commit(), errs
}

func TestPipeline_NumericEffects(t *testing.T) {
	tests := []struct {
		name     string
		initial  map[string]any
		effects  []Effect
		variable string
		want     any
	}{
		{
			name:     "increment absent defaults to one",
			effects:  []Effect{{Type: IncrementVariable, Payload: map[string]any{"variable": "gold"}}},
			variable: "gold",
			want:     1,
		},
		{
			name:     "increment integer keeps integer",
			initial:  map[string]any{"gold": 5},
			effects:  []Effect{Increment("gold", 3)},
			variable: "gold",
			want:     8,
		},
		{
			name:     "decrement below zero",
			initial:  map[string]any{"hp": 2},
			effects:  []Effect{Decrement("hp", 5)},
			variable: "hp",
			want:     -3,
		},
		{
			name:     "non-numeric current treated as zero",
			initial:  map[string]any{"gold": "lots"},
			effects:  []Effect{Increment("gold", 2)},
			variable: "gold",
			want:     2,
		},
		{
			name:     "float amount gives float",
			initial:  map[string]any{"weight": 1},
			effects:  []Effect{Increment("weight", 0.5)},
			variable: "weight",
			want:     1.5,
		},
		{
			name:     "json-decoded float current",
			initial:  map[string]any{"score": 10.0},
			effects:  []Effect{Decrement("score", 1)},
			variable: "score",
			want:     9.0,
		},
		{
			name:     "int64 beyond float precision",
			initial:  map[string]any{"big": int64(1<<53 + 3)},
			effects:  []Effect{Increment("big", 1)},
			variable: "big",
			want:     int64(1<<53 + 4),
		},
		{
			name:     "int64 amount on missing variable",
			effects:  []Effect{Increment("ticks", int64(7))},
			variable: "ticks",
			want:     int64(7),
		},
		{
			name:     "overflow leaves value unchanged",
			initial:  map[string]any{"n": int64(math.MaxInt64)},
			effects:  []Effect{Increment("n", 1)},
			variable: "n",
			want:     int64(math.MaxInt64),
		},
		{
			name:     "narrow kind overflow leaves value unchanged",
			initial:  map[string]any{"b": int8(127)},
			effects:  []Effect{Increment("b", 1)},
			variable: "b",
			want:     int8(127),
		},
		{
			name:     "unsigned below zero leaves value unchanged",
			initial:  map[string]any{"u": uint(1)},
			effects:  []Effect{Decrement("u", 2)},
			variable: "u",
			want:     uint(1),
		},
		{
			name:     "ordered application",
			effects:  []Effect{Set("n", 10), Increment("n", 1), Decrement("n", 4)},
			variable: "n",
			want:     7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := testPipeline()
			base := state.NewGameState(state.Partial{Variables: tt.initial})
			got, errs := applyTo(t, p, base, tt.effects...)
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			v, _ := got.Variable(tt.variable)
			if v != tt.want {
				t.Errorf("%s = %#v, want %#v", tt.variable, v, tt.want)
			}
		})
	}
}

func TestPipeline_UnknownEffectIsNoOp(t *testing.T) {
	p, logs := testPipeline()
	base := state.NewGameState(state.Partial{Variables: map[string]any{"a": 1}})

	got, errs := applyTo(t, p, base,
		Effect{Type: "SUMMON_DRAGON"},
		Set("b", 2),
	)

	if len(errs) != 1 || !errors.Is(errs[0], gameerr.ErrEffectUnknown) {
		t.Fatalf("expected one unknown-effect error, got %v", errs)
	}
	if !got.HasVariable("b") {
		t.Error("effects after an unknown one should still apply")
	}
	if !strings.Contains(logs.String(), "SUMMON_DRAGON") {
		t.Error("expected a warning naming the unknown effect type")
	}
}

func TestPipeline_FailingHandlerSkipped(t *testing.T) {
	p, _ := testPipeline()
	p.Override("EXPLODE", HandlerFunc(func(Effect, *state.Draft) error { panic("kaboom") }))
	p.Override("REFUSE", HandlerFunc(func(Effect, *state.Draft) error { return errors.New("no") }))

	got, errs := applyTo(t, p, state.Empty(),
		Effect{Type: "EXPLODE"},
		Effect{Type: "REFUSE"},
		Effect{Type: SetVariable, Payload: map[string]any{"value": 1}},
		Set("ok", true),
	)

	if len(errs) != 3 {
		t.Fatalf("expected 3 skipped effects, got %d: %v", len(errs), errs)
	}
	for _, err := range errs {
		if !gameerr.IsCategory(err, gameerr.CategoryEffect) {
			t.Errorf("expected EffectError, got %v", err)
		}
	}
	if gameerr.CodeOf(errs[2]) != gameerr.CodeEffectInvalid {
		t.Errorf("missing variable should be an invalid payload, got %s", gameerr.CodeOf(errs[2]))
	}
	if !got.HasVariable("ok") {
		t.Error("remaining effects should run after failures")
	}
}

func TestPipeline_RegisterRejectsDuplicates(t *testing.T) {
	p, _ := testPipeline()

	err := p.Register(SetVariable, HandlerFunc(handleSetVariable))
	if !errors.Is(err, gameerr.ErrEffectDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	if err := p.Register("WAIT", HandlerFunc(func(Effect, *state.Draft) error { return nil })); err != nil {
		t.Fatalf("register new type: %v", err)
	}
	if !p.Has("WAIT") {
		t.Error("WAIT should be registered")
	}

	p.Override(SetVariable, HandlerFunc(func(eff Effect, d *state.Draft) error {
		d.SetVariable("overridden", true)
		return nil
	}))
	got, _ := applyTo(t, p, state.Empty(), Set("x", 1))
	if !got.HasVariable("overridden") || got.HasVariable("x") {
		t.Error("override should replace the built-in handler")
	}

	if !p.Unregister("WAIT") || p.Unregister("WAIT") {
		t.Error("unregister should report existence once")
	}
}

func TestPipeline_ToggleRemoveMarkVisited(t *testing.T) {
	p, _ := testPipeline()
	base := state.NewGameState(state.Partial{Variables: map[string]any{"door": true, "temp": 1}})

	got, errs := applyTo(t, p, base,
		Effect{Type: ToggleVariable, Payload: map[string]any{"variable": "door"}},
		Effect{Type: ToggleVariable, Payload: map[string]any{"variable": "lamp"}},
		Effect{Type: RemoveVariable, Payload: map[string]any{"variable": "temp"}},
		Effect{Type: MarkVisited, Payload: map[string]any{"scene": "cellar"}},
	)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if v, _ := got.Variable("door"); v != false {
		t.Errorf("door = %v, want false", v)
	}
	if v, _ := got.Variable("lamp"); v != true {
		t.Errorf("lamp = %v, want true", v)
	}
	if got.HasVariable("temp") {
		t.Error("temp should be removed")
	}
	if !got.HasVisited("cellar") {
		t.Error("cellar should be visited")
	}
}

func TestPipeline_Types(t *testing.T) {
	p, _ := testPipeline()
	types := p.Types()
	for _, want := range []string{SetVariable, IncrementVariable, DecrementVariable, RemoveVariable, ToggleVariable, MarkVisited} {
		found := false
		for _, typ := range types {
			if typ == want {
				found = true
			}
		}
		if !found {
			t.Errorf("built-in %s not registered", want)
		}
	}
}
