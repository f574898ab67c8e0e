package story

import (
	"reflect"

	"github.com/jwebster45206/story-runtime/pkg/state"
)

// When defines the conditions that must all hold for a variant, branch or
// choice to apply.
type When struct {
	Vars            map[string]any     `json:"vars,omitempty"`              // Variables must equal these values
	MinVars         map[string]float64 `json:"min_vars,omitempty"`          // Numeric variables must be >= these
	MaxVars         map[string]float64 `json:"max_vars,omitempty"`          // Numeric variables must be <= these
	Visited         []string           `json:"visited,omitempty"`           // Scenes that must have been visited
	NotVisited      []string           `json:"not_visited,omitempty"`       // Scenes that must not have been visited
	MinVisitedCount *int               `json:"min_visited_count,omitempty"` // Distinct visited scenes >= this value
}

// IsEmpty reports whether no condition is specified.
func (w When) IsEmpty() bool {
	return len(w.Vars) == 0 &&
		len(w.MinVars) == 0 &&
		len(w.MaxVars) == 0 &&
		len(w.Visited) == 0 &&
		len(w.NotVisited) == 0 &&
		w.MinVisitedCount == nil
}

// Evaluate checks whether every condition holds for gs. An empty clause never
// matches.
func (w When) Evaluate(gs *state.GameState) bool {
	if w.IsEmpty() {
		return false
	}
	if gs == nil {
		gs = state.Empty()
	}

	for name, want := range w.Vars {
		got, exists := gs.Variable(name)
		if !exists || !valueMatches(got, want) {
			return false
		}
	}

	for name, bound := range w.MinVars {
		v, ok := numericVar(gs, name)
		if !ok || v < bound {
			return false
		}
	}

	for name, bound := range w.MaxVars {
		v, ok := numericVar(gs, name)
		if !ok || v > bound {
			return false
		}
	}

	for _, id := range w.Visited {
		if !gs.HasVisited(id) {
			return false
		}
	}

	for _, id := range w.NotVisited {
		if gs.HasVisited(id) {
			return false
		}
	}

	if w.MinVisitedCount != nil && gs.VisitedCount() < *w.MinVisitedCount {
		return false
	}

	return true
}

// matches treats a nil clause as always true.
func matches(w *When, gs *state.GameState) bool {
	if w == nil {
		return true
	}
	return w.Evaluate(gs)
}

func numericVar(gs *state.GameState, name string) (float64, bool) {
	v, exists := gs.Variable(name)
	if !exists {
		return 0, false
	}
	return state.ToFloat(v)
}

// valueMatches compares numbers by value so 1 and 1.0 are equal.
func valueMatches(got, want any) bool {
	gf, gok := state.ToFloat(got)
	wf, wok := state.ToFloat(want)
	if gok && wok {
		return gf == wf
	}
	return reflect.DeepEqual(got, want)
}
