// Package scene holds the scene registry and the transition state machine
// that moves a session between scenes.
package scene

import (
	"slices"

	"github.com/jwebster45206/story-runtime/pkg/effects"
	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// Handle is what hooks receive to act on the running session.
type Handle interface {
	Store() *state.Store
	Bus() *events.Bus
}

// Hook runs on scene entry or exit. Errors are logged and never block the
// transition.
type Hook func(gs *state.GameState, h Handle) error

// Condition gates a choice's visibility and selectability. It must be pure.
type Condition func(gs *state.GameState) bool

// Scene is a node in the narrative graph.
type Scene struct {
	ID      string
	Title   string
	Content Dynamic[string]
	Choices []Choice
	OnEnter Hook
	OnExit  Hook
	Tags    []string
}

// Choice is a player-selectable transition out of a scene.
type Choice struct {
	ID        string
	Label     Dynamic[string]
	Next      Dynamic[string]
	Condition Condition
	Effects   []effects.Effect
}

// Available reports whether the choice may be shown and selected. A choice
// without a condition is always available.
func (c Choice) Available(gs *state.GameState) bool {
	if c.Condition == nil {
		return true
	}
	return c.Condition(gs)
}

// Choice returns the choice with the given id.
func (s Scene) Choice(id string) (Choice, bool) {
	for _, c := range s.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// HasTag reports whether the scene carries tag.
func (s Scene) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

func (s Scene) clone() Scene {
	s.Choices = slices.Clone(s.Choices)
	s.Tags = slices.Clone(s.Tags)
	return s
}

// SceneChanged is the payload of a sceneChanged event.
type SceneChanged struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
}
