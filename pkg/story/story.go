// Package story loads declarative JSON story files and compiles them into
// scenes the engine can run.
package story

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/jwebster45206/story-runtime/pkg/effects"
	"github.com/jwebster45206/story-runtime/pkg/scene"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// PluginName is the name a Story registers under.
const PluginName = "story"

// Story is a complete story definition.
type Story struct {
	Title     string              `json:"title"`               // Display title
	Start     string              `json:"start"`               // Opening scene ID
	Variables map[string]any      `json:"variables,omitempty"` // Initial variable values
	SceneDefs map[string]SceneDef `json:"scenes"`              // Map of scene IDs to definitions
	Meta      map[string]string   `json:"meta,omitempty"`      // Free-form author metadata
}

// SceneDef is one scene in a story file.
type SceneDef struct {
	Title    string      `json:"title,omitempty"`
	Content  string      `json:"content"`            // Default text
	Variants []Variant   `json:"variants,omitempty"` // First matching variant replaces Content
	Choices  []ChoiceDef `json:"choices,omitempty"`
	Tags     []string    `json:"tags,omitempty"`
}

// Variant is alternative scene text shown when its conditions hold.
type Variant struct {
	When    *When  `json:"when,omitempty"` // Optional conditions - if nil, always applies
	Content string `json:"content"`
}

// UnmarshalJSON accepts either a plain string (always applies) or an object
// with conditions.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		v.Content = str
		v.When = nil
		return nil
	}

	type Alias Variant
	aux := &struct{ *Alias }{Alias: (*Alias)(v)}
	return json.Unmarshal(data, aux)
}

// ChoiceDef is one player choice.
type ChoiceDef struct {
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Next     string           `json:"next,omitempty"`     // Default target scene
	Branches []Branch         `json:"branches,omitempty"` // First matching branch replaces Next
	When     *When            `json:"when,omitempty"`     // Availability; nil means always available
	Effects  []effects.Effect `json:"effects,omitempty"`
}

// Branch routes a choice to another scene when its conditions hold.
type Branch struct {
	When When   `json:"when"`
	Next string `json:"next"`
}

// Parse decodes and validates a story.
func Parse(data []byte) (*Story, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var s Story
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal story: %w", err)
	}
	return &s, nil
}

// LoadFile reads and parses a story file.
func LoadFile(path string) (*Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read story file %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid story file %s: %w", path, err)
	}
	return s, nil
}

// Name implements engine.Plugin.
func (s *Story) Name() string {
	return PluginName
}

// SceneIDs returns the scene ids in sorted order.
func (s *Story) SceneIDs() []string {
	ids := make([]string, 0, len(s.SceneDefs))
	for id := range s.SceneDefs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Scenes compiles the definitions into runtime scenes, sorted by id. Content
// and targets that depend on variants or branches are computed from state
// when read.
func (s *Story) Scenes() []scene.Scene {
	out := make([]scene.Scene, 0, len(s.SceneDefs))
	for _, id := range s.SceneIDs() {
		out = append(out, compileScene(id, s.SceneDefs[id]))
	}
	return out
}

// InitialState returns the state a new session starts from.
func (s *Story) InitialState() *state.GameState {
	return state.NewGameState(state.Partial{Variables: s.Variables})
}

func compileScene(id string, def SceneDef) scene.Scene {
	sc := scene.Scene{
		ID:      id,
		Title:   def.Title,
		Content: compileContent(def),
		Tags:    slices.Clone(def.Tags),
	}
	for _, c := range def.Choices {
		sc.Choices = append(sc.Choices, compileChoice(c))
	}
	return sc
}

func compileContent(def SceneDef) scene.Dynamic[string] {
	if len(def.Variants) == 0 {
		return scene.Static(def.Content)
	}
	variants := slices.Clone(def.Variants)
	fallback := def.Content
	return scene.Computed(func(gs *state.GameState) string {
		for _, v := range variants {
			if matches(v.When, gs) {
				return v.Content
			}
		}
		return fallback
	})
}

func compileChoice(def ChoiceDef) scene.Choice {
	c := scene.Choice{
		ID:      def.ID,
		Label:   scene.Static(def.Label),
		Effects: slices.Clone(def.Effects),
	}

	if len(def.Branches) == 0 {
		c.Next = scene.Static(def.Next)
	} else {
		branches := slices.Clone(def.Branches)
		fallback := def.Next
		c.Next = scene.Computed(func(gs *state.GameState) string {
			for _, b := range branches {
				if b.When.Evaluate(gs) {
					return b.Next
				}
			}
			return fallback
		})
	}

	if def.When != nil {
		when := *def.When
		c.Condition = func(gs *state.GameState) bool {
			return when.Evaluate(gs)
		}
	}
	return c
}
