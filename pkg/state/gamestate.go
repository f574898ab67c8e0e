package state

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
)

// Reserved top-level keys. Extensions may not use them.
const (
	KeyVariables     = "variables"
	KeyVisitedScenes = "visitedScenes"
	KeyMetadata      = "metadata"
)

// IsReservedKey reports whether key is owned by the core state.
func IsReservedKey(key string) bool {
	return key == KeyVariables || key == KeyVisitedScenes || key == KeyMetadata
}

// GameState is one immutable snapshot of a game session. It is never modified
// after construction; every change produces a new GameState through a Draft.
// Unchanged collections are shared between consecutive snapshots.
type GameState struct {
	visited    map[string]struct{}
	variables  map[string]any
	extensions map[string]any
}

// Partial describes a (possibly incomplete) state used to seed or merge.
type Partial struct {
	VisitedScenes []string       `json:"visitedScenes,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"-"`
}

var empty = &GameState{
	visited:    map[string]struct{}{},
	variables:  map[string]any{},
	extensions: map[string]any{},
}

// Empty returns the empty state.
func Empty() *GameState {
	return empty
}

// NewGameState builds a state from an initial partial state.
func NewGameState(initial Partial) *GameState {
	gs := &GameState{
		visited:    make(map[string]struct{}, len(initial.VisitedScenes)),
		variables:  cloneMap(initial.Variables),
		extensions: cloneMap(initial.Extensions),
	}
	for _, id := range initial.VisitedScenes {
		gs.visited[id] = struct{}{}
	}
	return gs
}

// Variable returns a copy of the named variable.
func (gs *GameState) Variable(name string) (any, bool) {
	v, ok := gs.variables[name]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Variables returns a copy of all variables.
func (gs *GameState) Variables() map[string]any {
	return cloneMap(gs.variables)
}

// HasVariable reports whether the variable is set.
func (gs *GameState) HasVariable(name string) bool {
	_, ok := gs.variables[name]
	return ok
}

// VariableCount returns the number of variables.
func (gs *GameState) VariableCount() int {
	return len(gs.variables)
}

// HasVisited reports whether the scene has been visited.
func (gs *GameState) HasVisited(sceneID string) bool {
	_, ok := gs.visited[sceneID]
	return ok
}

// VisitedCount returns the number of distinct visited scenes.
func (gs *GameState) VisitedCount() int {
	return len(gs.visited)
}

// VisitedScenes returns the visited scene ids in sorted order.
func (gs *GameState) VisitedScenes() []string {
	ids := slices.Collect(maps.Keys(gs.visited))
	slices.Sort(ids)
	return ids
}

// Extension returns a copy of a plugin-owned top-level value.
func (gs *GameState) Extension(key string) (any, bool) {
	v, ok := gs.extensions[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Extensions returns a copy of all plugin-owned top-level values.
func (gs *GameState) Extensions() map[string]any {
	return cloneMap(gs.extensions)
}

// ExtensionKeys returns the extension keys in sorted order.
func (gs *GameState) ExtensionKeys() []string {
	keys := slices.Collect(maps.Keys(gs.extensions))
	slices.Sort(keys)
	return keys
}

// Partial returns the state as a Partial, deep-copied.
func (gs *GameState) Partial() Partial {
	return Partial{
		VisitedScenes: gs.VisitedScenes(),
		Variables:     gs.Variables(),
		Extensions:    gs.Extensions(),
	}
}

// Equal reports whether two snapshots hold the same values.
func (gs *GameState) Equal(other *GameState) bool {
	if gs == other {
		return true
	}
	if gs == nil || other == nil {
		return false
	}
	return reflect.DeepEqual(gs.visited, other.visited) &&
		reflect.DeepEqual(gs.variables, other.variables) &&
		reflect.DeepEqual(gs.extensions, other.extensions)
}

// MarshalJSON renders the state as a flat object: variables, visitedScenes
// and every extension key at the top level.
func (gs *GameState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(gs.extensions)+2)
	for k, v := range gs.extensions {
		out[k] = v
	}
	out[KeyVariables] = gs.variables
	out[KeyVisitedScenes] = gs.VisitedScenes()
	return json.Marshal(out)
}
