package state

import (
	"maps"
	"slices"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
)

// Draft is the mutable view of a GameState handed to an update mutator.
// Collections are copied the first time they are written, so untouched ones
// stay shared with the base snapshot. A Draft must not be used after the
// mutator returns.
type Draft struct {
	base *GameState

	visited    map[string]struct{}
	variables  map[string]any
	extensions map[string]any

	ownVisited    bool
	ownVariables  bool
	ownExtensions bool

	changed bool
	sealed  bool
}

func newDraft(base *GameState) *Draft {
	return &Draft{
		base:       base,
		visited:    base.visited,
		variables:  base.variables,
		extensions: base.extensions,
	}
}

// NewDraft returns a standalone draft over base. Commit produces the result.
// Use Store.Update for history and events; this is for tools and tests that
// need to build states directly.
func NewDraft(base *GameState) *Draft {
	if base == nil {
		base = Empty()
	}
	return newDraft(base)
}

// Commit seals the draft and returns the resulting snapshot, or the base
// snapshot itself when nothing changed.
func (d *Draft) Commit() *GameState {
	d.sealed = true
	if !d.changed {
		return d.base
	}
	return &GameState{
		visited:    d.visited,
		variables:  d.variables,
		extensions: d.extensions,
	}
}

// Changed reports whether the draft differs from its base.
func (d *Draft) Changed() bool {
	return d.changed
}

// Base returns the snapshot the draft started from.
func (d *Draft) Base() *GameState {
	return d.base
}

func (d *Draft) check() {
	if d.sealed {
		panic("state: draft used outside of its mutator")
	}
}

func (d *Draft) writeVariables() {
	if !d.ownVariables {
		d.variables = maps.Clone(d.variables)
		if d.variables == nil {
			d.variables = map[string]any{}
		}
		d.ownVariables = true
	}
}

func (d *Draft) writeVisited() {
	if !d.ownVisited {
		d.visited = maps.Clone(d.visited)
		if d.visited == nil {
			d.visited = map[string]struct{}{}
		}
		d.ownVisited = true
	}
}

func (d *Draft) writeExtensions() {
	if !d.ownExtensions {
		d.extensions = maps.Clone(d.extensions)
		if d.extensions == nil {
			d.extensions = map[string]any{}
		}
		d.ownExtensions = true
	}
}

// Variable returns a copy of the named variable.
func (d *Draft) Variable(name string) (any, bool) {
	d.check()
	v, ok := d.variables[name]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// HasVariable reports whether the variable is set.
func (d *Draft) HasVariable(name string) bool {
	d.check()
	_, ok := d.variables[name]
	return ok
}

// Variables returns a copy of the draft's variables.
func (d *Draft) Variables() map[string]any {
	d.check()
	return cloneMap(d.variables)
}

// SetVariable stores a copy of value. Setting an equal value is not a change.
func (d *Draft) SetVariable(name string, value any) {
	d.check()
	if cur, ok := d.variables[name]; ok && valuesEqual(cur, value) {
		return
	}
	d.writeVariables()
	d.variables[name] = cloneValue(value)
	d.changed = true
}

// RemoveVariable deletes a variable and reports whether it existed.
func (d *Draft) RemoveVariable(name string) bool {
	d.check()
	if _, ok := d.variables[name]; !ok {
		return false
	}
	d.writeVariables()
	delete(d.variables, name)
	d.changed = true
	return true
}

// MergeVariables shallow-merges vars into the draft's variables.
func (d *Draft) MergeVariables(vars map[string]any) {
	for k, v := range vars {
		d.SetVariable(k, v)
	}
}

// HasVisited reports whether the scene is marked visited.
func (d *Draft) HasVisited(sceneID string) bool {
	d.check()
	_, ok := d.visited[sceneID]
	return ok
}

// VisitedCount returns the number of visited scenes.
func (d *Draft) VisitedCount() int {
	d.check()
	return len(d.visited)
}

// VisitedScenes returns the visited scene ids in sorted order.
func (d *Draft) VisitedScenes() []string {
	d.check()
	ids := slices.Collect(maps.Keys(d.visited))
	slices.Sort(ids)
	return ids
}

// MarkVisited adds the scene to the visited set and reports whether it was new.
func (d *Draft) MarkVisited(sceneID string) bool {
	d.check()
	if _, ok := d.visited[sceneID]; ok {
		return false
	}
	d.writeVisited()
	d.visited[sceneID] = struct{}{}
	d.changed = true
	return true
}

// UnmarkVisited removes the scene from the visited set.
func (d *Draft) UnmarkVisited(sceneID string) bool {
	d.check()
	if _, ok := d.visited[sceneID]; !ok {
		return false
	}
	d.writeVisited()
	delete(d.visited, sceneID)
	d.changed = true
	return true
}

// Extension returns a copy of a plugin-owned top-level value.
func (d *Draft) Extension(key string) (any, bool) {
	d.check()
	v, ok := d.extensions[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// SetExtension stores a plugin-owned top-level value. Reserved keys are
// rejected.
func (d *Draft) SetExtension(key string, value any) error {
	d.check()
	if key == "" || IsReservedKey(key) {
		return gameerr.WithMetadata(gameerr.CodeInvalidState,
			"extension key is reserved or empty", map[string]string{"key": key})
	}
	if cur, ok := d.extensions[key]; ok && valuesEqual(cur, value) {
		return nil
	}
	d.writeExtensions()
	d.extensions[key] = cloneValue(value)
	d.changed = true
	return nil
}

// RemoveExtension deletes a plugin-owned top-level value.
func (d *Draft) RemoveExtension(key string) bool {
	d.check()
	if _, ok := d.extensions[key]; !ok {
		return false
	}
	d.writeExtensions()
	delete(d.extensions, key)
	d.changed = true
	return true
}

// Merge applies a partial state: set union for visited scenes and a shallow
// merge for variables and extensions.
func (d *Draft) Merge(p Partial) error {
	for _, id := range p.VisitedScenes {
		d.MarkVisited(id)
	}
	d.MergeVariables(p.Variables)
	for k, v := range p.Extensions {
		if err := d.SetExtension(k, v); err != nil {
			return err
		}
	}
	return nil
}

// View returns a snapshot of the draft's current contents without sealing
// it. Conditions evaluated mid-mutation use this.
func (d *Draft) View() *GameState {
	d.check()
	return &GameState{
		visited:    maps.Clone(d.visited),
		variables:  cloneMap(d.variables),
		extensions: cloneMap(d.extensions),
	}
}
