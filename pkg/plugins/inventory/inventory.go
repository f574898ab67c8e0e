// Package inventory is a plugin that keeps the player's items in the
// "inventory" extension of the game state.
package inventory

import (
	"slices"

	"github.com/jwebster45206/story-runtime/pkg/effects"
	"github.com/jwebster45206/story-runtime/pkg/scene"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// Key is the extension key the plugin owns.
const Key = "inventory"

// Effect types.
const (
	AddItem    = "ADD_ITEM"
	RemoveItem = "REMOVE_ITEM"
)

// Plugin registers the item effects and persists the inventory.
type Plugin struct{}

// New returns the inventory plugin.
func New() *Plugin {
	return &Plugin{}
}

// Name implements engine.Plugin.
func (*Plugin) Name() string { return "inventory" }

// Effects implements engine.EffectPlugin.
func (*Plugin) Effects() map[string]effects.Handler {
	return map[string]effects.Handler{
		AddItem:    effects.HandlerFunc(handleAddItem),
		RemoveItem: effects.HandlerFunc(handleRemoveItem),
	}
}

// PersistentKeys implements engine.PersistencePlugin.
func (*Plugin) PersistentKeys() []string {
	return []string{Key}
}

// Add is an ADD_ITEM effect.
func Add(item string) effects.Effect {
	return effects.Effect{Type: AddItem, Payload: map[string]any{"item": item}}
}

// Remove is a REMOVE_ITEM effect.
func Remove(item string) effects.Effect {
	return effects.Effect{Type: RemoveItem, Payload: map[string]any{"item": item}}
}

// Items returns the items held in gs, in acquisition order.
func Items(gs *state.GameState) []string {
	if gs == nil {
		return nil
	}
	v, _ := gs.Extension(Key)
	return toItems(v)
}

// Has reports whether item is held in gs.
func Has(gs *state.GameState, item string) bool {
	return slices.Contains(Items(gs), item)
}

// Requires is a choice condition that holds while item is held.
func Requires(item string) scene.Condition {
	return func(gs *state.GameState) bool {
		return Has(gs, item)
	}
}

// handleAddItem adds an item to the inventory. Items are singletons.
func handleAddItem(eff effects.Effect, d *state.Draft) error {
	item, err := effects.StringField(eff, "item")
	if err != nil {
		return err
	}
	v, _ := d.Extension(Key)
	items := toItems(v)
	if slices.Contains(items, item) {
		return nil
	}
	return d.SetExtension(Key, fromItems(append(items, item)))
}

// handleRemoveItem drops an item. Removing an item that is not held is a no-op.
func handleRemoveItem(eff effects.Effect, d *state.Draft) error {
	item, err := effects.StringField(eff, "item")
	if err != nil {
		return err
	}
	v, _ := d.Extension(Key)
	items := toItems(v)
	i := slices.Index(items, item)
	if i < 0 {
		return nil
	}
	return d.SetExtension(Key, fromItems(slices.Delete(items, i, i+1)))
}

// toItems accepts both the in-memory form and the decoded []any form.
func toItems(v any) []string {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// fromItems stores items as []any so the value compares equal to a decoded
// snapshot.
func fromItems(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
