package scene

import "github.com/jwebster45206/story-runtime/pkg/state"

// Dynamic is a value that is either fixed or derived from the game state at
// read time.
type Dynamic[T any] struct {
	value T
	fn    func(*state.GameState) T
}

// Static returns a fixed value.
func Static[T any](v T) Dynamic[T] {
	return Dynamic[T]{value: v}
}

// Computed returns a value derived from state. fn must be pure.
func Computed[T any](fn func(*state.GameState) T) Dynamic[T] {
	return Dynamic[T]{fn: fn}
}

// Resolve returns the value for gs.
func (d Dynamic[T]) Resolve(gs *state.GameState) T {
	if d.fn != nil {
		if gs == nil {
			gs = state.Empty()
		}
		return d.fn(gs)
	}
	return d.value
}

// IsComputed reports whether the value depends on state.
func (d Dynamic[T]) IsComputed() bool {
	return d.fn != nil
}

// StaticValue returns the fixed value and true, or the zero value and false
// for a computed one.
func (d Dynamic[T]) StaticValue() (T, bool) {
	if d.fn != nil {
		var zero T
		return zero, false
	}
	return d.value, true
}
