package state

import (
	"encoding/json"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
)

// Validate checks the basic shape of a state supplied from outside the store:
// scene ids and variable names must be non-empty, extension keys must not
// collide with reserved keys, and every value must be JSON-encodable.
func Validate(gs *GameState) error {
	if gs == nil {
		return gameerr.New(gameerr.CodeInvalidState, "state is nil")
	}
	for id := range gs.visited {
		if id == "" {
			return gameerr.New(gameerr.CodeInvalidState, "visited scene id is empty")
		}
	}
	for name, v := range gs.variables {
		if name == "" {
			return gameerr.New(gameerr.CodeInvalidState, "variable name is empty")
		}
		if _, err := json.Marshal(v); err != nil {
			return gameerr.WrapWithMetadata(gameerr.CodeInvalidState,
				"variable is not serializable", map[string]string{"variable": name}, err)
		}
	}
	for key, v := range gs.extensions {
		if key == "" || IsReservedKey(key) {
			return gameerr.WithMetadata(gameerr.CodeInvalidState,
				"extension key is reserved or empty", map[string]string{"key": key})
		}
		if _, err := json.Marshal(v); err != nil {
			return gameerr.WrapWithMetadata(gameerr.CodeInvalidState,
				"extension is not serializable", map[string]string{"key": key}, err)
		}
	}
	return nil
}
