// Package persist converts game state to and from its versioned, durable form
// and migrates old snapshots forward.
package persist

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/jwebster45206/story-runtime/pkg/state"
)

// CurrentFormatVersion is the snapshot format this build writes.
const CurrentFormatVersion = 1

// Metadata field names.
const (
	FieldFormatVersion = "formatVersion"
	FieldTimestamp     = "timestamp"
)

// PersistedState is the plain, JSON-shaped projection of a GameState:
// variables, visitedScenes, any declared persistent keys and metadata.
type PersistedState map[string]any

// Version returns metadata.formatVersion. The second result is false when the
// field is missing or not a whole number.
func (ps PersistedState) Version() (int, bool) {
	meta, ok := ps[state.KeyMetadata].(map[string]any)
	if !ok {
		return 0, false
	}
	f, ok := state.ToFloat(meta[FieldFormatVersion])
	if !ok || f != math.Trunc(f) || f < 0 {
		return 0, false
	}
	return int(f), true
}

// SetVersion sets metadata.formatVersion, creating metadata if needed.
func (ps PersistedState) SetVersion(v int) {
	meta, ok := ps[state.KeyMetadata].(map[string]any)
	if !ok {
		meta = map[string]any{}
		ps[state.KeyMetadata] = meta
	}
	meta[FieldFormatVersion] = float64(v)
}

// Timestamp returns metadata.timestamp as a time.
func (ps PersistedState) Timestamp() (time.Time, bool) {
	meta, ok := ps[state.KeyMetadata].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	f, ok := state.ToFloat(meta[FieldTimestamp])
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(f)), true
}

// Variables returns the variables object, or nil when it is absent or not an
// object.
func (ps PersistedState) Variables() map[string]any {
	vars, _ := ps[state.KeyVariables].(map[string]any)
	return vars
}

// VisitedScenes returns the visited scene ids. Non-string entries are ignored.
func (ps PersistedState) VisitedScenes() []string {
	raw, _ := ps[state.KeyVisitedScenes].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns the top-level keys in sorted order.
func (ps PersistedState) Keys() []string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns a deep copy.
func (ps PersistedState) Clone() PersistedState {
	if ps == nil {
		return nil
	}
	out := make(PersistedState, len(ps))
	for k, v := range ps {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = deepCopy(inner)
		}
		return out
	case PersistedState:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = deepCopy(inner)
		}
		return out
	default:
		return v
	}
}

// normalize converts v to the generic JSON shape: objects become
// map[string]any, arrays []any and numbers float64.
func normalize(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize snapshot: %w", err)
	}
	return out, nil
}
