package persist

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// MigrationFunc transforms a snapshot from version from to version to. It
// receives a private deep copy and may modify and return it.
type MigrationFunc func(ps PersistedState, from, to int) (PersistedState, error)

// MigrationRegistry maps a source version to the step that upgrades it by one.
type MigrationRegistry struct {
	mu    sync.RWMutex
	steps map[int]MigrationFunc
}

// NewMigrationRegistry returns an empty registry.
func NewMigrationRegistry() *MigrationRegistry {
	return &MigrationRegistry{steps: make(map[int]MigrationFunc)}
}

// DefaultMigrations returns a registry holding the built-in steps.
func DefaultMigrations() *MigrationRegistry {
	r := NewMigrationRegistry()
	r.steps[0] = migrateV0toV1
	return r
}

// Register adds the step for from. A second step for the same version fails.
func (r *MigrationRegistry) Register(from int, fn MigrationFunc) error {
	if from < 0 || fn == nil {
		return gameerr.New(gameerr.CodeMigrationFailed, "migration needs a non-negative version and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[from]; exists {
		return gameerr.WithMetadata(gameerr.CodeMigrationDuplicate,
			"migration already registered", map[string]string{"from": strconv.Itoa(from)})
	}
	r.steps[from] = fn
	return nil
}

// Override installs the step for from, replacing any existing one.
func (r *MigrationRegistry) Override(from int, fn MigrationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[from] = fn
}

// Lookup returns the step for from.
func (r *MigrationRegistry) Lookup(from int) (MigrationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.steps[from]
	return fn, ok
}

// Versions returns the source versions with a registered step, ascending.
func (r *MigrationRegistry) Versions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.steps))
}

// MigrationApplied is the payload of a migrationApplied event.
type MigrationApplied struct {
	From  int            `json:"from"`
	To    int            `json:"to"`
	State PersistedState `json:"state"`
}

// MigrationService applies registered steps to bring snapshots up to date.
type MigrationService struct {
	registry *MigrationRegistry
	bus      *events.Bus
	logger   *slog.Logger
}

// NewMigrationService creates a service over registry. A nil registry uses
// DefaultMigrations; a nil bus disables migrationApplied events.
func NewMigrationService(registry *MigrationRegistry, bus *events.Bus, logger *slog.Logger) *MigrationService {
	if registry == nil {
		registry = DefaultMigrations()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationService{registry: registry, bus: bus, logger: logger}
}

// Registry returns the service's registry.
func (m *MigrationService) Registry() *MigrationRegistry { return m.registry }

// Migrate upgrades ps to target one version at a time. A snapshot without a
// version is treated as version 0. A snapshot already at or past target is
// returned as is. A missing or failing step aborts the whole migration; ps is
// never modified.
func (m *MigrationService) Migrate(ps PersistedState, target int) (PersistedState, error) {
	if ps == nil {
		return nil, gameerr.New(gameerr.CodeMigrationFailed, "snapshot is nil")
	}

	current, ok := ps.Version()
	if !ok {
		m.logger.Warn("Snapshot has no format version, assuming 0")
		current = 0
	}
	if current >= target {
		if current > target {
			m.logger.Warn("Snapshot is newer than this engine supports",
				"format_version", current, "supported_version", target)
		}
		return ps, nil
	}

	out := ps
	for v := current; v < target; v++ {
		fn, ok := m.registry.Lookup(v)
		if !ok {
			m.logger.Error("Missing migration step", "from", v, "to", v+1, "target", target)
			return nil, gameerr.WithMetadata(gameerr.CodeMigrationMissing,
				fmt.Sprintf("no migration from version %d to %d", v, v+1),
				map[string]string{"from": strconv.Itoa(v), "to": strconv.Itoa(v + 1)})
		}

		next, err := runStep(fn, out.Clone(), v)
		if err != nil {
			m.logger.Error("Migration step failed", "from", v, "to", v+1, "error", err)
			return nil, err
		}
		next.SetVersion(v + 1)
		out = next

		m.logger.Info("Migration applied", "from", v, "to", v+1)
		if m.bus != nil {
			if err := m.bus.Publish(events.KindMigrationApplied, MigrationApplied{From: v, To: v + 1, State: out.Clone()}); err != nil {
				m.logger.Error("migrationApplied listener failed", "error", err)
			}
		}
	}
	return out, nil
}

func runStep(fn MigrationFunc, ps PersistedState, from int) (out PersistedState, err error) {
	meta := map[string]string{"from": strconv.Itoa(from), "to": strconv.Itoa(from + 1)}
	defer func() {
		if r := recover(); r != nil {
			err = gameerr.WithMetadata(gameerr.CodeMigrationFailed, fmt.Sprintf("migration panicked: %v", r), meta)
		}
	}()
	out, err = fn(ps, from, from+1)
	if err != nil {
		return nil, gameerr.WrapWithMetadata(gameerr.CodeMigrationFailed, "migration step failed", meta, err)
	}
	if out == nil {
		return nil, gameerr.WithMetadata(gameerr.CodeMigrationFailed, "migration returned no snapshot", meta)
	}
	return out, nil
}

// migrateV0toV1 converts the object-encoded visited set ({"id": true}) to a
// sorted array and guarantees a variables object.
func migrateV0toV1(ps PersistedState, _, _ int) (PersistedState, error) {
	switch visited := ps[state.KeyVisitedScenes].(type) {
	case nil:
		ps[state.KeyVisitedScenes] = []any{}
	case map[string]any:
		ids := make([]string, 0, len(visited))
		for id, v := range visited {
			if b, isBool := v.(bool); isBool && !b {
				continue
			}
			ids = append(ids, id)
		}
		slices.Sort(ids)
		arr := make([]any, len(ids))
		for i, id := range ids {
			arr[i] = id
		}
		ps[state.KeyVisitedScenes] = arr
	case []any:
	default:
		return nil, fmt.Errorf("visitedScenes has unexpected type %T", visited)
	}

	if _, ok := ps[state.KeyVariables].(map[string]any); !ok {
		if ps[state.KeyVariables] != nil {
			return nil, fmt.Errorf("variables has unexpected type %T", ps[state.KeyVariables])
		}
		ps[state.KeyVariables] = map[string]any{}
	}
	return ps, nil
}
