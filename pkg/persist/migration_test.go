package persist

import (
	"errors"
	"testing"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds a registry with steps 0..n-1 that each append their version
// to a "steps" variable.
func chain(n int) *MigrationRegistry {
	r := NewMigrationRegistry()
	for v := 0; v < n; v++ {
		_ = r.Register(v, appendStep)
	}
	return r
}

func appendStep(ps PersistedState, from, to int) (PersistedState, error) {
	vars, _ := ps["variables"].(map[string]any)
	if vars == nil {
		vars = map[string]any{}
	}
	steps, _ := vars["steps"].([]any)
	vars["steps"] = append(steps, float64(from))
	ps["variables"] = vars
	return ps, nil
}

func v0Snapshot() PersistedState {
	return PersistedState{
		"variables":     map[string]any{"gold": 1.0},
		"visitedScenes": []any{"start"},
		"metadata":      map[string]any{"formatVersion": 0.0, "timestamp": 1.0},
	}
}

func TestMigrate_ChainMatchesManualSteps(t *testing.T) {
	const target = 4
	svc := NewMigrationService(chain(target), nil, quietLogger())

	input := v0Snapshot()
	got, err := svc.Migrate(input, target)
	require.NoError(t, err)

	manual := v0Snapshot()
	for v := 0; v < target; v++ {
		fn, ok := svc.Registry().Lookup(v)
		require.True(t, ok)
		manual, err = fn(manual.Clone(), v, v+1)
		require.NoError(t, err)
		manual.SetVersion(v + 1)
	}

	assert.Equal(t, manual, got)
	assert.Equal(t, v0Snapshot(), input, "input must not be modified")
}

func TestMigrate_MissingStepIsFatal(t *testing.T) {
	r := chain(3)
	r2 := NewMigrationRegistry()
	for _, v := range r.Versions() {
		if v == 1 {
			continue
		}
		fn, _ := r.Lookup(v)
		require.NoError(t, r2.Register(v, fn))
	}
	svc := NewMigrationService(r2, nil, quietLogger())

	input := v0Snapshot()
	out, err := svc.Migrate(input, 3)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, gameerr.ErrMigrationMissing))
	assert.Equal(t, gameerr.CategoryMigration, gameerr.CategoryOf(err))
	assert.True(t, gameerr.CodeOf(err).Fatal())
	assert.Equal(t, v0Snapshot(), input)
}

func TestMigrate_FailingStep(t *testing.T) {
	r := NewMigrationRegistry()
	require.NoError(t, r.Register(0, func(ps PersistedState, _, _ int) (PersistedState, error) {
		ps["variables"] = "clobbered"
		return nil, errors.New("bad data")
	}))
	require.NoError(t, r.Register(1, func(PersistedState, int, int) (PersistedState, error) {
		panic("never reached")
	}))
	svc := NewMigrationService(r, nil, quietLogger())

	input := v0Snapshot()
	_, err := svc.Migrate(input, 2)
	assert.True(t, errors.Is(err, gameerr.ErrMigrationFailed))
	assert.Equal(t, v0Snapshot(), input)

	r.Override(0, appendStep)
	_, err = svc.Migrate(input, 2)
	assert.True(t, errors.Is(err, gameerr.ErrMigrationFailed), "panics become migration errors")
}

func TestMigrate_VersionEdgeCases(t *testing.T) {
	svc := NewMigrationService(chain(2), nil, quietLogger())

	noVersion := PersistedState{"variables": map[string]any{}}
	out, err := svc.Migrate(noVersion, 2)
	require.NoError(t, err)
	v, _ := out.Version()
	assert.Equal(t, 2, v)

	current := v0Snapshot()
	current.SetVersion(2)
	out, err = svc.Migrate(current, 2)
	require.NoError(t, err)
	assert.Equal(t, current, out)

	newer := v0Snapshot()
	newer.SetVersion(9)
	out, err = svc.Migrate(newer, 2)
	require.NoError(t, err)
	v, _ = out.Version()
	assert.Equal(t, 9, v)
}

func TestMigrationRegistry_Duplicates(t *testing.T) {
	r := DefaultMigrations()
	err := r.Register(0, appendStep)
	assert.True(t, errors.Is(err, gameerr.ErrMigrationDuplicate))
	assert.Equal(t, []int{0}, r.Versions())

	require.NoError(t, r.Register(1, appendStep))
	assert.Equal(t, []int{0, 1}, r.Versions())
}

func TestMigrateV0toV1(t *testing.T) {
	tests := []struct {
		name    string
		in      PersistedState
		visited []any
		wantErr bool
	}{
		{
			name:    "object set",
			in:      PersistedState{"visitedScenes": map[string]any{"b": true, "a": 1.0, "c": false}},
			visited: []any{"a", "b"},
		},
		{
			name:    "already an array",
			in:      PersistedState{"visitedScenes": []any{"x"}, "variables": map[string]any{}},
			visited: []any{"x"},
		},
		{
			name:    "missing",
			in:      PersistedState{},
			visited: []any{},
		},
		{
			name:    "bad variables",
			in:      PersistedState{"variables": []any{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := migrateV0toV1(tt.in.Clone(), 0, 1)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.visited, out["visitedScenes"])
			assert.IsType(t, map[string]any{}, out["variables"])
		})
	}
}
