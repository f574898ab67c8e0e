package persist

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// ConverterOptions configures a Converter. Zero values select JSON without
// compression, the default migrations and the wall clock.
type ConverterOptions struct {
	// PersistentKeys lists extension keys saved alongside variables and
	// visitedScenes, which are always included.
	PersistentKeys []string
	Codec          Codec
	Compression    Compression
	Migrations     *MigrationRegistry
	Bus            *events.Bus
	Logger         *slog.Logger
	Now            func() time.Time
}

// Converter maps GameState to PersistedState and bytes, and back.
type Converter struct {
	keys        []string
	codec       Codec
	compression Compression
	migrations  *MigrationService
	logger      *slog.Logger
	now         func() time.Time
}

// NewConverter creates a converter.
func NewConverter(opts ConverterOptions) *Converter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	compression := opts.Compression
	if compression == "" {
		compression = CompressionNone
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var keys []string
	for _, k := range opts.PersistentKeys {
		if k == "" || state.IsReservedKey(k) || slices.Contains(keys, k) {
			continue
		}
		keys = append(keys, k)
	}

	return &Converter{
		keys:        keys,
		codec:       codec,
		compression: compression,
		migrations:  NewMigrationService(opts.Migrations, opts.Bus, logger),
		logger:      logger,
		now:         now,
	}
}

// PersistentKeys returns the configured extension keys.
func (c *Converter) PersistentKeys() []string { return slices.Clone(c.keys) }

// Migrations returns the converter's migration service.
func (c *Converter) Migrations() *MigrationService { return c.migrations }

// Serialize projects gs onto the persistent keys and stamps the current
// format version and time.
func (c *Converter) Serialize(gs *state.GameState) (PersistedState, error) {
	if gs == nil {
		return nil, gameerr.New(gameerr.CodeInvalidState, "state is nil")
	}

	raw := map[string]any{
		state.KeyVariables:     gs.Variables(),
		state.KeyVisitedScenes: gs.VisitedScenes(),
		state.KeyMetadata: map[string]any{
			FieldFormatVersion: CurrentFormatVersion,
			FieldTimestamp:     c.now().UnixMilli(),
		},
	}
	for _, key := range c.keys {
		if v, ok := gs.Extension(key); ok {
			raw[key] = v
		}
	}

	out, err := normalize(raw)
	if err != nil {
		return nil, gameerr.Wrap(gameerr.CodeInvalidState, "state is not serializable", err)
	}
	return PersistedState(out), nil
}

// Encode renders ps with the configured codec and compression.
func (c *Converter) Encode(ps PersistedState) ([]byte, error) {
	data, err := c.codec.Encode(map[string]any(ps))
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot with %s: %w", c.codec.Name(), err)
	}
	data, err = compress(data, c.compression)
	if err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	return data, nil
}

// Decode parses bytes into a PersistedState without migrating it. Codec and
// compression are detected from the payload.
func (c *Converter) Decode(data []byte) (PersistedState, error) {
	if len(data) == 0 {
		return nil, gameerr.New(gameerr.CodeInvalidSnapshot, "snapshot is empty")
	}
	plain, err := decompress(data)
	if err != nil {
		return nil, gameerr.Wrap(gameerr.CodeInvalidSnapshot, "failed to decompress snapshot", err)
	}
	codec := detectCodec(plain)
	var raw map[string]any
	if err := codec.Decode(plain, &raw); err != nil {
		return nil, gameerr.Wrap(gameerr.CodeInvalidSnapshot, "failed to decode snapshot", err)
	}
	if raw == nil {
		return nil, gameerr.New(gameerr.CodeInvalidSnapshot, "snapshot is not an object")
	}
	out, err := normalize(raw)
	if err != nil {
		return nil, gameerr.Wrap(gameerr.CodeInvalidSnapshot, "failed to normalize snapshot", err)
	}
	return PersistedState(out), nil
}

// Deserialize decodes, migrates to CurrentFormatVersion and validates. Callers
// never receive a snapshot at an older version.
func (c *Converter) Deserialize(data []byte) (PersistedState, error) {
	ps, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	migrated, err := c.migrations.Migrate(ps, CurrentFormatVersion)
	if err != nil {
		return nil, err
	}
	normalized, err := normalize(migrated)
	if err != nil {
		return nil, gameerr.Wrap(gameerr.CodeMigrationFailed, "migrated snapshot is not serializable", err)
	}
	migrated = PersistedState(normalized)

	if v, _ := migrated.Version(); v > CurrentFormatVersion {
		// newer saves are accepted as is; unknown keys become extensions
		return migrated, nil
	}
	if err := ValidateSnapshot(migrated); err != nil {
		return nil, err
	}
	return migrated, nil
}

// ToState builds a GameState from a current-format snapshot. Top-level keys
// other than variables, visitedScenes and metadata become extensions.
func (c *Converter) ToState(ps PersistedState) (*state.GameState, error) {
	if ps == nil {
		return nil, gameerr.New(gameerr.CodeInvalidSnapshot, "snapshot is nil")
	}
	p := state.Partial{
		VisitedScenes: ps.VisitedScenes(),
		Variables:     ps.Clone().Variables(),
		Extensions:    map[string]any{},
	}
	for k, v := range ps {
		if state.IsReservedKey(k) {
			continue
		}
		p.Extensions[k] = deepCopy(v)
	}
	gs := state.NewGameState(p)
	if err := state.Validate(gs); err != nil {
		return nil, err
	}
	return gs, nil
}

// Marshal serializes and encodes gs.
func (c *Converter) Marshal(gs *state.GameState) ([]byte, error) {
	ps, err := c.Serialize(gs)
	if err != nil {
		return nil, err
	}
	return c.Encode(ps)
}

// Unmarshal deserializes data into a GameState.
func (c *Converter) Unmarshal(data []byte) (*state.GameState, error) {
	ps, err := c.Deserialize(data)
	if err != nil {
		return nil, err
	}
	return c.ToState(ps)
}
