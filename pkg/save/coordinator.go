// Package save orchestrates saving, loading and autosaving game sessions.
package save

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/persist"
	"github.com/jwebster45206/story-runtime/pkg/state"
	"github.com/jwebster45206/story-runtime/pkg/storage"
)

// QuickSaveID is the slot used by QuickSave and QuickLoad.
const QuickSaveID = "quicksave"

// Navigator moves the session to a scene after a load and reports the scene
// recorded in a save.
type Navigator interface {
	CurrentSceneID() string
	GoTo(sceneID string) error
}

// SaveOptions describes a save slot.
type SaveOptions struct {
	Name        string
	Description string
	Custom      map[string]string
}

// Saved is the payload of gameSaved, gameLoaded and saveDeleted events.
type Saved struct {
	ID       string           `json:"id"`
	Metadata storage.Metadata `json:"metadata"`
}

// Failed is the payload of saveFailed and loadFailed events.
type Failed struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// Cleared is the payload of a savesCleared event.
type Cleared struct {
	Count int `json:"count"`
}

// Coordinator saves the store's current snapshot through a converter into a
// storage backend and loads it back.
type Coordinator struct {
	store     *state.Store
	converter *persist.Converter
	storage   storage.Storage
	bus       *events.Bus
	logger    *slog.Logger
	nav       Navigator
	version   string
	now       func() time.Time
	tracer    trace.Tracer

	mu           sync.Mutex
	playBase     time.Duration
	sessionStart time.Time

	loadGen atomic.Uint64
	applyMu sync.Mutex

	autoMu sync.Mutex
	auto   *autoSaver
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBus sets the bus save events are published on. The store's bus is used
// by default.
func WithBus(bus *events.Bus) Option {
	return func(c *Coordinator) {
		if bus != nil {
			c.bus = bus
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNavigator lets saves record the current scene and loads return to it.
func WithNavigator(nav Navigator) Option {
	return func(c *Coordinator) { c.nav = nav }
}

// WithEngineVersion sets the engine version stamped into save metadata.
func WithEngineVersion(v string) Option {
	return func(c *Coordinator) { c.version = v }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a coordinator. Play time starts counting now.
func NewCoordinator(store *state.Store, converter *persist.Converter, st storage.Storage, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		converter: converter,
		storage:   st,
		bus:       store.Bus(),
		logger:    slog.Default(),
		now:       time.Now,
		tracer:    otel.Tracer("save/coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sessionStart = c.now()
	return c
}

// NewSlotID returns a fresh, unique save id.
func NewSlotID() string {
	return "save-" + uuid.NewString()
}

// PlayTime returns the accumulated play time including the running session.
func (c *Coordinator) PlayTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playBase + c.now().Sub(c.sessionStart)
}

// ResetPlayTime restarts play time accounting from zero.
func (c *Coordinator) ResetPlayTime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playBase = 0
	c.sessionStart = c.now()
}

func (c *Coordinator) resumePlayTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playBase = d
	c.sessionStart = c.now()
}

// Save writes the current snapshot under id. The snapshot is the one current
// when Save is called; later mutations are not included. Concurrent saves to
// the same id are last-writer-wins.
func (c *Coordinator) Save(ctx context.Context, id string, opts SaveOptions) (storage.Metadata, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Save", trace.WithAttributes(attribute.String("save.id", id)))
	defer span.End()

	gs := c.store.State()
	sceneID := ""
	if c.nav != nil {
		sceneID = c.nav.CurrentSceneID()
	}

	meta, err := c.save(ctx, id, gs, sceneID, opts)
	if err != nil {
		recordError(span, err)
		c.logger.Error("Failed to save game", "save_id", id, "error", err)
		c.publish(events.KindSaveFailed, Failed{ID: id, Error: err.Error(), Err: err})
		return storage.Metadata{}, err
	}

	c.logger.Info("Game saved", "save_id", id, "scene_id", sceneID)
	c.publish(events.KindGameSaved, Saved{ID: id, Metadata: meta})
	return meta, nil
}

func (c *Coordinator) save(ctx context.Context, id string, gs *state.GameState, sceneID string, opts SaveOptions) (storage.Metadata, error) {
	if !storage.ValidID(id) {
		return storage.Metadata{}, gameerr.WithMetadata(gameerr.CodeInvalidSaveID,
			"invalid save id", map[string]string{"save_id": id})
	}

	data, err := c.converter.Marshal(gs)
	if err != nil {
		return storage.Metadata{}, gameerr.Wrap(gameerr.CodeSaveFailed, "failed to serialize state", err)
	}

	now := c.now()
	createdAt := now
	existing, err := c.storage.Load(ctx, id)
	if err != nil {
		c.logger.Warn("Could not read existing save metadata", "save_id", id, "error", err)
	} else if existing != nil && !existing.Metadata.CreatedAt.IsZero() {
		createdAt = existing.Metadata.CreatedAt
	}

	name := opts.Name
	if name == "" {
		name = DefaultName(id)
	}

	meta := storage.Metadata{
		ID:                id,
		Name:              name,
		Description:       opts.Description,
		CreatedAt:         createdAt,
		UpdatedAt:         now,
		PlayTime:          c.PlayTime(),
		EngineVersion:     c.version,
		SaveFormatVersion: persist.CurrentFormatVersion,
		CurrentSceneID:    sceneID,
		Custom:            opts.Custom,
	}
	meta = meta.Clone()

	if err := c.storage.Save(ctx, id, storage.Record{Metadata: meta, Data: data}); err != nil {
		return storage.Metadata{}, gameerr.WrapWithMetadata(gameerr.CodeSaveFailed,
			"failed to write save", map[string]string{"save_id": id}, err)
	}
	return meta, nil
}

// Load restores the save under id: the snapshot is migrated to the current
// format, installed as a fresh baseline with no undo history, play time
// resumes from the saved value and the navigator returns to the recorded
// scene. When two loads race, the one started last wins and the other
// returns a LoadSuperseded error without touching the store.
func (c *Coordinator) Load(ctx context.Context, id string) (storage.Metadata, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Load", trace.WithAttributes(attribute.String("save.id", id)))
	defer span.End()

	gen := c.loadGen.Add(1)
	meta, err := c.load(ctx, id, gen)
	if err != nil {
		recordError(span, err)
		if gameerr.CodeOf(err) != gameerr.CodeLoadSuperseded {
			c.logger.Error("Failed to load game", "save_id", id, "error", err)
			c.publish(events.KindLoadFailed, Failed{ID: id, Error: err.Error(), Err: err})
		}
		return storage.Metadata{}, err
	}

	c.logger.Info("Game loaded", "save_id", id, "scene_id", meta.CurrentSceneID)
	c.publish(events.KindGameLoaded, Saved{ID: id, Metadata: meta})
	return meta, nil
}

func (c *Coordinator) load(ctx context.Context, id string, gen uint64) (storage.Metadata, error) {
	if !storage.ValidID(id) {
		return storage.Metadata{}, gameerr.WithMetadata(gameerr.CodeInvalidSaveID,
			"invalid save id", map[string]string{"save_id": id})
	}

	rec, err := c.storage.Load(ctx, id)
	if err != nil {
		return storage.Metadata{}, gameerr.WrapWithMetadata(gameerr.CodeLoadFailed,
			"failed to read save", map[string]string{"save_id": id}, err)
	}
	if rec == nil {
		return storage.Metadata{}, gameerr.WithMetadata(gameerr.CodeGameNotFound,
			"saved game not found", map[string]string{"save_id": id})
	}

	gs, err := c.converter.Unmarshal(rec.Data)
	if err != nil {
		if gameerr.IsCategory(err, gameerr.CategoryMigration) {
			return storage.Metadata{}, err
		}
		return storage.Metadata{}, gameerr.WrapWithMetadata(gameerr.CodeLoadFailed,
			"failed to decode save", map[string]string{"save_id": id}, err)
	}

	c.applyMu.Lock()
	if c.loadGen.Load() != gen {
		c.applyMu.Unlock()
		c.logger.Debug("Load superseded", "save_id", id)
		return storage.Metadata{}, gameerr.WithMetadata(gameerr.CodeLoadSuperseded,
			"load superseded by a newer load", map[string]string{"save_id": id})
	}
	err = c.store.Load(gs)
	c.applyMu.Unlock()
	if err != nil {
		return storage.Metadata{}, err
	}

	c.resumePlayTime(rec.Metadata.PlayTime)

	if c.nav != nil && rec.Metadata.CurrentSceneID != "" {
		if err := c.nav.GoTo(rec.Metadata.CurrentSceneID); err != nil {
			c.logger.Warn("Could not return to saved scene",
				"save_id", id, "scene_id", rec.Metadata.CurrentSceneID, "error", err)
		}
	}
	return rec.Metadata, nil
}

// QuickSave saves to the fixed quicksave slot.
func (c *Coordinator) QuickSave(ctx context.Context) (storage.Metadata, error) {
	return c.Save(ctx, QuickSaveID, SaveOptions{Name: "Quick Save"})
}

// QuickLoad loads the quicksave slot.
func (c *Coordinator) QuickLoad(ctx context.Context) (storage.Metadata, error) {
	return c.Load(ctx, QuickSaveID)
}

// Delete removes a save and reports whether it existed.
func (c *Coordinator) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Delete", trace.WithAttributes(attribute.String("save.id", id)))
	defer span.End()

	deleted, err := c.storage.Delete(ctx, id)
	if err != nil {
		err = gameerr.WrapWithMetadata(gameerr.CodeDeleteFailed,
			"failed to delete save", map[string]string{"save_id": id}, err)
		recordError(span, err)
		c.logger.Error("Failed to delete save", "save_id", id, "error", err)
		return false, err
	}
	if deleted {
		c.publish(events.KindSaveDeleted, Saved{ID: id})
	}
	return deleted, nil
}

// ClearAll removes every save. Backends without bulk removal are cleared one
// save at a time.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "Coordinator.ClearAll")
	defer span.End()

	list, err := c.storage.List(ctx)
	if err != nil {
		err = gameerr.Wrap(gameerr.CodeDeleteFailed, "failed to list saves", err)
		recordError(span, err)
		return err
	}

	if clearer, ok := c.storage.(storage.Clearer); ok {
		err = clearer.ClearAll(ctx)
	} else {
		for id := range list {
			if _, delErr := c.storage.Delete(ctx, id); delErr != nil {
				err = delErr
				break
			}
		}
	}
	if err != nil {
		err = gameerr.Wrap(gameerr.CodeDeleteFailed, "failed to clear saves", err)
		recordError(span, err)
		c.logger.Error("Failed to clear saves", "error", err)
		return err
	}

	c.logger.Info("Saves cleared", "count", len(list))
	c.publish(events.KindSavesCleared, Cleared{Count: len(list)})
	return nil
}

// List returns the metadata of every save.
func (c *Coordinator) List(ctx context.Context) (map[string]storage.Metadata, error) {
	list, err := c.storage.List(ctx)
	if err != nil {
		return nil, gameerr.Wrap(gameerr.CodeLoadFailed, "failed to list saves", err)
	}
	return list, nil
}

// Exists reports whether a save exists.
func (c *Coordinator) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := c.storage.Exists(ctx, id)
	if err != nil {
		return false, gameerr.WrapWithMetadata(gameerr.CodeLoadFailed,
			"failed to check save", map[string]string{"save_id": id}, err)
	}
	return ok, nil
}

// DefaultName derives a display name from a save id, e.g. "autosave-2"
// becomes "Autosave 2".
func DefaultName(id string) string {
	words := strings.NewReplacer("-", " ", "_", " ").Replace(id)
	return cases.Title(language.English).String(strings.Join(strings.Fields(words), " "))
}

func (c *Coordinator) publish(kind events.Kind, payload any) {
	if err := c.bus.Publish(kind, payload); err != nil {
		c.logger.Error("Event listener failed", "event", string(kind), "error", err)
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, fmt.Sprint(gameerr.CodeOf(err)))
}
