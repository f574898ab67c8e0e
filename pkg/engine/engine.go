// Package engine ties the state store, scene graph and effect pipeline into a
// playable session.
package engine

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jwebster45206/story-runtime/pkg/effects"
	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/scene"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// SourceChoice tags state changes produced by a choice's effects.
const SourceChoice = "choice"

// Options configures a new Engine. Zero values select defaults.
type Options struct {
	Logger *slog.Logger
	Bus    *events.Bus

	// Initial is the starting state. Nil starts empty.
	Initial *state.GameState

	// HistoryLimit is the undo depth. Zero selects state.DefaultHistoryLimit;
	// a negative value disables undo.
	HistoryLimit int

	Scenes  []scene.Scene
	Plugins []Plugin
}

// Engine is one game session.
type Engine struct {
	id       uuid.UUID
	store    *state.Store
	graph    *scene.Graph
	pipeline *effects.Pipeline
	bus      *events.Bus
	logger   *slog.Logger

	// useMu serializes plugin installation.
	useMu sync.Mutex

	mu             sync.Mutex
	plugins        []string
	persistentKeys []string
}

// GameStarted is the payload of a gameStarted event.
type GameStarted struct {
	SessionID string `json:"session_id"`
	SceneID   string `json:"scene_id"`
}

// ChoiceSelected is the payload of a choiceSelected event.
type ChoiceSelected struct {
	SceneID  string `json:"scene_id"`
	ChoiceID string `json:"choice_id"`
}

// New builds an engine from opts, registering scenes first and then plugins.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(events.WithLogger(logger))
	}

	limit := opts.HistoryLimit
	if limit == 0 {
		limit = state.DefaultHistoryLimit
	}

	store := state.NewStore(opts.Initial,
		state.WithBus(bus),
		state.WithLogger(logger),
		state.WithHistoryLimit(limit),
	)

	e := &Engine{
		id:       uuid.New(),
		store:    store,
		graph:    scene.NewGraph(store, bus, logger),
		pipeline: effects.NewPipeline(logger),
		bus:      bus,
		logger:   logger,
	}
	e.logger = logger.With("session_id", e.id.String())

	for _, s := range opts.Scenes {
		if err := e.graph.Register(s); err != nil {
			return nil, err
		}
	}
	for _, p := range opts.Plugins {
		if err := e.Use(p); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ID returns the session id.
func (e *Engine) ID() string { return e.id.String() }

// Store returns the session's state store.
func (e *Engine) Store() *state.Store { return e.store }

// Bus returns the session's event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Graph returns the scene graph.
func (e *Engine) Graph() *scene.Graph { return e.graph }

// Pipeline returns the effect pipeline.
func (e *Engine) Pipeline() *effects.Pipeline { return e.pipeline }

// Logger returns the session logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Start begins play at sceneID. The graph position is reset first; state is
// kept, so Start after a load continues from the loaded variables.
func (e *Engine) Start(sceneID string) error {
	e.graph.Reset()
	if err := e.graph.GoTo(sceneID, e); err != nil {
		return err
	}
	e.logger.Info("Game started", "scene_id", sceneID)
	e.publish(events.KindGameStarted, GameStarted{SessionID: e.ID(), SceneID: sceneID})
	return nil
}

// GoTo transitions directly to sceneID.
func (e *Engine) GoTo(sceneID string) error {
	return e.graph.GoTo(sceneID, e)
}

// SelectChoice selects a choice of the current scene. An unknown or
// unavailable choice changes nothing. Otherwise the choice's effects are
// applied as one commit and the next scene is resolved from the resulting
// state. A next scene that is not registered rejects the choice before the
// effects are committed.
func (e *Engine) SelectChoice(choiceID string) error {
	cur, ok := e.graph.Current()
	if !ok {
		e.logger.Warn("Choice selected with no current scene", "choice_id", choiceID)
		return gameerr.WithMetadata(gameerr.CodeNoCurrentScene,
			"no current scene", map[string]string{"choice_id": choiceID})
	}

	choice, ok := cur.Choice(choiceID)
	if !ok {
		e.logger.Warn("Choice not found", "scene_id", cur.ID, "choice_id", choiceID)
		return gameerr.WithMetadata(gameerr.CodeChoiceNotFound,
			"choice not found", map[string]string{"scene_id": cur.ID, "choice_id": choiceID})
	}

	announced := false
	for {
		base := e.store.State()
		if !e.graph.Available(choice, base) {
			e.logger.Warn("Choice unavailable", "scene_id", cur.ID, "choice_id", choiceID)
			return gameerr.WithMetadata(gameerr.CodeChoiceUnavailable,
				"choice unavailable", map[string]string{"scene_id": cur.ID, "choice_id": choiceID})
		}

		result := base
		if len(choice.Effects) > 0 {
			d := state.NewDraft(base)
			e.pipeline.ApplyAll(choice.Effects, d)
			result = d.Commit()
		}

		next := choice.Next.Resolve(result)
		if !e.graph.Has(next) {
			e.logger.Warn("Choice leads to unknown scene", "scene_id", cur.ID, "choice_id", choiceID, "next", next)
			return gameerr.WithMetadata(gameerr.CodeSceneNotFound,
				"scene not found", map[string]string{"scene_id": next, "choice_id": choiceID})
		}

		if !announced {
			e.publish(events.KindChoiceSelected, ChoiceSelected{SceneID: cur.ID, ChoiceID: choiceID})
			announced = true
		}
		if !e.store.CommitFrom(SourceChoice, base, result) {
			// a listener or another goroutine moved the state; recompute
			e.logger.Debug("State changed during choice, retrying", "choice_id", choiceID)
			continue
		}

		e.logger.Debug("Choice resolved", "scene_id", cur.ID, "choice_id", choiceID, "next", next)
		return e.graph.GoTo(next, e)
	}
}

// State returns the current snapshot.
func (e *Engine) State() *state.GameState { return e.store.State() }

// CurrentScene returns the current scene, if any.
func (e *Engine) CurrentScene() (scene.Scene, bool) { return e.graph.Current() }

// CurrentSceneID returns the current scene id, or "" before Start.
func (e *Engine) CurrentSceneID() string { return e.graph.CurrentID() }

// Content returns the current scene's content resolved against the current
// state.
func (e *Engine) Content() string {
	cur, ok := e.graph.Current()
	if !ok {
		return ""
	}
	return cur.Content.Resolve(e.store.State())
}

// AvailableChoices returns the current scene's selectable choices.
func (e *Engine) AvailableChoices() []scene.Choice {
	return e.graph.ListAvailableChoices(e.store.State())
}

// ChoiceLabel resolves a choice label against the current state.
func (e *Engine) ChoiceLabel(c scene.Choice) string {
	return c.Label.Resolve(e.store.State())
}

// Undo restores the previous snapshot. The current scene is not changed.
func (e *Engine) Undo() bool { return e.store.Undo() }

// Redo re-applies the last undone snapshot.
func (e *Engine) Redo() bool { return e.store.Redo() }

func (e *Engine) publish(kind events.Kind, payload any) {
	if err := e.bus.Publish(kind, payload); err != nil {
		e.logger.Error("Event listener failed", "event", string(kind), "error", err)
	}
}
