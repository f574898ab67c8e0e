package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// Graph is the scene registry plus the current-scene state machine. It starts
// with no current scene; the first successful GoTo sets one.
type Graph struct {
	mu      sync.RWMutex
	scenes  map[string]Scene
	current string

	store  *state.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewGraph creates an empty graph that marks visits in store and publishes on
// bus. A nil bus falls back to the store's bus.
func NewGraph(store *state.Store, bus *events.Bus, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = store.Bus()
	}
	return &Graph{
		scenes: make(map[string]Scene),
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// Store returns the state store, so a Graph can serve as its own Handle.
func (g *Graph) Store() *state.Store { return g.store }

// Bus returns the event bus.
func (g *Graph) Bus() *events.Bus { return g.bus }

// Register adds a scene. Registering an id twice fails; use Override to
// replace a scene.
func (g *Graph) Register(s Scene) error {
	if err := checkScene(s); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.scenes[s.ID]; exists {
		return gameerr.WithMetadata(gameerr.CodeSceneDuplicate,
			"scene already registered", map[string]string{"scene_id": s.ID})
	}
	g.scenes[s.ID] = s.clone()
	return nil
}

// Override adds or replaces a scene.
func (g *Graph) Override(s Scene) error {
	if err := checkScene(s); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.scenes[s.ID]; exists {
		g.logger.Debug("Overriding scene", "scene_id", s.ID)
	}
	g.scenes[s.ID] = s.clone()
	return nil
}

// RegisterAll adds scenes as one batch. Every scene is checked first,
// including duplicates within the batch, and nothing is installed unless all
// pass. With override set, existing ids are replaced instead of rejected.
func (g *Graph) RegisterAll(scenes []Scene, override bool) error {
	seen := make(map[string]bool, len(scenes))
	for _, s := range scenes {
		if err := checkScene(s); err != nil {
			return err
		}
		if seen[s.ID] {
			return gameerr.WithMetadata(gameerr.CodeSceneDuplicate,
				"scene repeated in batch", map[string]string{"scene_id": s.ID})
		}
		seen[s.ID] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !override {
		for _, s := range scenes {
			if _, exists := g.scenes[s.ID]; exists {
				return gameerr.WithMetadata(gameerr.CodeSceneDuplicate,
					"scene already registered", map[string]string{"scene_id": s.ID})
			}
		}
	}
	for _, s := range scenes {
		g.scenes[s.ID] = s.clone()
	}
	return nil
}

// Unregister removes a scene and reports whether it existed. The current
// scene cannot be removed.
func (g *Graph) Unregister(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.scenes[id]; !ok || id == g.current {
		return false
	}
	delete(g.scenes, id)
	return true
}

func checkScene(s Scene) error {
	if s.ID == "" {
		return gameerr.New(gameerr.CodeSceneInvalid, "scene id is required")
	}
	seen := make(map[string]bool, len(s.Choices))
	for _, c := range s.Choices {
		if c.ID == "" {
			return gameerr.WithMetadata(gameerr.CodeSceneInvalid,
				"choice id is required", map[string]string{"scene_id": s.ID})
		}
		if seen[c.ID] {
			return gameerr.WithMetadata(gameerr.CodeSceneInvalid,
				"duplicate choice id", map[string]string{"scene_id": s.ID, "choice_id": c.ID})
		}
		seen[c.ID] = true
	}
	return nil
}

// Get returns a registered scene.
func (g *Graph) Get(id string) (Scene, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.scenes[id]
	if !ok {
		return Scene{}, false
	}
	return s.clone(), true
}

// Has reports whether id is registered.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.scenes[id]
	return ok
}

// IDs returns the registered scene ids in sorted order.
func (g *Graph) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := slices.Collect(maps.Keys(g.scenes))
	slices.Sort(ids)
	return ids
}

// Current returns the current scene, if any.
func (g *Graph) Current() (Scene, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.current == "" {
		return Scene{}, false
	}
	s, ok := g.scenes[g.current]
	if !ok {
		return Scene{}, false
	}
	return s.clone(), true
}

// CurrentID returns the current scene id, or "" before the first transition.
func (g *Graph) CurrentID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// Reset returns the graph to its no-scene state. Registered scenes are kept.
func (g *Graph) Reset() {
	g.mu.Lock()
	g.current = ""
	g.mu.Unlock()
}

// GoTo transitions to target. The current scene's exit hook runs, the target
// is marked visited, becomes current, its enter hook runs and sceneChanged is
// published. An unknown target aborts with nothing changed. A nil handle uses
// the graph itself.
func (g *Graph) GoTo(target string, h Handle) error {
	if h == nil {
		h = g
	}

	g.mu.RLock()
	next, ok := g.scenes[target]
	from := g.current
	prev, hasPrev := g.scenes[from]
	g.mu.RUnlock()

	if !ok {
		g.logger.Warn("Scene not found", "scene_id", target, "from", from)
		return gameerr.WithMetadata(gameerr.CodeSceneNotFound,
			"scene not found", map[string]string{"scene_id": target})
	}

	if from != "" && hasPrev {
		g.runHook(prev.OnExit, "exit", from, h)
	}

	g.store.MarkVisited(target)

	g.mu.Lock()
	g.current = target
	g.mu.Unlock()

	g.runHook(next.OnEnter, "enter", target, h)

	g.logger.Debug("Scene changed", "from", from, "to", target)
	if err := g.bus.Publish(events.KindSceneChanged, SceneChanged{From: from, To: target, Title: next.Title}); err != nil {
		g.logger.Error("sceneChanged listener failed", "scene_id", target, "error", err)
	}
	return nil
}

func (g *Graph) runHook(hook Hook, phase, sceneID string, h Handle) {
	if hook == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("hook panicked: %v", r)
			}
		}()
		return hook(g.store.State(), h)
	}()
	if err != nil {
		g.logger.Error("Scene hook failed",
			"scene_id", sceneID,
			"phase", phase,
			"error", gameerr.WrapWithMetadata(gameerr.CodeSceneHookFailed, "scene hook failed",
				map[string]string{"scene_id": sceneID, "phase": phase}, err))
	}
}

// Available evaluates a choice's condition against gs. A panicking condition
// is logged and treated as unavailable.
func (g *Graph) Available(c Choice, gs *state.GameState) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("Choice condition panicked", "choice_id", c.ID, "error", r)
			ok = false
		}
	}()
	return c.Available(gs)
}

// ListAvailableChoices returns the current scene's choices whose condition
// holds for gs, in definition order.
func (g *Graph) ListAvailableChoices(gs *state.GameState) []Choice {
	cur, ok := g.Current()
	if !ok {
		return nil
	}
	var out []Choice
	for _, c := range cur.Choices {
		if g.Available(c, gs) {
			out = append(out, c)
		}
	}
	return out
}

// FindChoice returns a choice of the current scene regardless of its condition.
func (g *Graph) FindChoice(id string) (Choice, bool) {
	cur, ok := g.Current()
	if !ok {
		return Choice{}, false
	}
	return cur.Choice(id)
}

// Validate checks that every static next-scene reference names a registered
// scene. Computed references can only be checked at runtime.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(g.scenes)) {
		for _, c := range g.scenes[id].Choices {
			next, static := c.Next.StaticValue()
			if !static {
				continue
			}
			if _, ok := g.scenes[next]; !ok {
				errs = append(errs, gameerr.WithMetadata(gameerr.CodeSceneInvalid,
					fmt.Sprintf("choice %s.%s targets unknown scene %q", id, c.ID, next),
					map[string]string{"scene_id": id, "choice_id": c.ID, "next": next}))
			}
		}
	}
	return errors.Join(errs...)
}
