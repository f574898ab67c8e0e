package state

import (
	"log/slog"
	"sync"

	"github.com/jwebster45206/story-runtime/pkg/events"
)

// DefaultHistoryLimit is the undo depth used when none is configured.
const DefaultHistoryLimit = 50

// Update sources reported in Changed events.
const (
	SourceUpdate   = "update"
	SourceReplace  = "replace"
	SourceExternal = "external"
	SourceLoad     = "load"
	SourceReset    = "reset"
	SourceUndo     = "undo"
	SourceRedo     = "redo"
)

// Changed is the payload of a stateChanged event.
type Changed struct {
	Previous *GameState `json:"previous"`
	Next     *GameState `json:"next"`
	Source   string     `json:"source"`
}

// HistoryChanged is the payload of a historyChanged event.
type HistoryChanged struct {
	CanUndo   bool `json:"canUndo"`
	CanRedo   bool `json:"canRedo"`
	UndoDepth int  `json:"undoDepth"`
	RedoDepth int  `json:"redoDepth"`
}

// Store owns the current GameState and its bounded undo/redo history.
// Mutations are serialized; events are published after the lock is released,
// so listeners observe committed state and may call back into the store.
// A mutator must not call the store it is running inside.
type Store struct {
	mu           sync.Mutex
	current      *GameState
	undo         []*GameState
	redo         []*GameState
	historyLimit int
	bus          *events.Bus
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryLimit sets the undo depth. Zero or less disables history.
func WithHistoryLimit(limit int) Option {
	return func(s *Store) { s.historyLimit = limit }
}

// WithBus sets the bus state and history events are published on.
func WithBus(bus *events.Bus) Option {
	return func(s *Store) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store holding initial (the empty state when nil).
func NewStore(initial *GameState, opts ...Option) *Store {
	if initial == nil {
		initial = Empty()
	}
	s := &Store{
		current:      initial,
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = events.NewBus(events.WithLogger(s.logger))
	}
	return s
}

// Bus returns the bus the store publishes on.
func (s *Store) Bus() *events.Bus {
	return s.bus
}

// State returns the current snapshot.
func (s *Store) State() *GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// HistoryLimit returns the configured undo depth.
func (s *Store) HistoryLimit() int {
	return s.historyLimit
}

// Update runs fn against a draft of the current state and commits the result.
// When fn changes nothing the current snapshot is returned unchanged and no
// history entry or event is produced.
func (s *Store) Update(fn func(*Draft)) *GameState {
	return s.UpdateFrom(SourceUpdate, fn)
}

// UpdateFrom is Update with an explicit source tag for the Changed event.
func (s *Store) UpdateFrom(source string, fn func(*Draft)) *GameState {
	prev, next, hist, historyMoved := s.apply(fn)
	if next == prev {
		return prev
	}

	s.publishChange(prev, next, source)
	if historyMoved {
		s.publishHistory(hist)
	}
	return next
}

func (s *Store) apply(fn func(*Draft)) (prev, next *GameState, hist HistoryChanged, historyMoved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.current
	d := newDraft(prev)
	defer func() { d.sealed = true }()
	fn(d)

	next = d.Commit()
	if next == prev {
		return prev, prev, hist, false
	}
	historyMoved = s.commitLocked(next)
	return prev, next, s.historyLocked(), historyMoved
}

// commitLocked installs next, records prev in the undo stack and clears redo.
// It reports whether the history stacks changed.
func (s *Store) commitLocked(next *GameState) bool {
	prev := s.current
	s.current = next
	if s.historyLimit <= 0 {
		return false
	}
	s.undo = append(s.undo, prev)
	if over := len(s.undo) - s.historyLimit; over > 0 {
		s.undo = append([]*GameState(nil), s.undo[over:]...)
	}
	s.redo = nil
	return true
}

// CommitFrom installs next only if the current snapshot is still base, and
// reports whether it did. Callers build next from a Draft over base, which
// lets them inspect the result before deciding to commit.
func (s *Store) CommitFrom(source string, base, next *GameState) bool {
	s.mu.Lock()
	if s.current != base {
		s.mu.Unlock()
		return false
	}
	if next == base {
		s.mu.Unlock()
		return true
	}
	historyMoved := s.commitLocked(next)
	hist := s.historyLocked()
	s.mu.Unlock()

	s.publishChange(base, next, source)
	if historyMoved {
		s.publishHistory(hist)
	}
	return true
}

// Replace installs a trusted state wholesale after validating its shape. The
// replacement is recorded in history like any other commit.
func (s *Store) Replace(next *GameState) error {
	if err := Validate(next); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.current
	if prev == next || prev.Equal(next) {
		s.mu.Unlock()
		return nil
	}
	historyMoved := s.commitLocked(next)
	hist := s.historyLocked()
	s.mu.Unlock()

	s.publishChange(prev, next, SourceReplace)
	if historyMoved {
		s.publishHistory(hist)
	}
	return nil
}

// ApplyExternal merges a partial state into the current one: set union for
// visited scenes, shallow merge for variables and extensions.
func (s *Store) ApplyExternal(p Partial) (*GameState, error) {
	var mergeErr error
	next := s.UpdateFrom(SourceExternal, func(d *Draft) {
		mergeErr = d.Merge(p)
	})
	return next, mergeErr
}

// Load installs a state as a fresh baseline: both history stacks are cleared
// so the player cannot undo past it.
func (s *Store) Load(next *GameState) error {
	return s.baseline(next, SourceLoad)
}

// Reset installs initial (the empty state when nil) and clears history.
func (s *Store) Reset(initial *GameState) error {
	if initial == nil {
		initial = Empty()
	}
	return s.baseline(initial, SourceReset)
}

func (s *Store) baseline(next *GameState, source string) error {
	if err := Validate(next); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.current
	s.current = next
	hadHistory := len(s.undo) > 0 || len(s.redo) > 0
	s.undo = nil
	s.redo = nil
	hist := s.historyLocked()
	s.mu.Unlock()

	if prev != next {
		s.publishChange(prev, next, source)
	}
	if hadHistory {
		s.publishHistory(hist)
	}
	return nil
}

// Undo restores the snapshot before the last commit. It returns false when
// there is nothing to undo or history is disabled.
func (s *Store) Undo() bool {
	return s.navigate(true)
}

// Redo re-applies the last undone commit. It returns false when there is
// nothing to redo or history is disabled.
func (s *Store) Redo() bool {
	return s.navigate(false)
}

func (s *Store) navigate(undo bool) bool {
	s.mu.Lock()
	if s.historyLimit <= 0 {
		s.mu.Unlock()
		return false
	}
	from, to := &s.undo, &s.redo
	source := SourceUndo
	if !undo {
		from, to = &s.redo, &s.undo
		source = SourceRedo
	}
	if len(*from) == 0 {
		s.mu.Unlock()
		return false
	}

	prev := s.current
	target := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	*to = append(*to, prev)
	if over := len(*to) - s.historyLimit; over > 0 {
		*to = append([]*GameState(nil), (*to)[over:]...)
	}
	s.current = target
	hist := s.historyLocked()
	s.mu.Unlock()

	s.publishChange(prev, target, source)
	s.publishHistory(hist)
	return true
}

// ClearHistory drops both history stacks.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	had := len(s.undo) > 0 || len(s.redo) > 0
	s.undo = nil
	s.redo = nil
	hist := s.historyLocked()
	s.mu.Unlock()

	if had {
		s.publishHistory(hist)
	}
}

// CanUndo reports whether Undo would do anything.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLimit > 0 && len(s.undo) > 0
}

// CanRedo reports whether Redo would do anything.
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLimit > 0 && len(s.redo) > 0
}

// UndoDepth returns the number of undoable snapshots.
func (s *Store) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo)
}

// RedoDepth returns the number of redoable snapshots.
func (s *Store) RedoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redo)
}

// History returns the current history summary.
func (s *Store) History() HistoryChanged {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Store) historyLocked() HistoryChanged {
	enabled := s.historyLimit > 0
	return HistoryChanged{
		CanUndo:   enabled && len(s.undo) > 0,
		CanRedo:   enabled && len(s.redo) > 0,
		UndoDepth: len(s.undo),
		RedoDepth: len(s.redo),
	}
}

func (s *Store) publishChange(prev, next *GameState, source string) {
	if err := s.bus.Publish(events.KindStateChanged, Changed{Previous: prev, Next: next, Source: source}); err != nil {
		s.logger.Error("stateChanged listener failed", "source", source, "error", err)
	}
}

func (s *Store) publishHistory(h HistoryChanged) {
	if err := s.bus.Publish(events.KindHistoryChanged, h); err != nil {
		s.logger.Error("historyChanged listener failed", "error", err)
	}
}

// Variable-level convenience wrappers.

// GetVariable returns a copy of the named variable from the current state.
func (s *Store) GetVariable(name string) (any, bool) {
	return s.State().Variable(name)
}

// HasVariable reports whether the variable is set in the current state.
func (s *Store) HasVariable(name string) bool {
	return s.State().HasVariable(name)
}

// SetVariable sets a single variable.
func (s *Store) SetVariable(name string, value any) *GameState {
	return s.Update(func(d *Draft) { d.SetVariable(name, value) })
}

// RemoveVariable removes a single variable.
func (s *Store) RemoveVariable(name string) *GameState {
	return s.Update(func(d *Draft) { d.RemoveVariable(name) })
}

// MarkVisited marks a scene as visited.
func (s *Store) MarkVisited(sceneID string) *GameState {
	return s.Update(func(d *Draft) { d.MarkVisited(sceneID) })
}

// UnmarkVisited removes a scene from the visited set.
func (s *Store) UnmarkVisited(sceneID string) *GameState {
	return s.Update(func(d *Draft) { d.UnmarkVisited(sceneID) })
}

// HasVisited reports whether the scene is visited in the current state.
func (s *Store) HasVisited(sceneID string) bool {
	return s.State().HasVisited(sceneID)
}

// VisitedCount returns the number of visited scenes in the current state.
func (s *Store) VisitedCount() int {
	return s.State().VisitedCount()
}
