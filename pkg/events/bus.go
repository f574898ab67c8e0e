// Package events is the in-process publish/subscribe hub every runtime
// component uses to report observable changes.
package events

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Kind identifies an event stream.
type Kind string

const (
	KindSceneChanged     Kind = "sceneChanged"
	KindStateChanged     Kind = "stateChanged"
	KindChoiceSelected   Kind = "choiceSelected"
	KindGameStarted      Kind = "gameStarted"
	KindHistoryChanged   Kind = "historyChanged"
	KindGameSaved        Kind = "gameSaved"
	KindGameLoaded       Kind = "gameLoaded"
	KindSaveFailed       Kind = "saveFailed"
	KindLoadFailed       Kind = "loadFailed"
	KindSaveDeleted      Kind = "saveDeleted"
	KindSavesCleared     Kind = "savesCleared"
	KindMigrationApplied Kind = "migrationApplied"
	KindAutoSaveSkipped  Kind = "autoSaveSkipped"
)

// AllKinds lists every kind the runtime publishes.
var AllKinds = []Kind{
	KindSceneChanged,
	KindStateChanged,
	KindChoiceSelected,
	KindGameStarted,
	KindHistoryChanged,
	KindGameSaved,
	KindGameLoaded,
	KindSaveFailed,
	KindLoadFailed,
	KindSaveDeleted,
	KindSavesCleared,
	KindMigrationApplied,
	KindAutoSaveSkipped,
}

// DefaultWarnThreshold is the listener count per kind above which the bus
// logs a possible leak.
const DefaultWarnThreshold = 10

// Event is a single published notification.
type Event struct {
	Kind    Kind
	Payload any
	At      time.Time
}

// Listener receives events. A returned error is logged by the bus.
type Listener func(Event) error

// Subscription identifies a registered listener.
type Subscription struct {
	id   uint64
	kind Kind
}

// Kind returns the event kind the subscription listens to.
func (s Subscription) Kind() Kind { return s.kind }

type entry struct {
	id       uint64
	listener Listener
	once     bool
}

// Bus fans out published events to subscribed listeners. Listeners for a kind
// are invoked synchronously and in no guaranteed order.
type Bus struct {
	mu            sync.RWMutex
	listeners     map[Kind][]*entry
	nextID        uint64
	warnThreshold int
	warned        map[Kind]bool
	propagate     bool
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for listener failures and leak warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithWarnThreshold sets the per-kind listener count that triggers a leak
// warning. Zero or less disables the warning.
func WithWarnThreshold(n int) Option {
	return func(b *Bus) { b.warnThreshold = n }
}

// WithPropagateErrors makes Publish stop at the first failing listener and
// return its error instead of logging and continuing.
func WithPropagateErrors(propagate bool) Option {
	return func(b *Bus) { b.propagate = propagate }
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		listeners:     make(map[Kind][]*entry),
		warned:        make(map[Kind]bool),
		warnThreshold: DefaultWarnThreshold,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for kind.
func (b *Bus) Subscribe(kind Kind, listener Listener) Subscription {
	return b.add(kind, listener, false)
}

// SubscribeOnce registers a listener that is removed before its first call.
func (b *Bus) SubscribeOnce(kind Kind, listener Listener) Subscription {
	return b.add(kind, listener, true)
}

func (b *Bus) add(kind Kind, listener Listener, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	e := &entry{id: b.nextID, listener: listener, once: once}
	b.listeners[kind] = append(b.listeners[kind], e)

	count := len(b.listeners[kind])
	if b.warnThreshold > 0 && count > b.warnThreshold && !b.warned[kind] {
		b.warned[kind] = true
		b.logger.Warn("Possible listener leak detected",
			"kind", kind,
			"listener_count", count,
			"threshold", b.warnThreshold)
	}

	return Subscription{id: e.id, kind: kind}
}

// Unsubscribe removes the listener. It reports whether anything was removed;
// calling it twice is harmless.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(sub.kind, sub.id)
}

func (b *Bus) removeLocked(kind Kind, id uint64) bool {
	list := b.listeners[kind]
	for i, e := range list {
		if e.id == id {
			next := make([]*entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.listeners, kind)
			} else {
				b.listeners[kind] = next
			}
			if len(next) <= b.warnThreshold {
				delete(b.warned, kind)
			}
			return true
		}
	}
	return false
}

// ListenerCount returns the number of listeners subscribed to kind.
func (b *Bus) ListenerCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[kind])
}

// Clear removes every listener.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[Kind][]*entry)
	b.warned = make(map[Kind]bool)
}

// Publish delivers payload to every listener currently subscribed to kind.
// Listener errors and panics are logged and the remaining listeners still run,
// unless the bus propagates errors, in which case the first failure is
// returned and delivery stops.
func (b *Bus) Publish(kind Kind, payload any) error {
	if b == nil {
		return nil
	}

	b.mu.RLock()
	targets := slices.Clone(b.listeners[kind])
	b.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	ev := Event{Kind: kind, Payload: payload, At: b.now()}
	for _, e := range targets {
		// a once entry is claimed right before it runs, so a fan-out that
		// stops early leaves the unreached ones registered
		if e.once && !b.claim(kind, e.id) {
			continue
		}
		if err := invoke(e.listener, ev); err != nil {
			if b.propagate {
				return fmt.Errorf("listener for %s failed: %w", kind, err)
			}
			b.logger.Error("Event listener failed",
				"kind", kind,
				"error", err)
		}
	}
	return nil
}

func (b *Bus) claim(kind Kind, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(kind, id)
}

func invoke(listener Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return listener(ev)
}

// Func adapts a listener that cannot fail.
func Func(fn func(Event)) Listener {
	return func(ev Event) error {
		fn(ev)
		return nil
	}
}
