// Package effects applies declarative state changes to a state draft.
package effects

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// Effect is a declarative instruction dispatched by Type to a registered handler.
// The payload shape is handler-specific.
type Effect struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Handler mutates a draft according to an effect.
type Handler interface {
	Apply(eff Effect, d *state.Draft) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(eff Effect, d *state.Draft) error

// Apply calls f.
func (f HandlerFunc) Apply(eff Effect, d *state.Draft) error {
	return f(eff, d)
}

// Pipeline is a registry of effect handlers keyed by effect type.
type Pipeline struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewPipeline creates a pipeline with the built-in handlers registered.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
	for typ, h := range builtins() {
		p.handlers[typ] = h
	}
	return p
}

// Register adds a handler for typ. Registering a type that already has a
// handler fails; use Override to replace one.
func (p *Pipeline) Register(typ string, h Handler) error {
	if typ == "" || h == nil {
		return gameerr.New(gameerr.CodeEffectInvalid, "effect type and handler are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handlers[typ]; exists {
		return gameerr.WithMetadata(gameerr.CodeEffectDuplicate,
			"effect handler already registered", map[string]string{"effect_type": typ})
	}
	p.handlers[typ] = h
	return nil
}

// Override installs h for typ, replacing any existing handler.
func (p *Pipeline) Override(typ string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handlers[typ]; exists {
		p.logger.Debug("Overriding effect handler", "effect_type", typ)
	}
	p.handlers[typ] = h
}

// Unregister removes the handler for typ and reports whether one existed.
func (p *Pipeline) Unregister(typ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[typ]
	delete(p.handlers, typ)
	return ok
}

// Has reports whether typ has a handler.
func (p *Pipeline) Has(typ string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.handlers[typ]
	return ok
}

// Types returns the registered effect types in sorted order.
func (p *Pipeline) Types() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	types := slices.Collect(maps.Keys(p.handlers))
	slices.Sort(types)
	return types
}

// ApplyOne applies a single effect. Unknown types and failing handlers are
// logged and skipped; the returned error describes what was skipped and is
// never fatal to the caller.
func (p *Pipeline) ApplyOne(eff Effect, d *state.Draft) error {
	p.mu.RLock()
	h, ok := p.handlers[eff.Type]
	p.mu.RUnlock()

	if !ok {
		p.logger.Warn("Unknown effect type, skipping", "effect_type", eff.Type)
		return gameerr.WithMetadata(gameerr.CodeEffectUnknown,
			"unknown effect type", map[string]string{"effect_type": eff.Type})
	}

	if err := run(h, eff, d); err != nil {
		p.logger.Warn("Effect failed, skipping", "effect_type", eff.Type, "error", err)
		return err
	}
	return nil
}

// ApplyAll applies effects in order, each fully before the next. It returns
// the errors of skipped effects, if any.
func (p *Pipeline) ApplyAll(effs []Effect, d *state.Draft) []error {
	var skipped []error
	for _, eff := range effs {
		if err := p.ApplyOne(eff, d); err != nil {
			skipped = append(skipped, err)
		}
	}
	return skipped
}

func run(h Handler, eff Effect, d *state.Draft) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = gameerr.WithMetadata(gameerr.CodeEffectFailed,
				fmt.Sprintf("effect handler panicked: %v", r), map[string]string{"effect_type": eff.Type})
		}
	}()
	if err := h.Apply(eff, d); err != nil {
		if gameerr.IsCategory(err, gameerr.CategoryEffect) {
			return err
		}
		return gameerr.WrapWithMetadata(gameerr.CodeEffectFailed,
			"effect handler failed", map[string]string{"effect_type": eff.Type}, err)
	}
	return nil
}
