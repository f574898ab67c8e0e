package engine

import (
	"slices"

	"github.com/jwebster45206/story-runtime/pkg/effects"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/scene"
)

// Plugin is the base capability every plugin implements. A plugin adds
// behaviour by also implementing one or more of the capability interfaces
// below.
type Plugin interface {
	Name() string
}

// ScenePlugin contributes scenes.
type ScenePlugin interface {
	Plugin
	Scenes() []scene.Scene
}

// EffectPlugin contributes effect handlers keyed by effect type.
type EffectPlugin interface {
	Plugin
	Effects() map[string]effects.Handler
}

// PersistencePlugin declares extension keys that must be saved.
type PersistencePlugin interface {
	Plugin
	PersistentKeys() []string
}

// SetupPlugin runs once after the plugin's scenes and effects are installed.
// Setup must not install further plugins.
type SetupPlugin interface {
	Plugin
	Setup(e *Engine) error
}

// OverridingPlugin may replace existing scenes and effect handlers instead of
// failing on a duplicate.
type OverridingPlugin interface {
	Plugin
	AllowOverride() bool
}

// Use installs a plugin. Scenes and effect handlers are checked before
// anything is installed, so a rejected plugin leaves the engine unchanged.
func (e *Engine) Use(p Plugin) error {
	name := p.Name()
	if name == "" {
		return gameerr.New(gameerr.CodeInvalidState, "plugin name is required")
	}

	e.useMu.Lock()
	defer e.useMu.Unlock()

	e.mu.Lock()
	if slices.Contains(e.plugins, name) {
		e.mu.Unlock()
		return gameerr.WithMetadata(gameerr.CodePluginDuplicate,
			"plugin already registered", map[string]string{"plugin": name})
	}
	e.mu.Unlock()

	override := false
	if op, ok := p.(OverridingPlugin); ok {
		override = op.AllowOverride()
	}

	var scenes []scene.Scene
	if sp, ok := p.(ScenePlugin); ok {
		scenes = sp.Scenes()
	}
	var handlers map[string]effects.Handler
	if ep, ok := p.(EffectPlugin); ok {
		handlers = ep.Effects()
	}

	for typ, h := range handlers {
		if typ == "" || h == nil {
			return gameerr.WithMetadata(gameerr.CodeEffectInvalid,
				"plugin effect type and handler are required", map[string]string{"plugin": name})
		}
		if !override && e.pipeline.Has(typ) {
			return gameerr.WithMetadata(gameerr.CodeEffectDuplicate,
				"plugin effect already registered", map[string]string{"plugin": name, "effect_type": typ})
		}
	}

	if err := e.graph.RegisterAll(scenes, override); err != nil {
		e.logger.Warn("Plugin rejected", "plugin", name, "error", err)
		return err
	}

	var installed []string
	for typ, h := range handlers {
		if override {
			e.pipeline.Override(typ, h)
			continue
		}
		if err := e.pipeline.Register(typ, h); err != nil {
			for _, t := range installed {
				e.pipeline.Unregister(t)
			}
			for _, s := range scenes {
				e.graph.Unregister(s.ID)
			}
			return err
		}
		installed = append(installed, typ)
	}

	e.mu.Lock()
	e.plugins = append(e.plugins, name)
	if pp, ok := p.(PersistencePlugin); ok {
		for _, key := range pp.PersistentKeys() {
			if !slices.Contains(e.persistentKeys, key) {
				e.persistentKeys = append(e.persistentKeys, key)
			}
		}
	}
	e.mu.Unlock()

	if sp, ok := p.(SetupPlugin); ok {
		if err := sp.Setup(e); err != nil {
			return err
		}
	}

	e.logger.Debug("Plugin installed", "plugin", name, "scenes", len(scenes), "effects", len(handlers))
	return nil
}

// Plugins returns the installed plugin names in installation order.
func (e *Engine) Plugins() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.plugins)
}

// PersistentKeys returns the extension keys plugins declared persistent.
func (e *Engine) PersistentKeys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.persistentKeys)
}
