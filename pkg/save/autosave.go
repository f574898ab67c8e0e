package save

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/storage"
)

// DefaultAutoSavePrefix prefixes autosave slot ids.
const DefaultAutoSavePrefix = "autosave-"

// AutoSaveOptions configures recurring saves.
type AutoSaveOptions struct {
	Interval time.Duration
	// Slots is the number of rotating save ids. Zero means one.
	Slots int
	// Prefix defaults to DefaultAutoSavePrefix.
	Prefix string
	// BeforeSave may veto a tick by returning false. A vetoed tick does not
	// advance the slot rotation.
	BeforeSave func(slotID string) bool
	// AfterSave runs after every attempted write.
	AfterSave func(meta storage.Metadata, err error)
}

// AutoSaveSkipped is the payload of an autoSaveSkipped event.
type AutoSaveSkipped struct {
	SlotID string `json:"slot_id"`
}

type autoSaver struct {
	opts   AutoSaveOptions
	next   int
	cancel context.CancelFunc
	done   chan struct{}
}

// EnableAutoSave starts saving every Interval, rotating through Slots ids of
// the form <prefix><n> with n starting at 1. Enabling again replaces the
// running schedule.
func (c *Coordinator) EnableAutoSave(opts AutoSaveOptions) error {
	if opts.Slots == 0 {
		opts.Slots = 1
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultAutoSavePrefix
	}
	if opts.Interval <= 0 || opts.Slots < 0 || !storage.ValidID(opts.Prefix+strconv.Itoa(opts.Slots)) {
		return gameerr.WithMetadata(gameerr.CodeAutoSaveInvalid, "invalid autosave options", map[string]string{
			"interval": opts.Interval.String(),
			"slots":    strconv.Itoa(opts.Slots),
			"prefix":   opts.Prefix,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &autoSaver{opts: opts, cancel: cancel, done: make(chan struct{})}

	c.autoMu.Lock()
	prev := c.auto
	c.auto = a
	go c.runAutoSave(ctx, a)
	c.autoMu.Unlock()

	if prev != nil {
		prev.stop()
		c.logger.Debug("Autosave schedule replaced")
	}
	c.logger.Info("Autosave enabled", "interval", opts.Interval, "slots", opts.Slots, "prefix", opts.Prefix)
	return nil
}

// DisableAutoSave stops autosaving and waits for an in-flight tick to finish.
// It is safe to call when autosave is not running. It must not be called from
// the BeforeSave or AfterSave callbacks.
func (c *Coordinator) DisableAutoSave() {
	c.autoMu.Lock()
	a := c.auto
	c.auto = nil
	c.autoMu.Unlock()

	if a == nil {
		return
	}
	a.stop()
	c.logger.Info("Autosave disabled")
}

func (a *autoSaver) stop() {
	a.cancel()
	<-a.done
}

// AutoSaveEnabled reports whether autosave is running.
func (c *Coordinator) AutoSaveEnabled() bool {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	return c.auto != nil
}

func (c *Coordinator) runAutoSave(ctx context.Context, a *autoSaver) {
	defer close(a.done)
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.autoSaveTick(ctx, a)
		}
	}
}

// autoSaveTick performs one scheduled save and returns the slot written, or
// "" when the tick was vetoed or cancelled.
func (c *Coordinator) autoSaveTick(ctx context.Context, a *autoSaver) string {
	if ctx.Err() != nil {
		return ""
	}
	slotID := a.opts.Prefix + strconv.Itoa(a.next+1)

	ctx, span := c.tracer.Start(ctx, "Coordinator.AutoSave", trace.WithAttributes(attribute.String("save.id", slotID)))
	defer span.End()

	if a.opts.BeforeSave != nil && !a.opts.BeforeSave(slotID) {
		span.SetAttributes(attribute.Bool("autosave.skipped", true))
		c.logger.Debug("Autosave vetoed", "save_id", slotID)
		c.publish(events.KindAutoSaveSkipped, AutoSaveSkipped{SlotID: slotID})
		return ""
	}

	a.next = (a.next + 1) % a.opts.Slots
	meta, err := c.Save(ctx, slotID, SaveOptions{Custom: map[string]string{"autosave": "true"}})
	if err != nil {
		recordError(span, err)
	}
	if a.opts.AfterSave != nil {
		a.opts.AfterSave(meta, err)
	}
	return slotID
}
