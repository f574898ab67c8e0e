package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jwebster45206/story-runtime/internal/config"
	"github.com/jwebster45206/story-runtime/internal/logger"
	internalstorage "github.com/jwebster45206/story-runtime/internal/storage"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/persist"
	"github.com/jwebster45206/story-runtime/pkg/storage"
)

const usage = `Usage: saves <command> [id]

Commands:
  list          list every save in the configured backend
  show <id>     print a save's metadata and decoded snapshot
  migrate <id>  rewrite a save at the current snapshot format
  delete <id>   remove a save
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := internalstorage.Open(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open save backend", "error", err, "backend", cfg.SaveBackend)
		os.Exit(1)
	}
	defer func() {
		_ = backend.Close()
	}()

	conv := persist.NewConverter(persist.ConverterOptions{
		PersistentKeys: cfg.PersistentKeys,
		Codec:          cfg.Codec(),
		Compression:    cfg.Compression(),
		Logger:         log,
	})

	tool := &saveTool{store: backend, conv: conv, logger: log, out: os.Stdout}
	if err := tool.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

type saveTool struct {
	store  storage.Storage
	conv   *persist.Converter
	logger *slog.Logger
	out    io.Writer
}

func (t *saveTool) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	if cmd == "list" {
		if len(rest) != 0 {
			return errUsage
		}
		return t.list(ctx)
	}

	if len(rest) != 1 {
		return errUsage
	}
	id := rest[0]
	if !storage.ValidID(id) {
		return gameerr.New(gameerr.CodeInvalidSaveID, fmt.Sprintf("invalid save id %q", id))
	}

	switch cmd {
	case "show":
		return t.show(ctx, id)
	case "migrate":
		return t.migrate(ctx, id)
	case "delete":
		return t.delete(ctx, id)
	}
	return errUsage
}

func (t *saveTool) list(ctx context.Context) error {
	saves, err := t.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list saves: %w", err)
	}
	if len(saves) == 0 {
		fmt.Fprintln(t.out, "No saves found.")
		return nil
	}

	ids := make([]string, 0, len(saves))
	for id := range saves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return saves[ids[i]].UpdatedAt.After(saves[ids[j]].UpdatedAt)
	})

	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCENE\tPLAY TIME\tFORMAT\tUPDATED")
	for _, id := range ids {
		m := saves[id]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\tv%d\t%s\n",
			id, m.Name, m.CurrentSceneID, m.PlayTime.Round(time.Second), m.SaveFormatVersion,
			m.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func (t *saveTool) load(ctx context.Context, id string) (*storage.Record, error) {
	rec, err := t.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load save %s: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("save %s: %w", id, gameerr.ErrGameNotFound)
	}
	return rec, nil
}

func (t *saveTool) show(ctx context.Context, id string) error {
	rec, err := t.load(ctx, id)
	if err != nil {
		return err
	}
	ps, err := t.conv.Deserialize(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to decode save %s: %w", id, err)
	}

	enc := json.NewEncoder(t.out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Metadata storage.Metadata       `json:"metadata"`
		Snapshot persist.PersistedState `json:"snapshot"`
	}{rec.Metadata, ps})
}

func (t *saveTool) migrate(ctx context.Context, id string) error {
	rec, err := t.load(ctx, id)
	if err != nil {
		return err
	}
	if rec.Metadata.SaveFormatVersion == persist.CurrentFormatVersion {
		fmt.Fprintf(t.out, "%s is already at format v%d\n", id, persist.CurrentFormatVersion)
		return nil
	}

	from := rec.Metadata.SaveFormatVersion
	ps, err := t.conv.Deserialize(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to migrate save %s: %w", id, err)
	}
	data, err := t.conv.Encode(ps)
	if err != nil {
		return fmt.Errorf("failed to encode save %s: %w", id, err)
	}

	out := storage.Record{Metadata: rec.Metadata.Clone(), Data: data}
	if v, ok := ps.Version(); ok {
		out.Metadata.SaveFormatVersion = v
	} else {
		out.Metadata.SaveFormatVersion = persist.CurrentFormatVersion
	}
	if err := t.store.Save(ctx, id, out); err != nil {
		return fmt.Errorf("failed to write save %s: %w", id, err)
	}

	t.logger.Info("Save migrated", "save_id", id, "from", from, "to", out.Metadata.SaveFormatVersion)
	fmt.Fprintf(t.out, "%s migrated from v%d to v%d\n", id, from, out.Metadata.SaveFormatVersion)
	return nil
}

func (t *saveTool) delete(ctx context.Context, id string) error {
	deleted, err := t.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete save %s: %w", id, err)
	}
	if !deleted {
		return fmt.Errorf("save %s: %w", id, gameerr.ErrGameNotFound)
	}
	fmt.Fprintf(t.out, "%s deleted\n", id)
	return nil
}
