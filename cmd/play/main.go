package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jwebster45206/story-runtime/internal/config"
	"github.com/jwebster45206/story-runtime/internal/logger"
	broadcast "github.com/jwebster45206/story-runtime/internal/services/events"
	"github.com/jwebster45206/story-runtime/internal/storage"
	"github.com/jwebster45206/story-runtime/pkg/engine"
	"github.com/jwebster45206/story-runtime/pkg/events"
	"github.com/jwebster45206/story-runtime/pkg/persist"
	"github.com/jwebster45206/story-runtime/pkg/plugins/inventory"
	"github.com/jwebster45206/story-runtime/pkg/save"
	"github.com/jwebster45206/story-runtime/pkg/story"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	// stdout belongs to the story text
	log := logger.SetupWriter(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := bufio.NewReader(os.Stdin)

	var s *story.Story
	if len(os.Args) > 1 {
		s, err = story.LoadFile(os.Args[1])
	} else {
		s, err = selectStory(storage.NewStoryLibrary(cfg.StoryDir, log), in)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load story: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewBus(
		events.WithLogger(log),
		events.WithWarnThreshold(cfg.EventWarnThreshold),
		events.WithPropagateErrors(cfg.EventPropagateErrors),
	)

	eng, err := engine.New(engine.Options{
		Logger:       log,
		Bus:          bus,
		Initial:      s.InitialState(),
		HistoryLimit: cfg.UndoDepth(),
		Plugins:      []engine.Plugin{s, inventory.New()},
	})
	if err != nil {
		log.Error("Failed to build engine", "error", err, "story", s.Title)
		os.Exit(1)
	}
	log = logger.WithSession(log, eng.ID())

	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open save backend", "error", err, "backend", cfg.SaveBackend)
		os.Exit(1)
	}
	defer func() {
		_ = backend.Close()
	}()

	conv := persist.NewConverter(persist.ConverterOptions{
		PersistentKeys: append(eng.PersistentKeys(), cfg.PersistentKeys...),
		Codec:          cfg.Codec(),
		Compression:    cfg.Compression(),
		Bus:            bus,
		Logger:         log,
	})

	coord := save.NewCoordinator(eng.Store(), conv, backend,
		save.WithBus(bus),
		save.WithLogger(log),
		save.WithNavigator(eng),
		save.WithEngineVersion(cfg.EngineVersion),
	)

	if cfg.BroadcastEvents {
		client, err := storage.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error("Failed to create event broadcaster", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()
		detach := broadcast.NewBroadcaster(client, eng.ID(), log).Attach(bus)
		defer detach()
		log.Info("Broadcasting events", "channel", broadcast.Channel(eng.ID()))
	}

	if cfg.AutoSaveInterval > 0 {
		err := coord.EnableAutoSave(save.AutoSaveOptions{
			Interval: cfg.AutoSaveInterval,
			Slots:    cfg.AutoSaveSlots,
			Prefix:   cfg.AutoSavePrefix,
			BeforeSave: func(string) bool {
				return eng.CurrentSceneID() != ""
			},
		})
		if err != nil {
			log.Error("Failed to enable autosave", "error", err)
			os.Exit(1)
		}
		defer coord.DisableAutoSave()
	}

	log.Info("Starting story", "story", s.Title, "start", s.Start, "backend", cfg.SaveBackend)
	if err := eng.Start(s.Start); err != nil {
		log.Error("Failed to start story", "error", err, "start", s.Start)
		os.Exit(1)
	}

	p := newPlayer(eng, coord, in, os.Stdout)
	if err := p.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func selectStory(lib *storage.StoryLibrary, in *bufio.Reader) (*story.Story, error) {
	stories, err := lib.List()
	if err != nil {
		return nil, err
	}
	if len(stories) == 0 {
		return nil, fmt.Errorf("no stories found")
	}

	titles := make([]string, 0, len(stories))
	for title := range stories {
		titles = append(titles, title)
	}
	sort.Strings(titles)

	fmt.Println("Available Stories:")
	for i, title := range titles {
		fmt.Printf("  %d - %s (%s)\n", i+1, title, stories[title])
	}
	fmt.Print("\nSelect a story by number: ")

	var choice int
	if _, err := fmt.Fscanln(in, &choice); err != nil || choice < 1 || choice > len(titles) {
		return nil, fmt.Errorf("invalid selection")
	}
	return lib.Get(stories[titles[choice-1]])
}
