package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/skylattice/orbit/internal/agent"
	"github.com/skylattice/orbit/internal/cache"
	"github.com/skylattice/orbit/internal/config"
	"github.com/skylattice/orbit/internal/contextwin"
	"github.com/skylattice/orbit/internal/decision"
	"github.com/skylattice/orbit/internal/embeddings"
	"github.com/skylattice/orbit/internal/events"
	"github.com/skylattice/orbit/internal/executor"
	"github.com/skylattice/orbit/internal/gateway"
	"github.com/skylattice/orbit/internal/heartbeat"
	"github.com/skylattice/orbit/internal/models"
	"github.com/skylattice/orbit/internal/planner"
	"github.com/skylattice/orbit/internal/sessions"
	"github.com/skylattice/orbit/internal/storage"
	"github.com/skylattice/orbit/internal/stream"
	"github.com/skylattice/orbit/internal/tools"
)

const defaultPort = 18720

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the Orbit gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runGateway,
	}
}

func runGateway(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = &config.Config{}
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = defaultPort
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Event log (progress ticks excluded)
	eventLog := storage.NewEventLogger(config.EventLogPath(), bus)
	defer eventLog.Close()

	// Cache backend — SQLite when a path is configured, memory otherwise.
	var backend cache.Backend
	if cfg.Cache.Path != "" {
		sqliteBackend, err := cache.NewSQLiteBackend(cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("open cache db: %w", err)
		}
		defer sqliteBackend.Close()
		backend = sqliteBackend

		spec := cfg.Cache.JanitorSpec
		if spec == "" {
			spec = "@hourly"
		}
		janitor := cache.NewJanitor(sqliteBackend, 24*time.Hour)
		if err := janitor.Start(spec); err != nil {
			slog.Warn("cache janitor disabled", "spec", spec, "error", err)
		} else {
			defer janitor.Stop()
		}
	} else {
		backend = cache.NewMemoryBackend()
	}

	completionCache := cache.NewCompletionCache(backend)
	toolCache := cache.NewToolCache(backend)
	planCache := cache.NewPlanCache(backend)

	// Models
	registry := models.NewRegistry(cfg.Models)
	chatModel, err := registry.Default(ctx)
	if err != nil {
		return fmt.Errorf("init default model: %w", err)
	}
	plannerModel := chatModel
	if cfg.Models.Planner != "" {
		plannerModel, err = registry.Get(ctx, cfg.Models.Planner)
		if err != nil {
			return fmt.Errorf("init planner model: %w", err)
		}
	}

	// Embedder — optional; semantic features degrade to exact matching.
	embedder, err := embeddings.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		slog.Warn("embedder unavailable, semantic matching disabled", "error", err)
		embedder = nil
	}

	// Tools
	toolRegistry, err := tools.SetupRegistry(ctx, cfg.Tools, toolCache)
	if err != nil {
		return fmt.Errorf("setup tools: %w", err)
	}

	// Planner: patterns, exact plan cache, semantic cache, LLM
	patterns := planner.NewPatternTable()
	if cfg.Planner.PatternsFile != "" {
		if err := patterns.LoadFile(cfg.Planner.PatternsFile); err != nil {
			slog.Warn("user patterns not loaded", "path", cfg.Planner.PatternsFile, "error", err)
		}
	}
	var semantic *planner.SemanticCache
	if embedder != nil {
		semantic, err = planner.NewSemanticCache(ctx, embedder,
			cfg.Planner.SemanticThreshold, cfg.Planner.SemanticMaxEntries)
		if err != nil {
			slog.Warn("semantic plan cache disabled", "error", err)
		}
	}
	queryPlanner := planner.New(patterns, planCache, semantic, plannerModel, toolRegistry.Catalog)

	// SIGHUP re-reads .env (rotated credentials) and the config file, and
	// refreshes the user pattern table.
	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(func(next *config.Config) {
		if next.Planner.PatternsFile != "" {
			if err := patterns.LoadFile(next.Planner.PatternsFile); err != nil {
				slog.Warn("user patterns not reloaded", "path", next.Planner.PatternsFile, "error", err)
			}
		}
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				slog.Warn("config reload failed", "error", err)
			}
		}
	}()

	// Executor
	exec := executor.New(cfg.Executor, bus)

	// Context window with LLM-backed compaction
	winCfg := contextwin.Config{
		MaxTokens:        cfg.Context.MaxTokens,
		CompactThreshold: cfg.Context.CompactThreshold,
		KeepRecent:       cfg.Context.KeepRecent,
	}
	if winCfg.MaxTokens == 0 {
		winCfg.MaxTokens = registry.DefaultContextWindow()
	}
	window := contextwin.NewManager(winCfg, func(ctx context.Context, prompt string) (string, error) {
		return models.Complete(ctx, chatModel, "", prompt)
	})

	// Decision memory
	decisions := decision.New(decision.Config{
		MaxSameQuestion:     cfg.Decision.MaxSameQuestion,
		MaxSameTool:         cfg.Decision.MaxSameTool,
		MaxFailedAttempts:   cfg.Decision.MaxFailedAttempts,
		SimilarityThreshold: cfg.Decision.SimilarityThreshold,
		LoopWindow:          cfg.Decision.LoopWindow,
	}, embedder)

	// Agent
	orbitAgent := agent.New(agent.Config{
		ModelName:      registry.DefaultName(),
		SystemPrompt:   cfg.Agent.SystemPrompt,
		StepRetryCount: 2,
		StepTimeout:    cfg.Executor.StepTimeout.Duration(),
	}, agent.Deps{
		Model:       chatModel,
		Planner:     queryPlanner,
		Executor:    exec,
		Registry:    toolRegistry,
		Window:      window,
		Decisions:   decisions,
		Streams:     stream.NewManager(bus),
		Completions: completionCache,
	})

	// Session store
	sessionStore := sessions.NewFileStore(config.SessionsPath())

	// Heartbeat for `orbit status`
	hb := heartbeat.NewWriter(filepath.Join(config.OrbitPath(), "heartbeat.json"))
	hb.Start()
	defer hb.Stop()

	// Gateway server
	server := gateway.NewServer(bus, sessionStore, orbitAgent, cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
