package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/internal/gateway"
	"github.com/codedeck/codedeck/internal/indexer"
	"github.com/codedeck/codedeck/internal/pool"
	"github.com/codedeck/codedeck/internal/sessionlog"
	"github.com/codedeck/codedeck/internal/telemetry"
	"github.com/codedeck/codedeck/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Orchestrator.APIKey == "" {
		slog.Warn("no ANTHROPIC_API_KEY set; orchestrator sessions will fail to start")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed", "error", err)
	}
	defer shutdownTelemetry(context.Background())

	p := pool.New()
	store := sessionlog.NewStore(cfg.Agent.ProjectDir)

	registry := tools.NewRegistry()
	toolCtx := &tools.Context{
		Pool:       p,
		Store:      store,
		Config:     cfg,
		ProjectDir: cfg.Agent.ProjectDir,
	}
	tools.RegisterAll(registry)

	idx := indexer.New(cfg.Indexer, cfg.Agent.ProjectDir)
	if idx.Enabled() {
		go idx.Run(ctx)
	}

	server := gateway.NewServer(cfg, p, store, registry, toolCtx)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway shut down")
}
