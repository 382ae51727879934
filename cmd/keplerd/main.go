// keplerd is the repository insight pipeline daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/keplerhq/kepler/agent"
	"github.com/keplerhq/kepler/agent/anthropic"
	"github.com/keplerhq/kepler/agent/google"
	"github.com/keplerhq/kepler/agent/openai"
	"github.com/keplerhq/kepler/api"
	"github.com/keplerhq/kepler/broadcast"
	"github.com/keplerhq/kepler/config"
	"github.com/keplerhq/kepler/graph"
	"github.com/keplerhq/kepler/graph/emit"
	"github.com/keplerhq/kepler/persist"
	"github.com/keplerhq/kepler/pipeline"
	"github.com/keplerhq/kepler/run"
	"github.com/keplerhq/kepler/sandbox"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "keplerd",
		Short: "Repository insight pipeline daemon",
		Long: "keplerd analyzes project repositories with a multi-stage reasoning " +
			"pipeline and serves run lifecycle and live progress over HTTP.",
	}
	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("keplerd", version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reasoner, cleanup, err := buildAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	emitter := emit.NewLogEmitter(os.Stderr, false)
	saver := persist.NewProgressiveSaver(store, emitter,
		persist.SaveMode(cfg.Saver.Mode), cfg.Saver.Pace)
	sessions := broadcast.NewRegistry()
	client := sandbox.NewHTTPClient(cfg.Sandbox.BaseURL, cfg.Sandbox.RequestTimeout)

	nodes := &pipeline.Nodes{
		Detector:  reasoner,
		Generator: reasoner,
		Reviewer:  reasoner,
		Sandbox:   client,
		Saver:     saver,
		Bcast:     sessions,
		Budgets: pipeline.Budgets{
			Detect:   cfg.Budgets.Detect,
			Generate: cfg.Budgets.Generate,
			Holistic: cfg.Budgets.Holistic,
			Review:   cfg.Budgets.Review,
		},
	}

	engine, err := pipeline.Build(
		pipeline.Variant(cfg.Workflow.Variant), nodes, emitter,
		graph.WithMaxSteps(cfg.Workflow.MaxSteps),
		graph.WithMaxConcurrent(cfg.Workflow.MaxConcurrent),
		graph.WithBranchTimeout(cfg.Workflow.BranchTimeout),
		graph.WithMetrics(graph.NewMetrics(registry)),
	)
	if err != nil {
		return fmt.Errorf("failed to build workflow: %w", err)
	}

	coordinator := &run.Coordinator{
		Store:      store,
		Saver:      saver,
		Sandbox:    client,
		Bcast:      sessions,
		Engine:     engine,
		RunTimeout: cfg.Workflow.RunTimeout,
	}

	server := api.NewServer(coordinator, sessions, registry)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Server.Addr()) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	saver.Drain()
	return nil
}

func buildStore(cfg *config.Config) (persist.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return persist.NewMemStore(), nil
	case "sqlite":
		return persist.NewSQLiteStore(cfg.Storage.DSN)
	case "mysql":
		return persist.NewMySQLStore(cfg.Storage.DSN)
	case "redis":
		return persist.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

func buildAgent(ctx context.Context, cfg *config.Config) (agent.Agent, func(), error) {
	noop := func() {}
	switch cfg.Agent.Provider {
	case "anthropic":
		return anthropic.New(cfg.Agent.APIKey, cfg.Agent.Model), noop, nil
	case "openai":
		return openai.New(cfg.Agent.APIKey, cfg.Agent.Model), noop, nil
	case "google":
		a, err := google.New(ctx, cfg.Agent.APIKey, cfg.Agent.Model)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create google agent: %w", err)
		}
		return a, func() { _ = a.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown agent provider: %q", cfg.Agent.Provider)
	}
}
