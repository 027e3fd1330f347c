package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/solroute/internal/adapter"
	"github.com/sawpanic/solroute/internal/cache"
	"github.com/sawpanic/solroute/internal/circuit"
	"github.com/sawpanic/solroute/internal/config"
	"github.com/sawpanic/solroute/internal/engine"
	"github.com/sawpanic/solroute/internal/executor"
	"github.com/sawpanic/solroute/internal/infrastructure/db"
	httpiface "github.com/sawpanic/solroute/internal/interfaces/http"
	"github.com/sawpanic/solroute/internal/metrics"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregation router API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyLogLevel(cfg.LogLevel)
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration")
	return cmd
}

func applyLogLevel(level string) {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	m := metrics.NewRegistry()

	var store cache.Store
	if cfg.Redis.Enabled {
		store = cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.DB)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis cache")
	} else {
		store = cache.NewMemoryStore(time.Minute)
		log.Info().Msg("Using in-process cache")
	}
	defer store.Close()

	coalescer := cache.NewCoalescer(store, m)
	coalescer.StartSweeper(ctx, cfg.Sweepers.CoalescerInterval, cfg.Sweepers.CoalescerStaleAfter)

	breakers := circuit.NewRegistry(cfg.Breaker, m)

	adapters := buildAdapters(cfg, m)
	if len(adapters) == 0 {
		return fmt.Errorf("no providers enabled")
	}

	database, err := db.NewManager(cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	scorer := engine.NewScorer(cfg.Scoring)
	eng := engine.NewEngine(adapters, coalescer, breakers, scorer, database.Repository(), cfg.Engine)
	exec := executor.New(eng, breakers, database.Repository(), m)
	if database.IsEnabled() {
		exec.StartExpirySweeper(ctx, cfg.Sweepers.SwapExpiryInterval)
	}

	handlers := httpiface.NewHandlers(eng, exec, database, version)
	server := httpiface.NewServer(cfg.Server, handlers, m)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info().
		Str("addr", cfg.ListenAddr()).
		Strs("providers", eng.Providers()).
		Bool("persistence", database.IsEnabled()).
		Msg("Router started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildAdapters(cfg config.Config, m *metrics.Registry) []adapter.Adapter {
	var adapters []adapter.Adapter
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		switch name {
		case "jupiter":
			adapters = append(adapters, adapter.NewJupiterAdapter(p.Client, m))
		case "okx-dex":
			adapters = append(adapters, adapter.NewOKDexAdapter(p.Client, p.Credentials, m))
		default:
			log.Warn().Str("provider", name).Msg("Unknown provider in configuration, skipping")
		}
	}
	return adapters
}
