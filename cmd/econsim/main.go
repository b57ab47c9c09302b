// Command econsim runs the tradeworld multi-market economic simulation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/talgya/tradeworld/internal/api"
	"github.com/talgya/tradeworld/internal/config"
	"github.com/talgya/tradeworld/internal/engine"
	"github.com/talgya/tradeworld/internal/persistence"
	"github.com/talgya/tradeworld/internal/stream"
)

func main() {
	configPath := flag.String("config", "tradeworld.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logger(os.Stderr))

	slog.Info("tradeworld: multi-market economic simulation")

	// ── Database ──────────────────────────────────────────────────────
	if err := ensureDataDir(cfg.Storage.Path); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(cfg.Storage.Path, cfg.Storage.KeepSnapshots)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Storage.Path)

	// ── Simulation ────────────────────────────────────────────────────
	hub := stream.NewHub(engine.StreamDropped.Inc)
	defer hub.Close()

	sim, err := engine.NewSimulation(cfg.EngineSettings(), hub, db)
	if err != nil {
		slog.Error("failed to build simulation", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if last, err := db.LastTick(ctx); err == nil {
		slog.Info("stored state found", "last_tick", last)
	} else if !errors.Is(err, persistence.ErrNoState) {
		slog.Warn("could not read stored tick", "error", err)
	}
	resumed := sim.Load(ctx)
	if !resumed {
		slog.Info("no saved state found, starting fresh")
	}

	// ── Stream bridge ─────────────────────────────────────────────────
	if cfg.Stream.NATSURL != "" {
		bridge, err := stream.DialNATS(cfg.Stream.NATSURL, cfg.Stream.SubjectPrefix)
		if err != nil {
			slog.Warn("NATS unavailable, continuing without bridge", "url", cfg.Stream.NATSURL, "error", err)
		} else {
			defer bridge.Close()
			go bridge.Run(ctx, hub, cfg.Stream.Buffer)
			slog.Info("NATS bridge enabled", "url", cfg.Stream.NATSURL, "prefix", cfg.Stream.SubjectPrefix)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.AdminKey == "" {
		slog.Warn("TRADEWORLD_API_ADMIN_KEY not set, admin endpoints will be disabled")
	}
	eng := engine.NewEngine(sim)
	apiServer := &api.Server{
		Sim:          sim,
		Eng:          eng,
		DB:           db,
		Port:         cfg.API.Port,
		AdminKey:     cfg.API.AdminKey,
		CORSOrigins:  cfg.API.CORSOrigins,
		StreamBuffer: cfg.Stream.Buffer,
		OrderLimit:   api.NewRateLimiter(cfg.API.OrdersPerMinute, time.Minute),
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	fmt.Printf("\ntradeworld is trading: %d markets.\n", len(sim.MarketIDs()))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	if resumed {
		fmt.Printf("Resuming from tick %d (%s)\n", sim.TickCount(), engine.SimTime(sim.Now()))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}

	// Final save on shutdown.
	slog.Info("final save...")
	if !sim.Save(shutdownCtx) {
		slog.Error("final save failed")
	}

	fmt.Println("Simulation stopped. Economic state saved.")
}

// ensureDataDir creates the directory holding the database file.
func ensureDataDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
