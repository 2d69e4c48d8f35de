package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/seantiz/hourglass/internal/api"
	"github.com/seantiz/hourglass/internal/config"
	"github.com/seantiz/hourglass/internal/engine"
	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/searchspace"
	"github.com/seantiz/hourglass/internal/store"
	"github.com/seantiz/hourglass/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("hourglass: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"search_space", cfg.SearchSpacePath,
		"eval_cost_ms", cfg.EvalCost.Milliseconds(),
	)

	tp, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName:    "hourglass",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown", "error", err)
		}
	}()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	space, err := loadSpace(cfg.SearchSpacePath)
	if err != nil {
		log.Fatalf("failed to load search space: %v", err)
	}
	logger.Info("search space loaded", "algorithms", len(space.Names()))

	reg := evaluator.NewRegistry()
	reg.Register(evaluator.DefaultName, evaluator.NewSynthetic(cfg.EvalCost))

	eng := engine.NewEngine(db, reg, space, logger)
	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	// Runs still in flight finish as killed before the store closes.
	eng.Shutdown()
}

func loadSpace(path string) (*searchspace.Space, error) {
	if path == "" {
		return searchspace.Default()
	}
	return searchspace.Load(path)
}
