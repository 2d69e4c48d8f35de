// testserver starts an hourglass API server backed by an in-memory store and
// fast evaluators for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/hourglass/internal/api"
	"github.com/seantiz/hourglass/internal/engine"
	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/searchspace"
	"github.com/seantiz/hourglass/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("HOURGLASS_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	space, err := searchspace.Default()
	if err != nil {
		log.Fatalf("failed to load search space: %v", err)
	}

	reg := evaluator.NewRegistry()
	reg.Register(evaluator.DefaultName, evaluator.NewSynthetic(5*time.Millisecond))
	reg.Register("slow", evaluator.NewSynthetic(250*time.Millisecond))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eng := engine.NewEngine(db, reg, space, logger)
	srv := api.NewServer(addr, db, eng, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	eng.Shutdown()
}
