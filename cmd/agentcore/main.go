package main

import (
	"log"
	"os"

	"agentcore/internal/api"
	"agentcore/internal/config"
	"agentcore/internal/engine"
	"agentcore/internal/memory"
	"agentcore/internal/policy"
	"agentcore/internal/runner"
	"agentcore/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	logger.Info("agentcore: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	mem := memory.New(cfg.MemoryCapacity, cfg.DefaultTTL)

	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)

	pol := policy.New(policy.Config{
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.Backoff,
		BaseDelay:  cfg.BaseDelay,
		Jitter:     cfg.Jitter,
	})

	eng := engine.New(db, reg, mem, pol, engine.Options{
		StepTimeout:     cfg.StepTimeout,
		WorkflowTimeout: cfg.WorkflowTimeout,
		Concurrency:     cfg.Concurrency,
		CancelGrace:     cfg.CancelGrace,
	}, logger)

	srv := api.NewServer(cfg.ListenAddr, db, mem, reg, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
