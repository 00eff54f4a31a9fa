package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/autolyrix/aligntrack/internal/api"
	"github.com/autolyrix/aligntrack/internal/config"
	"github.com/autolyrix/aligntrack/internal/engine"
	"github.com/autolyrix/aligntrack/internal/remote"
	"github.com/autolyrix/aligntrack/internal/store"
	"github.com/autolyrix/aligntrack/internal/tracker"
)

func main() {
	// A missing .env is fine; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("aligntrack: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"repo", cfg.Owner+"/"+cfg.Repo,
		"workflow_event", cfg.WorkflowEvent,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	client := remote.NewClient(cfg.APIBase, cfg.Owner, cfg.Repo, cfg.WorkflowEvent, cfg.Token)

	eng := engine.NewEngine(db, client, logger, tracker.Options{
		PollInterval:    cfg.PollInterval,
		MaxWait:         cfg.MaxWait,
		CorrelateBudget: cfg.CorrelateBudget,
		WindowBefore:    cfg.WindowBefore,
		WindowAfter:     cfg.WindowAfter,
	})

	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
