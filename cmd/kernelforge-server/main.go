package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/kernelforge/internal/api"
	"github.com/seantiz/kernelforge/internal/backend/awsbackend"
	"github.com/seantiz/kernelforge/internal/config"
	"github.com/seantiz/kernelforge/internal/engine"
	"github.com/seantiz/kernelforge/internal/provision"
	"github.com/seantiz/kernelforge/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("kernelforge: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"variant", cfg.Variant,
	)

	services, err := awsbackend.Load(context.Background())
	if err != nil {
		log.Fatalf("failed to load aws services: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := engine.NewRegistry()
	provision.Register(reg, services, cfg.ProvisionOptions())
	reg.SetDefault(cfg.Variant)

	eng := engine.NewEngine(db, reg, engine.NewExecutor(cfg.ExecutorOptions(logger)...), logger)
	eng.SetDefaultRemaining(cfg.DefaultRemaining)

	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
