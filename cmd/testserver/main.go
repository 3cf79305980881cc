// testserver starts a kernelforge API server over fake build and image
// services whose resources take a few polls to become ready.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/kernelforge/internal/api"
	"github.com/seantiz/kernelforge/internal/backend"
	"github.com/seantiz/kernelforge/internal/backend/fake"
	"github.com/seantiz/kernelforge/internal/engine"
	"github.com/seantiz/kernelforge/internal/provision"
	"github.com/seantiz/kernelforge/internal/store"
)

// scriptedServices returns fakes that report in-progress states before
// settling. Statuses are consumed across runs, so later runs settle at once.
func scriptedServices() *fake.Services {
	svc := fake.NewServices()
	svc.Builds.Statuses = []string{backend.BuildInProgress, backend.BuildInProgress, backend.BuildSucceeded}
	svc.Images.ImageStatuses = []string{backend.ImageCreating, backend.ImageCreated}
	svc.Images.VersionStatuses = []string{backend.ImageCreating, backend.ImageCreated}
	svc.Images.DomainStatuses = []string{backend.DomainUpdating, backend.DomainInService}
	svc.Registry.Account = "123456789012"
	svc.Registry.Region = "eu-west-1"
	return svc
}

func main() {
	addr := ":8080"
	if v := os.Getenv("KERNELFORGE_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	reg := engine.NewRegistry()
	provision.Register(reg, scriptedServices().Backend(), provision.DefaultOptions())
	reg.SetDefault(provision.VariantPublish)

	x := engine.NewExecutor(engine.WithLogger(logger), engine.WithPollInterval(500*time.Millisecond))
	eng := engine.NewEngine(db, reg, x, logger)
	srv := api.NewServer(addr, db, eng, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
