// kernelforge is the Lambda entry point: one provisioning run per
// CloudFormation custom resource event.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/seantiz/kernelforge/internal/backend/awsbackend"
	"github.com/seantiz/kernelforge/internal/callback"
	"github.com/seantiz/kernelforge/internal/config"
	"github.com/seantiz/kernelforge/internal/engine"
	"github.com/seantiz/kernelforge/internal/invoke"
	"github.com/seantiz/kernelforge/internal/provision"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	services, err := awsbackend.Load(context.Background())
	if err != nil {
		log.Fatalf("failed to load aws services: %v", err)
	}

	reg := engine.NewRegistry()
	provision.Register(reg, services, cfg.ProvisionOptions())
	reg.SetDefault(cfg.Variant)

	sender := callback.NewSender(
		callback.WithAttempts(cfg.CallbackAttempts),
		callback.WithLogger(logger),
	)
	h := invoke.NewHandler(reg, engine.NewExecutor(cfg.ExecutorOptions(logger)...), sender,
		invoke.WithReserve(cfg.CallbackReserve),
		invoke.WithFallbackRemaining(cfg.DefaultRemaining),
		invoke.WithLogger(logger),
	)

	logger.Info("kernelforge: ready", "variant", cfg.Variant, "poll_interval", cfg.PollInterval.String())
	lambda.Start(h.Handle)
}
