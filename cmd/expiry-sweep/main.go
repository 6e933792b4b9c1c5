// Command expiry-sweep expires overdue approval requests and rejects the
// changes they were holding. It is meant to run from a scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pesio-ai/be-contracts-access/internal/app"
	"github.com/pesio-ai/be-contracts-access/internal/config"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "maximum run time")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name + "-expiry-sweep",
		Version:     cfg.Service.Version,
		File:        cfg.Log.File,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise service")
	}
	defer a.Close()

	n, err := a.Approvals.ExpireOverdue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep failed")
		a.Close()
		os.Exit(1)
	}
	log.Info().Int("entries_rejected", n).Msg("expiry sweep complete")
}
