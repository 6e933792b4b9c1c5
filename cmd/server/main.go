package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pesio-ai/be-contracts-access/internal/app"
	"github.com/pesio-ai/be-contracts-access/internal/config"
	"github.com/pesio-ai/be-contracts-access/internal/handler"
	"github.com/pesio-ai/be-contracts-access/internal/identity"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
	"github.com/pesio-ai/be-contracts-access/internal/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
		File:        cfg.Log.File,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Database.Driver).
		Str("authz_mode", cfg.Authz.Mode).
		Msg("Starting contracts access service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise service")
	}
	defer a.Close()

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(handler.Deps{
		Contracts: a.Contracts,
		Approvals: a.Approvals,
		Access:    a.Access,
		Policy:    a.Policy,
		Roles:     a.Stores.Roles,
		Terms:     a.Terms,
		Paths: handler.Paths{
			Login:          cfg.Server.LoginPath,
			SuperAdminHome: cfg.Server.SuperAdminHomePath,
		},
		Ping: a.Ping,
	}, log)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	// Apply middleware
	verifier := identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logger(&log.Logger),
		middleware.Recovery(&log.Logger),
		middleware.Timeout(cfg.Server.RequestTimeout),
		verifier.Middleware(log.Logger),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcHandler := handler.NewGRPCHandler(a.Ping, verifier, log.Logger)
	go grpcHandler.MonitorHealth(ctx, cfg.Database.HealthCheck)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcHandler.Server().Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcHandler.Shutdown()

	log.Info().Msg("Server stopped")
}
