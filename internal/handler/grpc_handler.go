package handler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-contracts-access/internal/identity"
)

// ServiceName is the gRPC health service name reported for this server.
const ServiceName = "contracts.access.v1"

// GRPCHandler owns the gRPC server. It exposes health and reflection so the
// service can be checked by the same tooling as its gRPC peers.
type GRPCHandler struct {
	server *grpc.Server
	health *health.Server
	ping   func(ctx context.Context) error
	logger zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler. Calls carrying a bearer token in
// their metadata are resolved through verifier.
func NewGRPCHandler(ping func(ctx context.Context) error, verifier *identity.Verifier, logger zerolog.Logger) *GRPCHandler {
	h := &GRPCHandler{
		health: health.NewServer(),
		ping:   ping,
		logger: logger.With().Str("handler", "grpc").Logger(),
	}
	interceptors := []grpc.UnaryServerInterceptor{h.recoverUnary, h.logUnary}
	if verifier != nil {
		interceptors = append(interceptors, verifier.UnaryServerInterceptor(h.logger))
	}
	h.server = grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	healthpb.RegisterHealthServer(h.server, h.health)
	reflection.Register(h.server)
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return h
}

// Server returns the underlying gRPC server.
func (h *GRPCHandler) Server() *grpc.Server { return h.server }

// Health returns the health service, mainly for tests.
func (h *GRPCHandler) Health() *health.Server { return h.health }

// MonitorHealth pings the store every interval and flips the serving status
// until ctx is done.
func (h *GRPCHandler) MonitorHealth(ctx context.Context, interval time.Duration) {
	if h.ping == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckOnce(ctx)
		}
	}
}

// CheckOnce pings the store and records the result.
func (h *GRPCHandler) CheckOnce(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := h.ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("store unreachable")
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(ServiceName, st)
	h.health.SetServingStatus("", st)
}

// Shutdown marks the service as not serving and stops accepting calls.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

func (h *GRPCHandler) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	event := h.logger.Debug()
	if err != nil {
		event = h.logger.Warn().Err(err)
	}
	event.
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("grpc request")
	return resp, err
}

func (h *GRPCHandler) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().
				Interface("panic", rec).
				Str("method", info.FullMethod).
				Bytes("stack", debug.Stack()).
				Msg("recovered from panic")
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return next(ctx, req)
}
