// Package grpcserver serves the gRPC health protocol for orchestration probes.
// The serving status follows storage reachability.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health entry reported for the board API.
const ServiceName = "kanban.Board"

// pingTimeout bounds a single storage probe.
const pingTimeout = 2 * time.Second

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health keeps grpc.health.v1 status in step with a Pinger.
type Health struct {
	srv *health.Server
	db  Pinger
	log *zap.Logger
}

// NewHealth constructs a Health that starts NOT_SERVING until the first check.
func NewHealth(db Pinger, log *zap.Logger) *Health {
	h := &Health{srv: health.NewServer(), db: db, log: log}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}

// Check probes storage once and publishes the resulting status.
func (h *Health) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	st := healthpb.HealthCheckResponse_SERVING
	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("storage unreachable", zap.Error(err))
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.set(st)
	return st
}

// Run checks every interval until ctx is done, then marks the server as
// shutting down so watchers stop routing to it.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Check(ctx)
		}
	}
}

// NewServer builds a gRPC server with recovery and logging interceptors and the
// health service. reflect enables server reflection (dev only).
func NewServer(h *Health, log *zap.Logger, reflect bool, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
	))
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.srv)
	if reflect {
		reflection.Register(s)
	}
	return s
}
