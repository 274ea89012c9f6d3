package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/colony/internal/config"
)

// GameService is the service name reported by the health endpoint alongside
// the overall ("") status.
const GameService = "colony.Game"

// Check reports whether one dependency of the game service is healthy.
type Check func(ctx context.Context) error

// HealthServer exposes grpc.health.v1.Health and keeps the game service status
// current by running its checks on an interval.
type HealthServer struct {
	cfg      config.HealthConfig
	interval time.Duration
	checks   []Check
	logger   *zap.Logger

	grpcServer *grpc.Server
	health     *health.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
}

// NewHealthServer creates a health endpoint. The status starts as NOT_SERVING
// until the first round of checks passes.
//
// Precondition: logger must be non-nil; interval must be > 0.
func NewHealthServer(cfg config.HealthConfig, interval time.Duration, logger *zap.Logger, checks ...Check) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(GameService, healthpb.HealthCheckResponse_NOT_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &HealthServer{
		cfg:        cfg,
		interval:   interval,
		checks:     checks,
		logger:     logger,
		grpcServer: grpcServer,
		health:     hs,
	}
}

// Start listens on the configured address and serves health checks until Stop.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (h *HealthServer) Start() error {
	lis, err := net.Listen("tcp", h.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.cfg.Addr(), err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	h.listener = lis
	h.cancel = cancel
	h.mu.Unlock()

	go h.monitor(ctx)

	h.logger.Info("health endpoint listening", zap.String("addr", lis.Addr().String()))
	if err := h.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains the gRPC server.
func (h *HealthServer) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()

	h.health.Shutdown()
	h.grpcServer.GracefulStop()
}

// Addr returns the listening address, or "" before Start.
func (h *HealthServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Refresh runs every check once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for _, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(GameService, status)
}

func (h *HealthServer) monitor(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// RunningCheck adapts an IsRunning func, such as network.Acceptor's, into a Check.
func RunningCheck(name string, running func() bool) Check {
	return func(context.Context) error {
		if !running() {
			return fmt.Errorf("%s is not running", name)
		}
		return nil
	}
}
