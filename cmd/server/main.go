// Command kk-server starts the board HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/internal/activity"
	"github.com/and161185/kanban-keeper/internal/config"
	"github.com/and161185/kanban-keeper/internal/events"
	"github.com/and161185/kanban-keeper/internal/limiter"
	"github.com/and161185/kanban-keeper/internal/migrate"
	"github.com/and161185/kanban-keeper/internal/repository/postgres"
	"github.com/and161185/kanban-keeper/internal/retry"
	grpcserver "github.com/and161185/kanban-keeper/internal/server/grpc"
	httpserver "github.com/and161185/kanban-keeper/internal/server/http"
	"github.com/and161185/kanban-keeper/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// broker is the event fan-out used by services and streams.
type broker interface {
	events.Publisher
	events.Subscriber
}

// main loads configuration, runs migrations and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "HTTP listen address")
	healthAddr := flag.String("health-addr", "", "gRPC health listen address")
	dsn := flag.String("dsn", "", "PostgreSQL DSN")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key")
	accessTTL := flag.Duration("access-ttl", 0, "access token TTL")
	redisAddr := flag.String("redis-addr", "", "Redis address for cross-instance events")
	origins := flag.String("cors-origins", "", "comma-separated allowed origins")
	dev := flag.Bool("dev", false, "development logging and gRPC reflection")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	overrideString(&cfg.Addr, *addr)
	overrideString(&cfg.HealthAddr, *healthAddr)
	overrideString(&cfg.DSN, *dsn)
	overrideString(&cfg.JWTKey, *jwtKey)
	overrideString(&cfg.RedisAddr, *redisAddr)
	if *accessTTL > 0 {
		cfg.AccessTTL = *accessTTL
	}
	if *origins != "" {
		cfg.CORSOrigins = strings.Split(*origins, ",")
	}
	cfg.Dev = cfg.Dev || *dev

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.Connect(ctx, cfg.DSN, cfg.Connect.Attempts)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	store := postgres.NewStore(db)
	users := postgres.NewUserRepo(db)

	var (
		lim limiter.Limiter = limiter.NewPG(db.Pool, limiter.DefaultPolicy)
		bus broker          = events.NewBus()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		rb, err := events.NewRedisBus(rdb, cfg.RedisChannel, logger)
		if err != nil {
			logger.Fatal("redis bus", zap.Error(err))
		}
		if err := rb.Ping(ctx); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		bus = rb
		lim = limiter.NewRedis(rdb, cfg.RedisChannel, limiter.DefaultPolicy)
	}

	// Services
	deps := service.Deps{
		Reader: store,
		Tx:     store,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			IsTransient: postgres.IsTransientConflict,
			OnRetry: func(attempt int, delay time.Duration, err error) {
				logger.Debug("retrying transaction", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
			},
		},
		Activity: activity.NewRecorder(logger, cfg.Activity.MaxDetailsBytes),
		Events:   bus,
		Log:      logger,
	}
	authSvc := service.NewAuthService(users, []byte(cfg.JWTKey), cfg.AccessTTL, lim, logger)

	api := httpserver.New(httpserver.Deps{
		Auth:        authSvc,
		Boards:      service.NewBoardService(deps),
		Columns:     service.NewColumnService(deps),
		Cards:       service.NewCardService(deps),
		Events:      bus,
		Health:      store,
		Log:         logger,
		CORSOrigins: cfg.CORSOrigins,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpSrv.RegisterOnShutdown(api.CloseStreams)

	health := grpcserver.NewHealth(store, logger)
	go health.Run(ctx, 10*time.Second)
	grpcSrv := grpcserver.NewServer(health, logger, cfg.Dev)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if cfg.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		go func() {
			logger.Info("grpc health listening", zap.String("addr", cfg.HealthAddr))
			errCh <- grpcSrv.Serve(lis)
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}

	logger.Info("shutdown complete")
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}
