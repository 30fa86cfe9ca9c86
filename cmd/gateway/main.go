package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sentrygate/gateway/pkg/hardening"
	"github.com/sentrygate/gateway/pkg/store"
	"github.com/sentrygate/gateway/pkg/telemetry"
)

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenDBFunc func(ctx context.Context) (*pgxpool.Pool, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(server *http.Server) error
type gatewayStartLoopsFunc func(s *Server, ctx context.Context)

// Testable variables for main().
var (
	logFatalf      = log.Fatalf
	initTelemetryG gatewayInitTelemetryFunc = telemetry.Init
	openDBFnG      gatewayOpenDBFunc        = store.NewPostgresPool
	openRedisFnG   gatewayOpenRedisFunc     = store.NewRedis
	listenFnG      gatewayListenFunc        = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  gatewayStartLoopsFunc    = func(s *Server, ctx context.Context) {
		go s.metricsLoop(ctx)
	}
)

func main() {
	if err := runGateway(initTelemetryG, openDBFnG, openRedisFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openDB gatewayOpenDBFunc,
	openRedis gatewayOpenRedisFunc,
	listen gatewayListenFunc,
	startLoops gatewayStartLoopsFunc,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	cfg := loadConfig(osEnv)

	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "gateway",
		Environment:           cfg.Environment,
		StrictProdSecurity:    cfg.StrictProdSecurity,
		DatabaseRequireTLS:    cfg.DatabaseRequireTLS,
		RedisAddr:             cfg.RedisAddr,
		RedisRequireTLS:       cfg.RedisRequireTLS,
		RedisTLSInsecure:      cfg.RedisTLSInsecure,
		RedisAllowInsecureTLS: cfg.RedisAllowInsecureTLS,
		CORSAllowedOrigins:    cfg.CORSOrigins,
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "DIGEST_SALT", Value: cfg.DigestSalt},
			{Name: "AUTH_SECRET", Value: cfg.AuthSecret},
		},
	}); err != nil {
		return fmt.Errorf("hardening: %w", err)
	}

	db, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory rate limiting: %v", err)
		redisClient = nil
	}

	srv, err := NewServer(cfg, db, redisClient)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	srv.AuditQueue.Start(ctx)
	if listen == nil {
		return errors.New("listen function required")
	}
	startLoops(srv, ctx)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	drainErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		drainErr <- srv.shutdown(shutdownCtx)
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := listen(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http: %w", err)
	}
	// a drain that hit the shutdown ceiling is a dirty exit
	select {
	case err := <-drainErr:
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	default:
	}
	return nil
}

// metricsLoop keeps the audit_queue_size gauge on the admin registry fresh;
// the Prometheus surface reads it live via GaugeFunc and needs no loop.
func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	s.updateOperationalMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateOperationalMetrics()
		}
	}
}

func (s *Server) updateOperationalMetrics() {
	s.Metrics.SetGauge("audit_queue_size", float64(s.AuditQueue.Size()))
}
