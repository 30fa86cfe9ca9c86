package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sentrygate/gateway/pkg/analyzer"
	"github.com/sentrygate/gateway/pkg/audit"
	"github.com/sentrygate/gateway/pkg/auditqueue"
	"github.com/sentrygate/gateway/pkg/auth"
	"github.com/sentrygate/gateway/pkg/digest"
	"github.com/sentrygate/gateway/pkg/metrics"
	"github.com/sentrygate/gateway/pkg/ratelimit"
	"github.com/sentrygate/gateway/pkg/stream"
)

// gatewayDB is the subset of *pgxpool.Pool the gateway needs, so tests can
// substitute a fake without a real connection.
type gatewayDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Server holds every dependency the gateway's handlers close over. It is
// constructed once at startup by runGateway and never replaced.
type Server struct {
	Config Config

	DB    gatewayDB
	Redis *redis.Client

	Digest     digest.Hasher
	Limiter    *ratelimit.Limiter
	AuditStore *audit.Store
	AuditQueue *auditQueueEnqueuer
	Analyzer   *analyzer.Client

	Metrics    *metrics.Registry
	PromReg    *prometheus.Registry
	Prom       *promMetrics
	Events     *stream.Hub

	InFlight  *InFlight
	StartedAt time.Time
}

// ServiceName and ServiceVersion are reported on GET /health.
const (
	ServiceName    = "sentrygate"
	ServiceVersion = "0.1.0"
)

// auditQueueEnqueuer wraps *auditqueue.Queue with the methods the server
// uses (Enqueue, Size, Start, Flush).
type auditQueueEnqueuer struct {
	q *auditqueue.Queue
}

func (a *auditQueueEnqueuer) Enqueue(ctx context.Context, e audit.Entry) error {
	return a.q.Enqueue(ctx, e)
}

func (a *auditQueueEnqueuer) Size() int64 { return a.q.Size() }

func (a *auditQueueEnqueuer) Start(ctx context.Context) { a.q.Start(ctx) }

func (a *auditQueueEnqueuer) Flush(ctx context.Context) { a.q.Flush(ctx) }

// NewServer wires every component from cfg and the already-opened DB/Redis
// connections. It does not start any background loop: runGateway starts the
// audit drainer via AuditQueue.Start and the metrics loop via startLoops, so
// tests can construct a Server without goroutines running.
func NewServer(cfg Config, db *pgxpool.Pool, redisClient *redis.Client) (*Server, error) {
	var store ratelimit.Store
	if redisClient != nil {
		store = ratelimit.NewRedisStore(redisClient)
	} else {
		store = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(store,
		ratelimit.Tier{Name: ratelimit.TierGlobal, Max: cfg.RateLimitGlobalMax, Window: cfg.RateLimitGlobalWindow},
		ratelimit.Tier{Name: ratelimit.TierPerCaller, Max: cfg.RateLimitPerCallerMax, Window: cfg.RateLimitPerCallerWindow},
		ratelimit.Tier{Name: ratelimit.TierPerKey, Max: cfg.RateLimitPerKeyMax, Window: cfg.RateLimitPerKeyWindow},
	)

	// a typed-nil pool must not masquerade as a live gatewayDB
	var gdb gatewayDB
	if db != nil {
		gdb = db
	}

	auditStore := audit.NewStore(gdb)
	rawQueue := auditqueue.New(auditStore, cfg.AuditQueueCapacity, cfg.AuditAsync,
		auditqueue.WithBatchSize(cfg.AuditBatchSize),
		auditqueue.WithDrainInterval(cfg.AuditDrainInterval))
	queue := &auditQueueEnqueuer{q: rawQueue}

	analyzerClient, err := analyzer.Dial(cfg.AnalyzerAddr, cfg.AnalyzerTimeout, cfg.AnalyzerMaxRetries, cfg.AnalyzerKeepalive)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	s := &Server{
		Config:     cfg,
		DB:         gdb,
		Redis:      redisClient,
		Digest:     digest.New([]byte(cfg.DigestSalt)),
		Limiter:    limiter,
		AuditStore: auditStore,
		AuditQueue: queue,
		Analyzer:   analyzerClient,
		Metrics:    metrics.NewRegistry(),
		PromReg:    promReg,
		Events:     stream.NewHub(),
		InFlight:   NewInFlight(),
		StartedAt:  time.Now(),
	}
	s.Prom = newPromMetrics(promReg, func() float64 { return float64(queue.Size()) })
	return s, nil
}

// authMiddleware builds the JWT/OIDC middleware for /admin/* per cfg.
func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	opts := []auth.MiddlewareOption{auth.WithTimeout(5 * time.Second)}
	if s.Config.AuthJWKSURL != "" {
		opts = append(opts, auth.WithJWKS(s.Config.AuthJWKSURL))
	}
	if s.Config.AuthIssuer != "" {
		opts = append(opts, auth.WithIssuer(s.Config.AuthIssuer))
	}
	if s.Config.AuthAudience != "" {
		opts = append(opts, auth.WithAudience(s.Config.AuthAudience))
	}
	return auth.Middleware(s.Config.AuthMode, s.Config.AuthSecret, opts...)
}

// requireAdminRole gates a handler behind one of the configured admin roles.
func (s *Server) requireAdminRole(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok || !auth.HasAnyRole(principal, s.Config.AdminRoles...) {
			writeError(w, r, http.StatusForbidden, ErrorTypeAuthorization, "operator role required")
			return
		}
		h(w, r)
	}
}
