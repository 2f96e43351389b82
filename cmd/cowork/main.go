package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/keepup/cowork/internal/adapter/http"
	cfmcp "github.com/keepup/cowork/internal/adapter/mcp"
	cfnats "github.com/keepup/cowork/internal/adapter/nats"
	"github.com/keepup/cowork/internal/adapter/natskv"
	cfotel "github.com/keepup/cowork/internal/adapter/otel"
	"github.com/keepup/cowork/internal/adapter/postgres"
	"github.com/keepup/cowork/internal/adapter/ristretto"
	"github.com/keepup/cowork/internal/adapter/sqlite"
	"github.com/keepup/cowork/internal/adapter/tiered"
	"github.com/keepup/cowork/internal/adapter/ws"
	"github.com/keepup/cowork/internal/config"
	"github.com/keepup/cowork/internal/domain/policy"
	"github.com/keepup/cowork/internal/domain/risk"
	"github.com/keepup/cowork/internal/logger"
	"github.com/keepup/cowork/internal/middleware"
	"github.com/keepup/cowork/internal/port/broadcast"
	"github.com/keepup/cowork/internal/port/cache"
	"github.com/keepup/cowork/internal/port/database"
	"github.com/keepup/cowork/internal/service"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"version", version,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"log_level", cfg.Logging.Level,
		"nats", cfg.NATS.URL != "",
		"mcp", cfg.MCP.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	l1, err := ristretto.New(cfg.Policy.CacheSizeMB << 20)
	if err != nil {
		return fmt.Errorf("policy cache: %w", err)
	}
	defer l1.Close()

	hub := ws.NewHub(originHosts(cfg.Server.CORSOrigin)...)
	var publisher broadcast.Publisher = hub
	var parsed cache.Cache = l1

	if cfg.NATS.URL != "" {
		bridge, err := cfnats.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, hub)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = bridge.Close() }()
		publisher = bridge
		slog.Info("nats connected", "prefix", cfg.NATS.SubjectPrefix)

		if cfg.NATS.PolicyBucket != "" {
			parsed = sharedPolicyCache(ctx, bridge, l1, cfg)
		}
	}

	var spool *service.AuditSpool
	if cfg.Audit.SpoolPath != "" {
		spool, err = service.NewAuditSpool(cfg.Audit.SpoolPath)
		if err != nil {
			return fmt.Errorf("audit spool: %w", err)
		}
	}
	auditWriter := service.NewAuditWriter(store, spool, metrics, service.AuditWriterConfig{
		QueueSize:          cfg.Audit.QueueSize,
		Workers:            cfg.Audit.Workers,
		Retries:            cfg.Audit.Retries,
		RetryDelay:         cfg.Audit.RetryDelay,
		BreakerMaxFailures: cfg.Audit.Breaker.MaxFailures,
		BreakerTimeout:     cfg.Audit.Breaker.Timeout,
	})
	defer auditWriter.Close()
	if _, err := auditWriter.Replay(ctx); err != nil {
		slog.Warn("audit spool replay incomplete", "error", err)
	}

	// --- Services ---

	sessionSvc := service.NewSessionService(store)
	resolver := service.NewPolicyResolver(store, auditWriter, parsed, cfg.Policy.CacheTTL)
	approvalSvc := service.NewApprovalService(store, publisher, metrics)
	authSvc := service.NewAuthorizationService(store, resolver, policy.NewRuleEngine(), risk.NewWeightedScorer(), approvalSvc, auditWriter, metrics)

	handlers := &cfhttp.Handlers{
		Sessions:      sessionSvc,
		Authorization: authSvc,
		Approvals:     approvalSvc,
		Audit:         service.NewAuditService(store, store),
		Policies:      resolver,
		Settings:      service.NewSettingsService(store),
		Events:        hub,
		Store:         store,
		WorkspaceRoot: cfg.Policy.WorkspaceRoot,
	}

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	var opts cfhttp.RouteOptions
	if cfg.Server.CheckRate > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.CheckRate, cfg.Server.CheckBurst, middleware.SessionOrIP)
		stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
		defer stopCleanup()
		opts.CheckLimit = limiter.Handler
	}
	if cfg.Server.IdempotencyTTL > 0 {
		opts.Idempotency = middleware.Idempotency(l1, cfg.Server.IdempotencyTTL)
	}
	cfhttp.MountRoutes(r, handlers, opts)

	if cfg.MCP.Enabled {
		mcpSrv := cfmcp.NewServer(cfmcp.ServerConfig{
			Name:          "cowork",
			Version:       version,
			APIKey:        cfg.MCP.APIKey,
			WorkspaceRoot: cfg.Policy.WorkspaceRoot,
		}, cfmcp.ServerDeps{
			Gate:      authSvc,
			Approvals: approvalSvc,
			Policies:  resolver,
		})
		r.Handle(cfg.MCP.Path, mcpSrv.Handler())
		slog.Info("mcp server mounted", "path", cfg.MCP.Path, "auth", cfg.MCP.APIKey != "")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// openStore opens the configured database.Store, applying migrations.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", cfg.SQLite.Path)
		return store, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		ver, err := postgres.RunMigrations(ctx, cfg.Postgres.DSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected", "schema_version", ver)
		return postgres.NewStore(pool), nil
	}
}

// originHosts turns the configured CORS origin into websocket origin host
// patterns.
func originHosts(origin string) []string {
	if origin == "" {
		return nil
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{origin}
}

// sharedPolicyCache layers a JetStream KV bucket under the local cache so
// replicas share parsed policies. Any failure leaves the local cache alone.
func sharedPolicyCache(ctx context.Context, bridge *cfnats.Bridge, l1 cache.Cache, cfg *config.Config) cache.Cache {
	js, err := bridge.JetStream()
	if err != nil {
		slog.Warn("jetstream unavailable, policy cache stays local", "error", err)
		return l1
	}
	kv, err := natskv.Open(ctx, js, cfg.NATS.PolicyBucket, cfg.Policy.CacheTTL)
	if err != nil {
		slog.Warn("policy kv bucket unavailable, policy cache stays local", "bucket", cfg.NATS.PolicyBucket, "error", err)
		return l1
	}
	slog.Info("policy cache shared", "bucket", cfg.NATS.PolicyBucket)
	return tiered.New(l1, kv, cfg.Policy.CacheTTL)
}
