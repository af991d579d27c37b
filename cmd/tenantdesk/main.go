package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/tenantdesk/tenantdesk/internal/app"
	"github.com/tenantdesk/tenantdesk/internal/auth"
	"github.com/tenantdesk/tenantdesk/internal/gate"
	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/observability"
	"github.com/tenantdesk/tenantdesk/internal/platform/cache"
	"github.com/tenantdesk/tenantdesk/internal/platform/db"
	"github.com/tenantdesk/tenantdesk/internal/ratelimit"
	"github.com/tenantdesk/tenantdesk/internal/rbac"
	"github.com/tenantdesk/tenantdesk/internal/routing"
	"github.com/tenantdesk/tenantdesk/internal/shared"
	"github.com/tenantdesk/tenantdesk/internal/users"
	"github.com/tenantdesk/tenantdesk/internal/view"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tenantdesk stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	metrics := observability.NewMetrics()
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret, cfg.IsProduction())
	codec := identity.NewTokenCodec(cfg.TokenSecret, cfg.TokenTTL, cfg.TokenCookie, cfg.IsProduction())

	rbacService := rbac.NewService(dbpool)
	resolver := identity.NewResolver(rbacService, logger)
	hooks := identity.Hooks{identity.DefaultRoleHook(rbacService, logger)}

	g := gate.New(gate.Options{
		Registry: registry,
		Resolver: resolver,
		Codec:    codec,
		Limiter:  limiter,
		Audit:    newAuditSink(cfg, dbpool, logger),
		Metrics:  metrics,
		Logger:   logger,
	})

	var providers []auth.Provider
	var providerNames []string
	if cfg.OIDCEnabled() {
		p, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		if err != nil {
			return err
		}
		providers = append(providers, p)
		providerNames = append(providerNames, p.Name())
	}

	authService := auth.NewService(auth.NewRepository(dbpool), resolver, hooks)
	authHandler := auth.NewHandler(logger, authService, codec, csrfManager, cfg.IsProduction(), providers...)
	adminRBAC := rbac.Middleware{Roles: identity.RolesFromRequest, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacService, adminRBAC)
	usersHandler := users.NewHandler(logger, users.NewService(users.NewRepository(dbpool), rbacService), adminRBAC)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Templates:    templates,
		CSRFManager:  csrfManager,
		Gate:         g,
		AuthHandler:  authHandler,
		RBACHandler:  rbacHandler,
		UsersHandler: usersHandler,
		Providers:    providerNames,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Int("routes", len(registry.Rules())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func loadRegistry(cfg *app.Config) (*routing.Registry, error) {
	if cfg.RouteTableFile == "" {
		return routing.Default(), nil
	}
	reg, err := routing.LoadFile(cfg.RouteTableFile)
	if err != nil {
		return nil, fmt.Errorf("load route table: %w", err)
	}
	return reg, nil
}

func newLimiter(ctx context.Context, cfg *app.Config, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	policies := cfg.RateLimitPolicies()
	if cfg.RateLimitBackend != "redis" {
		return ratelimit.NewMemoryLimiter(policies), func() {}, nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	return ratelimit.NewRedisLimiter(client, policies), closeFn, nil
}

func newAuditSink(cfg *app.Config, pool *pgxpool.Pool, logger *slog.Logger) gate.AuditSink {
	logSink := gate.NewLogSink(logger)
	if cfg.AuditStore != "postgres" {
		return logSink
	}
	return gate.MultiSink{logSink, gate.NewPGAuditSink(pool)}
}
