// Package app wires every component together and runs the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/agentguard/internal/auth"
	"github.com/wisbric/agentguard/internal/config"
	"github.com/wisbric/agentguard/internal/httpserver"
	"github.com/wisbric/agentguard/internal/platform"
	"github.com/wisbric/agentguard/internal/telemetry"
	"github.com/wisbric/agentguard/pkg/admin"
	"github.com/wisbric/agentguard/pkg/agent"
	"github.com/wisbric/agentguard/pkg/approval"
	"github.com/wisbric/agentguard/pkg/audit"
	"github.com/wisbric/agentguard/pkg/policy"
	"github.com/wisbric/agentguard/pkg/report"
	"github.com/wisbric/agentguard/pkg/token"
	"github.com/wisbric/agentguard/pkg/webhook"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
	purgeInterval   = time.Hour
)

// Run boots every dependency, mounts the HTTP surface, and blocks until ctx
// is cancelled, then drains in-flight requests before returning.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Redis is an optional read-through cache for the revocation list
	// (spec.md §9); Postgres stays authoritative whether or not it connects.
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, continuing with postgres-only revocation checks", "error", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	revocations := auth.NewRevocationStore(db, rdb)

	agentTTL := time.Duration(cfg.JWTAgentExpireSeconds) * time.Second
	adminTTL := time.Duration(cfg.JWTAdminExpireSeconds) * time.Second
	tokens, err := auth.NewTokenService(cfg.JWTPrivateKey, cfg.JWTKeyID, agentTTL, adminTTL, revocations, logger)
	if err != nil {
		return fmt.Errorf("building token service: %w", err)
	}

	agentStore := agent.NewStore(db)
	adminStore := admin.NewStore(db)
	policyStore := policy.NewStore(db)
	approvalStore := approval.NewStore(db)
	auditStore := audit.NewStore(db)
	reportStore := report.NewStore(db)

	resolver := auth.NewResolver(tokens, agentStore, cfg.AdminAPIKey)
	webhooks := webhook.NewDispatcher(cfg.WebhookURL, cfg.WebhookSecret, logger)
	engine := policy.NewEngine(policyStore, policyStore, approvalStore, webhooks)

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)
	metricsReg.MustRegister(httpserver.MetricsCollectors()...)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	tokenHandler := token.NewHandler(logger, tokens, agentStore, adminLookup{adminStore}, cfg.AdminAPIKey)
	policyHandler := policy.NewHandler(logger, policyStore, engine, agentStore, approvalStore, resolver)
	approvalHandler := approval.NewHandler(logger, approvalStore, webhooks, resolver)
	auditHandler := audit.NewHandler(logger, auditStore, resolver)
	agentHandler := agent.NewHandler(logger, agentStore, resolver)
	adminHandler := admin.NewHandler(logger, adminStore, resolver)
	reportHandler := report.NewHandler(logger, reportStore, resolver)

	tokenHandler.Mount(srv.APIRouter)
	policyHandler.Mount(srv.APIRouter)
	approvalHandler.Mount(srv.APIRouter)
	auditHandler.Mount(srv.APIRouter)
	agentHandler.Mount(srv.APIRouter)
	adminHandler.Mount(srv.APIRouter)
	reportHandler.Mount(srv.APIRouter)

	go purgeExpiredRevocationsPeriodically(ctx, revocations, logger)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
}

// adminLookup adapts admin.Store to token.AdminLookup.
type adminLookup struct{ store *admin.Store }

func (a adminLookup) GetActiveByKeyHash(ctx context.Context, keyHash string) (*token.AdminUser, error) {
	u, err := a.store.GetActiveByKeyHash(ctx, keyHash)
	if err != nil || u == nil {
		return nil, err
	}
	return &token.AdminUser{AdminID: u.AdminID, Role: u.Role, Team: u.Team}, nil
}

// purgeExpiredRevocationsPeriodically keeps the revoked_tokens table bounded
// by deleting rows past their own expiry (they can no longer match a live
// token regardless). Runs until ctx is cancelled.
func purgeExpiredRevocationsPeriodically(ctx context.Context, revocations *auth.RevocationStore, logger *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := revocations.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purging expired revocations", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired revocations", "count", n)
			}
		}
	}
}
