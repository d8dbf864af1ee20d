// Package app ties the server components together and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sitesmith/sitesmith/server/internal/api"
	"github.com/sitesmith/sitesmith/server/internal/auth"
	"github.com/sitesmith/sitesmith/server/internal/billing"
	"github.com/sitesmith/sitesmith/server/internal/config"
	"github.com/sitesmith/sitesmith/server/internal/events"
	"github.com/sitesmith/sitesmith/server/internal/generator"
	"github.com/sitesmith/sitesmith/server/internal/mailer"
	"github.com/sitesmith/sitesmith/server/internal/project"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	purgeInterval   = time.Hour
)

// App is the server process.
type App struct {
	cfg          *config.Config
	store        store.Store
	authProvider auth.Provider
	bus          *events.Bus
	api          *api.Server
	logger       *slog.Logger
}

// New builds every component from configuration. The bus is shared with the
// caller so the log handler can mirror records onto it; nil creates one.
func New(cfg *config.Config, bus *events.Bus, logger *slog.Logger) (*App, error) {
	db, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authProvider, err := auth.NewProvider(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}
	if err := authProvider.Bootstrap(context.Background()); err != nil {
		closeProvider(authProvider)
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}
	var login auth.LoginProvider
	if lp, ok := authProvider.(auth.LoginProvider); ok {
		login = lp
	}

	if bus == nil {
		bus = events.New()
	}

	gen, err := generator.New(cfg.Generator, logger)
	if err != nil {
		closeProvider(authProvider)
		_ = db.Close()
		return nil, fmt.Errorf("init generator: %w", err)
	}
	mail, err := mailer.New(cfg.Mail, logger)
	if err != nil {
		closeProvider(authProvider)
		_ = db.Close()
		return nil, fmt.Errorf("init mailer: %w", err)
	}
	gateways, err := billing.NewGateways(cfg.Billing)
	if err != nil {
		closeProvider(authProvider)
		_ = db.Close()
		return nil, fmt.Errorf("init payment gateways: %w", err)
	}

	billingSvc := billing.NewService(billing.Options{
		Store:      db,
		Catalog:    billing.NewCatalog(cfg.Billing.Plans, cfg.Billing.Currency),
		Gateways:   gateways,
		Provider:   cfg.Billing.Provider,
		SuccessURL: cfg.Billing.SuccessURL,
		CancelURL:  cfg.Billing.CancelURL,
		Bus:        bus,
		Mailer:     mail,
		Logger:     logger,
	})
	projectSvc := project.NewService(project.Options{
		Store:     db,
		Generator: gen,
		Cost:      cfg.Billing.ProjectCost,
		Bus:       bus,
		Logger:    logger,
	})

	apiSrv := api.NewServer(api.Deps{
		Store:    db,
		Auth:     authProvider,
		Login:    login,
		Billing:  billingSvc,
		Projects: projectSvc,
		Bus:      bus,
	}, cfg, logger)

	a := &App{
		cfg:          cfg,
		store:        db,
		authProvider: authProvider,
		bus:          bus,
		api:          apiSrv,
		logger:       logger.With("component", "app"),
	}
	a.warnings(len(gateways))
	return a, nil
}

// warnings logs configuration that works but is unsafe or incomplete.
func (a *App) warnings(gateways int) {
	if gateways == 0 {
		a.logger.Warn("no payment provider configured, credit purchases are disabled")
	} else if a.cfg.Billing.Provider == "stripe" && a.cfg.Billing.StripeWebhookSecret == "" {
		a.logger.Warn("STRIPE_WEBHOOK_SECRET is not set, webhooks will be rejected")
	}
	if a.cfg.Generator.Provider == "static" {
		a.logger.Warn("no generator API key configured, projects use the static placeholder generator")
	}
	for _, origin := range a.cfg.Server.AllowedOrigins {
		if origin == "*" {
			a.logger.Warn("TRUSTED_ORIGINS contains wildcard '*', session cookies will not be sent cross-origin")
			break
		}
	}
	if a.cfg.IsProduction() && a.cfg.Mail.Provider == "log" {
		a.logger.Warn("receipts are only logged, configure POSTMARK_SERVER_TOKEN to send email")
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.api.StartBackgroundTasks(ctx)
	go a.runPurger(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.cfg.Server.Addr, "environment", a.cfg.Server.Environment)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Ends live event streams so Shutdown does not wait on them.
		a.bus.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}
		a.Close()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		a.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close releases the store and the auth provider.
func (a *App) Close() {
	closeProvider(a.authProvider)
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}

// runPurger removes expired sessions and old audit events every hour.
func (a *App) runPurger(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.purge(ctx, now)
		}
	}
}

func (a *App) purge(ctx context.Context, now time.Time) {
	if n, err := a.store.PurgeExpiredAuthSessions(ctx, now); err != nil {
		a.logger.Warn("purge: auth sessions failed", "error", err)
	} else if n > 0 {
		a.logger.Info("purge: deleted expired sessions", "count", n)
	}

	if a.cfg.Storage.AuditRetention.Duration <= 0 {
		return
	}
	if n, err := a.store.PurgeOldAuditEvents(ctx, now.Add(-a.cfg.Storage.AuditRetention.Duration)); err != nil {
		a.logger.Warn("purge: audit events failed", "error", err)
	} else if n > 0 {
		a.logger.Info("purge: deleted old audit events", "count", n)
	}
}

func closeProvider(p auth.Provider) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}
