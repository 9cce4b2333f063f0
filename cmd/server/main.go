package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/checkoutgate/internal/api"
	"github.com/org/checkoutgate/internal/approval"
	"github.com/org/checkoutgate/internal/audit"
	"github.com/org/checkoutgate/internal/config"
	"github.com/org/checkoutgate/internal/crypto"
	"github.com/org/checkoutgate/internal/limits"
	"github.com/org/checkoutgate/internal/merchant"
	"github.com/org/checkoutgate/internal/metrics"
	"github.com/org/checkoutgate/internal/order"
	"github.com/org/checkoutgate/internal/session"
	"github.com/org/checkoutgate/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Info().Str("config", cfg.String()).Msg("configuration loaded")

	ctx := context.Background()

	cipher, err := crypto.NewCipher(cfg.CookieEncKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise session cipher")
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer backend.Close()

	sessions, err := session.NewStore(cfg.CookiesDir, cipher)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}

	auditor, err := audit.NewRecorder(cfg.LogsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit log")
	}
	defer auditor.Close()

	reg := metrics.NewRegistry()
	ledger := approval.NewLedger(backend, cfg.AllowDecisionOverwrite)
	lim := limits.NewRegistry(backend)
	drivers := merchant.NewRegistry(merchant.SimulatedDrivers(cfg.Credentials())...)
	acquirer := session.NewAcquirer(sessions, cfg.ProxyURL, cfg.DriverTimeout, reg)

	orch := order.NewOrchestrator(lim, ledger, acquirer, drivers, backend, auditor, reg, order.Options{
		RequireApproval: cfg.RequireApproval,
		DriverTimeout:   cfg.DriverTimeout,
	})

	if !cfg.RequireApproval {
		log.Warn().Msg("require_approval is off: checkouts without a decision token will be placed")
	}
	if !cfg.AdminAuthEnabled() {
		log.Warn().Msg("ADMIN_USER/ADMIN_PASS not set: /purchases.json and /admin/logs are unauthenticated")
	}

	srv := api.NewServer(api.Config{
		ListenAddr:     cfg.ListenAddr,
		TLSCertFile:    cfg.TLSCertFile,
		TLSKeyFile:     cfg.TLSKeyFile,
		AdminUser:      cfg.AdminUser,
		AdminPass:      cfg.AdminPass,
		InboundSecret:  cfg.InboundSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}, api.Deps{
		Ledger:  ledger,
		Limits:  lim,
		Orders:  orch,
		Records: backend,
		Audit:   auditor,
		Metrics: reg,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// openBackend uses Postgres when db_url is configured and local JSON files
// otherwise.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	if cfg.DBUrl == "" {
		log.Info().Str("decisions", cfg.DecisionsDir).Str("purchases", cfg.PurchasesDir).Msg("using file storage")
		return storage.NewFileBackend(cfg.LimitsPath, cfg.DecisionsDir, cfg.PurchasesDir)
	}

	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
	if err != nil {
		return nil, err
	}
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		store.Close()
		return nil, err
	}
	log.Info().Msg("migrations applied")
	return store, nil
}
