package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/checkoutgate/internal/approval"
	"github.com/org/checkoutgate/internal/merchant"
	"github.com/org/checkoutgate/internal/metrics"
	"github.com/org/checkoutgate/internal/order"
	"github.com/org/checkoutgate/internal/storage"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/rs/zerolog/log"
)

const adminRealm = "checkoutgate admin"

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string

	// AdminUser and AdminPass gate /purchases.json and /admin/logs. Both
	// empty disables the check.
	AdminUser string
	AdminPass string

	// InboundSecret, when set, must accompany every /inbound call.
	InboundSecret string

	RateLimitRPS   int
	RateLimitBurst int

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a reverse proxy that sets them.
	TrustProxyHeaders bool
}

// DecisionLedger records and resolves approval decisions.
type DecisionLedger interface {
	Record(ctx context.Context, msg approval.InboundMessage) (models.DecisionRecord, error)
	Lookup(ctx context.Context, token string) (models.DecisionRecord, error)
}

// LimitsRegistry reads and replaces the purchase limits.
type LimitsRegistry interface {
	Get(ctx context.Context) (models.Limits, error)
	Set(ctx context.Context, capUSD float64, maxQty int) (models.Limits, error)
}

// Orders runs cart and checkout operations.
type Orders interface {
	AddToCart(ctx context.Context, req order.AddToCartRequest) (merchant.CartResult, error)
	Checkout(ctx context.Context, req order.CheckoutRequest) (order.CheckoutOutcome, error)
}

// Records is the read side of stored purchases and decisions.
type Records interface {
	ListPurchases(ctx context.Context, limit int) ([]models.PurchaseRecord, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

// AuditLog is the audit sink plus read-back for the admin endpoint.
type AuditLog interface {
	Record(ctx context.Context, ev models.AuditEvent)
	Tail(n int) ([]string, error)
}

// Deps are the services the server exposes over HTTP.
type Deps struct {
	Ledger  DecisionLedger
	Limits  LimitsRegistry
	Orders  Orders
	Records Records
	Audit   AuditLog
	Metrics *metrics.Registry
}

// Server is the API server.
type Server struct {
	ledger  DecisionLedger
	limits  LimitsRegistry
	orders  Orders
	records Records
	auditor AuditLog
	metrics *metrics.Registry
	cfg     Config
	httpSrv *http.Server
}

// NewServer creates a Server over already wired services.
func NewServer(cfg Config, d Deps) *Server {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 200
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	return &Server{
		ledger:  d.Ledger,
		limits:  d.Limits,
		orders:  d.Orders,
		records: d.Records,
		auditor: d.Audit,
		metrics: d.Metrics,
		cfg:     cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware. Metrics and the access log sit outside Recoverer so
	// a recovered panic is still counted as a 500.
	if s.cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(requestIDMiddleware)
	r.Use(s.metrics.Middleware)
	r.Use(accessLogMiddleware)
	r.Use(chimiddleware.Recoverer)

	limiter := newRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst)

	// The email relay retries anything but 2xx, so /inbound is never rate
	// limited.
	r.Post("/inbound", s.InboundHandler)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(limiter.middleware)

		r.Handle("/metrics", s.metrics.Handler())
		r.Get("/", s.RootHandler)
		r.Get("/healthz", s.HealthHandler)

		// Approval polling
		r.Get("/decision/{token}", s.DecisionHandler)

		// Limits
		r.Get("/limits", s.LimitsGetHandler)
		r.Post("/limits", s.LimitsSetHandler)

		// Orders
		r.Post("/order/add", s.OrderAddHandler)
		r.Post("/order/checkout", s.OrderCheckoutHandler)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(limiter.middleware)
		if s.cfg.AdminUser != "" && s.cfg.AdminPass != "" {
			r.Use(chimiddleware.BasicAuth(adminRealm, map[string]string{s.cfg.AdminUser: s.cfg.AdminPass}))
		}
		r.Get("/purchases.json", s.PurchasesHandler)
		r.Get("/admin/logs", s.AdminLogsHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
