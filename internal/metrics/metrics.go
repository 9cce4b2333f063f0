// Package metrics owns the gateway's Prometheus collectors. Every collector
// lives on a private registry so tests and multiple servers never share state.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkoutgate"

// Registry holds the gateway's counters.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	decisionsTotal      prometheus.Counter
	purchasesTotal      prometheus.Counter
	purchasesAmount     prometheus.Counter
	sessionAcquisitions *prometheus.CounterVec
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		decisionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of decisions stored.",
		}),
		purchasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Total number of purchases stored.",
		}),
		purchasesAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_amount_usd",
			Help:      "Sum of purchase amounts in USD.",
		}),
		sessionAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_acquisitions_total",
			Help:      "Merchant session acquisitions by site and outcome.",
		}, []string{"site", "outcome"}),
	}
	r.reg.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.decisionsTotal,
		r.purchasesTotal,
		r.purchasesAmount,
		r.sessionAcquisitions,
	)
	return r
}

// DecisionStored counts one stored decision.
func (r *Registry) DecisionStored() {
	r.decisionsTotal.Inc()
}

// PurchaseStored counts one purchase and adds its amount. Negative amounts
// are not added, since counters only go up.
func (r *Registry) PurchaseStored(amountUSD float64) {
	r.purchasesTotal.Inc()
	if amountUSD > 0 {
		r.purchasesAmount.Add(amountUSD)
	}
}

// SessionAcquired counts one session acquisition outcome.
func (r *Registry) SessionAcquired(site models.Site, outcome string) {
	r.sessionAcquisitions.WithLabelValues(string(site), outcome).Inc()
}

// Handler serves the text exposition of every collector.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests and embedding.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// UnmatchedPath labels requests that matched no route.
const UnmatchedPath = "unmatched"

// Middleware records request counts and durations. The path label is the
// matched chi route pattern, so /decision/{token} is one series.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, req)

		path := UnmatchedPath
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		r.requestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(rr.statusCode)).Inc()
		r.requestDuration.WithLabelValues(req.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rr *statusRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.statusCode = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *statusRecorder) Write(b []byte) (int, error) {
	rr.wroteHeader = true
	return rr.ResponseWriter.Write(b)
}
