package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/org/checkoutgate/pkg/models"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCounters(t *testing.T) {
	r := NewRegistry()
	r.DecisionStored()
	r.DecisionStored()
	r.PurchaseStored(20)
	r.PurchaseStored(5.5)
	r.PurchaseStored(-3)
	r.SessionAcquired(models.SiteTarget, "login")

	out := scrape(t, r)
	for _, want := range []string{
		"checkoutgate_decisions_total 2",
		"checkoutgate_purchases_total 3",
		"checkoutgate_purchases_amount_usd 25.5",
		`checkoutgate_session_acquisitions_total{outcome="login",site="target"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in exposition:\n%s", want, out)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	a.DecisionStored()
	if !strings.Contains(scrape(t, b), "checkoutgate_decisions_total 0") {
		t.Error("a fresh registry should start at zero")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := NewRegistry()
	router := chi.NewRouter()
	router.Use(reg.Middleware)
	router.Get("/decision/{token}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Post("/order/add", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	for _, tok := range []string{"aaaaaa", "bbbbbb", "cccccc"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/decision/"+tok, nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/order/add", nil))

	out := scrape(t, reg)
	for _, want := range []string{
		`checkoutgate_http_requests_total{method="GET",path="/decision/{token}",status="200"} 3`,
		`checkoutgate_http_requests_total{method="POST",path="/order/add",status="400"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in exposition:\n%s", want, out)
		}
	}
	if strings.Contains(out, "aaaaaa") {
		t.Error("raw token leaked into a metric label")
	}
}

func TestMiddlewareCollapsesUnmatchedPaths(t *testing.T) {
	reg := NewRegistry()
	router := chi.NewRouter()
	router.Use(reg.Middleware)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})

	for _, p := range []string{"/wp-login.php", "/.env", "/random/xyz"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	out := scrape(t, reg)
	want := `checkoutgate_http_requests_total{method="GET",path="unmatched",status="404"} 3`
	if !strings.Contains(out, want) {
		t.Errorf("expected %q in exposition:\n%s", want, out)
	}
	for _, leaked := range []string{"wp-login", ".env", "random"} {
		if strings.Contains(out, leaked) {
			t.Errorf("unmatched path %q leaked into a metric label", leaked)
		}
	}
}
