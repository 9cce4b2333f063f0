package order

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/org/checkoutgate/internal/approval"
	"github.com/org/checkoutgate/internal/crypto"
	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/limits"
	"github.com/org/checkoutgate/internal/merchant"
	"github.com/org/checkoutgate/internal/session"
	"github.com/org/checkoutgate/internal/storage"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	site        models.Site
	loginErr    error
	cartErr     error
	checkoutRes merchant.CheckoutResult
	checkoutErr error
	release     chan struct{}

	mu        sync.Mutex
	logins    int
	carts     int
	checkouts int
}

func (d *fakeDriver) Site() models.Site { return d.site }

func (d *fakeDriver) Login(ctx context.Context, sess *merchant.Session) error {
	d.mu.Lock()
	d.logins++
	d.mu.Unlock()
	return d.loginErr
}

func (d *fakeDriver) IsSessionValid(ctx context.Context, sess *merchant.Session) bool { return false }

func (d *fakeDriver) AddToCart(ctx context.Context, sess *merchant.Session, productID string, qty int) (merchant.CartResult, error) {
	d.mu.Lock()
	d.carts++
	d.mu.Unlock()
	if d.release != nil {
		// Ignores ctx on purpose.
		<-d.release
	}
	if d.cartErr != nil {
		return merchant.CartResult{}, d.cartErr
	}
	return merchant.CartResult{OK: true, Site: d.site, ProductID: productID, Qty: qty}, nil
}

func (d *fakeDriver) Checkout(ctx context.Context, sess *merchant.Session, capUSD float64) (merchant.CheckoutResult, error) {
	d.mu.Lock()
	d.checkouts++
	d.mu.Unlock()
	return d.checkoutRes, d.checkoutErr
}

func (d *fakeDriver) calls() (logins, carts, checkouts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logins, d.carts, d.checkouts
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (r *fakeRecorder) Record(ctx context.Context, ev models.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *fakeRecorder) has(typ string, ok bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == typ && ev.OK == ok {
			return true
		}
	}
	return false
}

type fakeMetrics struct {
	count int
	sum   float64
}

func (m *fakeMetrics) PurchaseStored(amountUSD float64) {
	m.count++
	m.sum += amountUSD
}

type env struct {
	orch    *Orchestrator
	backend *storage.FileBackend
	limits  *limits.Registry
	ledger  *approval.Ledger
	driver  *fakeDriver
	audit   *fakeRecorder
	metrics *fakeMetrics
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.NewFileBackend(filepath.Join(dir, "limits.json"), filepath.Join(dir, "decisions"), filepath.Join(dir, "purchases"))
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)
	store, err := session.NewStore(filepath.Join(dir, "cookies"), cipher)
	require.NoError(t, err)

	e := &env{
		backend: backend,
		limits:  limits.NewRegistry(backend),
		ledger:  approval.NewLedger(backend, false),
		driver: &fakeDriver{
			site:        models.SiteTarget,
			checkoutRes: merchant.CheckoutResult{OK: true, OrderRef: "SIM-T-1700000000", CapUSD: 50},
		},
		audit:   &fakeRecorder{},
		metrics: &fakeMetrics{},
	}
	e.orch = NewOrchestrator(
		e.limits,
		e.ledger,
		session.NewAcquirer(store, "", time.Second, nil),
		merchant.NewRegistry(e.driver),
		backend,
		e.audit,
		e.metrics,
		opts,
	)
	return e
}

func (e *env) setLimits(t *testing.T, capUSD float64, qty int) {
	t.Helper()
	_, err := e.limits.Set(context.Background(), capUSD, qty)
	require.NoError(t, err)
}

func (e *env) decide(t *testing.T, token, decision string) {
	t.Helper()
	_, err := e.ledger.Record(context.Background(), approval.InboundMessage{Text: "token: " + token + "\n" + decision})
	require.NoError(t, err)
}

func TestAddToCart_Success(t *testing.T) {
	e := newEnv(t, Options{})
	e.setLimits(t, 100, 2)

	res, err := e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "TARGET", ProductID: "sku-1", Qty: 2, PriceUSD: 25})
	require.NoError(t, err)
	assert.Equal(t, merchant.CartResult{OK: true, Site: models.SiteTarget, ProductID: "sku-1", Qty: 2}, res)
	assert.True(t, e.audit.has(models.EventAddToCart, true))
}

func TestAddToCart_LimitsCheckedBeforeSession(t *testing.T) {
	e := newEnv(t, Options{})
	e.setLimits(t, 100, 2)

	_, err := e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "target", ProductID: "sku-1", Qty: 1, PriceUSD: 150})
	require.ErrorIs(t, err, errclass.ErrCapExceeded)
	_, err = e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "target", ProductID: "sku-1", Qty: 3, PriceUSD: 1})
	require.ErrorIs(t, err, errclass.ErrQtyExceeded)

	logins, carts, _ := e.driver.calls()
	assert.Zero(t, logins)
	assert.Zero(t, carts)
}

func TestAddToCart_DenyByDefault(t *testing.T) {
	e := newEnv(t, Options{})
	_, err := e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "target", ProductID: "sku-1", Qty: 1, PriceUSD: 1})
	assert.True(t, errclass.IsLimitExceeded(err))
}

func TestAddToCart_UnsupportedSite(t *testing.T) {
	e := newEnv(t, Options{})
	e.setLimits(t, 100, 2)

	_, err := e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "walmart", ProductID: "sku-1", Qty: 1})
	assert.ErrorIs(t, err, errclass.ErrUnsupportedSite)
	_, err = e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "costco", ProductID: "sku-1", Qty: 1})
	assert.ErrorIs(t, err, errclass.ErrUnsupportedSite, "no driver registered for costco")
}

func TestAddToCart_InvalidRequest(t *testing.T) {
	e := newEnv(t, Options{})
	e.setLimits(t, 100, 2)
	for _, req := range []AddToCartRequest{
		{Site: "target", ProductID: "", Qty: 1},
		{Site: "target", ProductID: "sku", Qty: 0},
		{Site: "target", ProductID: "sku", Qty: -1},
		{Site: "target", ProductID: "sku", Qty: 1, PriceUSD: -5},
	} {
		_, err := e.orch.AddToCart(context.Background(), req)
		assert.ErrorIs(t, err, errclass.ErrInvalidRequest)
	}
}

func TestAddToCart_LoginFailure(t *testing.T) {
	e := newEnv(t, Options{})
	e.setLimits(t, 100, 2)
	e.driver.loginErr = errors.New("bad password")

	_, err := e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "target", ProductID: "sku-1", Qty: 1, PriceUSD: 10})
	require.ErrorIs(t, err, errclass.ErrAuthenticationFailed)
	_, carts, _ := e.driver.calls()
	assert.Zero(t, carts)
	assert.True(t, e.audit.has(models.EventAddToCartError, false))
}

func TestAddToCart_DriverFailureIsUpstream(t *testing.T) {
	e := newEnv(t, Options{})
	e.setLimits(t, 100, 2)
	e.driver.cartErr = errors.New("out of stock")

	_, err := e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "target", ProductID: "sku-1", Qty: 1, PriceUSD: 10})
	require.ErrorIs(t, err, errclass.ErrUpstream)
	assert.Equal(t, "out of stock", errclass.Message(err))
}

func TestAddToCart_Timeout(t *testing.T) {
	e := newEnv(t, Options{DriverTimeout: 50 * time.Millisecond})
	e.setLimits(t, 100, 2)
	e.driver.release = make(chan struct{})
	t.Cleanup(func() { close(e.driver.release) })

	start := time.Now()
	_, err := e.orch.AddToCart(context.Background(), AddToCartRequest{Site: "target", ProductID: "sku-1", Qty: 1, PriceUSD: 10})
	require.ErrorIs(t, err, errclass.ErrUpstreamTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCheckout_ApprovedStoresPurchase(t *testing.T) {
	e := newEnv(t, Options{RequireApproval: true})
	e.setLimits(t, 100, 2)
	e.decide(t, "deadbeef", "1")

	out, err := e.orch.Checkout(context.Background(), CheckoutRequest{
		Site:          "target",
		DecisionToken: "DEADBEEF",
		CapUSD:        50,
		Items:         []models.Item{{ID: "sku-1", Qty: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SIM-T-1700000000", out.Purchase.OrderRef)
	assert.Equal(t, 50.0, out.Purchase.AmountUSD)
	assert.Equal(t, models.SiteTarget, out.Purchase.Site)
	assert.NotEmpty(t, out.Purchase.ID)
	assert.True(t, out.Result.OK)

	stored, err := e.backend.ListPurchases(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, out.Purchase.ID, stored[0].ID)
	assert.Equal(t, 1, e.metrics.count)
	assert.Equal(t, 50.0, e.metrics.sum)
	assert.True(t, e.audit.has(models.EventPurchaseStore, true))
}

func TestCheckout_ApprovalRequired(t *testing.T) {
	e := newEnv(t, Options{RequireApproval: true})
	e.setLimits(t, 100, 2)

	_, err := e.orch.Checkout(context.Background(), CheckoutRequest{Site: "target", CapUSD: 10})
	require.ErrorIs(t, err, errclass.ErrApprovalRequired)
	_, _, checkouts := e.driver.calls()
	assert.Zero(t, checkouts)
}

func TestCheckout_OptionalApproval(t *testing.T) {
	e := newEnv(t, Options{RequireApproval: false})
	e.setLimits(t, 100, 2)

	_, err := e.orch.Checkout(context.Background(), CheckoutRequest{Site: "target", CapUSD: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, e.metrics.count)
}

func TestCheckout_ApprovalNotFound(t *testing.T) {
	e := newEnv(t, Options{RequireApproval: true})
	e.setLimits(t, 100, 2)

	for _, tok := range []string{"cafe0123", "../../etc/passwd"} {
		_, err := e.orch.Checkout(context.Background(), CheckoutRequest{Site: "target", DecisionToken: tok, CapUSD: 10})
		assert.ErrorIs(t, err, errclass.ErrApprovalNotFound, tok)
	}
}

func TestCheckout_DeniedBeforeLimits(t *testing.T) {
	e := newEnv(t, Options{RequireApproval: true})
	e.decide(t, "deadbeef", "2")

	// Limits are still deny-by-default, but the denial is what gets reported.
	_, err := e.orch.Checkout(context.Background(), CheckoutRequest{Site: "target", DecisionToken: "deadbeef", CapUSD: 10})
	require.ErrorIs(t, err, errclass.ErrApprovalDenied)

	stored, err := e.backend.ListPurchases(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCheckout_LimitGated(t *testing.T) {
	e := newEnv(t, Options{RequireApproval: true})
	e.setLimits(t, 100, 2)
	e.decide(t, "deadbeef", "1")

	_, err := e.orch.Checkout(context.Background(), CheckoutRequest{Site: "target", DecisionToken: "deadbeef", CapUSD: 500})
	require.ErrorIs(t, err, errclass.ErrCapExceeded)

	_, err = e.orch.Checkout(context.Background(), CheckoutRequest{
		Site:          "target",
		DecisionToken: "deadbeef",
		CapUSD:        50,
		Items:         []models.Item{{ID: "a", Qty: 2}, {ID: "b", Qty: 1}},
	})
	require.ErrorIs(t, err, errclass.ErrQtyExceeded)
	_, _, checkouts := e.driver.calls()
	assert.Zero(t, checkouts)
}

func TestCheckout_QtyOverflowRejected(t *testing.T) {
	e := newEnv(t, Options{RequireApproval: true})
	e.setLimits(t, 100, 2)
	e.decide(t, "deadbeef", "1")

	_, err := e.orch.Checkout(context.Background(), CheckoutRequest{
		Site:          "target",
		DecisionToken: "deadbeef",
		CapUSD:        50,
		Items:         []models.Item{{ID: "a", Qty: math.MaxInt}, {ID: "b", Qty: 2}},
	})
	require.ErrorIs(t, err, errclass.ErrQtyExceeded)

	_, _, checkouts := e.driver.calls()
	assert.Zero(t, checkouts)
	purchases, err := e.backend.ListPurchases(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, purchases)
}

func TestCheckout_IncompleteIsUpstreamError(t *testing.T) {
	e := newEnv(t, Options{RequireApproval: true})
	e.setLimits(t, 100, 2)
	e.decide(t, "deadbeef", "1")
	e.driver.checkoutRes = merchant.CheckoutResult{OK: false}

	_, err := e.orch.Checkout(context.Background(), CheckoutRequest{Site: "target", DecisionToken: "deadbeef", CapUSD: 50})
	require.ErrorIs(t, err, errclass.ErrUpstream)
	assert.True(t, e.audit.has(models.EventCheckoutError, false))
	assert.Zero(t, e.metrics.count)
}

func TestCheckout_MissingOrderRefFallsBack(t *testing.T) {
	e := newEnv(t, Options{})
	e.setLimits(t, 100, 2)
	e.driver.checkoutRes = merchant.CheckoutResult{OK: true}
	e.orch.now = func() time.Time { return time.Unix(1700000123, 0) }

	out, err := e.orch.Checkout(context.Background(), CheckoutRequest{Site: "target", CapUSD: 5})
	require.NoError(t, err)
	assert.Equal(t, "SIM-1700000123", out.Purchase.OrderRef)
	assert.NotNil(t, out.Purchase.Items)
}
