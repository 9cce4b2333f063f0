// Package order runs add-to-cart and checkout against a merchant: limits and
// approval gates first, then an authenticated session, then the driver call,
// then the purchase record, metrics and audit trail.
package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/merchant"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultDriverTimeout bounds a merchant call when none is configured.
const DefaultDriverTimeout = 20 * time.Second

// LimitsEnforcer checks an amount and quantity against the current limits.
type LimitsEnforcer interface {
	Enforce(ctx context.Context, amountUSD float64, qty int) error
}

// Approvals resolves decision tokens.
type Approvals interface {
	Lookup(ctx context.Context, token string) (models.DecisionRecord, error)
}

// SessionAcquirer hands out authenticated merchant sessions.
type SessionAcquirer interface {
	Acquire(ctx context.Context, site models.Site, driver merchant.Driver) (*merchant.Session, error)
}

// Drivers resolves a site to its merchant driver.
type Drivers interface {
	Driver(site models.Site) (merchant.Driver, error)
}

// PurchaseStore persists purchase records.
type PurchaseStore interface {
	AppendPurchase(ctx context.Context, rec models.PurchaseRecord) error
}

// AuditRecorder receives audit events.
type AuditRecorder interface {
	Record(ctx context.Context, ev models.AuditEvent)
}

// PurchaseMetrics counts stored purchases.
type PurchaseMetrics interface {
	PurchaseStored(amountUSD float64)
}

// Options are the orchestrator's policy switches.
type Options struct {
	// RequireApproval rejects checkouts that carry no decision token.
	RequireApproval bool
	// DriverTimeout bounds session acquisition plus the merchant call.
	DriverTimeout time.Duration
}

// AddToCartRequest asks for qty units of a product at a unit price.
type AddToCartRequest struct {
	Site      string
	ProductID string
	Qty       int
	PriceUSD  float64
}

// CheckoutRequest asks to check out the current cart up to CapUSD.
type CheckoutRequest struct {
	Site          string
	DecisionToken string
	CapUSD        float64
	Items         []models.Item
}

// CheckoutOutcome is the stored purchase plus the driver's raw result.
type CheckoutOutcome struct {
	Purchase models.PurchaseRecord
	Result   merchant.CheckoutResult
}

// Orchestrator composes limits, approvals, sessions and drivers.
type Orchestrator struct {
	limits    LimitsEnforcer
	approvals Approvals
	sessions  SessionAcquirer
	drivers   Drivers
	purchases PurchaseStore
	audit     AuditRecorder
	metrics   PurchaseMetrics
	opts      Options
	now       func() time.Time
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(
	limits LimitsEnforcer,
	approvals Approvals,
	sessions SessionAcquirer,
	drivers Drivers,
	purchases PurchaseStore,
	audit AuditRecorder,
	metrics PurchaseMetrics,
	opts Options,
) *Orchestrator {
	if opts.DriverTimeout <= 0 {
		opts.DriverTimeout = DefaultDriverTimeout
	}
	return &Orchestrator{
		limits:    limits,
		approvals: approvals,
		sessions:  sessions,
		drivers:   drivers,
		purchases: purchases,
		audit:     audit,
		metrics:   metrics,
		opts:      opts,
		now:       time.Now,
	}
}

// AddToCart enforces limits on price*qty before any session or driver work,
// then adds the product to the merchant cart. The driver result is returned
// unchanged.
func (o *Orchestrator) AddToCart(ctx context.Context, req AddToCartRequest) (merchant.CartResult, error) {
	site, driver, err := o.resolve(req.Site)
	if err != nil {
		return merchant.CartResult{}, err
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return merchant.CartResult{}, errclass.ErrInvalidRequest.WithMessage("product_id is required")
	}
	if req.Qty <= 0 {
		return merchant.CartResult{}, errclass.ErrInvalidRequest.WithMessagef("qty must be positive, got %d", req.Qty)
	}
	if !validAmount(req.PriceUSD) {
		return merchant.CartResult{}, errclass.ErrInvalidRequest.WithMessage("price_usd must be a finite non-negative amount")
	}

	if err := o.limits.Enforce(ctx, req.PriceUSD*float64(req.Qty), req.Qty); err != nil {
		return merchant.CartResult{}, err
	}

	res, err := callDriver(ctx, o.opts.DriverTimeout, func(ctx context.Context) (merchant.CartResult, error) {
		sess, err := o.acquire(ctx, site, driver)
		if err != nil {
			return merchant.CartResult{}, err
		}
		return driver.AddToCart(ctx, sess, req.ProductID, req.Qty)
	})
	if err != nil {
		err = upstreamError(err)
		o.record(ctx, models.EventAddToCartError, false, map[string]any{
			"site": site,
			"err":  errclass.Message(err),
		})
		return merchant.CartResult{}, err
	}

	o.record(ctx, models.EventAddToCart, true, map[string]any{
		"site":       site,
		"product_id": req.ProductID,
		"qty":        req.Qty,
		"result":     res,
	})
	return res, nil
}

// Checkout gates on the decision token, enforces limits on the cap and total
// item quantity, checks out through the driver and stores the purchase.
func (o *Orchestrator) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutOutcome, error) {
	site, driver, err := o.resolve(req.Site)
	if err != nil {
		return CheckoutOutcome{}, err
	}
	if err := o.checkApproval(ctx, site, req.DecisionToken); err != nil {
		return CheckoutOutcome{}, err
	}
	if !validAmount(req.CapUSD) {
		return CheckoutOutcome{}, errclass.ErrInvalidRequest.WithMessage("cap_usd must be a finite non-negative amount")
	}
	qty := 0
	for _, it := range req.Items {
		if it.Qty < 0 {
			return CheckoutOutcome{}, errclass.ErrInvalidRequest.WithMessagef("item %s has negative qty", it.ID)
		}
		if it.Qty > math.MaxInt-qty {
			return CheckoutOutcome{}, errclass.ErrQtyExceeded.WithMessage("Total item quantity is out of range")
		}
		qty += it.Qty
	}
	if err := o.limits.Enforce(ctx, req.CapUSD, qty); err != nil {
		return CheckoutOutcome{}, err
	}

	res, err := callDriver(ctx, o.opts.DriverTimeout, func(ctx context.Context) (merchant.CheckoutResult, error) {
		sess, err := o.acquire(ctx, site, driver)
		if err != nil {
			return merchant.CheckoutResult{}, err
		}
		return driver.Checkout(ctx, sess, req.CapUSD)
	})
	if err == nil && !res.OK {
		err = errclass.ErrUpstream.WithMessagef("%s checkout was not completed", site)
	}
	if err != nil {
		err = upstreamError(err)
		o.record(ctx, models.EventCheckoutError, false, map[string]any{
			"site": site,
			"err":  errclass.Message(err),
		})
		return CheckoutOutcome{}, err
	}

	now := o.now().UTC()
	items := req.Items
	if items == nil {
		items = []models.Item{}
	}
	rec := models.PurchaseRecord{
		ID:        uuid.NewString(),
		Timestamp: now,
		Site:      site,
		OrderRef:  res.OrderRef,
		AmountUSD: req.CapUSD,
		Items:     items,
	}
	if rec.OrderRef == "" {
		rec.OrderRef = fmt.Sprintf("SIM-%d", now.Unix())
	}

	// The merchant already placed the order, so a storage failure is logged
	// and audited but the checkout still reports success.
	if err := o.purchases.AppendPurchase(ctx, rec); err != nil {
		log.Error().Err(err).Str("site", string(site)).Str("order", rec.OrderRef).Msg("failed to store purchase record")
		o.record(ctx, models.EventPurchaseStore, false, map[string]any{"data": rec, "err": err.Error()})
		return CheckoutOutcome{Purchase: rec, Result: res}, nil
	}
	o.metrics.PurchaseStored(rec.AmountUSD)
	o.record(ctx, models.EventPurchaseStore, true, map[string]any{"data": rec})
	return CheckoutOutcome{Purchase: rec, Result: res}, nil
}

func (o *Orchestrator) resolve(name string) (models.Site, merchant.Driver, error) {
	site, err := models.ParseSite(name)
	if err != nil {
		return "", nil, err
	}
	driver, err := o.drivers.Driver(site)
	if err != nil {
		return "", nil, err
	}
	return site, driver, nil
}

func (o *Orchestrator) checkApproval(ctx context.Context, site models.Site, token string) error {
	if strings.TrimSpace(token) == "" {
		if o.opts.RequireApproval {
			return errclass.ErrApprovalRequired.WithMessage("decision_token is required")
		}
		log.Warn().Str("site", string(site)).Msg("checkout proceeding without approval")
		return nil
	}
	rec, err := o.approvals.Lookup(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, errclass.ErrApprovalNotFound), errors.Is(err, errclass.ErrInvalidToken):
		return errclass.ErrApprovalNotFound.WithMessage("approval not found")
	default:
		return fmt.Errorf("approval read error: %w", err)
	}
	if !rec.Approved() {
		return errclass.ErrApprovalDenied.WithMessage("approval denied")
	}
	return nil
}

func (o *Orchestrator) acquire(ctx context.Context, site models.Site, driver merchant.Driver) (*merchant.Session, error) {
	sess, err := o.sessions.Acquire(ctx, site, driver)
	if err != nil {
		return nil, err
	}
	o.record(ctx, models.EventSessionAcquired, true, map[string]any{"site": site})
	return sess, nil
}

func (o *Orchestrator) record(ctx context.Context, typ string, ok bool, payload map[string]any) {
	o.audit.Record(ctx, models.AuditEvent{
		Timestamp: o.now(),
		Type:      typ,
		OK:        ok,
		Payload:   payload,
	})
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// upstreamError classes an unclassed driver failure as ErrUpstream, keeping
// the driver's message.
func upstreamError(err error) error {
	var classed *errclass.Error
	if errors.As(err, &classed) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errclass.ErrUpstream.WithMessage(err.Error())
}
