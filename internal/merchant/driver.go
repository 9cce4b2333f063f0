// Package merchant defines the boundary to merchant website automation: the
// Driver capability set, the transport Session drivers act through, and the
// simulated drivers used until real ones are plugged in.
package merchant

import (
	"context"
	"fmt"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/pkg/models"
)

// Driver automates one merchant. Implementations must honour ctx cancellation
// on anything that touches the network.
type Driver interface {
	Site() models.Site
	// Login authenticates sess. A nil error means the session is now usable.
	Login(ctx context.Context, sess *Session) error
	// IsSessionValid performs a cheap authenticated check of sess.
	IsSessionValid(ctx context.Context, sess *Session) bool
	AddToCart(ctx context.Context, sess *Session, productID string, qty int) (CartResult, error)
	Checkout(ctx context.Context, sess *Session, capUSD float64) (CheckoutResult, error)
}

// CartResult is returned verbatim to the caller of add-to-cart.
type CartResult struct {
	OK        bool        `json:"ok"`
	Simulated bool        `json:"simulated,omitempty"`
	Site      models.Site `json:"site"`
	ProductID string      `json:"id"`
	Qty       int         `json:"qty"`
}

// CheckoutResult is returned verbatim to the caller of checkout.
type CheckoutResult struct {
	OK        bool    `json:"ok"`
	Simulated bool    `json:"simulated,omitempty"`
	OrderRef  string  `json:"order"`
	CapUSD    float64 `json:"cap"`
}

// Registry resolves a site to its driver.
type Registry struct {
	drivers map[models.Site]Driver
}

// NewRegistry indexes drivers by the site they report.
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[models.Site]Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.Site()] = d
	}
	return r
}

// Driver returns the driver for site, or ErrUnsupportedSite.
func (r *Registry) Driver(site models.Site) (Driver, error) {
	d, ok := r.drivers[site]
	if !ok {
		return nil, errclass.ErrUnsupportedSite.WithMessage(fmt.Sprintf("unsupported site: %s", site))
	}
	return d, nil
}
