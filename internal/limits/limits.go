// Package limits holds the global spending cap and quantity ceiling that every
// add-to-cart and checkout is checked against.
package limits

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/storage"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Store is the persistence the registry needs.
type Store interface {
	GetLimits(ctx context.Context) (models.Limits, error)
	PutLimits(ctx context.Context, limits models.Limits) error
}

// Registry reads and replaces the current limits. Limits are read fresh on
// every call so a change is visible to the next request.
type Registry struct {
	store Store
	mu    sync.Mutex
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Set replaces the current limits.
func (r *Registry) Set(ctx context.Context, capUSD float64, maxQty int) (models.Limits, error) {
	if math.IsNaN(capUSD) || math.IsInf(capUSD, 0) || capUSD < 0 {
		return models.Limits{}, errclass.ErrInvalidLimits.WithMessagef("cap must be a finite non-negative amount, got %v", capUSD)
	}
	if maxQty < 0 {
		return models.Limits{}, errclass.ErrInvalidLimits.WithMessagef("qty must be non-negative, got %d", maxQty)
	}
	l := models.Limits{CapUSD: capUSD, MaxQty: maxQty}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.PutLimits(ctx, l); err != nil {
		return models.Limits{}, fmt.Errorf("saving limits: %w", err)
	}
	return l, nil
}

// Get returns the current limits. Unset or unreadable limits are {0, 0},
// which denies every purchase.
func (r *Registry) Get(ctx context.Context) (models.Limits, error) {
	l, err := r.store.GetLimits(ctx)
	switch {
	case err == nil:
		return l, nil
	case errors.Is(err, storage.ErrNotFound):
		return models.Limits{}, nil
	case errors.Is(err, errclass.ErrStoreUnreadable):
		log.Warn().Err(err).Msg("limits unreadable, denying by default")
		return models.Limits{}, nil
	default:
		return models.Limits{}, fmt.Errorf("loading limits: %w", err)
	}
}

// Enforce checks amount against the cap, then qty against the ceiling.
func (r *Registry) Enforce(ctx context.Context, amountUSD float64, qty int) error {
	l, err := r.Get(ctx)
	if err != nil {
		return err
	}
	if amountUSD > l.CapUSD || math.IsNaN(amountUSD) {
		return errclass.ErrCapExceeded.WithMessagef("Amount $%.2f exceeds cap $%.2f", amountUSD, l.CapUSD)
	}
	if qty > l.MaxQty {
		return errclass.ErrQtyExceeded.WithMessagef("Quantity %d exceeds allowed %d", qty, l.MaxQty)
	}
	return nil
}
