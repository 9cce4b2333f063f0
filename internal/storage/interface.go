package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/checkoutgate/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// Backend defines the persistence interface for limits, decisions and purchases.
// Encrypted site sessions are not part of it; they always live in per-site files.
type Backend interface {
	// Limits
	GetLimits(ctx context.Context) (models.Limits, error)
	PutLimits(ctx context.Context, limits models.Limits) error

	// Decisions
	CreateDecision(ctx context.Context, rec models.DecisionRecord) error
	PutDecision(ctx context.Context, rec models.DecisionRecord) error
	GetDecision(ctx context.Context, token string) (models.DecisionRecord, error)

	// Purchases
	AppendPurchase(ctx context.Context, rec models.PurchaseRecord) error
	ListPurchases(ctx context.Context, limit int) ([]models.PurchaseRecord, error)

	// Health
	Stats(ctx context.Context) (Stats, error)

	// Lifecycle
	Close()
}

// Stats summarizes stored decisions and purchases for the health endpoint.
type Stats struct {
	DecisionCount  int
	PurchaseCount  int
	LatestDecision time.Time
	LatestPurchase time.Time
}
