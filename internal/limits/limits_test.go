package limits

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/storage"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	limitsPath := filepath.Join(dir, "limits.json")
	b, err := storage.NewFileBackend(limitsPath, filepath.Join(dir, "decisions"), filepath.Join(dir, "purchases"))
	require.NoError(t, err)
	return NewRegistry(b), limitsPath
}

func TestGet_DefaultsDenyEverything(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	l, err := r.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Limits{}, l)

	assert.ErrorIs(t, r.Enforce(ctx, 0.01, 0), errclass.ErrCapExceeded)
	assert.ErrorIs(t, r.Enforce(ctx, 0, 1), errclass.ErrQtyExceeded)
	assert.NoError(t, r.Enforce(ctx, 0, 0))
}

func TestSetThenEnforce(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	l, err := r.Set(ctx, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Limits{CapUSD: 100, MaxQty: 2}, l)

	got, err := r.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, l, got)

	assert.NoError(t, r.Enforce(ctx, 50, 2))
	assert.NoError(t, r.Enforce(ctx, 100, 1), "amount equal to cap is allowed")

	err = r.Enforce(ctx, 120, 1)
	require.ErrorIs(t, err, errclass.ErrCapExceeded)
	assert.Equal(t, "Amount $120.00 exceeds cap $100.00", errclass.Message(err))

	err = r.Enforce(ctx, 10, 3)
	require.ErrorIs(t, err, errclass.ErrQtyExceeded)
	assert.Equal(t, "Quantity 3 exceeds allowed 2", errclass.Message(err))
}

func TestEnforce_CapCheckedBeforeQty(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	_, err := r.Set(ctx, 10, 1)
	require.NoError(t, err)

	err = r.Enforce(ctx, 20, 5)
	assert.ErrorIs(t, err, errclass.ErrCapExceeded)
	assert.True(t, errclass.IsLimitExceeded(err))
}

func TestSet_RejectsInvalid(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	_, err := r.Set(ctx, 50, 1)
	require.NoError(t, err)

	cases := []struct {
		name string
		cap  float64
		qty  int
	}{
		{"negative cap", -1, 1},
		{"negative qty", 10, -1},
		{"nan cap", math.NaN(), 1},
		{"infinite cap", math.Inf(1), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Set(ctx, tc.cap, tc.qty)
			assert.ErrorIs(t, err, errclass.ErrInvalidLimits)
		})
	}

	got, err := r.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Limits{CapUSD: 50, MaxQty: 1}, got, "rejected updates leave limits unchanged")
}

func TestGet_CorruptFileDeniesByDefault(t *testing.T) {
	r, path := newRegistry(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	l, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Limits{}, l)
}

type failingStore struct{}

func (failingStore) GetLimits(context.Context) (models.Limits, error) {
	return models.Limits{}, errors.New("connection refused")
}

func (failingStore) PutLimits(context.Context, models.Limits) error {
	return errors.New("connection refused")
}

func TestStoreFailuresSurface(t *testing.T) {
	r := NewRegistry(failingStore{})
	ctx := context.Background()

	_, err := r.Get(ctx)
	assert.Error(t, err)
	assert.Error(t, r.Enforce(ctx, 0, 0))
	_, err = r.Set(ctx, 1, 1)
	assert.Error(t, err)
}
