package customer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	customers map[uuid.UUID]*Customer
	ledger    []*LedgerEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{customers: make(map[uuid.UUID]*Customer)}
}

func (f *fakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepo) Create(ctx context.Context, c *Customer) error {
	f.customers[c.ID] = c
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id uuid.UUID) (*Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return c, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return f.Get(ctx, id)
}

func (f *fakeRepo) Update(ctx context.Context, c *Customer) error {
	f.customers[c.ID] = c
	return nil
}

func (f *fakeRepo) AppendLedger(ctx context.Context, e *LedgerEntry) error {
	f.ledger = append(f.ledger, e)
	return nil
}

func (f *fakeRepo) HasLedgerEntry(ctx context.Context, orderID uuid.UUID, reason LedgerReason) (bool, error) {
	for _, e := range f.ledger {
		if e.RelatedOrderID != nil && *e.RelatedOrderID == orderID && e.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) ListLedger(ctx context.Context, customerID uuid.UUID, offset, limit int) ([]*LedgerEntry, int64, error) {
	return f.ledger, int64(len(f.ledger)), nil
}

func TestAwardPoints(t *testing.T) {
	ctx := context.Background()
	storeID := uuid.New()
	orderID := uuid.New()

	t.Run("awards floor of payable", func(t *testing.T) {
		repo := newFakeRepo()
		c := &Customer{ID: uuid.New(), StoreID: storeID}
		repo.Create(ctx, c)

		svc := NewService(repo, zap.NewNop())
		points, err := svc.AwardPoints(ctx, c.ID, storeID, orderID, decimal.NewFromFloat(100.99))

		require.NoError(t, err)
		assert.Equal(t, int64(100), points)
		assert.Equal(t, int64(100), repo.customers[c.ID].Points)
		assert.Equal(t, 1, repo.customers[c.ID].VisitCount)
		assert.True(t, repo.customers[c.ID].TotalSpend.Equal(decimal.NewFromFloat(100.99)))
	})

	t.Run("second award for same order is rejected", func(t *testing.T) {
		repo := newFakeRepo()
		c := &Customer{ID: uuid.New(), StoreID: storeID}
		repo.Create(ctx, c)

		svc := NewService(repo, zap.NewNop())
		_, err := svc.AwardPoints(ctx, c.ID, storeID, orderID, decimal.NewFromInt(50))
		require.NoError(t, err)

		_, err = svc.AwardPoints(ctx, c.ID, storeID, orderID, decimal.NewFromInt(50))
		assert.ErrorIs(t, err, ErrAlreadyAwarded)
		assert.Equal(t, int64(50), repo.customers[c.ID].Points)
	})
}

func TestRecordRefund(t *testing.T) {
	ctx := context.Background()
	storeID := uuid.New()
	orderID := uuid.New()

	t.Run("decrements spend and points", func(t *testing.T) {
		repo := newFakeRepo()
		c := &Customer{ID: uuid.New(), StoreID: storeID, TotalSpend: decimal.NewFromInt(100), Points: 100}
		repo.Create(ctx, c)

		svc := NewService(repo, zap.NewNop())
		err := svc.RecordRefund(ctx, c.ID, storeID, orderID, decimal.NewFromInt(40))

		require.NoError(t, err)
		assert.True(t, repo.customers[c.ID].TotalSpend.Equal(decimal.NewFromInt(60)))
		assert.Equal(t, int64(60), repo.customers[c.ID].Points)
		require.Len(t, repo.ledger, 1)
		assert.Equal(t, int64(-40), repo.ledger[0].Points)
	})

	t.Run("spend and points floored at zero", func(t *testing.T) {
		repo := newFakeRepo()
		c := &Customer{ID: uuid.New(), StoreID: storeID, TotalSpend: decimal.NewFromInt(10), Points: 5}
		repo.Create(ctx, c)

		svc := NewService(repo, zap.NewNop())
		err := svc.RecordRefund(ctx, c.ID, storeID, orderID, decimal.NewFromInt(40))

		require.NoError(t, err)
		assert.True(t, repo.customers[c.ID].TotalSpend.IsZero())
		assert.Equal(t, int64(0), repo.customers[c.ID].Points)
	})
}
