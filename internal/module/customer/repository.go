package customer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for customer data access.
type Repository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, customer *Customer) error
	Get(ctx context.Context, id uuid.UUID) (*Customer, error)
	// GetForUpdate loads a customer under a pessimistic row lock.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Customer, error)
	Update(ctx context.Context, customer *Customer) error

	AppendLedger(ctx context.Context, entry *LedgerEntry) error
	HasLedgerEntry(ctx context.Context, orderID uuid.UUID, reason LedgerReason) (bool, error)
	ListLedger(ctx context.Context, customerID uuid.UUID, offset, limit int) ([]*LedgerEntry, int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new customer repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, customer *Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Customer, error) {
	var c Customer
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Customer, error) {
	var c Customer
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) Update(ctx context.Context, customer *Customer) error {
	return r.db.WithContext(ctx).Save(customer).Error
}

func (r *repository) AppendLedger(ctx context.Context, entry *LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) HasLedgerEntry(ctx context.Context, orderID uuid.UUID, reason LedgerReason) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&LedgerEntry{}).
		Where("related_order_id = ? AND reason = ?", orderID, reason).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListLedger(ctx context.Context, customerID uuid.UUID, offset, limit int) ([]*LedgerEntry, int64, error) {
	var entries []*LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&LedgerEntry{}).Where("customer_id = ?", customerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
