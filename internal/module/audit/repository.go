package audit

import (
	"context"

	"gorm.io/gorm"
)

// Repository defines the interface for audit event data access.
type Repository interface {
	Append(ctx context.Context, event *Event) error
	ListByPaymentNo(ctx context.Context, paymentNo string) ([]*Event, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new audit repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Append(ctx context.Context, event *Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByPaymentNo(ctx context.Context, paymentNo string) ([]*Event, error) {
	var events []*Event
	err := r.db.WithContext(ctx).
		Where("payment_no = ?", paymentNo).
		Order("created_at").
		Find(&events).Error
	return events, err
}
