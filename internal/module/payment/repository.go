package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wujiit/qilingstore-sub001/internal/shared/money"
)

// Repository defines the interface for payment data access.
type Repository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *gorm.DB) Repository

	CreatePayment(ctx context.Context, payment *Payment) error
	GetByPaymentNo(ctx context.Context, paymentNo string) (*Payment, error)
	// GetByPaymentNoForUpdate loads a payment under a pessimistic row
	// lock. Must be called inside a transaction.
	GetByPaymentNoForUpdate(ctx context.Context, paymentNo string) (*Payment, error)
	GetByOutTradeNoForUpdate(ctx context.Context, outTradeNo string) (*Payment, error)
	UpdatePayment(ctx context.Context, payment *Payment) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error)
	// ListPendingSiblingsForUpdate locks and returns the other pending
	// payments on the same order.
	ListPendingSiblingsForUpdate(ctx context.Context, orderID, exceptID uuid.UUID) ([]*Payment, error)
	PaymentNoExists(ctx context.Context, paymentNo string) (bool, error)
	// UpsertLedgerEntry inserts the capture record for a payment,
	// doing nothing when a row for the payment_no already exists.
	UpsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error

	CreateRefund(ctx context.Context, refund *Refund) error
	UpdateRefund(ctx context.Context, refund *Refund) error
	ListRefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error)
	// SumRefunds totals refund amounts for a payment in the given
	// statuses.
	SumRefunds(ctx context.Context, paymentID uuid.UUID, statuses []RefundStatus) (decimal.Decimal, error)
	RefundNoExists(ctx context.Context, refundNo string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) CreatePayment(ctx context.Context, payment *Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) GetByPaymentNo(ctx context.Context, paymentNo string) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).First(&p, "payment_no = ?", paymentNo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetByPaymentNoForUpdate(ctx context.Context, paymentNo string) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "payment_no = ?", paymentNo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetByOutTradeNoForUpdate(ctx context.Context, outTradeNo string) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "out_trade_no = ?", outTradeNo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) UpdatePayment(ctx context.Context, payment *Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	var payments []*Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at").
		Find(&payments).Error
	return payments, err
}

func (r *repository) ListPendingSiblingsForUpdate(ctx context.Context, orderID, exceptID uuid.UUID) ([]*Payment, error) {
	var payments []*Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND id <> ? AND status = ?", orderID, exceptID, StatusPending).
		Find(&payments).Error
	return payments, err
}

func (r *repository) PaymentNoExists(ctx context.Context, paymentNo string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Payment{}).
		Where("payment_no = ?", paymentNo).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) UpsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_no"}},
			DoNothing: true,
		}).
		Create(entry).Error
}

func (r *repository) CreateRefund(ctx context.Context, refund *Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) UpdateRefund(ctx context.Context, refund *Refund) error {
	return r.db.WithContext(ctx).Save(refund).Error
}

func (r *repository) ListRefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error) {
	var refunds []*Refund
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at").
		Find(&refunds).Error
	return refunds, err
}

func (r *repository) SumRefunds(ctx context.Context, paymentID uuid.UUID, statuses []RefundStatus) (decimal.Decimal, error) {
	var total *string
	err := r.db.WithContext(ctx).Model(&Refund{}).
		Select("SUM(amount)").
		Where("payment_id = ? AND status IN ?", paymentID, statuses).
		Scan(&total).Error
	if err != nil {
		return money.Zero, err
	}
	if total == nil {
		return money.Zero, nil
	}
	return decimal.NewFromString(*total)
}

func (r *repository) RefundNoExists(ctx context.Context, refundNo string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Refund{}).
		Where("refund_no = ?", refundNo).
		Count(&count).Error
	return count > 0, err
}
