package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wujiit/qilingstore-sub001/internal/shared/money"
)

// Status represents the status of an order.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusRefunded      Status = "refunded"
	StatusCancelled     Status = "cancelled"
	StatusCompleted     Status = "completed"
)

// Order represents a store order. Payable and Paid amounts are mutated
// only while holding the row lock; see the payment orchestrator.
type Order struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderNo     string          `json:"order_no" gorm:"uniqueIndex;not null"`
	StoreID     uuid.UUID       `json:"store_id" gorm:"type:uuid;not null;index"`
	CustomerID  *uuid.UUID      `json:"customer_id,omitempty" gorm:"type:uuid;index"`
	Subject     string          `json:"subject"`
	Payable     decimal.Decimal `json:"payable_amount" gorm:"type:numeric(12,2);not null"`
	Paid        decimal.Decimal `json:"paid_amount" gorm:"type:numeric(12,2);not null;default:0"`
	Status      Status          `json:"status" gorm:"not null;default:pending"`
	Remark      string          `json:"remark,omitempty"`
	FirstPaidAt *time.Time      `json:"first_paid_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName returns the database table name.
func (Order) TableName() string {
	return "orders"
}

// Outstanding returns payable minus paid, floored at zero.
func (o *Order) Outstanding() decimal.Decimal {
	out := o.Payable.Sub(o.Paid)
	if out.IsNegative() {
		return money.Zero
	}
	return out
}

// IsFullyPaid returns true if the paid amount covers the payable amount.
func (o *Order) IsFullyPaid() bool {
	return money.GreaterOrEqual(o.Paid, o.Payable)
}

// IsPayable returns true if the order can accept a new payment attempt.
func (o *Order) IsPayable() bool {
	switch o.Status {
	case StatusCancelled, StatusRefunded:
		return false
	}
	return !o.IsFullyPaid()
}

// ApplyPayment raises the paid amount and recomputes the status.
// The amount must already be clamped to the outstanding amount.
func (o *Order) ApplyPayment(amount decimal.Decimal, now time.Time) {
	o.Paid = money.Round2(o.Paid.Add(amount))
	if o.Paid.GreaterThan(o.Payable) {
		o.Paid = o.Payable
	}
	if o.IsFullyPaid() {
		o.Status = StatusPaid
	} else {
		o.Status = StatusPartiallyPaid
	}
	if o.FirstPaidAt == nil {
		t := now
		o.FirstPaidAt = &t
	}
}

// ApplyRefund lowers the paid amount, floored at zero, and recomputes
// the status: refunded once paid hits zero, partially_paid while below
// payable, otherwise unchanged.
func (o *Order) ApplyRefund(amount decimal.Decimal) {
	o.Paid = money.Round2(o.Paid.Sub(amount))
	if o.Paid.IsNegative() {
		o.Paid = money.Zero
	}
	switch {
	case money.Equal(o.Paid, money.Zero):
		o.Paid = money.Zero
		o.Status = StatusRefunded
	case o.Paid.LessThan(o.Payable):
		o.Status = StatusPartiallyPaid
	}
}
