package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wujiit/qilingstore-sub001/internal/module/payment/provider"
)

// Status represents the status of a payment attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusClosed  Status = "closed"
)

// RefundStatus represents the status of a refund attempt.
type RefundStatus string

const (
	RefundStatusPending RefundStatus = "pending"
	RefundStatusSuccess RefundStatus = "success"
	RefundStatusFailed  RefundStatus = "failed"
)

// Payment is one online payment attempt against an order. The amount
// is the order's outstanding amount captured at creation time and is
// immutable once set. At most one transition to success happens per
// payment, enforced by row locking plus the idempotency check at the
// top of the success handler.
type Payment struct {
	ID             uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID        uuid.UUID        `json:"order_id" gorm:"type:uuid;not null;index"`
	PaymentNo      string           `json:"payment_no" gorm:"uniqueIndex;not null"`
	OutTradeNo     string           `json:"out_trade_no" gorm:"uniqueIndex;not null"`
	Channel        provider.Channel `json:"channel" gorm:"not null"`
	SceneRequested provider.Scene   `json:"scene_requested" gorm:"not null"`
	Scene          provider.Scene   `json:"scene" gorm:"not null"`
	SceneFallback  bool             `json:"scene_fallback_used" gorm:"not null;default:false"`
	Amount         decimal.Decimal  `json:"amount" gorm:"type:numeric(12,2);not null"`
	Status         Status           `json:"status" gorm:"not null;default:pending;index"`
	GatewayTradeNo string           `json:"gateway_trade_no,omitempty" gorm:"index"`
	PayerID        string           `json:"payer_id,omitempty"`
	FailCode       string           `json:"fail_code,omitempty"`
	RawResponse    string           `json:"-" gorm:"type:jsonb"`
	PaidAt         *time.Time       `json:"paid_at,omitempty"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TableName returns the database table name.
func (Payment) TableName() string {
	return "online_payments"
}

// IsPending returns true if the payment is still open.
func (p *Payment) IsPending() bool {
	return p.Status == StatusPending
}

// LedgerEntry is the capture record written when a success is applied,
// one row per payment. The unique payment_no turns a re-delivered
// notification racing past the status check into a no-op insert.
type LedgerEntry struct {
	ID        uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentNo string           `json:"payment_no" gorm:"uniqueIndex;not null"`
	OrderID   uuid.UUID        `json:"order_id" gorm:"type:uuid;not null;index"`
	Channel   provider.Channel `json:"channel" gorm:"not null"`
	Amount    decimal.Decimal  `json:"amount" gorm:"type:numeric(12,2);not null"`
	PaidAt    time.Time        `json:"paid_at"`
	CreatedAt time.Time        `json:"created_at"`
}

// TableName returns the database table name.
func (LedgerEntry) TableName() string {
	return "online_payment_ledger"
}

// Refund is one refund attempt against a successful payment. Created
// and finalized synchronously within one refund call; immutable once
// success.
type Refund struct {
	ID              uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentID       uuid.UUID        `json:"payment_id" gorm:"type:uuid;not null;index"`
	OrderID         uuid.UUID        `json:"order_id" gorm:"type:uuid;not null;index"`
	RefundNo        string           `json:"refund_no" gorm:"uniqueIndex;not null"`
	OutRefundNo     string           `json:"out_refund_no" gorm:"not null"`
	Channel         provider.Channel `json:"channel" gorm:"not null"`
	Amount          decimal.Decimal  `json:"refund_amount" gorm:"type:numeric(12,2);not null"`
	Status          RefundStatus     `json:"status" gorm:"not null;default:pending"`
	Reason          string           `json:"reason,omitempty"`
	GatewayRefundNo string           `json:"gateway_refund_no,omitempty"`
	RawResponse     string           `json:"-" gorm:"type:jsonb"`
	RefundedAt      *time.Time       `json:"refunded_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// TableName returns the database table name.
func (Refund) TableName() string {
	return "online_payment_refunds"
}
