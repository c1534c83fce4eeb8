package customer

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer represents a store member with aggregate spend and loyalty
// point balance. Aggregates are adjusted by the payment orchestrator
// when an order is first paid and when refunds land.
type Customer struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoreID    uuid.UUID       `json:"store_id" gorm:"type:uuid;not null;index"`
	Name       string          `json:"name" gorm:"not null"`
	Phone      string          `json:"phone" gorm:"index"`
	TotalSpend decimal.Decimal `json:"total_spend" gorm:"type:numeric(14,2);not null;default:0"`
	VisitCount int             `json:"visit_count" gorm:"not null;default:0"`
	Points     int64           `json:"points" gorm:"not null;default:0"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TableName returns the database table name.
func (Customer) TableName() string {
	return "customers"
}

// LedgerReason classifies loyalty ledger entries.
type LedgerReason string

const (
	ReasonOrderPaid   LedgerReason = "order_paid"
	ReasonOrderRefund LedgerReason = "order_refund"
	ReasonManual      LedgerReason = "manual"
)

// LedgerEntry is one loyalty point movement. The partial unique index
// makes the order_paid award idempotent per order; refund entries may
// repeat for the same order.
type LedgerEntry struct {
	ID             uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CustomerID     uuid.UUID    `json:"customer_id" gorm:"type:uuid;not null;index"`
	StoreID        uuid.UUID    `json:"store_id" gorm:"type:uuid;not null"`
	Points         int64        `json:"points" gorm:"not null"`
	Balance        int64        `json:"balance" gorm:"not null"`
	Reason         LedgerReason `json:"reason" gorm:"not null;uniqueIndex:idx_ledger_paid_order,where:reason = 'order_paid'"`
	RelatedOrderID *uuid.UUID   `json:"related_order_id,omitempty" gorm:"type:uuid;uniqueIndex:idx_ledger_paid_order,where:reason = 'order_paid'"`
	CreatedAt      time.Time    `json:"created_at"`
}

// TableName returns the database table name.
func (LedgerEntry) TableName() string {
	return "loyalty_ledger"
}
