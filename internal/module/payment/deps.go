package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wujiit/qilingstore-sub001/internal/module/audit"
	"github.com/wujiit/qilingstore-sub001/internal/module/gift"
)

// Loyalty is the point-award contract the orchestrator calls when an
// order is first paid.
type Loyalty interface {
	AwardPoints(ctx context.Context, customerID, storeID, orderID uuid.UUID, payable decimal.Decimal) (int64, error)
	RecordRefund(ctx context.Context, customerID, storeID, orderID uuid.UUID, amount decimal.Decimal) error
}

// Gifting is the promotional-rule contract.
type Gifting interface {
	TriggerRule(ctx context.Context, trigger gift.TriggerKey, storeID, orderID uuid.UUID, customerID *uuid.UUID) (*gift.TriggerResult, error)
}

// ReceiptPrinter is the print-queue contract. A nil job ID means no
// eligible printer, which is not an error.
type ReceiptPrinter interface {
	EnqueueReceipt(ctx context.Context, orderID, storeID uuid.UUID) (*uuid.UUID, error)
}

// Auditor records append-only payment events.
type Auditor interface {
	Record(ctx context.Context, paymentNo string, orderID *uuid.UUID, kind audit.EventKind, channel, detail string, payload any)
}

// Collaborators bundles the side-effect dependencies. Each factory
// binds the collaborator to the transaction the orchestrator is
// holding, so side effects see the locked rows.
type Collaborators struct {
	Loyalty  func(tx *gorm.DB) Loyalty
	Gifting  func(tx *gorm.DB) Gifting
	Receipts func(tx *gorm.DB) ReceiptPrinter
}
