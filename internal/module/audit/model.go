package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies payment audit events.
type EventKind string

const (
	KindPaymentCreated  EventKind = "payment_created"
	KindPaymentFailed   EventKind = "payment_failed"
	KindNotifyReceived  EventKind = "notify_received"
	KindNotifyRejected  EventKind = "notify_rejected"
	KindPaymentSuccess  EventKind = "payment_success"
	KindPaymentClosed   EventKind = "payment_closed"
	KindRefundRequested EventKind = "refund_requested"
	KindRefundSuccess   EventKind = "refund_success"
	KindRefundFailed    EventKind = "refund_failed"
)

// Event is one append-only audit record for a payment. Events are
// written outside the state-changing transaction: losing one on a
// crash is acceptable, blocking a payment on audit I/O is not.
type Event struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentNo string         `json:"payment_no" gorm:"not null;index"`
	OrderID   *uuid.UUID     `json:"order_id,omitempty" gorm:"type:uuid;index"`
	Kind      EventKind      `json:"kind" gorm:"not null"`
	Channel   string         `json:"channel"`
	Detail    string     `json:"detail,omitempty"`
	Payload   string     `json:"payload,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (Event) TableName() string {
	return "payment_events"
}
