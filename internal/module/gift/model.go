package gift

import (
	"time"

	"github.com/google/uuid"
)

// TriggerKey identifies the event that fires a rule.
type TriggerKey string

const (
	// TriggerFirstPaid fires when an order is paid for the first time.
	TriggerFirstPaid TriggerKey = "first_paid"
)

// Rule is a promotional gift rule configured per store.
type Rule struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoreID   uuid.UUID  `json:"store_id" gorm:"type:uuid;not null;index"`
	Trigger   TriggerKey `json:"trigger" gorm:"column:trigger_key;not null;index"`
	Name      string     `json:"name" gorm:"not null"`
	ItemName  string     `json:"item_name" gorm:"not null"`
	Quantity  int        `json:"quantity" gorm:"not null;default:1"`
	Active    bool       `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Rule) TableName() string {
	return "gift_rules"
}

// Grant records one rule firing for an order. The unique index keeps a
// rule from granting twice for the same order.
type Grant struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RuleID     uuid.UUID  `json:"rule_id" gorm:"type:uuid;not null;uniqueIndex:idx_grant_rule_order"`
	OrderID    uuid.UUID  `json:"order_id" gorm:"type:uuid;not null;uniqueIndex:idx_grant_rule_order"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty" gorm:"type:uuid"`
	ItemName   string     `json:"item_name" gorm:"not null"`
	Quantity   int        `json:"quantity" gorm:"not null"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (Grant) TableName() string {
	return "gift_grants"
}
