package gift

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for gift rule data access.
type Repository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *gorm.DB) Repository

	ListActiveRules(ctx context.Context, storeID uuid.UUID, trigger TriggerKey) ([]*Rule, error)
	HasGrant(ctx context.Context, ruleID, orderID uuid.UUID) (bool, error)
	CreateGrant(ctx context.Context, grant *Grant) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new gift repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) ListActiveRules(ctx context.Context, storeID uuid.UUID, trigger TriggerKey) ([]*Rule, error) {
	var rules []*Rule
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND trigger_key = ? AND active", storeID, trigger).
		Find(&rules).Error
	return rules, err
}

func (r *repository) HasGrant(ctx context.Context, ruleID, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Grant{}).
		Where("rule_id = ? AND order_id = ?", ruleID, orderID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CreateGrant(ctx context.Context, grant *Grant) error {
	return r.db.WithContext(ctx).Create(grant).Error
}
