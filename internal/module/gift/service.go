package gift

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TriggerResult reports the outcome of a rule trigger.
type TriggerResult struct {
	Triggered    bool     `json:"triggered"`
	ItemsGranted []string `json:"items_granted,omitempty"`
}

// Service evaluates promotional gift rules.
type Service struct {
	repo Repository
	log  *zap.Logger
}

// NewService creates a new gift service.
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// WithTx returns a service whose repository is bound to tx.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{repo: s.repo.WithTx(tx), log: s.log}
}

// TriggerRule fires all active rules for the given trigger. Returns
// triggered=false when no rule matches, which is not an error. Rules
// that already granted for this order are skipped.
func (s *Service) TriggerRule(ctx context.Context, trigger TriggerKey, storeID, orderID uuid.UUID, customerID *uuid.UUID) (*TriggerResult, error) {
	rules, err := s.repo.ListActiveRules(ctx, storeID, trigger)
	if err != nil {
		return nil, err
	}

	result := &TriggerResult{}
	for _, rule := range rules {
		granted, err := s.repo.HasGrant(ctx, rule.ID, orderID)
		if err != nil {
			return nil, err
		}
		if granted {
			continue
		}

		grant := &Grant{
			RuleID:     rule.ID,
			OrderID:    orderID,
			CustomerID: customerID,
			ItemName:   rule.ItemName,
			Quantity:   rule.Quantity,
		}
		if err := s.repo.CreateGrant(ctx, grant); err != nil {
			return nil, err
		}

		result.Triggered = true
		result.ItemsGranted = append(result.ItemsGranted, rule.ItemName)

		s.log.Info("gift rule triggered",
			zap.String("rule", rule.Name),
			zap.String("order_id", orderID.String()),
			zap.String("item", rule.ItemName),
		)
	}

	return result, nil
}
