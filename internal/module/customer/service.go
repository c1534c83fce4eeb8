package customer

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wujiit/qilingstore-sub001/internal/shared/money"
)

// Service provides customer aggregate and loyalty operations. The
// mutating methods are designed to run inside the payment
// orchestrator's transaction via WithTx.
type Service struct {
	repo Repository
	log  *zap.Logger
}

// NewService creates a new customer service.
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// WithTx returns a service whose repository is bound to tx.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{repo: s.repo.WithTx(tx), log: s.log}
}

// Get returns a customer by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return s.repo.Get(ctx, id)
}

// AwardPoints grants floor(payable) points for a freshly paid order and
// bumps the customer's aggregate spend and visit count. Safe to call
// more than once per order: the ledger check makes repeats a no-op.
func (s *Service) AwardPoints(ctx context.Context, customerID, storeID, orderID uuid.UUID, payable decimal.Decimal) (int64, error) {
	awarded, err := s.repo.HasLedgerEntry(ctx, orderID, ReasonOrderPaid)
	if err != nil {
		return 0, err
	}
	if awarded {
		return 0, ErrAlreadyAwarded
	}

	c, err := s.repo.GetForUpdate(ctx, customerID)
	if err != nil {
		return 0, err
	}

	points := payable.Floor().IntPart()
	c.Points += points
	c.TotalSpend = money.Round2(c.TotalSpend.Add(payable))
	c.VisitCount++

	if err := s.repo.Update(ctx, c); err != nil {
		return 0, err
	}

	entry := &LedgerEntry{
		CustomerID:     c.ID,
		StoreID:        storeID,
		Points:         points,
		Balance:        c.Points,
		Reason:         ReasonOrderPaid,
		RelatedOrderID: &orderID,
	}
	if err := s.repo.AppendLedger(ctx, entry); err != nil {
		return 0, err
	}

	s.log.Info("loyalty points awarded",
		zap.String("customer_id", c.ID.String()),
		zap.String("order_id", orderID.String()),
		zap.Int64("points", points),
		zap.Int64("balance", c.Points),
	)
	return points, nil
}

// RecordRefund lowers the customer's aggregate spend, claws back
// floor(amount) points and writes a negative ledger entry. The point
// balance is floored at zero.
func (s *Service) RecordRefund(ctx context.Context, customerID, storeID, orderID uuid.UUID, amount decimal.Decimal) error {
	c, err := s.repo.GetForUpdate(ctx, customerID)
	if err != nil {
		return err
	}

	c.TotalSpend = money.Round2(c.TotalSpend.Sub(amount))
	if c.TotalSpend.IsNegative() {
		c.TotalSpend = money.Zero
	}

	clawback := amount.Floor().IntPart()
	if clawback > c.Points {
		clawback = c.Points
	}
	c.Points -= clawback

	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}

	entry := &LedgerEntry{
		CustomerID:     c.ID,
		StoreID:        storeID,
		Points:         -clawback,
		Balance:        c.Points,
		Reason:         ReasonOrderRefund,
		RelatedOrderID: &orderID,
	}
	return s.repo.AppendLedger(ctx, entry)
}
