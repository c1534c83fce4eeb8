package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/wujiit/qilingstore-sub001/internal/shared/errors"
	"github.com/wujiit/qilingstore-sub001/internal/shared/money"
	"github.com/wujiit/qilingstore-sub001/internal/utils/random"
)

// Service provides order operations. State transitions driven by
// payments live in the payment orchestrator, which goes through the
// Repository directly so it can hold the row lock.
type Service struct {
	repo Repository
	log  *zap.Logger
}

// NewService creates a new order service.
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Create creates a new pending order.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Order, error) {
	payable := money.Round2(req.Payable)
	if !payable.IsPositive() {
		return nil, apperrors.BadRequest("payable amount must be positive")
	}

	o := &Order{
		OrderNo:    generateOrderNo(),
		StoreID:    req.StoreID,
		CustomerID: req.CustomerID,
		Subject:    req.Subject,
		Payable:    payable,
		Paid:       money.Zero,
		Status:     StatusPending,
		Remark:     req.Remark,
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.log.Info("order created",
		zap.String("order_no", o.OrderNo),
		zap.String("store_id", o.StoreID.String()),
		zap.String("payable", o.Payable.StringFixed(2)),
	)
	return o, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// GetByNo returns an order by its order number.
func (s *Service) GetByNo(ctx context.Context, orderNo string) (*Order, error) {
	return s.repo.GetByNo(ctx, orderNo)
}

// List returns orders for a store.
func (s *Service) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	orders, total, err := s.repo.List(ctx, req.StoreID, req.Status, (req.Page-1)*req.PageSize, req.PageSize)
	if err != nil {
		return nil, err
	}

	return &ListResponse{
		Orders:   orders,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}

// Cancel cancels a pending order. Orders with money applied must go
// through the refund flow first.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, apperrors.Business(fmt.Sprintf("cannot cancel order in status %s", o.Status))
	}

	now := time.Now()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// generateOrderNo generates an order number like ORD-20260115-7K2M9.
func generateOrderNo() string {
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), random.UpperAlphaNum(5))
}
