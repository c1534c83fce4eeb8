package printing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service queues receipt print jobs.
type Service struct {
	repo Repository
	log  *zap.Logger
}

// NewService creates a new printing service.
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// WithTx returns a service whose repository is bound to tx.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{repo: s.repo.WithTx(tx), log: s.log}
}

// EnqueueReceipt queues a receipt job for the order on the store's
// first active printer. Returns nil when the store has no eligible
// printer, which is not an error.
func (s *Service) EnqueueReceipt(ctx context.Context, orderID, storeID uuid.UUID) (*uuid.UUID, error) {
	printer, err := s.repo.FirstActivePrinter(ctx, storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Debug("no eligible printer for store", zap.String("store_id", storeID.String()))
			return nil, nil
		}
		return nil, err
	}

	job := &Job{
		StoreID:   storeID,
		PrinterID: printer.ID,
		OrderID:   orderID,
		Status:    JobStatusQueued,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.log.Info("receipt print job queued",
		zap.String("job_id", job.ID.String()),
		zap.String("order_id", orderID.String()),
		zap.String("printer", printer.Name),
	)
	return &job.ID, nil
}
