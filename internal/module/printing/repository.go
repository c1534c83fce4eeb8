package printing

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for printing data access.
type Repository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *gorm.DB) Repository

	FirstActivePrinter(ctx context.Context, storeID uuid.UUID) (*Printer, error)
	CreateJob(ctx context.Context, job *Job) error
	ListPendingJobs(ctx context.Context, storeID uuid.UUID, limit int) ([]*Job, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new printing repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) FirstActivePrinter(ctx context.Context, storeID uuid.UUID) (*Printer, error) {
	var p Printer
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND active", storeID).
		Order("created_at").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) ListPendingJobs(ctx context.Context, storeID uuid.UUID, limit int) ([]*Job, error) {
	var jobs []*Job
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND status = ?", storeID, JobStatusQueued).
		Order("created_at").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
