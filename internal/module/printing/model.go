package printing

import (
	"time"

	"github.com/google/uuid"
)

// Printer is a receipt printer registered to a store.
type Printer struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoreID   uuid.UUID `json:"store_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name" gorm:"not null"`
	SN        string    `json:"sn" gorm:"uniqueIndex;not null"`
	Active    bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Printer) TableName() string {
	return "printers"
}

// JobStatus represents the status of a print job.
type JobStatus string

const (
	JobStatusQueued JobStatus = "queued"
	JobStatusSent   JobStatus = "sent"
	JobStatusFailed JobStatus = "failed"
)

// Job is a queued receipt print job. Dispatch to the physical printer
// happens outside this service; enqueueing only records the job.
type Job struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoreID   uuid.UUID `json:"store_id" gorm:"type:uuid;not null;index"`
	PrinterID uuid.UUID `json:"printer_id" gorm:"type:uuid;not null"`
	OrderID   uuid.UUID `json:"order_id" gorm:"type:uuid;not null;index"`
	Status    JobStatus `json:"status" gorm:"not null;default:queued"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Job) TableName() string {
	return "print_jobs"
}
