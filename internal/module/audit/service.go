package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service records payment audit events. Record is best effort: a
// failed write is logged and swallowed.
type Service struct {
	repo Repository
	log  *zap.Logger
}

// NewService creates a new audit service.
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Record appends an audit event. The payload is JSON-encoded; encoding
// failures degrade to an empty payload.
func (s *Service) Record(ctx context.Context, paymentNo string, orderID *uuid.UUID, kind EventKind, channel, detail string, payload any) {
	event := &Event{
		PaymentNo: paymentNo,
		OrderID:   orderID,
		Kind:      kind,
		Channel:   channel,
		Detail:    detail,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			event.Payload = string(data)
		}
	}

	if err := s.repo.Append(ctx, event); err != nil {
		s.log.Warn("audit event write failed",
			zap.String("payment_no", paymentNo),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// History returns the audit trail of a payment.
func (s *Service) History(ctx context.Context, paymentNo string) ([]*Event, error) {
	return s.repo.ListByPaymentNo(ctx, paymentNo)
}
