package payment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wujiit/qilingstore-sub001/internal/module/order"
	"github.com/wujiit/qilingstore-sub001/internal/module/payment/provider"
)

// CreatePaymentRequest asks for a new payment attempt on an order.
type CreatePaymentRequest struct {
	OrderID uuid.UUID        `json:"order_id" binding:"required"`
	Channel provider.Channel `json:"channel" binding:"required"`
	Scene   provider.Scene   `json:"scene,omitempty"`
	// Client context
	OpenID   string `json:"openid,omitempty"`
	ClientIP string `json:"-"`
}

// PaymentCredentials is what the client needs to complete the payment
// in the scene actually used.
type PaymentCredentials struct {
	QRCode       string            `json:"qr_code,omitempty"`
	PayURL       string            `json:"pay_url,omitempty"`
	AppPayload   string            `json:"app_payload,omitempty"`
	JSAPIPayload map[string]string `json:"jsapi_payload,omitempty"`
}

// CreatePaymentResponse is the outcome of a create call.
type CreatePaymentResponse struct {
	Payment           *Payment           `json:"payment"`
	Credentials       PaymentCredentials `json:"credentials"`
	SceneFallbackUsed bool               `json:"scene_fallback_used"`
}

// SuccessOutcome reports what applying a success notification did.
// Warnings carry non-fatal side effect failures; callers must surface
// them to operators without treating the call as failed.
type SuccessOutcome struct {
	PaymentNo        string          `json:"payment_no"`
	AlreadyProcessed bool            `json:"already_processed"`
	ReportedAmount   decimal.Decimal `json:"reported_amount"`
	AppliedAmount    decimal.Decimal `json:"applied_amount"`
	OrderStatus      order.Status    `json:"order_status"`
	OrderPaid        decimal.Decimal `json:"order_paid_amount"`
	PointsAwarded    int64           `json:"points_awarded,omitempty"`
	PrintJobID       *uuid.UUID      `json:"print_job_id,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
}

// RefundPaymentRequest asks for a refund against a payment. A nil
// amount defaults to the full refundable amount.
type RefundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// SyncOutcome reports the result of a manual status reconciliation.
type SyncOutcome struct {
	PaymentNo string          `json:"payment_no"`
	Status    Status          `json:"status"`
	Changed   bool            `json:"changed"`
	Outcome   *SuccessOutcome `json:"outcome,omitempty"`
}
