package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wujiit/qilingstore-sub001/internal/module/audit"
	"github.com/wujiit/qilingstore-sub001/internal/module/gift"
	"github.com/wujiit/qilingstore-sub001/internal/module/order"
	"github.com/wujiit/qilingstore-sub001/internal/module/payment/provider"
	"github.com/wujiit/qilingstore-sub001/internal/shared/config"
	apperrors "github.com/wujiit/qilingstore-sub001/internal/shared/errors"
	"github.com/wujiit/qilingstore-sub001/internal/shared/money"
	"github.com/wujiit/qilingstore-sub001/internal/utils/metrics"
	"github.com/wujiit/qilingstore-sub001/internal/utils/random"
)

const (
	defaultGatewayTimeout = 5 * time.Second
	defaultNumberTries    = 5
)

// SuccessNotice is a verified, channel-agnostic success notification
// handed to ProcessSuccess by the webhook handler or the sync path.
type SuccessNotice struct {
	OutTradeNo     string
	Channel        provider.Channel
	ReportedAmount decimal.Decimal
	GatewayTradeNo string
	PayerID        string
	Raw            string
}

// Service is the payment orchestrator. It owns every state transition
// of payments and refunds, and mutates order rows only while holding
// their pessimistic lock.
type Service struct {
	db       *gorm.DB
	repo     Repository
	orders   order.Repository
	collab   Collaborators
	auditor  Auditor
	adapters AdapterSource
	cfg      *config.PaymentConfig
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewService creates a new payment orchestrator.
func NewService(
	db *gorm.DB,
	repo Repository,
	orders order.Repository,
	collab Collaborators,
	auditor Auditor,
	adapters AdapterSource,
	cfg *config.PaymentConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		orders:   orders,
		collab:   collab,
		auditor:  auditor,
		adapters: adapters,
		cfg:      cfg,
		metrics:  m,
		log:      log,
	}
}

// transact runs fn in a database transaction. A nil db runs the unit
// inline; tests exercise the orchestration with fake repositories.
func (s *Service) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.db == nil {
		return fn(nil)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// nested runs fn in a savepoint so one failing side effect cannot
// poison the surrounding transaction.
func nested(tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx == nil {
		return fn(nil)
	}
	return tx.Transaction(fn)
}

func (s *Service) gatewayTimeout() time.Duration {
	if s.cfg != nil && s.cfg.GatewayTimeout > 0 {
		return s.cfg.GatewayTimeout
	}
	return defaultGatewayTimeout
}

func (s *Service) numberTries() int {
	if s.cfg != nil && s.cfg.PaymentNoTries > 0 {
		return s.cfg.PaymentNoTries
	}
	return defaultNumberTries
}

func (s *Service) recordAudit(ctx context.Context, paymentNo string, orderID *uuid.UUID, kind audit.EventKind, channel, detail string, payload any) {
	if s.auditor != nil {
		s.auditor.Record(ctx, paymentNo, orderID, kind, channel, detail, payload)
	}
}

// CreatePayment opens a new payment attempt on an order. The pending
// row is committed before the gateway is called so a crash mid-call
// leaves a reconcilable record instead of an untracked remote intent.
func (s *Service) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResponse, error) {
	scene, err := NormalizeScene(req.Channel, req.Scene)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	if scene == provider.SceneJSAPI && req.OpenID == "" {
		return nil, apperrors.BadRequest("openid is required for jsapi payments")
	}

	adapter, err := s.adapters.Adapter(ctx, req.Channel)
	if err != nil {
		return nil, apperrors.Configuration(err.Error())
	}

	// Resolve the candidate scenes up front so a request with nothing
	// usable is rejected before any row exists.
	chain := SceneCandidates(req.Channel, scene)
	candidates := make([]provider.Scene, 0, len(chain))
	for _, c := range chain {
		if adapter.Supports(c) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, apperrors.BadRequest(fmt.Sprintf("no usable scene for channel %s", req.Channel))
	}

	// Capture the outstanding amount and persist the pending attempt
	// under the order lock.
	var p *Payment
	err = s.transact(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orders := s.orders.WithTx(tx)

		o, err := orders.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		switch o.Status {
		case order.StatusCancelled, order.StatusRefunded:
			return apperrors.Business(fmt.Sprintf("order is %s and cannot be paid", o.Status))
		}
		if o.IsFullyPaid() {
			return apperrors.Business("order is already fully paid")
		}

		paymentNo, err := s.generatePaymentNo(ctx, repo)
		if err != nil {
			return err
		}

		p = &Payment{
			OrderID:        o.ID,
			PaymentNo:      paymentNo,
			OutTradeNo:     paymentNo,
			Channel:        req.Channel,
			SceneRequested: scene,
			Scene:          scene,
			Amount:         money.Round2(o.Outstanding()),
			Status:         StatusPending,
		}
		return repo.CreatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	o, err := s.orders.Get(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}

	createReq := &provider.CreateRequest{
		OutTradeNo: p.OutTradeNo,
		Amount:     p.Amount,
		Subject:    o.Subject,
		ClientIP:   req.ClientIP,
		OpenID:     req.OpenID,
		ExpireIn:   "30m",
	}

	var res *provider.CreateResult
	var rejections []string
	for _, candidate := range candidates {
		cctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
		res, err = adapter.Create(cctx, createReq, candidate)
		cancel()
		if err != nil {
			// Transport failure: the row stays pending and is
			// recoverable via SyncStatus.
			s.recordAudit(ctx, p.PaymentNo, &p.OrderID, audit.KindPaymentFailed, string(req.Channel), err.Error(), nil)
			return nil, apperrors.Gateway("payment gateway unreachable", err)
		}
		if res.OK {
			break
		}
		rejections = append(rejections, fmt.Sprintf("%s: %s %s", candidate, res.Code, res.Message))
		s.log.Warn("gateway rejected payment creation",
			zap.String("payment_no", p.PaymentNo),
			zap.String("scene", string(candidate)),
			zap.String("code", res.Code),
			zap.String("message", res.Message),
		)
	}

	if !res.OK {
		failErr := s.transact(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			locked, err := repo.GetByPaymentNoForUpdate(ctx, p.PaymentNo)
			if err != nil {
				return err
			}
			locked.Status = StatusFailed
			locked.FailCode = res.Code
			locked.RawResponse = res.Raw
			return repo.UpdatePayment(ctx, locked)
		})
		if failErr != nil {
			s.log.Error("mark payment failed", zap.String("payment_no", p.PaymentNo), zap.Error(failErr))
		}
		s.recordAudit(ctx, p.PaymentNo, &p.OrderID, audit.KindPaymentFailed, string(req.Channel), res.Code, res.Raw)
		return nil, apperrors.Business("gateway rejected payment: " + strings.Join(rejections, "; "))
	}

	// Fallback is judged against the head of the unfiltered chain: a
	// primary scene skipped because it is disabled or unsupported still
	// means the caller did not get the scene the request resolved to.
	fallbackUsed := res.Scene != chain[0]
	if fallbackUsed {
		s.metrics.RecordSceneFallback(string(req.Channel), string(chain[0]), string(res.Scene))
	}

	err = s.transact(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.GetByPaymentNoForUpdate(ctx, p.PaymentNo)
		if err != nil {
			return err
		}
		locked.Scene = res.Scene
		locked.SceneFallback = fallbackUsed
		locked.GatewayTradeNo = res.GatewayTradeNo
		locked.RawResponse = res.Raw
		p = locked
		return repo.UpdatePayment(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPaymentCreated(string(req.Channel), string(res.Scene))
	s.recordAudit(ctx, p.PaymentNo, &p.OrderID, audit.KindPaymentCreated, string(req.Channel), string(res.Scene), res.Raw)
	s.log.Info("payment created",
		zap.String("payment_no", p.PaymentNo),
		zap.String("channel", string(req.Channel)),
		zap.String("scene", string(res.Scene)),
		zap.Bool("scene_fallback", fallbackUsed),
		zap.String("amount", p.Amount.StringFixed(2)),
	)

	return &CreatePaymentResponse{
		Payment: p,
		Credentials: PaymentCredentials{
			QRCode:       res.QRCode,
			PayURL:       res.PayURL,
			AppPayload:   res.AppPayload,
			JSAPIPayload: res.JSAPIPayload,
		},
		SceneFallbackUsed: fallbackUsed,
	}, nil
}

// ProcessSuccess applies a verified success notification. Safe to call
// an unbounded number of times for the same out_trade_no: repeats
// return the recorded outcome without touching state.
func (s *Service) ProcessSuccess(ctx context.Context, notice *SuccessNotice) (*SuccessOutcome, error) {
	outcome := &SuccessOutcome{ReportedAmount: notice.ReportedAmount}
	var siblings []*Payment
	var channel provider.Channel
	var orderID uuid.UUID

	err := s.transact(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orders := s.orders.WithTx(tx)

		p, err := repo.GetByOutTradeNoForUpdate(ctx, notice.OutTradeNo)
		if err != nil {
			return err
		}
		outcome.PaymentNo = p.PaymentNo
		channel = p.Channel
		orderID = p.OrderID

		// A notification for another channel's trade number is either
		// a provider bug or an attack; never apply it.
		if notice.Channel != "" && notice.Channel != p.Channel {
			return apperrors.Business(fmt.Sprintf(
				"notification channel %s does not match payment channel %s",
				notice.Channel, p.Channel))
		}

		if p.Status == StatusSuccess {
			outcome.AlreadyProcessed = true
			o, err := orders.Get(ctx, p.OrderID)
			if err != nil {
				return err
			}
			outcome.OrderStatus = o.Status
			outcome.OrderPaid = o.Paid
			return nil
		}
		if p.Status == StatusClosed || p.Status == StatusFailed {
			return apperrors.Business(fmt.Sprintf("payment %s is %s and cannot succeed", p.PaymentNo, p.Status))
		}

		// Tampered or wrong-order notifications must not mutate state.
		if notice.ReportedAmount.Sub(p.Amount).Abs().GreaterThan(money.Epsilon) {
			return apperrors.Business(fmt.Sprintf(
				"reported amount %s does not match payment amount %s",
				notice.ReportedAmount.StringFixed(2), p.Amount.StringFixed(2)))
		}

		o, err := orders.GetForUpdate(ctx, p.OrderID)
		if err != nil {
			return err
		}

		outstanding := o.Outstanding()
		applied := decimal.Min(notice.ReportedAmount, outstanding)
		if notice.ReportedAmount.Sub(outstanding).GreaterThan(money.Epsilon) {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf(
				"overpayment: reported %s exceeds outstanding %s; applied %s",
				notice.ReportedAmount.StringFixed(2), outstanding.StringFixed(2), applied.StringFixed(2)))
		}
		outcome.AppliedAmount = applied

		now := time.Now()
		p.Status = StatusSuccess
		p.PaidAt = &now
		if notice.GatewayTradeNo != "" {
			p.GatewayTradeNo = notice.GatewayTradeNo
		}
		p.PayerID = notice.PayerID
		if notice.Raw != "" {
			p.RawResponse = notice.Raw
		}
		if err := repo.UpdatePayment(ctx, p); err != nil {
			return err
		}

		if err := repo.UpsertLedgerEntry(ctx, &LedgerEntry{
			PaymentNo: p.PaymentNo,
			OrderID:   p.OrderID,
			Channel:   p.Channel,
			Amount:    applied,
			PaidAt:    now,
		}); err != nil {
			return err
		}

		wasPaid := o.Status == order.StatusPaid
		o.ApplyPayment(applied, now)
		if err := orders.Update(ctx, o); err != nil {
			return err
		}
		outcome.OrderStatus = o.Status
		outcome.OrderPaid = o.Paid

		if o.Status == order.StatusPaid && !wasPaid {
			s.runPaidSideEffects(ctx, tx, o, outcome)

			// Local sibling closure happens under the same lock; the
			// remote closes go out after commit.
			siblings, err = repo.ListPendingSiblingsForUpdate(ctx, o.ID, p.ID)
			if err != nil {
				return err
			}
			for _, sib := range siblings {
				sib.Status = StatusClosed
				sib.ClosedAt = &now
				if err := repo.UpdatePayment(ctx, sib); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.AlreadyProcessed {
		return outcome, nil
	}

	for _, w := range outcome.Warnings {
		s.log.Warn("payment success side effect warning",
			zap.String("payment_no", outcome.PaymentNo),
			zap.String("warning", w),
		)
	}

	s.closeSiblingsAtGateway(ctx, siblings, outcome)

	s.metrics.RecordPaymentSucceeded(string(channel))
	s.recordAudit(ctx, outcome.PaymentNo, &orderID, audit.KindPaymentSuccess, string(channel), "", outcome)
	s.log.Info("payment succeeded",
		zap.String("payment_no", outcome.PaymentNo),
		zap.String("applied", outcome.AppliedAmount.StringFixed(2)),
		zap.String("order_status", string(outcome.OrderStatus)),
		zap.Int("warnings", len(outcome.Warnings)),
	)
	return outcome, nil
}

// runPaidSideEffects drives the post-payment pipeline. Each effect is
// isolated in a savepoint; a failure becomes a warning and never rolls
// back the payment or the other effects.
func (s *Service) runPaidSideEffects(ctx context.Context, tx *gorm.DB, o *order.Order, outcome *SuccessOutcome) {
	if o.CustomerID != nil && s.collab.Loyalty != nil {
		err := nested(tx, func(tx *gorm.DB) error {
			points, err := s.collab.Loyalty(tx).AwardPoints(ctx, *o.CustomerID, o.StoreID, o.ID, o.Payable)
			if err != nil {
				return err
			}
			outcome.PointsAwarded = points
			return nil
		})
		if err != nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("award points: %v", err))
			s.metrics.RecordSideEffectWarning("points")
		}
	}

	if s.collab.Gifting != nil {
		err := nested(tx, func(tx *gorm.DB) error {
			_, err := s.collab.Gifting(tx).TriggerRule(ctx, gift.TriggerFirstPaid, o.StoreID, o.ID, o.CustomerID)
			return err
		})
		if err != nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("gift rule: %v", err))
			s.metrics.RecordSideEffectWarning("gift")
		}
	}

	if s.collab.Receipts != nil {
		err := nested(tx, func(tx *gorm.DB) error {
			jobID, err := s.collab.Receipts(tx).EnqueueReceipt(ctx, o.ID, o.StoreID)
			if err != nil {
				return err
			}
			outcome.PrintJobID = jobID
			return nil
		})
		if err != nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("enqueue receipt: %v", err))
			s.metrics.RecordSideEffectWarning("print")
		}
	}
}

// closeSiblingsAtGateway best-effort closes the already-locally-closed
// sibling payments at their gateways.
func (s *Service) closeSiblingsAtGateway(ctx context.Context, siblings []*Payment, outcome *SuccessOutcome) {
	for _, sib := range siblings {
		if err := s.closeAtGateway(ctx, sib); err != nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("close sibling %s: %v", sib.PaymentNo, err))
			s.metrics.RecordSideEffectWarning("sibling_close")
			continue
		}
		s.recordAudit(ctx, sib.PaymentNo, &sib.OrderID, audit.KindPaymentClosed, string(sib.Channel), "sibling closed after order paid", nil)
	}
}

// closeAtGateway closes one payment remotely, treating already-gone
// responses as success.
func (s *Service) closeAtGateway(ctx context.Context, p *Payment) error {
	adapter, err := s.adapters.Adapter(ctx, p.Channel)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	defer cancel()

	res, err := adapter.Close(cctx, p.OutTradeNo, p.GatewayTradeNo)
	if err != nil {
		return err
	}
	if !res.OK && !isBenignCloseCode(p.Channel, res.Code) {
		return fmt.Errorf("gateway refused close: %s %s", res.Code, res.Message)
	}
	return nil
}

// HandleProviderNotification verifies and applies an inbound webhook.
// The returned ack body must be written back verbatim; an error means
// no ack, so the provider will redeliver.
func (s *Service) HandleProviderNotification(ctx context.Context, channel provider.Channel, req *http.Request) (string, *SuccessOutcome, error) {
	adapter, err := s.adapters.Adapter(ctx, channel)
	if err != nil {
		s.metrics.RecordNotification(string(channel), "rejected")
		return "", nil, apperrors.Configuration(err.Error())
	}

	n, err := adapter.ParseNotify(req)
	if err != nil {
		s.metrics.RecordNotification(string(channel), "rejected")
		s.recordAudit(ctx, "", nil, audit.KindNotifyRejected, string(channel), err.Error(), nil)
		return "", nil, apperrors.BadRequest(fmt.Sprintf("notification rejected: %v", err))
	}

	s.recordAudit(ctx, n.OutTradeNo, nil, audit.KindNotifyReceived, string(channel), string(n.State), n.Raw)

	// Non-success states are acknowledged and ignored; closure and
	// failure are owned by the close/sync paths.
	if n.State != provider.TradeStateSuccess {
		s.metrics.RecordNotification(string(channel), "ignored")
		return n.AckBody, nil, nil
	}

	outcome, err := s.ProcessSuccess(ctx, &SuccessNotice{
		OutTradeNo:     n.OutTradeNo,
		Channel:        channel,
		ReportedAmount: n.ReportedAmount,
		GatewayTradeNo: n.GatewayTradeNo,
		PayerID:        n.PayerID,
		Raw:            n.Raw,
	})
	if err != nil {
		s.metrics.RecordNotification(string(channel), "rejected")
		return "", nil, err
	}

	if outcome.AlreadyProcessed {
		s.metrics.RecordNotification(string(channel), "duplicate")
	} else {
		s.metrics.RecordNotification(string(channel), "applied")
	}
	return n.AckBody, outcome, nil
}

// SyncStatus reconciles a pending payment against the gateway. Used
// when a webhook was lost or a crash interrupted creation.
func (s *Service) SyncStatus(ctx context.Context, paymentNo string) (*SyncOutcome, error) {
	p, err := s.repo.GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return nil, err
	}

	result := &SyncOutcome{PaymentNo: p.PaymentNo, Status: p.Status}
	if p.Status != StatusPending {
		return result, nil
	}

	adapter, err := s.adapters.Adapter(ctx, p.Channel)
	if err != nil {
		return nil, apperrors.Configuration(err.Error())
	}

	cctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	qr, err := adapter.Query(cctx, p.OutTradeNo, p.GatewayTradeNo)
	cancel()
	if err != nil {
		return nil, apperrors.Gateway("query payment status", err)
	}
	if !qr.OK {
		// The gateway knows nothing about this trade, typically
		// because the customer never opened it. Leave it pending.
		s.log.Info("gateway has no record of payment",
			zap.String("payment_no", p.PaymentNo),
			zap.String("code", qr.Code),
		)
		return result, nil
	}

	switch qr.State {
	case provider.TradeStateSuccess:
		outcome, err := s.ProcessSuccess(ctx, &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			Channel:        p.Channel,
			ReportedAmount: qr.ReportedAmount,
			GatewayTradeNo: qr.GatewayTradeNo,
			PayerID:        qr.PayerID,
			Raw:            qr.Raw,
		})
		if err != nil {
			return nil, err
		}
		result.Status = StatusSuccess
		result.Changed = !outcome.AlreadyProcessed
		result.Outcome = outcome

	case provider.TradeStateClosed:
		err := s.markClosed(ctx, p.PaymentNo, "closed at gateway")
		if err != nil {
			return nil, err
		}
		result.Status = StatusClosed
		result.Changed = true

	case provider.TradeStateFailed:
		err := s.transact(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			locked, err := repo.GetByPaymentNoForUpdate(ctx, p.PaymentNo)
			if err != nil {
				return err
			}
			if locked.Status != StatusPending {
				return nil
			}
			locked.Status = StatusFailed
			locked.RawResponse = qr.Raw
			return repo.UpdatePayment(ctx, locked)
		})
		if err != nil {
			return nil, err
		}
		result.Status = StatusFailed
		result.Changed = true
	}

	return result, nil
}

// ClosePayment closes a pending payment remotely and locally.
// Closing an already-closed payment is a no-op; closing a successful
// payment is rejected.
func (s *Service) ClosePayment(ctx context.Context, paymentNo string) (*Payment, error) {
	p, err := s.repo.GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case StatusClosed:
		return p, nil
	case StatusSuccess:
		return nil, apperrors.Business("cannot close a successful payment; refund it instead")
	case StatusFailed:
		return nil, apperrors.Business("payment already failed")
	}

	if err := s.closeAtGateway(ctx, p); err != nil {
		return nil, apperrors.Gateway("close payment", err)
	}

	if err := s.markClosed(ctx, paymentNo, "closed by request"); err != nil {
		return nil, err
	}
	return s.repo.GetByPaymentNo(ctx, paymentNo)
}

// markClosed transitions a still-pending payment to closed.
func (s *Service) markClosed(ctx context.Context, paymentNo, detail string) error {
	var channel provider.Channel
	var orderID uuid.UUID
	err := s.transact(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.GetByPaymentNoForUpdate(ctx, paymentNo)
		if err != nil {
			return err
		}
		if locked.Status != StatusPending {
			return nil
		}
		now := time.Now()
		locked.Status = StatusClosed
		locked.ClosedAt = &now
		channel = locked.Channel
		orderID = locked.OrderID
		return repo.UpdatePayment(ctx, locked)
	})
	if err != nil {
		return err
	}
	if channel != "" {
		s.recordAudit(ctx, paymentNo, &orderID, audit.KindPaymentClosed, string(channel), detail, nil)
	}
	return nil
}

// RefundPayment refunds part of a successful payment. The refund is
// created and finalized synchronously; a gateway failure marks it
// failed and surfaces the error without automatic retry.
func (s *Service) RefundPayment(ctx context.Context, paymentNo string, req *RefundPaymentRequest) (*Refund, error) {
	var refund *Refund
	var payment *Payment

	// Validate the bound and reserve the refund row under the payment
	// lock. Pending refunds count against the bound so concurrent
	// requests cannot oversubscribe it.
	err := s.transact(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		p, err := repo.GetByPaymentNoForUpdate(ctx, paymentNo)
		if err != nil {
			return err
		}
		if p.Status != StatusSuccess {
			return apperrors.Business(fmt.Sprintf("payment %s is %s and cannot be refunded", p.PaymentNo, p.Status))
		}
		payment = p

		reserved, err := repo.SumRefunds(ctx, p.ID, []RefundStatus{RefundStatusPending, RefundStatusSuccess})
		if err != nil {
			return err
		}
		refundable := p.Amount.Sub(reserved)

		amount := refundable
		if req.Amount != nil {
			amount = money.Round2(*req.Amount)
		}
		if !amount.IsPositive() {
			return apperrors.Business("refund amount must be positive")
		}
		if amount.Sub(refundable).GreaterThan(money.Epsilon) {
			return apperrors.Business(fmt.Sprintf(
				"refund amount %s exceeds refundable %s",
				amount.StringFixed(2), refundable.StringFixed(2)))
		}

		refundNo, err := s.generateRefundNo(ctx, repo)
		if err != nil {
			return err
		}

		refund = &Refund{
			PaymentID:   p.ID,
			OrderID:     p.OrderID,
			RefundNo:    refundNo,
			OutRefundNo: refundNo,
			Channel:     p.Channel,
			Amount:      amount,
			Status:      RefundStatusPending,
			Reason:      req.Reason,
		}
		return repo.CreateRefund(ctx, refund)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, payment.PaymentNo, &payment.OrderID, audit.KindRefundRequested, string(payment.Channel), refund.RefundNo, refund)

	adapter, err := s.adapters.Adapter(ctx, payment.Channel)
	if err != nil {
		s.failRefund(ctx, refund, err.Error())
		return nil, apperrors.Configuration(err.Error())
	}

	cctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	res, err := adapter.Refund(cctx, &provider.RefundRequest{
		OutTradeNo:     payment.OutTradeNo,
		GatewayTradeNo: payment.GatewayTradeNo,
		OutRefundNo:    refund.OutRefundNo,
		RefundAmount:   refund.Amount,
		TotalAmount:    payment.Amount,
		Reason:         req.Reason,
	})
	cancel()
	if err != nil {
		s.failRefund(ctx, refund, err.Error())
		s.metrics.RecordRefund(string(payment.Channel), "error")
		return nil, apperrors.Gateway("refund payment", err)
	}
	if !res.OK {
		s.failRefund(ctx, refund, fmt.Sprintf("%s %s", res.Code, res.Message))
		s.metrics.RecordRefund(string(payment.Channel), "rejected")
		return nil, apperrors.Business(fmt.Sprintf("gateway rejected refund: %s %s", res.Code, res.Message))
	}

	// Money has moved; everything past this point must land. The
	// customer aggregate is the only piece allowed to degrade to a
	// warning.
	err = s.transact(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orders := s.orders.WithTx(tx)

		o, err := orders.GetForUpdate(ctx, refund.OrderID)
		if err != nil {
			return err
		}

		now := time.Now()
		refund.Status = RefundStatusSuccess
		refund.GatewayRefundNo = res.GatewayRefundNo
		refund.RawResponse = res.Raw
		refund.RefundedAt = &now
		if err := repo.UpdateRefund(ctx, refund); err != nil {
			return err
		}

		o.ApplyRefund(refund.Amount)
		if err := orders.Update(ctx, o); err != nil {
			return err
		}

		if o.CustomerID != nil && s.collab.Loyalty != nil {
			err := nested(tx, func(tx *gorm.DB) error {
				return s.collab.Loyalty(tx).RecordRefund(ctx, *o.CustomerID, o.StoreID, o.ID, refund.Amount)
			})
			if err != nil {
				s.log.Warn("refund customer aggregate update failed",
					zap.String("refund_no", refund.RefundNo),
					zap.Error(err),
				)
				s.metrics.RecordSideEffectWarning("points")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRefund(string(payment.Channel), "success")
	s.recordAudit(ctx, payment.PaymentNo, &payment.OrderID, audit.KindRefundSuccess, string(payment.Channel), refund.RefundNo, res.Raw)
	s.log.Info("refund succeeded",
		zap.String("payment_no", payment.PaymentNo),
		zap.String("refund_no", refund.RefundNo),
		zap.String("amount", refund.Amount.StringFixed(2)),
	)
	return refund, nil
}

// failRefund marks a reserved refund row failed, best effort.
func (s *Service) failRefund(ctx context.Context, refund *Refund, detail string) {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		refund.Status = RefundStatusFailed
		return s.repo.WithTx(tx).UpdateRefund(ctx, refund)
	})
	if err != nil {
		s.log.Error("mark refund failed", zap.String("refund_no", refund.RefundNo), zap.Error(err))
	}
	s.recordAudit(ctx, "", &refund.OrderID, audit.KindRefundFailed, string(refund.Channel), detail, refund)
}

// GetPayment returns a payment by its number.
func (s *Service) GetPayment(ctx context.Context, paymentNo string) (*Payment, error) {
	return s.repo.GetByPaymentNo(ctx, paymentNo)
}

// ListByOrder returns all payment attempts on an order.
func (s *Service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// ListRefunds returns all refund attempts against a payment.
func (s *Service) ListRefunds(ctx context.Context, paymentNo string) ([]*Refund, error) {
	p, err := s.repo.GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRefundsByPayment(ctx, p.ID)
}

func (s *Service) generatePaymentNo(ctx context.Context, repo Repository) (string, error) {
	for i := 0; i < s.numberTries(); i++ {
		no := fmt.Sprintf("PAY-%s-%s", time.Now().Format("20060102"), random.UpperAlphaNum(5))
		exists, err := repo.PaymentNoExists(ctx, no)
		if err != nil {
			return "", err
		}
		if !exists {
			return no, nil
		}
	}
	return "", apperrors.Internal("could not generate a unique payment number", nil)
}

func (s *Service) generateRefundNo(ctx context.Context, repo Repository) (string, error) {
	for i := 0; i < s.numberTries(); i++ {
		no := fmt.Sprintf("REF-%s-%s", time.Now().Format("20060102"), random.UpperAlphaNum(5))
		exists, err := repo.RefundNoExists(ctx, no)
		if err != nil {
			return "", err
		}
		if !exists {
			return no, nil
		}
	}
	return "", apperrors.Internal("could not generate a unique refund number", nil)
}
