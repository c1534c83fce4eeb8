package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wujiit/qilingstore-sub001/internal/module/gift"
	"github.com/wujiit/qilingstore-sub001/internal/module/order"
	"github.com/wujiit/qilingstore-sub001/internal/module/payment/provider"
	apperrors "github.com/wujiit/qilingstore-sub001/internal/shared/errors"
	"github.com/wujiit/qilingstore-sub001/internal/utils/metrics"
)

// --- fakes ---

type fakePaymentRepo struct {
	payments map[uuid.UUID]*Payment
	ledger   map[string]*LedgerEntry
	refunds  map[uuid.UUID]*Refund
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		payments: make(map[uuid.UUID]*Payment),
		ledger:   make(map[string]*LedgerEntry),
		refunds:  make(map[uuid.UUID]*Refund),
	}
}

func (f *fakePaymentRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakePaymentRepo) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakePaymentRepo) findPayment(match func(*Payment) bool) (*Payment, error) {
	for _, p := range f.payments {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (f *fakePaymentRepo) GetByPaymentNo(ctx context.Context, no string) (*Payment, error) {
	return f.findPayment(func(p *Payment) bool { return p.PaymentNo == no })
}

func (f *fakePaymentRepo) GetByPaymentNoForUpdate(ctx context.Context, no string) (*Payment, error) {
	return f.GetByPaymentNo(ctx, no)
}

func (f *fakePaymentRepo) GetByOutTradeNoForUpdate(ctx context.Context, no string) (*Payment, error) {
	return f.findPayment(func(p *Payment) bool { return p.OutTradeNo == no })
}

func (f *fakePaymentRepo) UpdatePayment(ctx context.Context, p *Payment) error {
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakePaymentRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	var out []*Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePaymentRepo) ListPendingSiblingsForUpdate(ctx context.Context, orderID, exceptID uuid.UUID) ([]*Payment, error) {
	var out []*Payment
	for _, p := range f.payments {
		if p.OrderID == orderID && p.ID != exceptID && p.Status == StatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePaymentRepo) PaymentNoExists(ctx context.Context, no string) (bool, error) {
	_, err := f.GetByPaymentNo(ctx, no)
	return err == nil, nil
}

func (f *fakePaymentRepo) UpsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	if _, ok := f.ledger[entry.PaymentNo]; ok {
		return nil
	}
	cp := *entry
	f.ledger[entry.PaymentNo] = &cp
	return nil
}

func (f *fakePaymentRepo) CreateRefund(ctx context.Context, r *Refund) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	f.refunds[r.ID] = &cp
	return nil
}

func (f *fakePaymentRepo) UpdateRefund(ctx context.Context, r *Refund) error {
	cp := *r
	f.refunds[r.ID] = &cp
	return nil
}

func (f *fakePaymentRepo) ListRefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error) {
	var out []*Refund
	for _, r := range f.refunds {
		if r.PaymentID == paymentID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePaymentRepo) SumRefunds(ctx context.Context, paymentID uuid.UUID, statuses []RefundStatus) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, r := range f.refunds {
		if r.PaymentID != paymentID {
			continue
		}
		for _, st := range statuses {
			if r.Status == st {
				total = total.Add(r.Amount)
				break
			}
		}
	}
	return total, nil
}

func (f *fakePaymentRepo) RefundNoExists(ctx context.Context, no string) (bool, error) {
	for _, r := range f.refunds {
		if r.RefundNo == no {
			return true, nil
		}
	}
	return false, nil
}

type fakeOrderRepo struct {
	orders map[uuid.UUID]*order.Order
}

func newFakeOrderRepo(orders ...*order.Order) *fakeOrderRepo {
	f := &fakeOrderRepo{orders: make(map[uuid.UUID]*order.Order)}
	for _, o := range orders {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		cp := *o
		f.orders[o.ID] = &cp
	}
	return f
}

func (f *fakeOrderRepo) WithTx(tx *gorm.DB) order.Repository { return f }

func (f *fakeOrderRepo) Create(ctx context.Context, o *order.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeOrderRepo) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) GetByNo(ctx context.Context, no string) (*order.Order, error) {
	for _, o := range f.orders {
		if o.OrderNo == no {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (f *fakeOrderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return f.Get(ctx, id)
}

func (f *fakeOrderRepo) Update(ctx context.Context, o *order.Order) error {
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeOrderRepo) List(ctx context.Context, storeID uuid.UUID, status *order.Status, offset, limit int) ([]*order.Order, int64, error) {
	return nil, 0, nil
}

type fakeAdapter struct {
	channel  provider.Channel
	supports map[provider.Scene]bool

	createFn func(req *provider.CreateRequest, scene provider.Scene) (*provider.CreateResult, error)
	queryFn  func(outTradeNo string) (*provider.QueryResult, error)
	closeFn  func(outTradeNo string) (*provider.Result, error)
	refundFn func(req *provider.RefundRequest) (*provider.RefundResult, error)

	createCalls []provider.Scene
	closeCalls  []string
	refundCalls []*provider.RefundRequest
}

func (f *fakeAdapter) Channel() provider.Channel { return f.channel }

func (f *fakeAdapter) Supports(scene provider.Scene) bool {
	if f.supports == nil {
		return true
	}
	return f.supports[scene]
}

func (f *fakeAdapter) Create(ctx context.Context, req *provider.CreateRequest, scene provider.Scene) (*provider.CreateResult, error) {
	f.createCalls = append(f.createCalls, scene)
	return f.createFn(req, scene)
}

func (f *fakeAdapter) Query(ctx context.Context, outTradeNo, gatewayTradeNo string) (*provider.QueryResult, error) {
	return f.queryFn(outTradeNo)
}

func (f *fakeAdapter) Close(ctx context.Context, outTradeNo, gatewayTradeNo string) (*provider.Result, error) {
	f.closeCalls = append(f.closeCalls, outTradeNo)
	if f.closeFn == nil {
		return &provider.Result{OK: true}, nil
	}
	return f.closeFn(outTradeNo)
}

func (f *fakeAdapter) Refund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	f.refundCalls = append(f.refundCalls, req)
	return f.refundFn(req)
}

func (f *fakeAdapter) ParseNotify(req *http.Request) (*provider.Notification, error) {
	return nil, errors.New("not supported by fake")
}

type fakeSource struct {
	adapters map[provider.Channel]provider.Adapter
}

func (f *fakeSource) Adapter(ctx context.Context, channel provider.Channel) (provider.Adapter, error) {
	a, ok := f.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelDisabled, channel)
	}
	return a, nil
}

type fakeLoyalty struct {
	awardErr    error
	refundErr   error
	awardCalls  int
	refundCalls []decimal.Decimal
}

func (f *fakeLoyalty) AwardPoints(ctx context.Context, customerID, storeID, orderID uuid.UUID, payable decimal.Decimal) (int64, error) {
	f.awardCalls++
	if f.awardErr != nil {
		return 0, f.awardErr
	}
	return payable.Floor().IntPart(), nil
}

func (f *fakeLoyalty) RecordRefund(ctx context.Context, customerID, storeID, orderID uuid.UUID, amount decimal.Decimal) error {
	f.refundCalls = append(f.refundCalls, amount)
	return f.refundErr
}

type fakeGifting struct {
	err   error
	calls int
}

func (f *fakeGifting) TriggerRule(ctx context.Context, trigger gift.TriggerKey, storeID, orderID uuid.UUID, customerID *uuid.UUID) (*gift.TriggerResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gift.TriggerResult{Triggered: true, ItemsGranted: []string{"voucher"}}, nil
}

type fakeReceipts struct {
	err   error
	calls int
}

func (f *fakeReceipts) EnqueueReceipt(ctx context.Context, orderID, storeID uuid.UUID) (*uuid.UUID, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	id := uuid.New()
	return &id, nil
}

// --- test fixture ---

type fixture struct {
	repo     *fakePaymentRepo
	orders   *fakeOrderRepo
	adapter  *fakeAdapter
	loyalty  *fakeLoyalty
	gifting  *fakeGifting
	receipts *fakeReceipts
	service  *Service
}

func newFixture(t *testing.T, o *order.Order) *fixture {
	t.Helper()

	f := &fixture{
		repo:     newFakePaymentRepo(),
		orders:   newFakeOrderRepo(o),
		adapter:  &fakeAdapter{channel: provider.ChannelAlipay},
		loyalty:  &fakeLoyalty{},
		gifting:  &fakeGifting{},
		receipts: &fakeReceipts{},
	}
	collab := Collaborators{
		Loyalty:  func(tx *gorm.DB) Loyalty { return f.loyalty },
		Gifting:  func(tx *gorm.DB) Gifting { return f.gifting },
		Receipts: func(tx *gorm.DB) ReceiptPrinter { return f.receipts },
	}
	source := &fakeSource{adapters: map[provider.Channel]provider.Adapter{
		provider.ChannelAlipay: f.adapter,
	}}
	f.service = NewService(
		nil, f.repo, f.orders, collab, nil, source,
		nil, metrics.New("test", prometheus.NewRegistry()), zap.NewNop(),
	)
	return f
}

func customerOrder(payable float64) *order.Order {
	cid := uuid.New()
	return &order.Order{
		ID:         uuid.New(),
		OrderNo:    "ORD-20260801-AAAAA",
		StoreID:    uuid.New(),
		CustomerID: &cid,
		Subject:    "table 12",
		Payable:    decimal.NewFromFloat(payable),
		Paid:       decimal.Zero,
		Status:     order.StatusPending,
	}
}

func (f *fixture) seedPayment(t *testing.T, o *order.Order, status Status, amount float64) *Payment {
	t.Helper()
	p := &Payment{
		ID:        uuid.New(),
		OrderID:   o.ID,
		PaymentNo: fmt.Sprintf("PAY-TEST-%s", uuid.NewString()[:5]),
		Channel:   provider.ChannelAlipay,
		Scene:     provider.SceneQR,
		Amount:    decimal.NewFromFloat(amount),
		Status:    status,
	}
	p.OutTradeNo = p.PaymentNo
	require.NoError(t, f.repo.CreatePayment(context.Background(), p))
	return p
}

func isBusinessError(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && errors.Is(appErr.Err, apperrors.ErrBusiness)
}

// --- create ---

func TestCreatePayment(t *testing.T) {
	o := customerOrder(100)

	t.Run("creates a pending payment with gateway credentials", func(t *testing.T) {
		f := newFixture(t, o)
		f.adapter.createFn = func(req *provider.CreateRequest, scene provider.Scene) (*provider.CreateResult, error) {
			assert.Equal(t, "100.00", req.Amount.StringFixed(2))
			return &provider.CreateResult{OK: true, Scene: scene, QRCode: "https://qr.example/x"}, nil
		}

		resp, err := f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: o.ID,
			Channel: provider.ChannelAlipay,
			Scene:   provider.SceneQR,
		})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, resp.Payment.Status)
		assert.Equal(t, provider.SceneQR, resp.Payment.Scene)
		assert.Equal(t, "https://qr.example/x", resp.Credentials.QRCode)
		assert.False(t, resp.SceneFallbackUsed)
		assert.Equal(t, "100.00", resp.Payment.Amount.StringFixed(2))
	})

	t.Run("auto scene falls back to the next candidate", func(t *testing.T) {
		f := newFixture(t, o)
		f.adapter.createFn = func(req *provider.CreateRequest, scene provider.Scene) (*provider.CreateResult, error) {
			if scene == provider.SceneQR {
				return &provider.CreateResult{OK: false, Code: "ACQ.SCENE_UNAVAILABLE"}, nil
			}
			return &provider.CreateResult{OK: true, Scene: scene, PayURL: "https://pay.example/y"}, nil
		}

		resp, err := f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: o.ID,
			Channel: provider.ChannelAlipay,
		})
		require.NoError(t, err)
		assert.True(t, resp.SceneFallbackUsed)
		assert.Equal(t, provider.SceneAuto, resp.Payment.SceneRequested)
		assert.Equal(t, provider.ScenePage, resp.Payment.Scene)
		assert.Equal(t, []provider.Scene{provider.SceneQR, provider.ScenePage}, f.adapter.createCalls)
	})

	t.Run("disabled primary scene reports fallback even when never tried", func(t *testing.T) {
		f := newFixture(t, o)
		f.adapter.supports = map[provider.Scene]bool{provider.ScenePage: true}
		f.adapter.createFn = func(req *provider.CreateRequest, scene provider.Scene) (*provider.CreateResult, error) {
			return &provider.CreateResult{OK: true, Scene: scene, PayURL: "https://pay.example/z"}, nil
		}

		resp, err := f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: o.ID,
			Channel: provider.ChannelAlipay,
		})
		require.NoError(t, err)
		assert.True(t, resp.SceneFallbackUsed)
		assert.True(t, resp.Payment.SceneFallback)
		assert.Equal(t, provider.ScenePage, resp.Payment.Scene)
		assert.Equal(t, []provider.Scene{provider.ScenePage}, f.adapter.createCalls)
	})

	t.Run("no usable scene is rejected before any attempt exists", func(t *testing.T) {
		f := newFixture(t, o)
		f.adapter.supports = map[provider.Scene]bool{}

		_, err := f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: o.ID,
			Channel: provider.ChannelAlipay,
			Scene:   provider.SceneQR,
		})
		require.Error(t, err)
		assert.Empty(t, f.repo.payments)
		assert.Empty(t, f.adapter.createCalls)
	})

	t.Run("all candidates rejected marks the payment failed", func(t *testing.T) {
		f := newFixture(t, o)
		f.adapter.createFn = func(req *provider.CreateRequest, scene provider.Scene) (*provider.CreateResult, error) {
			return &provider.CreateResult{OK: false, Code: "ACQ.ACCESS_FORBIDDEN", Message: "no permission"}, nil
		}

		_, err := f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: o.ID,
			Channel: provider.ChannelAlipay,
		})
		require.Error(t, err)
		assert.True(t, isBusinessError(err))

		var stored *Payment
		for _, p := range f.repo.payments {
			stored = p
		}
		require.NotNil(t, stored)
		assert.Equal(t, StatusFailed, stored.Status)
		assert.Equal(t, "ACQ.ACCESS_FORBIDDEN", stored.FailCode)
	})

	t.Run("transport failure leaves the payment pending", func(t *testing.T) {
		f := newFixture(t, o)
		f.adapter.createFn = func(req *provider.CreateRequest, scene provider.Scene) (*provider.CreateResult, error) {
			return nil, errors.New("dial tcp: connection refused")
		}

		_, err := f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: o.ID,
			Channel: provider.ChannelAlipay,
			Scene:   provider.SceneQR,
		})
		require.Error(t, err)

		var stored *Payment
		for _, p := range f.repo.payments {
			stored = p
		}
		require.NotNil(t, stored)
		assert.Equal(t, StatusPending, stored.Status)
	})

	t.Run("rejects cancelled and fully paid orders", func(t *testing.T) {
		cancelled := customerOrder(50)
		cancelled.Status = order.StatusCancelled
		f := newFixture(t, cancelled)
		_, err := f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: cancelled.ID, Channel: provider.ChannelAlipay, Scene: provider.SceneQR,
		})
		assert.True(t, isBusinessError(err))

		paid := customerOrder(50)
		paid.Paid = paid.Payable
		paid.Status = order.StatusPaid
		f = newFixture(t, paid)
		_, err = f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: paid.ID, Channel: provider.ChannelAlipay, Scene: provider.SceneQR,
		})
		assert.True(t, isBusinessError(err))
	})

	t.Run("jsapi requires an openid", func(t *testing.T) {
		f := newFixture(t, o)
		_, err := f.service.CreatePayment(context.Background(), &CreatePaymentRequest{
			OrderID: o.ID, Channel: provider.ChannelWechat, Scene: provider.SceneJSAPI,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "openid")
	})
}

// --- success notifications ---

func TestProcessSuccess(t *testing.T) {
	t.Run("full payment transitions the order to paid with side effects", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)

		outcome, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(100),
			GatewayTradeNo: "2026080122001400001",
		})
		require.NoError(t, err)
		assert.False(t, outcome.AlreadyProcessed)
		assert.Equal(t, "100.00", outcome.AppliedAmount.StringFixed(2))
		assert.Equal(t, order.StatusPaid, outcome.OrderStatus)
		assert.Equal(t, int64(100), outcome.PointsAwarded)
		assert.NotNil(t, outcome.PrintJobID)
		assert.Empty(t, outcome.Warnings)
		assert.Equal(t, 1, f.loyalty.awardCalls)
		assert.Equal(t, 1, f.gifting.calls)

		stored, err := f.repo.GetByPaymentNo(context.Background(), p.PaymentNo)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, stored.Status)
		assert.Equal(t, "2026080122001400001", stored.GatewayTradeNo)
		assert.NotNil(t, stored.PaidAt)

		entry, ok := f.repo.ledger[p.PaymentNo]
		require.True(t, ok)
		assert.Equal(t, "100.00", entry.Amount.StringFixed(2))
		assert.Equal(t, o.ID, entry.OrderID)

		updated, err := f.orders.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, updated.Status)
		assert.NotNil(t, updated.FirstPaidAt)
	})

	t.Run("duplicate notification is a no-op", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		notice := &SuccessNotice{OutTradeNo: p.OutTradeNo, ReportedAmount: decimal.NewFromFloat(100)}

		_, err := f.service.ProcessSuccess(context.Background(), notice)
		require.NoError(t, err)

		outcome, err := f.service.ProcessSuccess(context.Background(), notice)
		require.NoError(t, err)
		assert.True(t, outcome.AlreadyProcessed)
		assert.Equal(t, order.StatusPaid, outcome.OrderStatus)
		assert.Equal(t, 1, f.loyalty.awardCalls)
		assert.Equal(t, 1, f.gifting.calls)
		assert.Equal(t, 1, f.receipts.calls)
		assert.Len(t, f.repo.ledger, 1)
	})

	t.Run("amount mismatch is rejected without touching state", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)

		_, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(90),
		})
		require.Error(t, err)
		assert.True(t, isBusinessError(err))

		stored, _ := f.repo.GetByPaymentNo(context.Background(), p.PaymentNo)
		assert.Equal(t, StatusPending, stored.Status)
		updated, _ := f.orders.Get(context.Background(), o.ID)
		assert.Equal(t, order.StatusPending, updated.Status)
		assert.True(t, updated.Paid.IsZero())
		assert.Zero(t, f.loyalty.awardCalls)
	})

	t.Run("one cent of drift is within tolerance", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)

		outcome, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(99.99),
		})
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, outcome.OrderStatus)
	})

	t.Run("partial payment leaves the order partially paid without side effects", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 40)

		outcome, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(40),
		})
		require.NoError(t, err)
		assert.Equal(t, order.StatusPartiallyPaid, outcome.OrderStatus)
		assert.Equal(t, "40.00", outcome.OrderPaid.StringFixed(2))
		assert.Zero(t, f.loyalty.awardCalls)
		assert.Zero(t, f.gifting.calls)
		assert.Zero(t, f.receipts.calls)

		// Partial captures still land in the ledger.
		entry, ok := f.repo.ledger[p.PaymentNo]
		require.True(t, ok)
		assert.Equal(t, "40.00", entry.Amount.StringFixed(2))
	})

	t.Run("overpayment is clamped to the outstanding amount", func(t *testing.T) {
		o := customerOrder(100)
		o.Paid = decimal.NewFromFloat(70)
		o.Status = order.StatusPartiallyPaid
		f := newFixture(t, o)
		// The attempt was opened before the other 70 landed.
		p := f.seedPayment(t, o, StatusPending, 100)

		outcome, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(100),
		})
		require.NoError(t, err)
		assert.Equal(t, "30.00", outcome.AppliedAmount.StringFixed(2))
		assert.Equal(t, order.StatusPaid, outcome.OrderStatus)
		assert.Equal(t, "100.00", outcome.OrderPaid.StringFixed(2))
		require.NotEmpty(t, outcome.Warnings)
		assert.Contains(t, outcome.Warnings[0], "overpayment")
	})

	t.Run("side effect failures become warnings, never rollbacks", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		f.loyalty.awardErr = errors.New("points service down")
		f.receipts.err = errors.New("printer gateway timeout")

		outcome, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(100),
		})
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, outcome.OrderStatus)
		assert.Len(t, outcome.Warnings, 2)
		assert.Zero(t, outcome.PointsAwarded)
		assert.Equal(t, 1, f.gifting.calls)

		stored, _ := f.repo.GetByPaymentNo(context.Background(), p.PaymentNo)
		assert.Equal(t, StatusSuccess, stored.Status)
	})

	t.Run("pending siblings are closed locally and at the gateway", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		sibling := f.seedPayment(t, o, StatusPending, 100)

		_, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(100),
		})
		require.NoError(t, err)

		stored, _ := f.repo.GetByPaymentNo(context.Background(), sibling.PaymentNo)
		assert.Equal(t, StatusClosed, stored.Status)
		assert.Equal(t, []string{sibling.OutTradeNo}, f.adapter.closeCalls)
	})

	t.Run("failed sibling gateway close degrades to a warning", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		sibling := f.seedPayment(t, o, StatusPending, 100)
		f.adapter.closeFn = func(outTradeNo string) (*provider.Result, error) {
			return nil, errors.New("gateway unreachable")
		}

		outcome, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(100),
		})
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, outcome.OrderStatus)
		require.NotEmpty(t, outcome.Warnings)
		assert.Contains(t, outcome.Warnings[len(outcome.Warnings)-1], sibling.PaymentNo)

		// Local closure already happened under the lock.
		stored, _ := f.repo.GetByPaymentNo(context.Background(), sibling.PaymentNo)
		assert.Equal(t, StatusClosed, stored.Status)
	})

	t.Run("closed payment cannot succeed", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusClosed, 100)

		_, err := f.service.ProcessSuccess(context.Background(), &SuccessNotice{
			OutTradeNo:     p.OutTradeNo,
			ReportedAmount: decimal.NewFromFloat(100),
		})
		assert.True(t, isBusinessError(err))
	})
}

// --- refunds ---

func TestRefundPayment(t *testing.T) {
	okRefund := func(req *provider.RefundRequest) (*provider.RefundResult, error) {
		return &provider.RefundResult{OK: true, GatewayRefundNo: "RG" + req.OutRefundNo}, nil
	}

	paidFixture := func(t *testing.T) (*fixture, *order.Order, *Payment) {
		o := customerOrder(100)
		o.Paid = decimal.NewFromFloat(100)
		o.Status = order.StatusPaid
		f := newFixture(t, o)
		f.adapter.refundFn = okRefund
		p := f.seedPayment(t, o, StatusSuccess, 100)
		return f, o, p
	}

	t.Run("partial then full refund walks the order back to refunded", func(t *testing.T) {
		f, o, p := paidFixture(t)

		amount := decimal.NewFromFloat(40)
		r1, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{Amount: &amount})
		require.NoError(t, err)
		assert.Equal(t, RefundStatusSuccess, r1.Status)
		assert.Equal(t, "40.00", r1.Amount.StringFixed(2))

		updated, _ := f.orders.Get(context.Background(), o.ID)
		assert.Equal(t, order.StatusPartiallyPaid, updated.Status)
		assert.Equal(t, "60.00", updated.Paid.StringFixed(2))

		// Default amount refunds the remainder.
		r2, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{})
		require.NoError(t, err)
		assert.Equal(t, "60.00", r2.Amount.StringFixed(2))

		updated, _ = f.orders.Get(context.Background(), o.ID)
		assert.Equal(t, order.StatusRefunded, updated.Status)
		assert.True(t, updated.Paid.IsZero())

		require.Len(t, f.loyalty.refundCalls, 2)
		assert.Equal(t, "40.00", f.loyalty.refundCalls[0].StringFixed(2))
		assert.Equal(t, "60.00", f.loyalty.refundCalls[1].StringFixed(2))
	})

	t.Run("rejects amounts outside the refundable bound", func(t *testing.T) {
		f, _, p := paidFixture(t)

		for _, amt := range []float64{0, -5, 100.02} {
			amount := decimal.NewFromFloat(amt)
			_, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{Amount: &amount})
			assert.True(t, isBusinessError(err), "amount %v should be rejected", amt)
		}
		assert.Empty(t, f.adapter.refundCalls)
	})

	t.Run("prior refunds shrink the bound", func(t *testing.T) {
		f, _, p := paidFixture(t)

		amount := decimal.NewFromFloat(70)
		_, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{Amount: &amount})
		require.NoError(t, err)

		over := decimal.NewFromFloat(40)
		_, err = f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{Amount: &over})
		assert.True(t, isBusinessError(err))
	})

	t.Run("only successful payments can be refunded", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		f.adapter.refundFn = okRefund
		p := f.seedPayment(t, o, StatusPending, 100)

		_, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{})
		assert.True(t, isBusinessError(err))
	})

	t.Run("gateway transport failure marks the refund failed and surfaces the error", func(t *testing.T) {
		f, o, p := paidFixture(t)
		f.adapter.refundFn = func(req *provider.RefundRequest) (*provider.RefundResult, error) {
			return nil, errors.New("tls handshake timeout")
		}

		_, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{})
		require.Error(t, err)

		refunds, _ := f.repo.ListRefundsByPayment(context.Background(), p.ID)
		require.Len(t, refunds, 1)
		assert.Equal(t, RefundStatusFailed, refunds[0].Status)

		updated, _ := f.orders.Get(context.Background(), o.ID)
		assert.Equal(t, order.StatusPaid, updated.Status)
		assert.Equal(t, "100.00", updated.Paid.StringFixed(2))
	})

	t.Run("gateway rejection marks the refund failed", func(t *testing.T) {
		f, _, p := paidFixture(t)
		f.adapter.refundFn = func(req *provider.RefundRequest) (*provider.RefundResult, error) {
			return &provider.RefundResult{OK: false, Code: "TRADE_OVERDUE", Message: "trade too old"}, nil
		}

		_, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{})
		assert.True(t, isBusinessError(err))

		refunds, _ := f.repo.ListRefundsByPayment(context.Background(), p.ID)
		require.Len(t, refunds, 1)
		assert.Equal(t, RefundStatusFailed, refunds[0].Status)
	})

	t.Run("failed refunds do not count against the bound", func(t *testing.T) {
		f, _, p := paidFixture(t)
		f.adapter.refundFn = func(req *provider.RefundRequest) (*provider.RefundResult, error) {
			return nil, errors.New("timeout")
		}
		_, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{})
		require.Error(t, err)

		f.adapter.refundFn = okRefund
		r, err := f.service.RefundPayment(context.Background(), p.PaymentNo, &RefundPaymentRequest{})
		require.NoError(t, err)
		assert.Equal(t, "100.00", r.Amount.StringFixed(2))
	})
}

// --- close and sync ---

func TestClosePayment(t *testing.T) {
	t.Run("closes a pending payment", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)

		closed, err := f.service.ClosePayment(context.Background(), p.PaymentNo)
		require.NoError(t, err)
		assert.Equal(t, StatusClosed, closed.Status)
		assert.NotNil(t, closed.ClosedAt)
	})

	t.Run("closing twice is a no-op", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusClosed, 100)

		closed, err := f.service.ClosePayment(context.Background(), p.PaymentNo)
		require.NoError(t, err)
		assert.Equal(t, StatusClosed, closed.Status)
		assert.Empty(t, f.adapter.closeCalls)
	})

	t.Run("successful payments cannot be closed", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusSuccess, 100)

		_, err := f.service.ClosePayment(context.Background(), p.PaymentNo)
		assert.True(t, isBusinessError(err))
	})

	t.Run("a trade the gateway never saw still closes locally", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		f.adapter.closeFn = func(outTradeNo string) (*provider.Result, error) {
			return &provider.Result{OK: false, Code: "ACQ.TRADE_NOT_EXIST"}, nil
		}

		closed, err := f.service.ClosePayment(context.Background(), p.PaymentNo)
		require.NoError(t, err)
		assert.Equal(t, StatusClosed, closed.Status)
	})
}

func TestSyncStatus(t *testing.T) {
	t.Run("applies a success the webhook missed", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		f.adapter.queryFn = func(outTradeNo string) (*provider.QueryResult, error) {
			return &provider.QueryResult{
				OK:             true,
				State:          provider.TradeStateSuccess,
				ReportedAmount: decimal.NewFromFloat(100),
				GatewayTradeNo: "4200001",
			}, nil
		}

		result, err := f.service.SyncStatus(context.Background(), p.PaymentNo)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, result.Status)
		assert.True(t, result.Changed)
		require.NotNil(t, result.Outcome)
		assert.Equal(t, order.StatusPaid, result.Outcome.OrderStatus)
	})

	t.Run("terminal payments are not queried", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusClosed, 100)

		result, err := f.service.SyncStatus(context.Background(), p.PaymentNo)
		require.NoError(t, err)
		assert.Equal(t, StatusClosed, result.Status)
		assert.False(t, result.Changed)
	})

	t.Run("gateway closure is mirrored locally", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		f.adapter.queryFn = func(outTradeNo string) (*provider.QueryResult, error) {
			return &provider.QueryResult{OK: true, State: provider.TradeStateClosed}, nil
		}

		result, err := f.service.SyncStatus(context.Background(), p.PaymentNo)
		require.NoError(t, err)
		assert.Equal(t, StatusClosed, result.Status)

		stored, _ := f.repo.GetByPaymentNo(context.Background(), p.PaymentNo)
		assert.Equal(t, StatusClosed, stored.Status)
	})

	t.Run("an unknown trade stays pending", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		f.adapter.queryFn = func(outTradeNo string) (*provider.QueryResult, error) {
			return &provider.QueryResult{OK: false, Code: "TRADE_NOT_EXIST"}, nil
		}

		result, err := f.service.SyncStatus(context.Background(), p.PaymentNo)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, result.Status)
		assert.False(t, result.Changed)
	})

	t.Run("query transport failure changes nothing", func(t *testing.T) {
		o := customerOrder(100)
		f := newFixture(t, o)
		p := f.seedPayment(t, o, StatusPending, 100)
		f.adapter.queryFn = func(outTradeNo string) (*provider.QueryResult, error) {
			return nil, errors.New("i/o timeout")
		}

		_, err := f.service.SyncStatus(context.Background(), p.PaymentNo)
		require.Error(t, err)

		stored, _ := f.repo.GetByPaymentNo(context.Background(), p.PaymentNo)
		assert.Equal(t, StatusPending, stored.Status)
	})
}
