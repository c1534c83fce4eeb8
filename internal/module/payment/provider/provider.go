package provider

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// Channel identifies a payment provider.
type Channel string

const (
	ChannelAlipay Channel = "alipay"
	ChannelWechat Channel = "wechat"
)

// Scene is the provider-specific payment variant.
type Scene string

const (
	SceneAuto  Scene = "auto"  // resolved to an ordered candidate list by the orchestrator
	SceneQR    Scene = "qr"    // in-person QR code (precreate / NATIVE)
	ScenePage  Scene = "page"  // desktop web redirect (alipay only)
	SceneWap   Scene = "wap"   // mobile web redirect
	SceneApp   Scene = "app"   // native app SDK
	SceneJSAPI Scene = "jsapi" // public account / in-wechat payment (wechat only)
)

// TradeState is the normalized remote payment state.
type TradeState string

const (
	TradeStatePending TradeState = "pending"
	TradeStateSuccess TradeState = "success"
	TradeStateClosed  TradeState = "closed"
	TradeStateFailed  TradeState = "failed"
)

// CreateRequest asks the gateway to open a payment intent.
type CreateRequest struct {
	OutTradeNo string
	Amount     decimal.Decimal
	Subject    string
	NotifyURL  string
	ReturnURL  string
	// Client context
	ClientIP string
	OpenID   string // required for jsapi
	ExpireIn string // gateway-side expiry, e.g. "30m"
}

// CreateResult is the gateway's answer to a create call. OK=false with
// a code/message is a business rejection; transport failures surface
// as errors instead.
type CreateResult struct {
	OK      bool
	Code    string
	Message string

	Scene          Scene // scene actually used
	QRCode         string
	PayURL         string
	AppPayload     string
	JSAPIPayload   map[string]string
	GatewayTradeNo string
	Raw            string
}

// QueryResult is the gateway's answer to a status query.
type QueryResult struct {
	OK      bool
	Code    string
	Message string

	State          TradeState
	ReportedAmount decimal.Decimal
	GatewayTradeNo string
	PayerID        string
	Raw            string
}

// Result is a generic ok/code outcome for close calls. The orchestrator
// decides which non-OK codes are benign.
type Result struct {
	OK      bool
	Code    string
	Message string
}

// RefundRequest asks the gateway to refund part of a payment.
type RefundRequest struct {
	OutTradeNo     string
	GatewayTradeNo string
	OutRefundNo    string
	RefundAmount   decimal.Decimal
	TotalAmount    decimal.Decimal
	Reason         string
}

// RefundResult is the gateway's answer to a refund call.
type RefundResult struct {
	OK      bool
	Code    string
	Message string

	GatewayRefundNo string
	Raw             string
}

// Notification is a verified inbound payment notification.
type Notification struct {
	OutTradeNo     string
	GatewayTradeNo string
	ReportedAmount decimal.Decimal
	State          TradeState
	PayerID        string
	Raw            string
	// AckBody is what the webhook handler must write back so the
	// provider stops redelivering.
	AckBody string
}

// Adapter is the contract every payment gateway implements. All calls
// perform synchronous network I/O bounded by the context deadline; a
// transport or protocol failure is returned as an error and must leave
// the caller free to retry or reconcile later.
type Adapter interface {
	// Channel returns the channel this adapter serves.
	Channel() Channel

	// Supports reports whether the adapter can create payments in the
	// given scene.
	Supports(scene Scene) bool

	// Create opens a payment intent at the gateway.
	Create(ctx context.Context, req *CreateRequest, scene Scene) (*CreateResult, error)

	// Query fetches the remote state of a payment.
	Query(ctx context.Context, outTradeNo, gatewayTradeNo string) (*QueryResult, error)

	// Close cancels an unpaid payment at the gateway.
	Close(ctx context.Context, outTradeNo, gatewayTradeNo string) (*Result, error)

	// Refund refunds part of a successful payment. Finalized
	// synchronously: the result carries the terminal outcome.
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// ParseNotify verifies the signature of an inbound notification
	// and extracts its fields. A verification failure is an error.
	ParseNotify(req *http.Request) (*Notification, error)
}
