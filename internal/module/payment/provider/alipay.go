package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/alipay"
	"github.com/shopspring/decimal"
)

// AlipayConfig holds the credentials for the Alipay open API
// (JSON body, RSA2 request signing).
type AlipayConfig struct {
	AppID      string
	PrivateKey string // RSA2 private key, PEM
	PublicKey  string // Alipay public key for verification, PEM
	IsProd     bool
	NotifyURL  string
	ReturnURL  string
}

// AlipayAdapter implements Adapter for Alipay.
type AlipayAdapter struct {
	client *alipay.Client
	config *AlipayConfig
}

// NewAlipayAdapter creates a new Alipay adapter.
func NewAlipayAdapter(config *AlipayConfig) (*AlipayAdapter, error) {
	if config.AppID == "" || config.PrivateKey == "" {
		return nil, errors.New("alipay: app_id and private key are required")
	}

	client, err := alipay.NewClient(config.AppID, config.PrivateKey, config.IsProd)
	if err != nil {
		return nil, fmt.Errorf("create alipay client: %w", err)
	}
	client.AutoVerifySign([]byte(config.PublicKey))

	if config.NotifyURL != "" {
		client.SetNotifyUrl(config.NotifyURL)
	}
	if config.ReturnURL != "" {
		client.SetReturnUrl(config.ReturnURL)
	}

	return &AlipayAdapter{client: client, config: config}, nil
}

// Channel returns the channel this adapter serves.
func (a *AlipayAdapter) Channel() Channel {
	return ChannelAlipay
}

// Supports reports whether the adapter can create payments in the scene.
func (a *AlipayAdapter) Supports(scene Scene) bool {
	switch scene {
	case SceneQR, ScenePage, SceneWap, SceneApp:
		return true
	}
	return false
}

// Create opens a payment intent at the gateway.
func (a *AlipayAdapter) Create(ctx context.Context, req *CreateRequest, scene Scene) (*CreateResult, error) {
	bm := make(gopay.BodyMap)
	bm.Set("out_trade_no", req.OutTradeNo)
	bm.Set("total_amount", req.Amount.StringFixed(2))
	bm.Set("subject", req.Subject)
	if req.ExpireIn != "" {
		bm.Set("timeout_express", req.ExpireIn)
	}
	if req.NotifyURL != "" {
		bm.Set("notify_url", req.NotifyURL)
	}

	result := &CreateResult{Scene: scene}

	switch scene {
	case SceneQR:
		bm.Set("product_code", "FACE_TO_FACE_PAYMENT")
		resp, err := a.client.TradePrecreate(ctx, bm)
		if err != nil {
			return nil, fmt.Errorf("alipay precreate: %w", err)
		}
		raw, _ := json.Marshal(resp.Response)
		result.Raw = string(raw)
		if resp.Response.Code != "10000" {
			result.Code = alipayCode(resp.Response.Code, resp.Response.SubCode)
			result.Message = alipayMsg(resp.Response.Msg, resp.Response.SubMsg)
			return result, nil
		}
		result.OK = true
		result.QRCode = resp.Response.QrCode

	case ScenePage:
		bm.Set("product_code", "FAST_INSTANT_TRADE_PAY")
		if req.ReturnURL != "" {
			bm.Set("return_url", req.ReturnURL)
		}
		payURL, err := a.client.TradePagePay(ctx, bm)
		if err != nil {
			return nil, fmt.Errorf("alipay page pay: %w", err)
		}
		result.OK = true
		result.PayURL = payURL

	case SceneWap:
		bm.Set("product_code", "QUICK_WAP_WAY")
		if req.ReturnURL != "" {
			bm.Set("return_url", req.ReturnURL)
		}
		payURL, err := a.client.TradeWapPay(ctx, bm)
		if err != nil {
			return nil, fmt.Errorf("alipay wap pay: %w", err)
		}
		result.OK = true
		result.PayURL = payURL

	case SceneApp:
		bm.Set("product_code", "QUICK_MSECURITY_PAY")
		payStr, err := a.client.TradeAppPay(ctx, bm)
		if err != nil {
			return nil, fmt.Errorf("alipay app pay: %w", err)
		}
		result.OK = true
		result.AppPayload = payStr

	default:
		return nil, fmt.Errorf("alipay: unsupported scene %q", scene)
	}

	return result, nil
}

// Query fetches the remote state of a payment.
func (a *AlipayAdapter) Query(ctx context.Context, outTradeNo, gatewayTradeNo string) (*QueryResult, error) {
	bm := make(gopay.BodyMap)
	if gatewayTradeNo != "" {
		bm.Set("trade_no", gatewayTradeNo)
	} else {
		bm.Set("out_trade_no", outTradeNo)
	}

	resp, err := a.client.TradeQuery(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("alipay query: %w", err)
	}

	raw, _ := json.Marshal(resp.Response)
	result := &QueryResult{Raw: string(raw)}

	if resp.Response.Code != "10000" {
		result.Code = alipayCode(resp.Response.Code, resp.Response.SubCode)
		result.Message = alipayMsg(resp.Response.Msg, resp.Response.SubMsg)
		return result, nil
	}

	amount, err := decimal.NewFromString(resp.Response.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("alipay query: bad total_amount %q", resp.Response.TotalAmount)
	}

	result.OK = true
	result.State = mapAlipayTradeStatus(resp.Response.TradeStatus)
	result.ReportedAmount = amount
	result.GatewayTradeNo = resp.Response.TradeNo
	result.PayerID = resp.Response.BuyerUserId
	return result, nil
}

// Close cancels an unpaid payment at the gateway.
func (a *AlipayAdapter) Close(ctx context.Context, outTradeNo, gatewayTradeNo string) (*Result, error) {
	bm := make(gopay.BodyMap)
	if gatewayTradeNo != "" {
		bm.Set("trade_no", gatewayTradeNo)
	} else {
		bm.Set("out_trade_no", outTradeNo)
	}

	resp, err := a.client.TradeClose(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("alipay close: %w", err)
	}

	if resp.Response.Code != "10000" {
		return &Result{
			Code:    alipayCode(resp.Response.Code, resp.Response.SubCode),
			Message: alipayMsg(resp.Response.Msg, resp.Response.SubMsg),
		}, nil
	}
	return &Result{OK: true}, nil
}

// Refund refunds part of a successful payment.
func (a *AlipayAdapter) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	bm := make(gopay.BodyMap)
	if req.GatewayTradeNo != "" {
		bm.Set("trade_no", req.GatewayTradeNo)
	} else {
		bm.Set("out_trade_no", req.OutTradeNo)
	}
	bm.Set("out_request_no", req.OutRefundNo)
	bm.Set("refund_amount", req.RefundAmount.StringFixed(2))
	if req.Reason != "" {
		bm.Set("refund_reason", req.Reason)
	}

	resp, err := a.client.TradeRefund(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("alipay refund: %w", err)
	}

	raw, _ := json.Marshal(resp.Response)
	if resp.Response.Code != "10000" {
		return &RefundResult{
			Code:    alipayCode(resp.Response.Code, resp.Response.SubCode),
			Message: alipayMsg(resp.Response.Msg, resp.Response.SubMsg),
			Raw:     string(raw),
		}, nil
	}

	return &RefundResult{
		OK:              true,
		GatewayRefundNo: resp.Response.TradeNo,
		Raw:             string(raw),
	}, nil
}

// ParseNotify verifies an inbound form-urlencoded notification.
func (a *AlipayAdapter) ParseNotify(req *http.Request) (*Notification, error) {
	bm, err := alipay.ParseNotifyToBodyMap(req)
	if err != nil {
		return nil, fmt.Errorf("alipay parse notify: %w", err)
	}

	ok, err := alipay.VerifySign(a.config.PublicKey, bm)
	if err != nil {
		return nil, fmt.Errorf("alipay verify sign: %w", err)
	}
	if !ok {
		return nil, errors.New("alipay: invalid notification signature")
	}

	amount, err := decimal.NewFromString(bm.Get("total_amount"))
	if err != nil {
		return nil, fmt.Errorf("alipay notify: bad total_amount %q", bm.Get("total_amount"))
	}

	raw, _ := json.Marshal(bm)
	return &Notification{
		OutTradeNo:     bm.Get("out_trade_no"),
		GatewayTradeNo: bm.Get("trade_no"),
		ReportedAmount: amount,
		State:          mapAlipayTradeStatus(bm.Get("trade_status")),
		PayerID:        bm.Get("buyer_id"),
		Raw:            string(raw),
		AckBody:        "success",
	}, nil
}

// mapAlipayTradeStatus maps an Alipay trade status to a TradeState.
func mapAlipayTradeStatus(status string) TradeState {
	switch status {
	case "WAIT_BUYER_PAY":
		return TradeStatePending
	case "TRADE_CLOSED":
		return TradeStateClosed
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return TradeStateSuccess
	default:
		return TradeStateFailed
	}
}

// alipayCode prefers the sub code, which carries the actionable reason.
func alipayCode(code, subCode string) string {
	if subCode != "" {
		return subCode
	}
	return code
}

func alipayMsg(msg, subMsg string) string {
	if subMsg != "" {
		return subMsg
	}
	return msg
}
