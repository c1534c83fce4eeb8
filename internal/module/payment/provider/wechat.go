package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/wechat"

	"github.com/wujiit/qilingstore-sub001/internal/shared/money"
	"github.com/wujiit/qilingstore-sub001/internal/utils/random"
)

// wechatAckBody is the XML the gateway expects back once a
// notification has been accepted.
const wechatAckBody = `<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>`

// WechatConfig holds the credentials for the WeChat pay API
// (XML body, MD5-HMAC request signing).
type WechatConfig struct {
	AppID     string
	MchID     string
	APIKey    string
	CertPEM   string // client TLS certificate, PEM; required for refunds
	KeyPEM    string // client TLS private key, PEM
	IsProd    bool
	NotifyURL string
}

// WechatAdapter implements Adapter for WeChat pay.
type WechatAdapter struct {
	client     *wechat.Client
	config     *WechatConfig
	refundable bool
}

// NewWechatAdapter creates a new WeChat adapter. The client TLS
// certificate is loaded from the stored PEM content; refunds fail fast
// when it is absent.
func NewWechatAdapter(config *WechatConfig) (*WechatAdapter, error) {
	if config.AppID == "" || config.MchID == "" || config.APIKey == "" {
		return nil, errors.New("wechat: app_id, mch_id and api key are required")
	}

	client := wechat.NewClient(config.AppID, config.MchID, config.APIKey, config.IsProd)

	refundable := false
	if config.CertPEM != "" && config.KeyPEM != "" {
		if err := client.AddCertPemFileContent([]byte(config.CertPEM), []byte(config.KeyPEM)); err != nil {
			return nil, fmt.Errorf("wechat: load client certificate: %w", err)
		}
		refundable = true
	}

	return &WechatAdapter{client: client, config: config, refundable: refundable}, nil
}

// Channel returns the channel this adapter serves.
func (w *WechatAdapter) Channel() Channel {
	return ChannelWechat
}

// Supports reports whether the adapter can create payments in the scene.
func (w *WechatAdapter) Supports(scene Scene) bool {
	switch scene {
	case SceneQR, SceneWap, SceneApp, SceneJSAPI:
		return true
	}
	return false
}

// Create opens a payment intent at the gateway via unified order.
func (w *WechatAdapter) Create(ctx context.Context, req *CreateRequest, scene Scene) (*CreateResult, error) {
	tradeType, err := wechatTradeType(scene)
	if err != nil {
		return nil, err
	}
	if scene == SceneJSAPI && req.OpenID == "" {
		// A missing parameter is a rejection, not a transport failure.
		return &CreateResult{
			Scene:   scene,
			Code:    "PARAM_ERROR",
			Message: "openid is required for jsapi payments",
		}, nil
	}

	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	bm := make(gopay.BodyMap)
	bm.Set("nonce_str", random.UpperAlphaNum(32)).
		Set("body", req.Subject).
		Set("out_trade_no", req.OutTradeNo).
		Set("total_fee", money.Cents(req.Amount)).
		Set("spbill_create_ip", clientIP).
		Set("notify_url", req.NotifyURL).
		Set("trade_type", tradeType).
		Set("sign_type", wechat.SignType_MD5)
	if scene == SceneJSAPI {
		bm.Set("openid", req.OpenID)
	}

	rsp, err := w.client.UnifiedOrder(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("wechat unified order: %w", err)
	}

	raw, _ := json.Marshal(rsp)
	result := &CreateResult{Scene: scene, Raw: string(raw)}

	if rsp.ReturnCode != gopay.SUCCESS {
		return nil, fmt.Errorf("wechat unified order: %s", rsp.ReturnMsg)
	}
	if rsp.ResultCode != gopay.SUCCESS {
		result.Code = rsp.ErrCode
		result.Message = rsp.ErrCodeDes
		return result, nil
	}

	result.OK = true
	switch scene {
	case SceneQR:
		result.QRCode = rsp.CodeUrl
	case SceneWap:
		result.PayURL = rsp.MwebUrl
	case SceneApp:
		result.AppPayload = w.appPayload(rsp.PrepayId)
	case SceneJSAPI:
		result.JSAPIPayload = w.jsapiPayload(rsp.PrepayId)
	}
	return result, nil
}

// appPayload builds the signed parameter set an app hands to the
// WeChat SDK.
func (w *WechatAdapter) appPayload(prepayID string) string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := random.UpperAlphaNum(32)
	paySign := wechat.GetAppPaySign(w.config.AppID, w.config.MchID, nonce, prepayID, wechat.SignType_MD5, timestamp, w.config.APIKey)

	payload, _ := json.Marshal(map[string]string{
		"appid":     w.config.AppID,
		"partnerid": w.config.MchID,
		"prepayid":  prepayID,
		"package":   "Sign=WXPay",
		"noncestr":  nonce,
		"timestamp": timestamp,
		"sign":      paySign,
	})
	return string(payload)
}

// jsapiPayload builds the signed parameter set for in-wechat (public
// account) payments.
func (w *WechatAdapter) jsapiPayload(prepayID string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := random.UpperAlphaNum(32)
	pkg := "prepay_id=" + prepayID
	paySign := wechat.GetMiniPaySign(w.config.AppID, nonce, pkg, wechat.SignType_MD5, timestamp, w.config.APIKey)

	return map[string]string{
		"appId":     w.config.AppID,
		"timeStamp": timestamp,
		"nonceStr":  nonce,
		"package":   pkg,
		"signType":  wechat.SignType_MD5,
		"paySign":   paySign,
	}
}

// Query fetches the remote state of a payment.
func (w *WechatAdapter) Query(ctx context.Context, outTradeNo, gatewayTradeNo string) (*QueryResult, error) {
	bm := make(gopay.BodyMap)
	bm.Set("nonce_str", random.UpperAlphaNum(32)).
		Set("sign_type", wechat.SignType_MD5)
	if gatewayTradeNo != "" {
		bm.Set("transaction_id", gatewayTradeNo)
	} else {
		bm.Set("out_trade_no", outTradeNo)
	}

	rsp, _, err := w.client.QueryOrder(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("wechat query: %w", err)
	}

	raw, _ := json.Marshal(rsp)
	result := &QueryResult{Raw: string(raw)}

	if rsp.ReturnCode != gopay.SUCCESS {
		return nil, fmt.Errorf("wechat query: %s", rsp.ReturnMsg)
	}
	if rsp.ResultCode != gopay.SUCCESS {
		result.Code = rsp.ErrCode
		result.Message = rsp.ErrCodeDes
		return result, nil
	}

	amount := money.Zero
	if rsp.TotalFee != "" {
		cents, err := strconv.ParseInt(rsp.TotalFee, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("wechat query: bad total_fee %q", rsp.TotalFee)
		}
		amount = money.FromCents(cents)
	}

	result.OK = true
	result.State = mapWechatTradeState(rsp.TradeState)
	result.ReportedAmount = amount
	result.GatewayTradeNo = rsp.TransactionId
	result.PayerID = rsp.Openid
	return result, nil
}

// Close cancels an unpaid payment at the gateway.
func (w *WechatAdapter) Close(ctx context.Context, outTradeNo, gatewayTradeNo string) (*Result, error) {
	bm := make(gopay.BodyMap)
	bm.Set("out_trade_no", outTradeNo).
		Set("nonce_str", random.UpperAlphaNum(32)).
		Set("sign_type", wechat.SignType_MD5)

	rsp, err := w.client.CloseOrder(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("wechat close: %w", err)
	}

	if rsp.ReturnCode != gopay.SUCCESS {
		return nil, fmt.Errorf("wechat close: %s", rsp.ReturnMsg)
	}
	if rsp.ResultCode != gopay.SUCCESS {
		return &Result{Code: rsp.ErrCode, Message: rsp.ErrCodeDes}, nil
	}
	return &Result{OK: true}, nil
}

// Refund refunds part of a successful payment. Requires the client
// TLS certificate.
func (w *WechatAdapter) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	if !w.refundable {
		return nil, errors.New("wechat: refund requires the merchant client certificate; configure cert_pem and key_pem")
	}

	bm := make(gopay.BodyMap)
	bm.Set("nonce_str", random.UpperAlphaNum(32)).
		Set("sign_type", wechat.SignType_MD5).
		Set("out_refund_no", req.OutRefundNo).
		Set("total_fee", money.Cents(req.TotalAmount)).
		Set("refund_fee", money.Cents(req.RefundAmount))
	if req.GatewayTradeNo != "" {
		bm.Set("transaction_id", req.GatewayTradeNo)
	} else {
		bm.Set("out_trade_no", req.OutTradeNo)
	}
	if req.Reason != "" {
		bm.Set("refund_desc", req.Reason)
	}

	rsp, _, err := w.client.Refund(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("wechat refund: %w", err)
	}

	raw, _ := json.Marshal(rsp)
	if rsp.ReturnCode != gopay.SUCCESS {
		return nil, fmt.Errorf("wechat refund: %s", rsp.ReturnMsg)
	}
	if rsp.ResultCode != gopay.SUCCESS {
		return &RefundResult{
			Code:    rsp.ErrCode,
			Message: rsp.ErrCodeDes,
			Raw:     string(raw),
		}, nil
	}

	return &RefundResult{
		OK:              true,
		GatewayRefundNo: rsp.RefundId,
		Raw:             string(raw),
	}, nil
}

// ParseNotify verifies an inbound XML notification.
func (w *WechatAdapter) ParseNotify(req *http.Request) (*Notification, error) {
	bm, err := wechat.ParseNotifyToBodyMap(req)
	if err != nil {
		return nil, fmt.Errorf("wechat parse notify: %w", err)
	}

	ok, err := wechat.VerifySign(w.config.APIKey, wechat.SignType_MD5, bm)
	if err != nil {
		return nil, fmt.Errorf("wechat verify sign: %w", err)
	}
	if !ok {
		return nil, errors.New("wechat: invalid notification signature")
	}

	if bm.Get("return_code") != gopay.SUCCESS {
		return nil, fmt.Errorf("wechat notify: %s", bm.Get("return_msg"))
	}

	state := TradeStateFailed
	if bm.Get("result_code") == gopay.SUCCESS {
		state = TradeStateSuccess
	}

	amount := money.Zero
	if fee := bm.Get("total_fee"); fee != "" {
		cents, err := strconv.ParseInt(fee, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("wechat notify: bad total_fee %q", fee)
		}
		amount = money.FromCents(cents)
	}

	raw, _ := json.Marshal(bm)
	return &Notification{
		OutTradeNo:     bm.Get("out_trade_no"),
		GatewayTradeNo: bm.Get("transaction_id"),
		ReportedAmount: amount,
		State:          state,
		PayerID:        bm.Get("openid"),
		Raw:            string(raw),
		AckBody:        wechatAckBody,
	}, nil
}

// wechatTradeType maps a scene to the unified-order trade type.
func wechatTradeType(scene Scene) (string, error) {
	switch scene {
	case SceneQR:
		return wechat.TradeType_Native, nil
	case SceneWap:
		return wechat.TradeType_H5, nil
	case SceneApp:
		return wechat.TradeType_App, nil
	case SceneJSAPI:
		return wechat.TradeType_JsApi, nil
	}
	return "", fmt.Errorf("wechat: unsupported scene %q", scene)
}

// mapWechatTradeState maps a WeChat trade state to a TradeState.
func mapWechatTradeState(state string) TradeState {
	switch state {
	case "NOTPAY", "USERPAYING":
		return TradeStatePending
	case "CLOSED", "REVOKED":
		return TradeStateClosed
	case "SUCCESS", "REFUND":
		return TradeStateSuccess
	default:
		return TradeStateFailed
	}
}
