package payment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wujiit/qilingstore-sub001/internal/module/payment/provider"
)

const wechatFailBody = `<xml><return_code><![CDATA[FAIL]]></return_code><return_msg><![CDATA[verification failed]]></return_msg></xml>`

// WebhookHandler receives asynchronous gateway notifications. These
// routes are unauthenticated by design; the signature inside the body
// is the authentication.
type WebhookHandler struct {
	service *Service
	log     *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service *Service, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, log: log}
}

// RegisterRoutes registers the webhook routes on the root router.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/alipay", h.Alipay)
	r.POST("/webhooks/wechat", h.Wechat)
}

// Alipay handles alipay asynchronous notifications.
func (h *WebhookHandler) Alipay(c *gin.Context) {
	ack, outcome, err := h.service.HandleProviderNotification(c.Request.Context(), provider.ChannelAlipay, c.Request)
	if err != nil {
		h.log.Warn("alipay notification rejected", zap.Error(err))
		c.String(http.StatusBadRequest, "failure")
		return
	}
	h.logOutcome("alipay", outcome)
	c.String(http.StatusOK, ack)
}

// Wechat handles wechat pay asynchronous notifications.
func (h *WebhookHandler) Wechat(c *gin.Context) {
	ack, outcome, err := h.service.HandleProviderNotification(c.Request.Context(), provider.ChannelWechat, c.Request)
	if err != nil {
		h.log.Warn("wechat notification rejected", zap.Error(err))
		c.Data(http.StatusBadRequest, "application/xml", []byte(wechatFailBody))
		return
	}
	h.logOutcome("wechat", outcome)
	c.Data(http.StatusOK, "application/xml", []byte(ack))
}

func (h *WebhookHandler) logOutcome(channel string, outcome *SuccessOutcome) {
	if outcome == nil {
		return
	}
	h.log.Info("notification processed",
		zap.String("channel", channel),
		zap.String("payment_no", outcome.PaymentNo),
		zap.Bool("duplicate", outcome.AlreadyProcessed),
		zap.Strings("warnings", outcome.Warnings),
	)
}
