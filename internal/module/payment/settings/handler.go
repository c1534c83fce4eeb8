package settings

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wujiit/qilingstore-sub001/internal/shared/errors"
)

// secretKeys are never echoed back through the admin API.
var secretKeys = map[string]bool{
	KeyAlipayPrivateKey: true,
	KeyWechatAPIKey:     true,
	KeyWechatCertPEM:    true,
	KeyWechatKeyPEM:     true,
}

// Handler exposes the admin settings API.
type Handler struct {
	resolver *Resolver
	store    *Store
}

// NewHandler creates a new settings handler.
func NewHandler(resolver *Resolver, store *Store) *Handler {
	return &Handler{resolver: resolver, store: store}
}

// RegisterRoutes registers admin settings routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin")
	{
		admin.GET("/payment-settings", h.Get)
		admin.PUT("/payment-settings", h.Put)
	}
}

// Get returns the effective settings with secrets redacted.
func (h *Handler) Get(c *gin.Context) {
	overrides, err := h.store.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, apperrors.Internal("load settings", err).ToResponse())
		return
	}

	rt := Resolve(h.resolver.Defaults(), overrides)

	values := h.resolver.Defaults()
	for k, v := range overrides {
		values[k] = v
	}
	for k := range values {
		if secretKeys[k] {
			if values[k] != "" {
				values[k] = "<set>"
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"values": values,
		"channels": gin.H{
			"alipay": rt.AlipayEnabled,
			"wechat": rt.WechatEnabled,
		},
	})
}

// Put upserts override values. An empty value clears the override.
func (h *Handler) Put(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest(err.Error()).ToResponse())
		return
	}
	if len(req) == 0 {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest("no settings provided").ToResponse())
		return
	}

	if err := h.store.Put(c.Request.Context(), req); err != nil {
		c.JSON(http.StatusInternalServerError, apperrors.Internal("save settings", err).ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(req)})
}
