package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/wujiit/qilingstore-sub001/internal/shared/errors"
)

// Handler handles payment HTTP requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.Create)
		payments.GET("/:paymentNo", h.Get)
		payments.POST("/:paymentNo/sync", h.Sync)
		payments.POST("/:paymentNo/close", h.Close)
		payments.POST("/:paymentNo/refunds", h.Refund)
		payments.GET("/:paymentNo/refunds", h.ListRefunds)
	}
	r.GET("/orders/:id/payments", h.ListByOrder)
}

// Create opens a new payment attempt on an order.
func (h *Handler) Create(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	req.ClientIP = c.ClientIP()

	resp, err := h.service.CreatePayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Get returns a payment by its number.
func (h *Handler) Get(c *gin.Context) {
	p, err := h.service.GetPayment(c.Request.Context(), c.Param("paymentNo"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Sync reconciles a pending payment against the gateway.
func (h *Handler) Sync(c *gin.Context) {
	result, err := h.service.SyncStatus(c.Request.Context(), c.Param("paymentNo"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Close closes a pending payment.
func (h *Handler) Close(c *gin.Context) {
	p, err := h.service.ClosePayment(c.Request.Context(), c.Param("paymentNo"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Refund refunds part or all of a successful payment.
func (h *Handler) Refund(c *gin.Context) {
	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	refund, err := h.service.RefundPayment(c.Request.Context(), c.Param("paymentNo"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

// ListRefunds lists refund attempts against a payment.
func (h *Handler) ListRefunds(c *gin.Context) {
	refunds, err := h.service.ListRefunds(c.Request.Context(), c.Param("paymentNo"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refunds)
}

// ListByOrder lists all payment attempts on an order.
func (h *Handler) ListByOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	payments, err := h.service.ListByOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		c.JSON(appErr.StatusCode, appErr.ToResponse())
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, apperrors.NotFound("payment").ToResponse())
	case errors.Is(err, ErrChannelDisabled):
		c.JSON(http.StatusServiceUnavailable, apperrors.Configuration(err.Error()).ToResponse())
	default:
		c.JSON(apperrors.GetStatusCode(err), apperrors.ErrorResponse{
			Error: apperrors.ErrorDetail{Code: "INTERNAL_ERROR", Message: err.Error()},
		})
	}
}
