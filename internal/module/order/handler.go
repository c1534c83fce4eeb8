package order

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/wujiit/qilingstore-sub001/internal/shared/errors"
)

// Handler handles order HTTP requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders")
	{
		orders.POST("", h.Create)
		orders.GET("", h.List)
		orders.GET("/:id", h.Get)
		orders.POST("/:id/cancel", h.Cancel)
	}
}

// Create creates a new order.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	o, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// List lists orders for a store.
func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	resp, err := h.service.List(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get returns an order by ID.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	o, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// Cancel cancels a pending order.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	o, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		c.JSON(appErr.StatusCode, appErr.ToResponse())
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, apperrors.NotFound("order").ToResponse())
	default:
		c.JSON(apperrors.GetStatusCode(err), apperrors.ErrorResponse{
			Error: apperrors.ErrorDetail{Code: "INTERNAL_ERROR", Message: err.Error()},
		})
	}
}
