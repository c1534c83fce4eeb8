package audit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the payment event trail to operators.
type Handler struct {
	service *Service
}

// NewHandler creates a new audit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/payments/:paymentNo/events", h.History)
}

// History lists the recorded events for a payment, oldest first.
func (h *Handler) History(c *gin.Context) {
	events, err := h.service.History(c.Request.Context(), c.Param("paymentNo"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}
