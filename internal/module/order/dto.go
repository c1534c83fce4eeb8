package order

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateRequest is the request to create an order.
type CreateRequest struct {
	StoreID    uuid.UUID       `json:"store_id" binding:"required"`
	CustomerID *uuid.UUID      `json:"customer_id,omitempty"`
	Subject    string          `json:"subject" binding:"required"`
	Payable    decimal.Decimal `json:"payable_amount" binding:"required"`
	Remark     string          `json:"remark,omitempty"`
}

// ListRequest is the request to list orders.
type ListRequest struct {
	StoreID  uuid.UUID `form:"store_id" binding:"required"`
	Status   *Status   `form:"status"`
	Page     int       `form:"page,default=1"`
	PageSize int       `form:"page_size,default=20"`
}

// ListResponse is the paginated order list.
type ListResponse struct {
	Orders   []*Order `json:"orders"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}
