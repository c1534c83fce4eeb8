package order

import "errors"

var (
	// ErrOrderNotFound is returned when an order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPayable is returned when an order cannot accept payments.
	ErrOrderNotPayable = errors.New("order is not payable")
)
