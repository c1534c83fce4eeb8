package customer

import "errors"

var (
	// ErrCustomerNotFound is returned when a customer does not exist.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrAlreadyAwarded is returned when points were already granted
	// for the same order and reason.
	ErrAlreadyAwarded = errors.New("points already awarded for order")
)
