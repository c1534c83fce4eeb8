package payment

import "errors"

var (
	// ErrPaymentNotFound is returned when a payment does not exist.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrRefundNotFound is returned when a refund does not exist.
	ErrRefundNotFound = errors.New("refund not found")
	// ErrChannelDisabled is returned when a channel has no usable
	// gateway configuration.
	ErrChannelDisabled = errors.New("payment channel is not configured")
	// ErrUnknownChannel is returned for channels outside the known set.
	ErrUnknownChannel = errors.New("unknown payment channel")
	// ErrUnsupportedScene is returned when a scene is not valid for
	// the requested channel.
	ErrUnsupportedScene = errors.New("scene not supported by channel")
)
