package services

import "errors"

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotPayable     = errors.New("order is not awaiting payment")
	ErrAmountMismatch      = errors.New("amount does not match order total")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidStatus       = errors.New("invalid payment status")
)
