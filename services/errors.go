package services

import "errors"

var (
	ErrTableNotFound    = errors.New("table not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrWriteFailed      = errors.New("write failed")
	ErrUnavailable      = errors.New("backend unavailable")
	ErrOrderAlreadyPaid = errors.New("order already paid")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrBadSignature     = errors.New("invalid callback signature")
)
