package domain

import "errors"

// Failure taxonomy shared by every core operation. Callers match these with
// errors.Is; the HTTP layer maps them onto status codes.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrOutOfStock        = errors.New("out of stock")
	ErrQuantityLimit     = errors.New("quantity limit exceeded")
	ErrInvalidTransition = errors.New("illegal order status transition")
)
