package domain

import "errors"

// Validation and lifecycle errors raised by the domain model.
var (
	ErrInvalidSymbol     = errors.New("symbol must not be empty")
	ErrInvalidSide       = errors.New("invalid order side")
	ErrInvalidType       = errors.New("invalid order type")
	ErrInvalidQuantity   = errors.New("order quantity must be positive")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrOverfill          = errors.New("fill exceeds remaining order quantity")
	ErrInvalidLimits     = errors.New("invalid risk limits")
)
