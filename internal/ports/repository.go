package ports

import (
	"context"

	"tradingEngine/internal/domain"
)

// OrderRepository keeps every order the engine constructs, accepted or not, for audit.
type OrderRepository interface {
	// CreateOrder stores a new order.
	CreateOrder(ctx context.Context, order *domain.Order) error
	// UpdateOrder overwrites the mutable fields (price, status, fills, timestamps) of an order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
	// FindOrderByID retrieves an order of the current run.
	// Returns nil, nil if not found.
	FindOrderByID(ctx context.Context, id string) (*domain.Order, error)
	// FindOrdersBySymbol retrieves the most recent orders for a symbol, up to a limit.
	FindOrdersBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Order, error)
	// CreateFill stores an execution report and returns its assigned ID.
	CreateFill(ctx context.Context, fill *domain.Fill) (int64, error)
	// CountOrdersByStatus counts the orders of the current run in each status.
	CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error)
}
