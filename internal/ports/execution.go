package ports

import (
	"context"

	"tradingEngine/internal/domain"
)

// OrderExecutor is the asynchronous execution layer the control loop forwards accepted
// orders to. Execution reports come back as domain.Fill events on Fills().
type OrderExecutor interface {
	// Start launches the execution worker. It must be called before SubmitOrder.
	Start(ctx context.Context) error
	// Stop stops accepting orders, flushes queued work and waits for the worker.
	// Stop is idempotent; Fills() is closed once it returns.
	Stop()
	// SubmitOrder enqueues a copy of order without blocking.
	SubmitOrder(order *domain.Order) error
	// Fills streams execution reports for submitted orders.
	Fills() <-chan domain.Fill
}
