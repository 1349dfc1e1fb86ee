package execution

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"
)

const defaultQueueSize = 64

// Config holds the dependencies of an Executor.
type Config struct {
	QueueSize int // Capacity of the order queue and the fill channel
	Placer    ports.OrderPlacer
	Logger    ports.Logger
}

type request struct {
	order         domain.Order
	clientOrderID string
}

// Executor is the asynchronous execution layer. Accepted orders are queued and placed
// one at a time by a single worker; each placement result is posted as a domain.Fill.
// The executor never mutates the submitter's orders.
type Executor struct {
	placer ports.OrderPlacer
	logger ports.Logger

	queue chan request
	fills chan domain.Fill

	mu       sync.Mutex // Guards started, stopped and sends on queue
	started  bool
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewExecutor creates an Executor. It does not accept orders until Start is called.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Placer == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Executor")
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Executor{
		placer: cfg.Placer,
		logger: cfg.Logger,
		queue:  make(chan request, size),
		fills:  make(chan domain.Fill, size),
	}, nil
}

var _ ports.OrderExecutor = (*Executor)(nil)

// Start launches the worker. Placement calls run on a context detached from ctx's
// cancellation so queued orders are still flushed during shutdown.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ports.ErrExecutorStopped
	}
	if e.started {
		return nil
	}
	e.started = true

	workCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go e.run(workCtx)
	e.logger.Info(ctx, "Executor started", ports.Fields{"queueSize": cap(e.queue)})
	return nil
}

// Stop stops accepting orders, places everything already queued, waits for the worker
// and closes the fill channel. Callers must keep draining Fills until it is closed.
// Calls after the first are no-ops.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		pending := len(e.queue)
		close(e.queue)
		e.mu.Unlock()

		ctx := context.Background()
		e.logger.Info(ctx, "Executor stopping, flushing queued orders", ports.Fields{"pending": pending})
		e.wg.Wait()
		close(e.fills)
		e.logger.Info(ctx, "Executor stopped")
	})
}

// SubmitOrder queues a copy of order without blocking.
func (e *Executor) SubmitOrder(order *domain.Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", ports.ErrInvalidRequest)
	}
	req := request{order: *order, clientOrderID: uuid.NewString()}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.stopped {
		return ports.ErrExecutorStopped
	}
	select {
	case e.queue <- req:
		return nil
	default:
		return fmt.Errorf("%w: order %s", ports.ErrExecutionQueueFull, order.ID)
	}
}

// Fills streams execution reports. The channel is closed by Stop.
func (e *Executor) Fills() <-chan domain.Fill {
	return e.fills
}

func (e *Executor) run(ctx context.Context) {
	defer e.wg.Done()
	for req := range e.queue {
		if fill, ok := e.place(ctx, req); ok {
			e.fills <- fill
		}
	}
}

func (e *Executor) place(ctx context.Context, req request) (fill domain.Fill, ok bool) {
	order := req.order
	fill = domain.Fill{
		OrderID:       order.ID,
		ClientOrderID: req.clientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: placer panic: %v", ports.ErrOrderPlacementFailed, r)
			e.logger.Error(ctx, err, "Order placement panicked", ports.Fields{"orderID": order.ID, "stack": string(debug.Stack())})
			fill.Status = domain.StatusRejected
			fill.Reason = err.Error()
			fill.Timestamp = time.Now().UTC()
			ok = true
		}
	}()

	resp, err := e.placer.PlaceOrder(ctx, order, req.clientOrderID)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to place order", ports.Fields{
			"orderID":       order.ID,
			"clientOrderID": req.clientOrderID,
			"symbol":        order.Symbol,
			"side":          order.Side,
			"quantity":      order.Quantity,
		})
		fill.Status = domain.StatusRejected
		fill.Reason = err.Error()
		fill.Timestamp = time.Now().UTC()
		return fill, true
	}

	fill.ExchangeOrderID = resp.OrderID
	fill.Status = resp.Status
	fill.Quantity = resp.ExecutedQty
	fill.Price = resp.AvgPrice
	if fill.Price <= 0 {
		fill.Price = order.Price
	}
	fill.Timestamp = resp.Timestamp
	if fill.Timestamp.IsZero() {
		fill.Timestamp = time.Now().UTC()
	}

	switch resp.Status {
	case domain.StatusFilled, domain.StatusPartiallyFilled:
		e.logger.Info(ctx, "Order executed", ports.Fields{
			"orderID":         order.ID,
			"exchangeOrderID": resp.OrderID,
			"symbol":          order.Symbol,
			"status":          resp.Status,
			"executedQty":     resp.ExecutedQty,
			"avgPrice":        fill.Price,
		})
		return fill, true
	case domain.StatusCancelled, domain.StatusRejected:
		fill.Reason = fmt.Sprintf("venue reported %s", resp.Status)
		e.logger.Warn(ctx, "Order not executed by venue", ports.Fields{"orderID": order.ID, "status": resp.Status})
		return fill, true
	default:
		// Resting on the venue with nothing executed yet.
		e.logger.Info(ctx, "Order accepted by venue, awaiting execution", ports.Fields{"orderID": order.ID, "exchangeOrderID": resp.OrderID})
		return fill, false
	}
}
