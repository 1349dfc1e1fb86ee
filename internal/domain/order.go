package domain

import (
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// orderSeq hands out process-unique, monotonically increasing order numbers.
var orderSeq atomic.Uint64

func nextOrderID() string {
	return "ORD" + strconv.FormatUint(orderSeq.Add(1), 10)
}

// Order represents a request to trade a symbol, from creation by the control loop
// until it reaches a terminal status.
type Order struct {
	ID             string      // Process-unique identifier (ORD<n>)
	Symbol         string      // Trading symbol (e.g., "BTCUSDT")
	Side           OrderSide   // BUY or SELL
	Type           OrderType   // MARKET, LIMIT, STOP, STOP_LIMIT
	Quantity       float64     // Requested quantity, always positive
	Price          float64     // Reference price; 0 until known
	Status         OrderStatus // Lifecycle status
	FilledQuantity float64     // Cumulative executed quantity
	AvgFillPrice   float64     // Volume-weighted executed price
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder creates a pending order with a fresh identifier.
func NewOrder(symbol string, side OrderSide, orderType OrderType, quantity float64) (*Order, error) {
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}
	if !side.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if !orderType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, orderType)
	}
	if !(quantity > 0) || math.IsInf(quantity, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidQuantity, quantity)
	}

	now := time.Now().UTC()
	return &Order{
		ID:        nextOrderID(),
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Quantity:  quantity,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Notional returns quantity × price, the cash value of the order.
func (o *Order) Notional() float64 {
	return o.Quantity * o.Price
}

// RemainingQuantity returns the quantity not yet executed.
func (o *Order) RemainingQuantity() float64 {
	return o.Quantity - o.FilledQuantity
}

// SignedQuantity returns the requested quantity as a position delta.
func (o *Order) SignedQuantity() float64 {
	return o.Side.Sign() * o.Quantity
}

// SetPrice records the reference price once it is known.
func (o *Order) SetPrice(price float64) error {
	if !(price > 0) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidPrice, price)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot reprice order %s in status %s", ErrInvalidTransition, o.ID, o.Status)
	}
	o.Price = price
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyFill records an execution of qty at price.
// The order moves to FILLED once the cumulative quantity reaches the requested quantity.
func (o *Order) ApplyFill(qty, price float64, at time.Time) error {
	if !(qty > 0) {
		return fmt.Errorf("%w: fill quantity %v", ErrInvalidQuantity, qty)
	}
	if !(price > 0) {
		return fmt.Errorf("%w: fill price %v", ErrInvalidPrice, price)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s already %s", ErrInvalidTransition, o.ID, o.Status)
	}
	// Allow for float noise on the last fill.
	const epsilon = 1e-9
	if qty > o.RemainingQuantity()+epsilon {
		return fmt.Errorf("%w: order %s remaining %v, fill %v", ErrOverfill, o.ID, o.RemainingQuantity(), qty)
	}

	filled := o.FilledQuantity + qty
	o.AvgFillPrice = (o.AvgFillPrice*o.FilledQuantity + price*qty) / filled
	o.FilledQuantity = filled
	if o.RemainingQuantity() <= epsilon {
		o.FilledQuantity = o.Quantity
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedAt = at
	return nil
}

// Cancel moves a live order to CANCELLED.
func (o *Order) Cancel(at time.Time) error {
	return o.transition(StatusCancelled, at)
}

// Reject moves a live order to REJECTED.
func (o *Order) Reject(at time.Time) error {
	return o.transition(StatusRejected, at)
}

func (o *Order) transition(to OrderStatus, at time.Time) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s for order %s", ErrInvalidTransition, o.Status, to, o.ID)
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}
