package domain

import "time"

// MarketData is the latest market snapshot for one symbol.
type MarketData struct {
	Symbol    string
	LastPrice float64
	Open      float64
	High      float64
	Low       float64
	Volume    float64
	Timestamp time.Time
}

// Signal is a trading intent emitted by a strategy.
type Signal struct {
	Symbol   string
	Side     OrderSide
	Strength float64 // Conviction in [0, 1]; scales the order size
}

// Fill is an execution report posted by the execution layer.
// The control loop applies fills to its own orders and portfolio.
type Fill struct {
	OrderID         string
	ClientOrderID   string
	ExchangeOrderID int64
	Symbol          string
	Side            OrderSide
	Status          OrderStatus // PARTIALLY_FILLED, FILLED, CANCELLED or REJECTED
	Quantity        float64     // Quantity executed by this report
	Price           float64     // Price of this report's execution
	Reason          string      // Populated for CANCELLED and REJECTED reports
	Timestamp       time.Time
}
