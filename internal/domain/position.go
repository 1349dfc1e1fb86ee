package domain

import "math"

// Position is the running net holding in one symbol.
// Quantity is signed: positive for long, negative for short.
type Position struct {
	Symbol       string
	Quantity     float64
	AveragePrice float64 // Volume-weighted entry price of the open quantity
	RealizedPnL  float64 // Profit and loss locked in by reductions and flips
}

// NewPosition creates a flat position for symbol.
func NewPosition(symbol string) *Position {
	return &Position{Symbol: symbol}
}

// UpdatePosition applies a signed quantity delta traded at price.
//
// The average price is blended only while the position grows in its current
// direction. Reductions keep the basis of the remaining quantity, a flip through
// zero restarts the basis at the flipping trade's price, and a flat position has
// no basis.
func (p *Position) UpdatePosition(delta, price float64) {
	if delta == 0 {
		return
	}
	old := p.Quantity
	next := old + delta

	switch {
	case next == 0:
		p.RealizedPnL += old * (price - p.AveragePrice)
		p.Quantity = 0
		p.AveragePrice = 0
	case old == 0:
		p.Quantity = next
		p.AveragePrice = price
	case sameSign(old, next) && math.Abs(next) >= math.Abs(old):
		p.AveragePrice = (p.AveragePrice*math.Abs(old) + price*math.Abs(delta)) / math.Abs(next)
		p.Quantity = next
	case sameSign(old, next):
		// Reduction: the closed part realizes P&L, the remainder keeps its basis.
		p.RealizedPnL += -delta * (price - p.AveragePrice)
		p.Quantity = next
	default:
		// Flip: close the old side completely, open the new side at price.
		p.RealizedPnL += old * (price - p.AveragePrice)
		p.Quantity = next
		p.AveragePrice = price
	}
}

// MarketValue returns the signed value of the position at currentPrice.
func (p *Position) MarketValue(currentPrice float64) float64 {
	return p.Quantity * currentPrice
}

// UnrealizedPnL returns the open profit or loss at currentPrice.
func (p *Position) UnrealizedPnL(currentPrice float64) float64 {
	return p.Quantity * (currentPrice - p.AveragePrice)
}

// IsFlat reports whether the position holds no quantity.
func (p *Position) IsFlat() bool {
	return p.Quantity == 0
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
