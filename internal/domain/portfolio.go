package domain

import (
	"math"
	"sort"
	"time"
)

// DefaultInitialCapital is the starting cash of a portfolio when none is configured.
const DefaultInitialCapital = 1_000_000.0

// Portfolio owns the positions and cash of one running engine together with the
// risk-facing aggregates derived from them.
//
// Trade application never touches the aggregates; they are recomputed by Revalue.
// A Portfolio is not safe for concurrent use.
type Portfolio struct {
	cash      float64
	positions map[string]*Position

	totalExposure float64
	drawdown      float64
	leverage      float64
	dailyPnL      float64
	concentration float64

	peakValue     float64
	dayStartValue float64
	day           time.Time // UTC date the daily P&L is measured from
}

// NewPortfolio creates a portfolio holding only initialCash.
func NewPortfolio(initialCash float64) *Portfolio {
	return &Portfolio{
		cash:          initialCash,
		positions:     make(map[string]*Position),
		peakValue:     initialCash,
		dayStartValue: initialCash,
	}
}

// UpdatePosition applies a signed trade to symbol, creating the position on first use.
func (p *Portfolio) UpdatePosition(symbol string, quantity, price float64) {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = NewPosition(symbol)
		p.positions[symbol] = pos
	}
	pos.UpdatePosition(quantity, price)
}

// TotalValue returns cash plus the market value of every position priced in prices.
// Positions without a price are left out of the sum.
func (p *Portfolio) TotalValue(prices map[string]float64) float64 {
	total := p.cash
	for symbol, pos := range p.positions {
		if price, ok := prices[symbol]; ok {
			total += pos.MarketValue(price)
		}
	}
	return total
}

// Cash returns the cash balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// UpdateCash adds delta to the cash balance. Overdraft is a risk concern, not checked here.
func (p *Portfolio) UpdateCash(delta float64) { p.cash += delta }

// Position returns a copy of the position in symbol.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// PositionQuantity returns the net quantity held in symbol, 0 when none.
func (p *Portfolio) PositionQuantity(symbol string) float64 {
	if pos, ok := p.positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}

// Positions returns copies of all positions sorted by symbol.
func (p *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (p *Portfolio) TotalExposure() float64 { return p.totalExposure }
func (p *Portfolio) Drawdown() float64      { return p.drawdown }
func (p *Portfolio) Leverage() float64      { return p.leverage }
func (p *Portfolio) DailyPnL() float64      { return p.dailyPnL }
func (p *Portfolio) Concentration() float64 { return p.concentration }

// Revalue recomputes the risk aggregates against prices as of now.
func (p *Portfolio) Revalue(prices map[string]float64, now time.Time) {
	value := p.TotalValue(prices)

	var exposure, largest float64
	for symbol, pos := range p.positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		v := math.Abs(pos.MarketValue(price))
		exposure += v
		if v > largest {
			largest = v
		}
	}
	p.totalExposure = exposure

	if value > p.peakValue {
		p.peakValue = value
	}
	p.drawdown = 0
	if p.peakValue > 0 && value < p.peakValue {
		p.drawdown = (p.peakValue - value) / p.peakValue
	}

	p.leverage, p.concentration = 0, 0
	if value > 0 {
		p.leverage = exposure / value
		p.concentration = largest / value
	}

	today := now.UTC().Truncate(24 * time.Hour)
	switch {
	case p.day.IsZero():
		p.day = today
	case today.After(p.day):
		p.day = today
		p.dayStartValue = value
	}
	p.dailyPnL = value - p.dayStartValue
}

// PositionSummary describes one position valued at a current price.
type PositionSummary struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Priced        bool    `json:"priced"`
}

// PortfolioSummary is a read-only view of the portfolio for reporting.
type PortfolioSummary struct {
	TotalValue    float64           `json:"total_value"`
	Cash          float64           `json:"cash"`
	Positions     []PositionSummary `json:"positions"`
	TotalExposure float64           `json:"total_exposure"`
	Drawdown      float64           `json:"drawdown"`
	Leverage      float64           `json:"leverage"`
	DailyPnL      float64           `json:"daily_pnl"`
	Concentration float64           `json:"concentration"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Summary builds a PortfolioSummary using prices for valuation.
func (p *Portfolio) Summary(prices map[string]float64, now time.Time) PortfolioSummary {
	positions := p.Positions()
	summaries := make([]PositionSummary, 0, len(positions))
	for _, pos := range positions {
		s := PositionSummary{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
			RealizedPnL:  pos.RealizedPnL,
		}
		if price, ok := prices[pos.Symbol]; ok {
			s.Priced = true
			s.CurrentPrice = price
			s.MarketValue = pos.MarketValue(price)
			s.UnrealizedPnL = pos.UnrealizedPnL(price)
		}
		summaries = append(summaries, s)
	}
	return PortfolioSummary{
		TotalValue:    p.TotalValue(prices),
		Cash:          p.cash,
		Positions:     summaries,
		TotalExposure: p.totalExposure,
		Drawdown:      p.drawdown,
		Leverage:      p.leverage,
		DailyPnL:      p.dailyPnL,
		Concentration: p.concentration,
		Timestamp:     now,
	}
}
