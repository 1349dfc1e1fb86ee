package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tradingEngine/internal/domain"
)

// Names of the metrics kept by the Manager.
const (
	MetricDrawdown      = "drawdown"
	MetricLeverage      = "leverage"
	MetricDailyPnL      = "daily_pnl"
	MetricConcentration = "concentration"
)

// ErrNilPortfolio is returned when metrics are refreshed without a portfolio.
var ErrNilPortfolio = errors.New("risk: nil portfolio")

// Check identifies which risk check decided an order.
type Check int

const (
	CheckNone Check = iota // Order approved
	CheckInput
	CheckPositionSize
	CheckLeverage
	CheckDrawdown
	CheckDailyLoss
	CheckConcentration
)

func (c Check) String() string {
	switch c {
	case CheckNone:
		return "none"
	case CheckInput:
		return "input"
	case CheckPositionSize:
		return "position_size"
	case CheckLeverage:
		return "leverage"
	case CheckDrawdown:
		return "drawdown"
	case CheckDailyLoss:
		return "daily_loss"
	case CheckConcentration:
		return "concentration"
	default:
		return fmt.Sprintf("check(%d)", int(c))
	}
}

// Decision is the outcome of CheckOrderRisk.
type Decision struct {
	Approved       bool
	Check          Check   // Failing check; CheckNone when approved
	Reason         string  // Human-readable rejection reason
	PortfolioValue float64 // Portfolio value the decision was computed against
	Notional       float64 // Order notional at the order price
}

func reject(check Check, format string, args ...interface{}) Decision {
	return Decision{Check: check, Reason: fmt.Sprintf(format, args...)}
}

// Manager gates orders against the configured RiskLimits.
//
// The live price snapshot and the metrics map are guarded by a single mutex. Every
// exported method takes it, and CheckOrderRisk holds it for the whole evaluation
// including the metrics refresh on approval, so no price update is ever observed
// half-way through a decision. Nothing under the lock performs I/O.
type Manager struct {
	limits domain.RiskLimits
	now    func() time.Time

	mu      sync.Mutex
	prices  map[string]float64
	metrics map[string]float64
}

// NewManager creates a Manager. Invalid limits are rejected.
func NewManager(limits domain.RiskLimits) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create risk manager: %w", err)
	}
	return &Manager{
		limits: limits,
		now:    time.Now,
		prices: make(map[string]float64),
		metrics: map[string]float64{
			MetricDrawdown:      0,
			MetricLeverage:      0,
			MetricDailyPnL:      0,
			MetricConcentration: 0,
		},
	}, nil
}

// Limits returns the configured limits.
func (m *Manager) Limits() domain.RiskLimits {
	return m.limits
}

// CheckOrderRisk decides whether order may be forwarded for execution given portfolio.
// Checks run in a fixed order and the first failing one decides. Degenerate inputs and
// internal failures reject the order. On approval the risk metrics are refreshed from
// portfolio before returning; a rejection leaves them untouched.
func (m *Manager) CheckOrderRisk(order *domain.Order, portfolio *domain.Portfolio) (decision Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			decision = reject(CheckInput, "risk evaluation failed: %v", r)
		}
	}()

	decision = m.evaluateLocked(order, portfolio)
	if decision.Approved {
		m.refreshLocked(portfolio)
	}
	return decision
}

func (m *Manager) evaluateLocked(order *domain.Order, portfolio *domain.Portfolio) Decision {
	if order == nil || portfolio == nil {
		return reject(CheckInput, "missing order or portfolio")
	}
	if order.Status.IsTerminal() {
		return reject(CheckInput, "order %s is already %s", order.ID, order.Status)
	}
	if !isPositive(order.Quantity) {
		return reject(CheckInput, "invalid order quantity %v", order.Quantity)
	}
	if !isPositive(order.Price) {
		return reject(CheckInput, "invalid order price %v", order.Price)
	}

	value := portfolio.TotalValue(m.prices)
	notional := order.Notional()
	if !isPositive(value) {
		d := reject(CheckInput, "non-positive portfolio value %v", value)
		d.PortfolioValue, d.Notional = value, notional
		return d
	}

	d := m.applyLimits(order, portfolio, value, notional)
	d.PortfolioValue, d.Notional = value, notional
	return d
}

func (m *Manager) applyLimits(order *domain.Order, portfolio *domain.Portfolio, value, notional float64) Decision {
	l := m.limits

	if size := notional / value; size > l.MaxPositionSize {
		return reject(CheckPositionSize, "position size %.4f exceeds limit %.4f", size, l.MaxPositionSize)
	}

	if lev := (portfolio.TotalExposure() + notional) / value; lev > l.MaxLeverage {
		return reject(CheckLeverage, "leverage %.4f exceeds limit %.4f", lev, l.MaxLeverage)
	}

	if dd := portfolio.Drawdown(); dd > l.MaxDrawdown {
		return reject(CheckDrawdown, "drawdown %.4f exceeds limit %.4f", dd, l.MaxDrawdown)
	}

	if pnl := portfolio.DailyPnL(); pnl < -l.DailyLossLimit {
		return reject(CheckDailyLoss, "daily pnl %.2f breaches loss limit %.2f", pnl, l.DailyLossLimit)
	}

	resulting := portfolio.PositionQuantity(order.Symbol) + order.SignedQuantity()
	if conc := math.Abs(resulting) * order.Price / value; conc > l.PositionConcentration {
		return reject(CheckConcentration, "concentration %.4f in %s exceeds limit %.4f", conc, order.Symbol, l.PositionConcentration)
	}

	return Decision{Approved: true, Check: CheckNone}
}

// UpdateRiskMetrics revalues portfolio against the current price snapshot and stores
// the resulting metrics. Calling it repeatedly with unchanged inputs is harmless.
func (m *Manager) UpdateRiskMetrics(portfolio *domain.Portfolio) error {
	if portfolio == nil {
		return ErrNilPortfolio
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked(portfolio)
	return nil
}

func (m *Manager) refreshLocked(portfolio *domain.Portfolio) {
	portfolio.Revalue(m.prices, m.now())
	m.metrics = map[string]float64{
		MetricDrawdown:      portfolio.Drawdown(),
		MetricLeverage:      portfolio.Leverage(),
		MetricDailyPnL:      portfolio.DailyPnL(),
		MetricConcentration: portfolio.Concentration(),
	}
}

// GetRiskMetrics returns a point-in-time copy of the metrics.
func (m *Manager) GetRiskMetrics() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyPrices(m.metrics)
}

// UpdateCurrentPrices replaces the price snapshot with a copy of prices.
func (m *Manager) UpdateCurrentPrices(prices map[string]float64) {
	snapshot := copyPrices(prices)
	m.mu.Lock()
	m.prices = snapshot
	m.mu.Unlock()
}

// UpdatePrice sets the price of a single symbol. It is used by streaming tick callbacks.
func (m *Manager) UpdatePrice(symbol string, price float64) {
	if symbol == "" || !isPositive(price) {
		return
	}
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

// MergePrices overlays prices onto the snapshot under one lock and returns a copy of
// the result. Symbols absent from prices keep their value, so ticks written by
// UpdatePrice are never rolled back. Non-positive prices are ignored.
func (m *Manager) MergePrices(prices map[string]float64) map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for symbol, price := range prices {
		if symbol == "" || !isPositive(price) {
			continue
		}
		m.prices[symbol] = price
	}
	return copyPrices(m.prices)
}

// CurrentPrices returns a copy of the price snapshot.
func (m *Manager) CurrentPrices() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyPrices(m.prices)
}

func copyPrices(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
