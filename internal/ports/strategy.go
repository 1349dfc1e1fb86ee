package ports

import "tradingEngine/internal/domain"

// Strategy turns market data into trading signals.
type Strategy interface {
	// OnMarketData feeds the latest snapshot for one symbol.
	OnMarketData(data domain.MarketData)

	// GetSignals drains the pending signals. A returned signal is not returned again.
	GetSignals() []domain.Signal
}
