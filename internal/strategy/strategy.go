package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"

	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"
	"tradingEngine/internal/strategy/indicators"
)

const defaultMaxHistory = 500

// Config holds parameters for the trading strategy.
type Config struct {
	ShortTermMAPeriod int     // e.g., 20
	LongTermMAPeriod  int     // e.g., 50
	RSIPeriod         int     // e.g., 14
	RSIOverbought     float64 // e.g., 70.0; buys are suppressed at or above
	RSIOversold       float64 // e.g., 30.0; sells are suppressed at or below
	MaxHistory        int     // Closes kept per symbol; 0 uses a default
}

// Strategy is a moving-average crossover strategy filtered by RSI.
//
// Every snapshot fed through OnMarketData appends its last price to the symbol's
// close history. When the short SMA crosses the long SMA a signal is queued:
// a golden cross produces a BUY unless RSI is overbought, a death cross a SELL
// unless RSI is oversold. Signals wait in a queue until GetSignals drains it.
type Strategy struct {
	cfg    Config
	logger ports.Logger

	shortMA *indicators.MovingAverage
	longMA  *indicators.MovingAverage
	rsi     *indicators.RSI

	mu      sync.Mutex
	closes  map[string][]float64
	trend   map[string]int // +1 short above long, -1 below, 0 unknown
	pending []domain.Signal
}

var _ ports.Strategy = (*Strategy)(nil)

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.ShortTermMAPeriod <= 0 || cfg.LongTermMAPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if cfg.ShortTermMAPeriod >= cfg.LongTermMAPeriod {
		return nil, fmt.Errorf("short term MA period must be less than long term MA period")
	}
	if cfg.RSIOversold < 0 || cfg.RSIOverbought > 100 || cfg.RSIOversold >= cfg.RSIOverbought {
		return nil, fmt.Errorf("RSI thresholds must satisfy 0 <= oversold < overbought <= 100")
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}

	s := &Strategy{
		cfg:    cfg,
		logger: logger,
		shortMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ShortTermMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		longMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.LongTermMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
			Oversold:        cfg.RSIOversold,
		}),
		closes: make(map[string][]float64),
		trend:  make(map[string]int),
	}
	if s.RequiredDataPoints() > cfg.MaxHistory {
		return nil, fmt.Errorf("max history %d is shorter than the %d closes the indicators need", cfg.MaxHistory, s.RequiredDataPoints())
	}
	return s, nil
}

// RequiredDataPoints returns the minimum number of closes needed before signals are produced.
func (s *Strategy) RequiredDataPoints() int {
	n := s.longMA.RequiredDataPoints()
	if r := s.rsi.RequiredDataPoints(); r > n {
		n = r
	}
	return n
}

// OnMarketData implements ports.Strategy.
func (s *Strategy) OnMarketData(data domain.MarketData) {
	ctx := context.Background()
	if data.Symbol == "" || !(data.LastPrice > 0) || math.IsInf(data.LastPrice, 0) {
		s.logger.Debug(ctx, "Ignoring unusable market data", ports.Fields{"symbol": data.Symbol, "lastPrice": data.LastPrice})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	closes := append(s.closes[data.Symbol], data.LastPrice)
	if len(closes) > s.cfg.MaxHistory {
		closes = closes[len(closes)-s.cfg.MaxHistory:]
	}
	s.closes[data.Symbol] = closes

	if len(closes) < s.RequiredDataPoints() {
		return
	}

	shortMA, err := s.shortMA.Calculate(ctx, closes)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to calculate short term MA", ports.Fields{"symbol": data.Symbol})
		return
	}
	longMA, err := s.longMA.Calculate(ctx, closes)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to calculate long term MA", ports.Fields{"symbol": data.Symbol})
		return
	}
	rsi, err := s.rsi.Calculate(ctx, closes)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to calculate RSI", ports.Fields{"symbol": data.Symbol})
		return
	}

	trend := 0
	switch {
	case shortMA > longMA:
		trend = 1
	case shortMA < longMA:
		trend = -1
	}
	prev := s.trend[data.Symbol]
	if trend != 0 {
		s.trend[data.Symbol] = trend
	}
	if prev == 0 || trend == 0 || trend == prev {
		return
	}

	fields := ports.Fields{
		"symbol":  data.Symbol,
		"price":   data.LastPrice,
		"shortMA": shortMA,
		"longMA":  longMA,
		"rsi":     rsi,
	}
	var signal domain.Signal
	if trend > 0 {
		if s.rsi.IsOverbought(rsi) {
			s.logger.Debug(ctx, "Golden cross suppressed by overbought RSI", fields)
			return
		}
		signal = domain.Signal{Symbol: data.Symbol, Side: domain.Buy, Strength: buyStrength(rsi, s.cfg.RSIOverbought)}
	} else {
		if s.rsi.IsOversold(rsi) {
			s.logger.Debug(ctx, "Death cross suppressed by oversold RSI", fields)
			return
		}
		signal = domain.Signal{Symbol: data.Symbol, Side: domain.Sell, Strength: sellStrength(rsi, s.cfg.RSIOversold)}
	}

	s.pending = append(s.pending, signal)
	fields["side"] = signal.Side
	fields["strength"] = signal.Strength
	s.logger.Info(ctx, "Crossover signal generated", fields)
}

// GetSignals implements ports.Strategy.
func (s *Strategy) GetSignals() []domain.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// buyStrength grows as RSI moves away from the overbought threshold.
func buyStrength(rsi, overbought float64) float64 {
	return clampStrength((overbought - rsi) / overbought)
}

// sellStrength grows as RSI moves away from the oversold threshold.
func sellStrength(rsi, oversold float64) float64 {
	return clampStrength((rsi - oversold) / (100 - oversold))
}

func clampStrength(v float64) float64 {
	const floor = 0.1
	switch {
	case math.IsNaN(v) || v < floor:
		return floor
	case v > 1:
		return 1
	default:
		return v
	}
}
