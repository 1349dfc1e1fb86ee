package indicators

import (
	"context"
	"fmt"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	SimpleMovingAverage      MovingAverageType = "SMA"
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator, e.g. "SMA(20)"
func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.config.Type, m.Config.Period)
}

// Calculate computes the moving average value based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, closes []float64) (float64, error) {
	if m.Config.Period <= 0 {
		return 0, fmt.Errorf("moving average period must be positive, got %d", m.Config.Period)
	}
	switch m.config.Type {
	case SimpleMovingAverage:
		return sma(closes, m.Config.Period)
	case ExponentialMovingAverage:
		return ema(closes, m.Config.Period)
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// sma averages the last period closes.
func sma(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(closes), period)
	}

	total := 0.0
	for _, c := range closes[len(closes)-period:] {
		total += c
	}
	return total / float64(period), nil
}

// ema seeds with the SMA of the first period closes and smooths over the rest.
func ema(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(closes), period)
	}

	multiplier := 2.0 / float64(period+1)
	value, err := sma(closes[:period], period)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate initial SMA for EMA: %w", err)
	}
	for _, c := range closes[period:] {
		value = (c-value)*multiplier + value
	}
	return value, nil
}
