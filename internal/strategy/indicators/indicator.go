package indicators

import "context"

// Indicator represents a technical indicator computed over a close-price series.
// closes is ordered oldest first.
type Indicator interface {
	// Calculate computes the indicator value for the given closes
	Calculate(ctx context.Context, closes []float64) (float64, error)

	// RequiredDataPoints returns the minimum number of closes needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of closes needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}
