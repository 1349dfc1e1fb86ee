package domain

import (
	"fmt"
	"math"
	"strings"
)

// RiskLimits is the immutable risk configuration loaded at startup.
type RiskLimits struct {
	MaxPositionSize       float64 // Max single order notional as a fraction of portfolio value (e.g., 0.1)
	MaxLeverage           float64 // Max total exposure as a multiple of portfolio value (e.g., 2.0)
	MaxDrawdown           float64 // Max peak-to-current decline as a fraction (e.g., 0.2)
	DailyLossLimit        float64 // Max daily loss in account currency (absolute, e.g., 50000)
	PositionConcentration float64 // Max single-symbol value as a fraction of portfolio value (e.g., 0.15)
}

// Validate checks every limit is a positive finite number and fractions do not exceed 1.
func (l RiskLimits) Validate() error {
	var errs []string
	check := func(name string, v float64, fraction bool) {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0) || v <= 0:
			errs = append(errs, fmt.Sprintf("%s must be positive (got %v)", name, v))
		case fraction && v > 1:
			errs = append(errs, fmt.Sprintf("%s must not exceed 1.0 (got %v)", name, v))
		}
	}
	check("max position size", l.MaxPositionSize, true)
	check("max leverage", l.MaxLeverage, false)
	check("max drawdown", l.MaxDrawdown, true)
	check("daily loss limit", l.DailyLossLimit, false)
	check("position concentration", l.PositionConcentration, true)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidLimits, strings.Join(errs, "; "))
	}
	return nil
}
