// Package mathutil provides currency rounding and comparison helpers.
package mathutil

import (
	"math"

	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/shopspring/decimal"
)

// Round rounds a value to two decimals, half away from zero, i.e. to
// represent real currency. The value is converted through its shortest
// decimal representation first, so 1.005 rounds to 1.01 rather than to the
// 1.00 that binary multiplication would produce.
func Round(val float64) float64 {
	return RoundDecimal(val).InexactFloat64()
}

// RoundDecimal is Round returning the exact decimal value for display.
func RoundDecimal(val float64) decimal.Decimal {
	return decimal.NewFromFloat(val).Round(constants.DecimalPlaces)
}

// IsFinite reports whether val is neither NaN nor infinite.
func IsFinite(val float64) bool {
	return !math.IsNaN(val) && !math.IsInf(val, 0)
}

// WithinTolerance checks if two values are within a specified tolerance
func WithinTolerance(val1, val2, tolerance float64) bool {
	return math.Abs(val1-val2) <= tolerance
}

// PercentToPeriodicRate converts an annual percentage into a periodic rate for
// the given number of periods per year.
func PercentToPeriodicRate(annualPercent float64, periodsPerYear int) float64 {
	return annualPercent / (constants.PercentageMultiplier * float64(periodsPerYear))
}
