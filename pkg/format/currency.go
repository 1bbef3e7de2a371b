// Package format renders currency amounts for display.
package format

import (
	"strings"

	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/iwvelando/loan-calculator/pkg/mathutil"
	"github.com/shopspring/decimal"
)

// Currency returns a currency string with the given prefix and thousands
// separators (e.g., "KES 1,234.56" or "-KES 1,234.56"). An empty prefix
// falls back to constants.DefaultCurrency.
func Currency(amount float64, prefix string) string {
	return CurrencyDecimal(mathutil.RoundDecimal(amount), prefix)
}

// CurrencyDecimal is Currency for amounts that are already decimals, such as
// the totals reported by the loan service.
func CurrencyDecimal(amount decimal.Decimal, prefix string) string {
	if prefix == "" {
		prefix = constants.DefaultCurrency
	}
	formatted := formatPositiveCurrency(amount.Abs())
	if amount.IsNegative() {
		return "-" + prefix + " " + formatted
	}
	return prefix + " " + formatted
}

// NumericCurrency returns a currency string without a currency symbol but with separators (e.g., "-1,234.56").
func NumericCurrency(amount float64) string {
	value := mathutil.RoundDecimal(amount)
	sign := ""
	if value.IsNegative() {
		sign = "-"
	}
	return sign + formatPositiveCurrency(value.Abs())
}

func formatPositiveCurrency(value decimal.Decimal) string {
	formatted := value.StringFixed(constants.DecimalPlaces)
	parts := strings.SplitN(formatted, ".", 2)
	intPart := parts[0]
	decPart := "00"
	if len(parts) == 2 {
		decPart = parts[1]
	}

	if len(intPart) > 3 {
		var builder strings.Builder
		for i, digit := range intPart {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				builder.WriteByte(',')
			}
			builder.WriteRune(digit)
		}
		intPart = builder.String()
	}

	return intPart + "." + decPart
}
