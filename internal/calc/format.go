package calc

import (
	"fmt"
	"math"
	"strings"
)

// TruncateDecimals truncates (never rounds) a value to the given number of
// decimal places. NaN and infinities pass through unchanged.
func TruncateDecimals(value float64, decimals int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	factor := math.Pow(10, float64(decimals))
	if value >= 0 {
		return math.Floor(value*factor) / factor
	}
	return math.Ceil(value*factor) / factor
}

// FormatNumber renders a value with a comma decimal separator, truncated to
// at most 10 decimals, trailing zeros stripped but at least one decimal kept.
func FormatNumber(value float64) string {
	truncated := TruncateDecimals(value, 10)
	formatted := fmt.Sprintf("%.10f", truncated)

	intPart, decPart, _ := strings.Cut(formatted, ".")
	decPart = strings.TrimRight(decPart, "0")
	if decPart == "" {
		decPart = "0"
	}
	return intPart + "," + decPart
}
