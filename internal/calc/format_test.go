package calc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateDecimals(t *testing.T) {
	assert.InDelta(t, 1.23, TruncateDecimals(1.239, 2), 1e-12)
	assert.InDelta(t, -1.23, TruncateDecimals(-1.239, 2), 1e-12)
	assert.True(t, math.IsNaN(TruncateDecimals(math.NaN(), 2)))
	assert.True(t, math.IsInf(TruncateDecimals(math.Inf(1), 2), 1))
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{1.5, "1,5"},
		{1.0, "1,0"},
		{0, "0,0"},
		{-0.005, "-0,005"},
		{0.1234567890123, "0,123456789"},
		{12.0000000004999, "12,0000000004"},
		{1000, "1000,0"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatNumber(tc.value), "value=%v", tc.value)
	}
}
