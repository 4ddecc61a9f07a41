package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapUnit(t *testing.T) {
	tests := []struct {
		raw    string
		mapped string
		ok     bool
	}{
		{"kg", "kg", true},
		{"KG", "kg", true},
		{" kWh ", "kWh", true},
		{"Stück", "unit", true},
		{"stk", "unit", true},
		{"pcs", "unit", true},
		{"Liter", "l", true},
		{"tkm", "metric ton*km", true},
		{"Tonnenkilometer", "metric ton*km", true},
		{"furlong", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		mapped, ok := MapUnit(tc.raw)
		assert.Equal(t, tc.ok, ok, "raw=%q", tc.raw)
		assert.Equal(t, tc.mapped, mapped, "raw=%q", tc.raw)
	}
}
