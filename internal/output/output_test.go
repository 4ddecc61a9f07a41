package output

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klimatrix/factor-cli/internal/model"
)

func testRow() *model.InputRow {
	return &model.InputRow{
		Label:         "Dieselkraftstoff",
		ProductInfo:   "B7 fuel",
		ReferenceUnit: "l",
		RegionNorm:    "DE",
	}
}

func TestDescriptionMatch(t *testing.T) {
	a := New("ecoinvent 3.11", 1000)

	desc, err := a.DescriptionMatch(testRow(), &model.CalcResult{
		ExternalID:     "ds-1",
		ActivityName:   "diesel production",
		Geography:      "DE",
		Unit:           "l",
		Quantity:       1,
		TotalExclBioKg: 250,
		TotalExclBioT:  0.25,
		BiogenicKg:     500,
		BiogenicT:      0.5,
	})
	require.NoError(t, err)
	assert.Contains(t, desc, "1 l = diesel production (DE)")
	assert.Contains(t, desc, "total: 0,25 t CO2-eq")
	assert.Contains(t, desc, "(250,0 kg / 1000)")
	assert.Contains(t, desc, "biogenic: 0,5 t CO2-eq")
	assert.NotContains(t, desc, "conversion")
}

func TestDescriptionMatch_WithConversion(t *testing.T) {
	a := New("ecoinvent 3.11", 1000)

	desc, err := a.DescriptionMatch(testRow(), &model.CalcResult{
		ActivityName: "diesel production",
		Geography:    "DE",
		Unit:         "kg",
		Conversion:   &model.UnitConversion{Factor: 0.84, Explanation: "1 l diesel weighs 0.84 kg"},
	})
	require.NoError(t, err)
	assert.Contains(t, desc, "[conversion: 1 l diesel weighs 0.84 kg]")
}

func TestDescriptionMatch_TooLongIsBlocking(t *testing.T) {
	a := New("ecoinvent 3.11", 100)

	_, err := a.DescriptionMatch(testRow(), &model.CalcResult{
		ActivityName: strings.Repeat("very long activity name ", 20),
		Geography:    "DE",
		Unit:         "l",
	})
	require.Error(t, err)

	var tooLong *TooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, "description", tooLong.Field)
	assert.Equal(t, 100, tooLong.MaxChars)
	assert.Contains(t, err.Error(), "never truncated")
}

func TestDescriptionDecomposition_TruncatesActivityNames(t *testing.T) {
	a := New("ecoinvent 3.11", 1000)

	desc, err := a.DescriptionDecomposition(testRow(), &model.DecompCalcResult{
		Components: []model.ResolvedComponent{
			{MatchedActivity: strings.Repeat("a", 50), AssumedQuantity: 0.6, AssumedUnit: "kg"},
			{MatchedActivity: "short", AssumedQuantity: 0.4, AssumedUnit: "kg"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, desc, "1 l = breakdown:")
	assert.Contains(t, desc, strings.Repeat("a", 40)+"... (0.6 kg)")
	assert.Contains(t, desc, " + short (0.4 kg)")
}

func TestSource(t *testing.T) {
	a := New("ecoinvent 3.11", 1000)

	source, err := a.Source([]string{"ds-1", "ds-2"})
	require.NoError(t, err)
	assert.Equal(t, "ecoinvent 3.11; dataset IDs: ds-1, ds-2", source)
}

func TestSource_TooLong(t *testing.T) {
	a := New("ecoinvent 3.11", 30)

	_, err := a.Source([]string{strings.Repeat("x", 40)})
	var tooLong *TooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, "source", tooLong.Field)
}

func TestDetailMatch_Unbounded(t *testing.T) {
	a := New("ecoinvent 3.11", 10)

	detail := a.DetailMatch(testRow(), &model.CalcResult{
		ExternalID:   "ds-1",
		ActivityName: "diesel production",
		Geography:    "DE",
		Unit:         "l",
	})
	assert.Greater(t, len(detail), 10, "detail strings have no length ceiling")
	assert.Contains(t, detail, "=== Detailed Calculation ===")
	assert.Contains(t, detail, "Region: DE")
}

func TestDetailDecomposition_IncludesMixedUnitsNote(t *testing.T) {
	a := New("ecoinvent 3.11", 1000)

	detail := a.DetailDecomposition(testRow(), &model.DecompCalcResult{
		Assumptions:    []string{"estimated composition"},
		MixedUnitsNote: "mixed-unit decomposition: quantity sum not validated",
		Components: []model.ResolvedComponent{
			{Label: "packaging", MatchedID: "ds-9", AssumedQuantity: 0.2, AssumedUnit: "kg"},
		},
	})
	assert.Contains(t, detail, "estimated composition")
	assert.Contains(t, detail, "quantity sum not validated")
	assert.Contains(t, detail, "[packaging]")
}
