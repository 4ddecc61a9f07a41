package calc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klimatrix/factor-cli/internal/model"
)

type fakeLookup map[string]*model.DatasetRecord

func (f fakeLookup) LookupByExternalID(ctx context.Context, externalID string) (*model.DatasetRecord, error) {
	return f[externalID], nil
}

func TestCalculateMatch_ScalesPerUnit(t *testing.T) {
	c := New(fakeLookup{
		"ds-1": {
			ExternalID:      "ds-1",
			ActivityName:    "steel production",
			Unit:            "kg",
			ReferenceAmount: 1000,
			BiogenicKg:      10,
			TotalExclBioKg:  2000,
		},
	})

	result, err := c.CalculateMatch(context.Background(), "ds-1", 5, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, result.BiogenicKg, 1e-12)
	assert.InDelta(t, 10.0, result.TotalExclBioKg, 1e-12)
	assert.InDelta(t, 0.01, result.TotalExclBioT, 1e-12)
}

func TestCalculateMatch_NegativeReferenceAmountInvertsSign(t *testing.T) {
	c := New(fakeLookup{
		"credit": {
			ExternalID:      "credit",
			Unit:            "kg",
			ReferenceAmount: -2,
			TotalExclBioKg:  1,
		},
	})

	result, err := c.CalculateMatch(context.Background(), "credit", 10, nil)
	require.NoError(t, err)
	assert.InDelta(t, -5.0, result.TotalExclBioKg, 1e-12)
	assert.InDelta(t, -0.005, result.TotalExclBioT, 1e-12)
}

func TestCalculateMatch_ZeroReferenceAmountYieldsZero(t *testing.T) {
	c := New(fakeLookup{
		"empty": {ExternalID: "empty", Unit: "kg", TotalExclBioKg: 500},
	})

	result, err := c.CalculateMatch(context.Background(), "empty", 3, nil)
	require.NoError(t, err)
	assert.Zero(t, result.TotalExclBioKg)
	assert.Zero(t, result.BiogenicKg)
}

func TestCalculateMatch_UnknownDataset(t *testing.T) {
	c := New(fakeLookup{})
	_, err := c.CalculateMatch(context.Background(), "missing", 1, nil)
	assert.Error(t, err)
}

func TestCalculateDecomposition_SumsComponents(t *testing.T) {
	c := New(fakeLookup{
		"a": {ExternalID: "a", ActivityName: "wheat", Unit: "kg", ReferenceAmount: 1, BiogenicKg: 1, TotalExclBioKg: 2},
		"b": {ExternalID: "b", ActivityName: "beef", Unit: "kg", ReferenceAmount: 1, BiogenicKg: 3, TotalExclBioKg: 40},
	})

	result, err := c.CalculateDecomposition(context.Background(), []ResolvedInput{
		{Label: "bun", AssumedQuantity: 0.5, AssumedUnit: "kg", MatchedID: "a"},
		{Label: "patty", AssumedQuantity: 0.5, AssumedUnit: "kg", MatchedID: "b"},
	}, []string{"equal split"})
	require.NoError(t, err)

	require.Len(t, result.Components, 2)
	assert.InDelta(t, 2.0, result.BiogenicKgSum, 1e-12)
	assert.InDelta(t, 21.0, result.TotalKgSum, 1e-12)
	assert.InDelta(t, 0.021, result.TotalExclBioT, 1e-12)
	assert.Equal(t, []string{"equal split"}, result.Assumptions)
}

func TestCalculateDecomposition_NilAssumptionsBecomeEmptySlice(t *testing.T) {
	c := New(fakeLookup{})
	result, err := c.CalculateDecomposition(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Assumptions)
	assert.Empty(t, result.Assumptions)
}
