// Package calc performs emission arithmetic: per-unit scaling, decomposition
// sums, and kilogram-to-tonne conversion.
package calc

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/klimatrix/factor-cli/internal/model"
)

// DatasetLookup resolves external ids to catalog records.
type DatasetLookup interface {
	LookupByExternalID(ctx context.Context, externalID string) (*model.DatasetRecord, error)
}

// Calculator computes scaled emission values from catalog records. Every call
// is a pure function of the current catalog state; nothing is cached.
type Calculator struct {
	lookup DatasetLookup
}

// New creates a calculator over the given catalog.
func New(lookup DatasetLookup) *Calculator {
	return &Calculator{lookup: lookup}
}

// CalculateMatch computes emission values for one matched dataset at the
// given quantity in the dataset's unit.
//
// Per-unit emission is the stored value divided by the absolute reference
// amount, with the sign inverted for negative amounts (credit datasets). A
// zero reference amount yields zero emissions.
func (c *Calculator) CalculateMatch(ctx context.Context, externalID string, quantity float64, conversion *model.UnitConversion) (*model.CalcResult, error) {
	ds, err := c.lookup.LookupByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, eris.Errorf("calc: dataset not found: %s", externalID)
	}

	var perUnitBio, perUnitTotal float64
	if ds.ReferenceAmount != 0 {
		absAmount := float64(ds.ReferenceAmount)
		if absAmount < 0 {
			absAmount = -absAmount
		}
		perUnitBio = ds.BiogenicKg / absAmount
		perUnitTotal = ds.TotalExclBioKg / absAmount
		if ds.ReferenceAmount < 0 {
			perUnitBio = -perUnitBio
			perUnitTotal = -perUnitTotal
		}
	}

	scaledBio := perUnitBio * quantity
	scaledTotal := perUnitTotal * quantity

	return &model.CalcResult{
		ExternalID:     externalID,
		ActivityName:   ds.ActivityName,
		Geography:      ds.Geography,
		Quantity:       quantity,
		Unit:           ds.Unit,
		BiogenicKg:     scaledBio,
		TotalExclBioKg: scaledTotal,
		BiogenicT:      scaledBio / 1000,
		TotalExclBioT:  scaledTotal / 1000,
		Conversion:     conversion,
	}, nil
}

// ResolvedInput is a decomposition component already matched to a dataset.
type ResolvedInput struct {
	Label           string
	AssumedQuantity float64
	AssumedUnit     string
	MatchedID       string
}

// CalculateDecomposition applies CalculateMatch per component and sums the
// results.
func (c *Calculator) CalculateDecomposition(ctx context.Context, components []ResolvedInput, assumptions []string) (*model.DecompCalcResult, error) {
	result := &model.DecompCalcResult{
		Assumptions: assumptions,
	}
	if result.Assumptions == nil {
		result.Assumptions = []string{}
	}

	for _, comp := range components {
		calc, err := c.CalculateMatch(ctx, comp.MatchedID, comp.AssumedQuantity, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "calc: component %q", comp.Label)
		}
		result.Components = append(result.Components, model.ResolvedComponent{
			Label:            comp.Label,
			AssumedQuantity:  comp.AssumedQuantity,
			AssumedUnit:      comp.AssumedUnit,
			MatchedID:        comp.MatchedID,
			MatchedActivity:  calc.ActivityName,
			MatchedGeography: calc.Geography,
			ScaledBiogenicKg: calc.BiogenicKg,
			ScaledTotalKg:    calc.TotalExclBioKg,
		})
		result.BiogenicKgSum += calc.BiogenicKg
		result.TotalKgSum += calc.TotalExclBioKg
	}

	result.BiogenicT = result.BiogenicKgSum / 1000
	result.TotalExclBioT = result.TotalKgSum / 1000
	return result, nil
}
