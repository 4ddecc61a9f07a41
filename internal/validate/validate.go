// Package validate gates results before they are persisted: dataset
// existence, aggregate-market exclusion, length ceilings, decimal format.
package validate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/klimatrix/factor-cli/internal/model"
)

// aggregatePrefixes are activity-name prefixes that mark aggregate market
// datasets, which must never be selected as a match.
var aggregatePrefixes = []string{"market for", "market group"}

// DatasetLookup resolves external ids to catalog records.
type DatasetLookup interface {
	LookupByExternalID(ctx context.Context, externalID string) (*model.DatasetRecord, error)
}

// Result is a single validation outcome.
type Result struct {
	Valid bool
	Error string
}

func ok() Result            { return Result{Valid: true} }
func fail(msg string) Result { return Result{Error: msg} }

// Validator checks results against the catalog and business rules.
type Validator struct {
	lookup   DatasetLookup
	maxChars int
}

// New creates a validator. maxChars bounds rendered output strings.
func New(lookup DatasetLookup, maxChars int) *Validator {
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &Validator{lookup: lookup, maxChars: maxChars}
}

// ValidateExists checks that the external id resolves to a catalog record.
func (v *Validator) ValidateExists(ctx context.Context, externalID string) (Result, error) {
	ds, err := v.lookup.LookupByExternalID(ctx, externalID)
	if err != nil {
		return Result{}, err
	}
	if ds == nil {
		return fail(fmt.Sprintf("dataset not found: %s", externalID)), nil
	}
	return ok(), nil
}

// ValidateNotAggregateMarket rejects aggregate market activities.
func (v *Validator) ValidateNotAggregateMarket(ctx context.Context, externalID string) (Result, error) {
	ds, err := v.lookup.LookupByExternalID(ctx, externalID)
	if err != nil {
		return Result{}, err
	}
	if ds == nil {
		return fail(fmt.Sprintf("dataset not found: %s", externalID)), nil
	}
	lower := strings.ToLower(strings.TrimSpace(ds.ActivityName))
	for _, prefix := range aggregatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return fail(fmt.Sprintf("aggregate market activity selected: %q", ds.ActivityName)), nil
		}
	}
	return ok(), nil
}

// ValidateCharLimit enforces the hard length ceiling on a rendered field.
func (v *Validator) ValidateCharLimit(field, value string) Result {
	if len(value) > v.maxChars {
		return fail(fmt.Sprintf("%s exceeds %d char limit: %d chars", field, v.maxChars, len(value)))
	}
	return ok()
}

// ValidateDecimalFormat verifies comma-decimal formatting.
func ValidateDecimalFormat(value string) Result {
	if strings.Contains(value, ".") {
		return fail(fmt.Sprintf("value uses dot instead of comma: %q", value))
	}
	return ok()
}

// ValidateResult runs the full validation set on a completed result and
// returns all failures.
func (v *Validator) ValidateResult(ctx context.Context, externalIDs []string, description, source, biogenicT, totalT string) ([]Result, error) {
	var results []Result
	for _, id := range externalIDs {
		r, err := v.ValidateExists(ctx, id)
		if err != nil {
			return nil, err
		}
		results = append(results, r)

		r, err = v.ValidateNotAggregateMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	results = append(results,
		v.ValidateCharLimit("description", description),
		v.ValidateCharLimit("source", source),
		ValidateDecimalFormat(biogenicT),
		ValidateDecimalFormat(totalT),
	)

	var failures []Result
	for _, r := range results {
		if !r.Valid {
			zap.L().Error("validation failed", zap.String("error", r.Error))
			failures = append(failures, r)
		}
	}
	return failures, nil
}
