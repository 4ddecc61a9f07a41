// Package oracle wraps the external decision model that selects candidates,
// proposes decompositions, and supplies unit conversions. Every identifier
// the oracle returns is validated against the candidate set it was given.
package oracle

import (
	"context"

	"github.com/klimatrix/factor-cli/internal/model"
)

// RowContext is the input row summary sent to the oracle.
type RowContext struct {
	Label         string
	ProductInfo   string
	ReferenceUnit string
	Region        string
}

// Oracle is the decision interface consumed by the orchestrator.
type Oracle interface {
	// Decide selects a match, declares ambiguity, or (when allowed)
	// proposes decomposition, choosing only from the given candidates.
	Decide(ctx context.Context, row RowContext, candidates []model.CandidateResult, allowDecompose bool) (*model.Decision, error)

	// RequestDecomposition asks for a decomposition outright. The returned
	// decision's same-unit component quantities sum to 1.0 within tolerance,
	// or the call fails.
	RequestDecomposition(ctx context.Context, row RowContext, reason string) (*model.Decision, error)

	// ConvertUnit supplies a factor from one reference unit to a dataset
	// unit, using product context.
	ConvertUnit(ctx context.Context, referenceUnit, datasetUnit, productContext string) (*model.UnitConversion, error)

	// Model names the underlying decision model for provenance records.
	Model() string
}

// Decomposition sum tolerance: same-unit component quantities must sum to
// 1.0 within [0.95, 1.05], bounds inclusive.
const (
	SumLower = 0.95
	SumUpper = 1.05
)

// SumInTolerance reports whether a component quantity sum satisfies the
// decomposition constraint.
func SumInTolerance(sum float64) bool {
	return sum >= SumLower && sum <= SumUpper
}
