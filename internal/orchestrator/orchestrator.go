// Package orchestrator drives rows through the resolution pipeline:
// retrieval, oracle decision, calculation, validation, output assembly, and
// persistence.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/klimatrix/factor-cli/internal/calc"
	"github.com/klimatrix/factor-cli/internal/model"
	"github.com/klimatrix/factor-cli/internal/oracle"
	"github.com/klimatrix/factor-cli/internal/output"
	"github.com/klimatrix/factor-cli/internal/retrieval"
	"github.com/klimatrix/factor-cli/internal/store"
	"github.com/klimatrix/factor-cli/internal/validate"
)

// mixedUnitsNote annotates decompositions whose components use differing
// units; the quantity-sum constraint cannot be checked across units, so the
// result is flagged for manual review instead of silently accepted.
const mixedUnitsNote = "mixed-unit decomposition: quantity sum not validated"

// Retriever is the candidate search surface the orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (*model.RetrievalResult, error)
}

// Options tunes the orchestrator.
type Options struct {
	// Workers bounds the number of jobs processed concurrently. Rows within
	// a job always run sequentially in input order.
	Workers int
	// ComponentTopK is the candidate count for component sub-searches.
	ComponentTopK int
}

// Orchestrator coordinates the row resolution pipeline.
type Orchestrator struct {
	store     store.Store
	retriever Retriever
	oracle    oracle.Oracle
	calc      *calc.Calculator
	validator *validate.Validator
	assembler *output.Assembler
	opts      Options
}

// New wires the pipeline together.
func New(st store.Store, retriever Retriever, orc oracle.Oracle, calculator *calc.Calculator, validator *validate.Validator, assembler *output.Assembler, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ComponentTopK <= 0 {
		opts.ComponentTopK = 20
	}
	return &Orchestrator{
		store:     st,
		retriever: retriever,
		oracle:    orc,
		calc:      calculator,
		validator: validator,
		assembler: assembler,
		opts:      opts,
	}
}

// NormalizeRow fills the normalized fields of a row before persistence.
func NormalizeRow(row *model.InputRow) {
	row.LabelNorm = retrieval.Normalize(row.Label)
	row.ProductInfoNorm = retrieval.Normalize(row.ProductInfo)
	region := strings.ToUpper(strings.TrimSpace(row.Region))
	if region == "" {
		region = model.GlobalRegion
	}
	row.RegionNorm = region
}

// ProcessJob resolves every pending row of the job, one at a time in input
// order. Row failures are recorded on the row; only infrastructure errors
// abort the job.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string, mode model.ProcessingMode) error {
	if err := o.store.UpdateJobStatus(ctx, jobID, model.JobStatusProcessing); err != nil {
		return err
	}

	pending, err := o.store.PendingRows(ctx, jobID)
	if err != nil {
		return err
	}

	for i := range pending {
		o.ProcessRow(ctx, &pending[i], mode)
		if err := o.store.IncrementJobDone(ctx, jobID); err != nil {
			o.store.UpdateJobStatus(ctx, jobID, model.JobStatusError)
			return eris.Wrap(err, "orchestrator: process job")
		}
	}

	return o.store.UpdateJobStatus(ctx, jobID, model.JobStatusCompleted)
}

// ResumeJobs re-runs jobs left in processing status by an earlier shutdown.
// Jobs run concurrently up to the worker limit; each job's own rows stay
// sequential.
func (o *Orchestrator) ResumeJobs(ctx context.Context) error {
	jobs, err := o.store.ListJobs(ctx, 0)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	resumed := 0
	for _, job := range jobs {
		if job.Status != model.JobStatusProcessing {
			continue
		}
		resumed++
		g.Go(func() error {
			return o.ProcessJob(gctx, job.ID, job.Mode)
		})
	}
	if resumed > 0 {
		zap.L().Info("resuming interrupted jobs", zap.Int("jobs", resumed))
	}
	return eris.Wrap(g.Wait(), "orchestrator: resume jobs")
}

// ProcessRow drives one row through the state machine. Failures land in the
// row's error status rather than being returned.
func (o *Orchestrator) ProcessRow(ctx context.Context, row *model.InputRow, mode model.ProcessingMode) {
	log := zap.L().With(zap.Int64("row_id", row.ID), zap.String("label", row.Label))

	fail := func(msg string) {
		log.Error("row processing failed", zap.String("error", msg))
		if err := o.store.UpdateRowStatus(ctx, row.ID, model.RowStatusError, msg); err != nil {
			log.Error("status update failed", zap.Error(err))
		}
	}

	if err := o.store.UpdateRowStatus(ctx, row.ID, model.RowStatusSearching, ""); err != nil {
		log.Error("status update failed", zap.Error(err))
		return
	}

	result, err := o.retriever.Retrieve(ctx, retrieval.Query{
		Label:         orFallback(row.LabelNorm, row.Label),
		ProductInfo:   orFallback(row.ProductInfoNorm, row.ProductInfo),
		ReferenceUnit: row.ReferenceUnit,
		Region:        orFallback(row.RegionNorm, row.Region),
		Scope:         row.Scope,
		Category:      row.Category,
	})
	if err != nil {
		fail(fmt.Sprintf("retrieval failed: %v", err))
		return
	}

	if err := o.store.UpdateRowStatus(ctx, row.ID, model.RowStatusDeciding, ""); err != nil {
		log.Error("status update failed", zap.Error(err))
		return
	}

	rowCtx := oracle.RowContext{
		Label:         row.Label,
		ProductInfo:   row.ProductInfo,
		ReferenceUnit: row.ReferenceUnit,
		Region:        orFallback(row.RegionNorm, model.GlobalRegion),
	}

	var decision *model.Decision
	if result.ForceDecompose {
		reason := result.Reason
		if reason == "" {
			reason = "no candidates found"
		}
		decision, err = o.oracle.RequestDecomposition(ctx, rowCtx, reason)
	} else {
		decision, err = o.oracle.Decide(ctx, rowCtx, result.Candidates, true)
	}
	if err != nil {
		fail(fmt.Sprintf("oracle decision failed: %v", err))
		return
	}

	switch decision.Type {
	case model.DecisionMatch:
		o.handleMatch(ctx, row, decision.SelectedID, result.QueryUsed, len(result.Candidates), fail)
	case model.DecisionAmbiguous:
		o.handleAmbiguous(ctx, row, decision, result, mode, fail)
	case model.DecisionDecompose:
		o.handleDecompose(ctx, row, decision, result, fail)
	default:
		fail(fmt.Sprintf("unknown decision type: %s", decision.Type))
	}
}

// ResolveMatch finalizes a row with a user- or oracle-selected dataset. Used
// by the match path and by review-mode resolution.
func (o *Orchestrator) ResolveMatch(ctx context.Context, row *model.InputRow, selectedID string) error {
	var failMsg string
	o.handleMatch(ctx, row, selectedID, "", 0, func(msg string) { failMsg = msg })
	if failMsg != "" {
		return eris.New(failMsg)
	}
	return nil
}

func (o *Orchestrator) handleMatch(ctx context.Context, row *model.InputRow, selectedID, queryUsed string, candidateCount int, fail func(string)) {
	if msg, err := o.validateSelection(ctx, selectedID); err != nil {
		fail(fmt.Sprintf("validation failed: %v", err))
		return
	} else if msg != "" {
		fail(msg)
		return
	}

	quantity := 1.0
	var conversion *model.UnitConversion

	record, err := o.calc.CalculateMatch(ctx, selectedID, 1.0, nil)
	if err != nil {
		fail(fmt.Sprintf("calculation failed: %v", err))
		return
	}

	mappedUnit, ok := retrieval.MapUnit(row.ReferenceUnit)
	if !ok {
		mappedUnit = row.ReferenceUnit
	}
	if !strings.EqualFold(strings.TrimSpace(record.Unit), strings.TrimSpace(mappedUnit)) {
		productContext := fmt.Sprintf("%s (%s)", row.Label, row.ProductInfo)
		conversion, err = o.oracle.ConvertUnit(ctx, row.ReferenceUnit, record.Unit, productContext)
		if err != nil {
			fail(fmt.Sprintf("unit conversion failed: %s -> %s: %v", row.ReferenceUnit, record.Unit, err))
			return
		}
		quantity = conversion.Factor
	}

	calcResult, err := o.calc.CalculateMatch(ctx, selectedID, quantity, conversion)
	if err != nil {
		fail(fmt.Sprintf("calculation failed: %v", err))
		return
	}

	description, err := o.assembler.DescriptionMatch(row, calcResult)
	if err != nil {
		fail(err.Error())
		return
	}
	source, err := o.assembler.Source([]string{selectedID})
	if err != nil {
		fail(err.Error())
		return
	}
	detail := o.assembler.DetailMatch(row, calcResult)

	provenance := o.buildProvenance(row, model.DecisionMatch, []string{selectedID}, []float64{quantity}, queryUsed, candidateCount, nil)

	rowResult := &model.RowResult{
		InputRowID:   row.ID,
		DecisionType: model.DecisionMatch,
		SelectedID:   selectedID,
		BiogenicT:    calc.FormatNumber(calcResult.BiogenicT),
		TotalT:       calc.FormatNumber(calcResult.TotalExclBioT),
		Description:  description,
		Source:       source,
		DetailCalc:   detail,
		Provenance:   provenance,
	}
	if err := o.store.AppendResult(ctx, rowResult); err != nil {
		fail(fmt.Sprintf("persist result failed: %v", err))
		return
	}
	if err := o.store.UpdateRowStatus(ctx, row.ID, model.RowStatusCalculated, ""); err != nil {
		zap.L().Error("status update failed", zap.Error(err))
	}
}

func (o *Orchestrator) handleAmbiguous(ctx context.Context, row *model.InputRow, decision *model.Decision, result *model.RetrievalResult, mode model.ProcessingMode, fail func(string)) {
	if mode == model.ModeAuto && len(decision.Candidates) > 0 {
		// Auto mode resolves to the top-ranked option.
		o.handleMatch(ctx, row, decision.Candidates[0].ExternalID, result.QueryUsed, len(result.Candidates), fail)
		return
	}

	rowResult := &model.RowResult{
		InputRowID:   row.ID,
		DecisionType: model.DecisionAmbiguous,
		Candidates:   decision.Candidates,
	}
	if err := o.store.AppendResult(ctx, rowResult); err != nil {
		fail(fmt.Sprintf("persist result failed: %v", err))
		return
	}
	if err := o.store.UpdateRowStatus(ctx, row.ID, model.RowStatusAmbiguous, ""); err != nil {
		zap.L().Error("status update failed", zap.Error(err))
	}
}

func (o *Orchestrator) handleDecompose(ctx context.Context, row *model.InputRow, decision *model.Decision, result *model.RetrievalResult, fail func(string)) {
	if err := o.store.UpdateRowStatus(ctx, row.ID, model.RowStatusDecomposing, ""); err != nil {
		zap.L().Error("status update failed", zap.Error(err))
		return
	}

	region := orFallback(row.RegionNorm, model.GlobalRegion)
	var resolved []calc.ResolvedInput

	for _, comp := range decision.Components {
		sub, err := o.retriever.Retrieve(ctx, retrieval.Query{
			Label:         comp.SearchQueryText,
			ReferenceUnit: comp.AssumedUnit,
			Region:        region,
			TopK:          o.opts.ComponentTopK,
		})
		if err != nil {
			fail(fmt.Sprintf("component %q: retrieval failed: %v", comp.Label, err))
			return
		}
		if sub.ForceDecompose || len(sub.Candidates) == 0 {
			fail(fmt.Sprintf("component %q (%s): no candidates found (unit: %s)",
				comp.Label, comp.SearchQueryText, comp.AssumedUnit))
			return
		}

		// Nested decomposition is not allowed; components resolve to match
		// or ambiguous only.
		compDecision, err := o.oracle.Decide(ctx, oracle.RowContext{
			Label:         comp.SearchQueryText,
			ReferenceUnit: comp.AssumedUnit,
			Region:        region,
		}, sub.Candidates, false)
		if err != nil {
			fail(fmt.Sprintf("component %q: oracle decision failed: %v", comp.Label, err))
			return
		}

		var matchedID string
		switch compDecision.Type {
		case model.DecisionMatch:
			matchedID = compDecision.SelectedID
		case model.DecisionAmbiguous:
			if len(compDecision.Candidates) == 0 {
				fail(fmt.Sprintf("component %q: ambiguous but no candidates returned", comp.Label))
				return
			}
			matchedID = compDecision.Candidates[0].ExternalID
		default:
			fail(fmt.Sprintf("component %q: nested decomposition not supported", comp.Label))
			return
		}

		if msg, err := o.validateSelection(ctx, matchedID); err != nil {
			fail(fmt.Sprintf("component %q: validation failed: %v", comp.Label, err))
			return
		} else if msg != "" {
			fail(fmt.Sprintf("component %q: %s", comp.Label, msg))
			return
		}

		resolved = append(resolved, calc.ResolvedInput{
			Label:           comp.Label,
			AssumedQuantity: comp.AssumedQuantity,
			AssumedUnit:     comp.AssumedUnit,
			MatchedID:       matchedID,
		})
	}

	mappedUnit, ok := retrieval.MapUnit(row.ReferenceUnit)
	if !ok {
		mappedUnit = row.ReferenceUnit
	}
	mixedUnits := false
	sum := 0.0
	for _, comp := range resolved {
		if !strings.EqualFold(strings.TrimSpace(comp.AssumedUnit), strings.TrimSpace(mappedUnit)) {
			mixedUnits = true
		}
		sum += comp.AssumedQuantity
	}
	if !mixedUnits && !oracle.SumInTolerance(sum) {
		parts := make([]string, len(resolved))
		for i, c := range resolved {
			parts[i] = fmt.Sprintf("%s: %v", c.Label, c.AssumedQuantity)
		}
		fail(fmt.Sprintf("decomposition sum validation failed: components sum to %.3f %s, expected 1.0 %s; quantities: %s",
			sum, mappedUnit, row.ReferenceUnit, strings.Join(parts, ", ")))
		return
	}

	decompResult, err := o.calc.CalculateDecomposition(ctx, resolved, decision.Assumptions)
	if err != nil {
		fail(fmt.Sprintf("calculation failed: %v", err))
		return
	}
	if mixedUnits {
		decompResult.MixedUnits = true
		decompResult.MixedUnitsNote = mixedUnitsNote
	}

	ids := make([]string, len(decompResult.Components))
	quantities := make([]float64, len(decompResult.Components))
	for i, comp := range decompResult.Components {
		ids[i] = comp.MatchedID
		quantities[i] = comp.AssumedQuantity
	}

	description, err := o.assembler.DescriptionDecomposition(row, decompResult)
	if err != nil {
		fail(err.Error())
		return
	}
	source, err := o.assembler.Source(ids)
	if err != nil {
		fail(err.Error())
		return
	}
	detail := o.assembler.DetailDecomposition(row, decompResult)

	var notes []string
	if mixedUnits {
		notes = append(notes, mixedUnitsNote)
	}
	provenance := o.buildProvenance(row, model.DecisionDecompose, ids, quantities, result.QueryUsed, len(result.Candidates), notes)

	selectedID := ""
	if len(ids) > 0 {
		selectedID = ids[0]
	}
	rowResult := &model.RowResult{
		InputRowID:   row.ID,
		DecisionType: model.DecisionDecompose,
		SelectedID:   selectedID,
		Components:   decompResult.Components,
		BiogenicT:    calc.FormatNumber(decompResult.BiogenicT),
		TotalT:       calc.FormatNumber(decompResult.TotalExclBioT),
		Description:  description,
		Source:       source,
		DetailCalc:   detail,
		Provenance:   provenance,
	}
	if err := o.store.AppendResult(ctx, rowResult); err != nil {
		fail(fmt.Sprintf("persist result failed: %v", err))
		return
	}
	if err := o.store.UpdateRowStatus(ctx, row.ID, model.RowStatusCalculated, ""); err != nil {
		zap.L().Error("status update failed", zap.Error(err))
	}
}

// validateSelection runs existence and aggregate-market checks. Returns a
// non-empty message for business-rule failures.
func (o *Orchestrator) validateSelection(ctx context.Context, externalID string) (string, error) {
	exists, err := o.validator.ValidateExists(ctx, externalID)
	if err != nil {
		return "", err
	}
	if !exists.Valid {
		return exists.Error, nil
	}
	market, err := o.validator.ValidateNotAggregateMarket(ctx, externalID)
	if err != nil {
		return "", err
	}
	if !market.Valid {
		return market.Error, nil
	}
	return "", nil
}

func (o *Orchestrator) buildProvenance(row *model.InputRow, decisionType model.DecisionType, ids []string, quantities []float64, queryUsed string, candidateCount int, notes []string) *model.ProvenanceRecord {
	return &model.ProvenanceRecord{
		Timestamp: time.Now().UTC(),
		Input: map[string]string{
			"label":          row.Label,
			"product_info":   row.ProductInfo,
			"reference_unit": row.ReferenceUnit,
			"region":         row.Region,
			"reference_year": row.ReferenceYear,
		},
		NormalizedInput: map[string]string{
			"label_norm":        row.LabelNorm,
			"product_info_norm": row.ProductInfoNorm,
			"region_norm":       row.RegionNorm,
		},
		QueryUsed:      queryUsed,
		CandidateCount: candidateCount,
		DecisionType:   decisionType,
		SelectedIDs:    ids,
		Quantities:     quantities,
		OracleModel:    o.oracle.Model(),
		Notes:          notes,
	}
}

func orFallback(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
