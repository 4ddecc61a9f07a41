package model

import "time"

// RowStatus represents the lifecycle state of an input row.
type RowStatus string

const (
	RowStatusPending     RowStatus = "pending"
	RowStatusSearching   RowStatus = "searching"
	RowStatusDeciding    RowStatus = "llm_deciding"
	RowStatusAmbiguous   RowStatus = "ambiguous"
	RowStatusDecomposing RowStatus = "decomposing"
	RowStatusCalculated  RowStatus = "calculated"
	RowStatusError       RowStatus = "error"
)

// Terminal reports whether the status is a terminal state for the row.
func (s RowStatus) Terminal() bool {
	return s == RowStatusCalculated || s == RowStatusAmbiguous || s == RowStatusError
}

// JobStatus represents the lifecycle state of a processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// ProcessingMode selects automatic or review-gated resolution of ambiguity.
type ProcessingMode string

const (
	ModeAuto   ProcessingMode = "auto"
	ModeReview ProcessingMode = "review"
)

// GlobalRegion is the catalog's code for a globally averaged dataset, and the
// default when an input row carries no region.
const GlobalRegion = "GLO"

// RestOfWorldRegion is the catalog's "rest of world" residual region code.
const RestOfWorldRegion = "RoW"

// DatasetRecord is an immutable catalog entry loaded once at startup.
type DatasetRecord struct {
	ID              int64   `json:"id"`
	ExternalID      string  `json:"external_id"`
	ActivityName    string  `json:"activity_name"`
	Geography       string  `json:"geography"`
	ProductName     string  `json:"product_name"`
	Unit            string  `json:"unit"`
	ReferenceAmount int64   `json:"reference_amount"`
	BiogenicKg      float64 `json:"biogenic_kg"`
	TotalExclBioKg  float64 `json:"total_excl_bio_kg"`
	IsAggregate     bool    `json:"is_aggregate"`
}

// Job groups input rows into one processing batch.
type Job struct {
	ID        string         `json:"id"`
	Mode      ProcessingMode `json:"mode"`
	Status    JobStatus      `json:"status"`
	TotalRows int            `json:"total_rows"`
	DoneRows  int            `json:"done_rows"`
	CreatedAt time.Time      `json:"created_at"`
}

// InputRow is one line of user intent awaiting resolution.
type InputRow struct {
	ID              int64     `json:"id"`
	JobID           string    `json:"job_id"`
	RowIndex        int       `json:"row_index"`
	Scope           string    `json:"scope,omitempty"`
	Category        string    `json:"category,omitempty"`
	Subcategory     string    `json:"subcategory,omitempty"`
	Label           string    `json:"label"`
	ProductInfo     string    `json:"product_info,omitempty"`
	ReferenceUnit   string    `json:"reference_unit"`
	Region          string    `json:"region,omitempty"`
	ReferenceYear   string    `json:"reference_year,omitempty"`
	LabelNorm       string    `json:"label_norm,omitempty"`
	ProductInfoNorm string    `json:"product_info_norm,omitempty"`
	RegionNorm      string    `json:"region_norm"`
	Status          RowStatus `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// CandidateResult is a catalog record with its retrieval ranking metadata.
// LexicalRank and SemanticRank are 1-based; zero means the record did not
// appear in that ranking.
type CandidateResult struct {
	Dataset        DatasetRecord `json:"dataset"`
	LexicalRank    int           `json:"lexical_rank,omitempty"`
	SemanticRank   int           `json:"semantic_rank,omitempty"`
	FusedScore     float64       `json:"fused_score"`
	RegionPriority int           `json:"region_priority"`
}

// RetrievalResult is the outcome of one retrieval pass: either an ordered
// candidate list plus the query used, or a forced-decomposition refusal.
type RetrievalResult struct {
	ForceDecompose bool              `json:"force_decompose"`
	Reason         string            `json:"reason,omitempty"`
	Candidates     []CandidateResult `json:"candidates,omitempty"`
	QueryUsed      string            `json:"query_used,omitempty"`
}

// DecisionType tags the oracle's verdict for a row.
type DecisionType string

const (
	DecisionMatch     DecisionType = "match"
	DecisionAmbiguous DecisionType = "ambiguous"
	DecisionDecompose DecisionType = "decompose"
)

// RankedCandidate is one entry of an ambiguous decision's ranked list.
type RankedCandidate struct {
	ExternalID   string `json:"external_id"`
	ActivityName string `json:"activity_name"`
	ProductName  string `json:"product_name"`
	Geography    string `json:"geography"`
	Unit         string `json:"unit"`
	WhyShort     string `json:"why_short"`
	Rank         int    `json:"rank"`
}

// DecompComponent is one physical sub-component proposed by the oracle,
// not yet resolved to a dataset.
type DecompComponent struct {
	Label           string  `json:"label"`
	AssumedQuantity float64 `json:"assumed_quantity"`
	AssumedUnit     string  `json:"assumed_unit"`
	SearchQueryText string  `json:"search_query_text"`
}

// Decision is the oracle's validated verdict.
type Decision struct {
	Type        DecisionType      `json:"type"`
	SelectedID  string            `json:"selected_id,omitempty"`
	Candidates  []RankedCandidate `json:"candidates,omitempty"`
	Components  []DecompComponent `json:"components,omitempty"`
	Assumptions []string          `json:"assumptions,omitempty"`
}

// UnitConversion is an oracle-supplied factor between a reference unit and a
// dataset unit, with its justification.
type UnitConversion struct {
	Factor      float64 `json:"factor"`
	Explanation string  `json:"explanation"`
}

// CalcResult holds the scaled emission values for a single matched dataset.
type CalcResult struct {
	ExternalID     string          `json:"external_id"`
	ActivityName   string          `json:"activity_name"`
	Geography      string          `json:"geography"`
	Quantity       float64         `json:"quantity"`
	Unit           string          `json:"unit"`
	BiogenicKg     float64         `json:"biogenic_kg"`
	TotalExclBioKg float64         `json:"total_excl_bio_kg"`
	BiogenicT      float64         `json:"biogenic_t"`
	TotalExclBioT  float64         `json:"total_excl_bio_t"`
	Conversion     *UnitConversion `json:"conversion,omitempty"`
}

// ResolvedComponent is a decomposition component resolved to a dataset with
// its scaled emission values.
type ResolvedComponent struct {
	Label            string  `json:"label"`
	AssumedQuantity  float64 `json:"assumed_quantity"`
	AssumedUnit      string  `json:"assumed_unit"`
	MatchedID        string  `json:"matched_id"`
	MatchedActivity  string  `json:"matched_activity"`
	MatchedGeography string  `json:"matched_geography"`
	ScaledBiogenicKg float64 `json:"scaled_biogenic_kg"`
	ScaledTotalKg    float64 `json:"scaled_total_kg"`
}

// DecompCalcResult aggregates resolved components into job-level totals.
type DecompCalcResult struct {
	Components     []ResolvedComponent `json:"components"`
	Assumptions    []string            `json:"assumptions"`
	BiogenicKgSum  float64             `json:"biogenic_kg_sum"`
	TotalKgSum     float64             `json:"total_kg_sum"`
	BiogenicT      float64             `json:"biogenic_t"`
	TotalExclBioT  float64             `json:"total_excl_bio_t"`
	MixedUnits     bool                `json:"mixed_units,omitempty"`
	MixedUnitsNote string              `json:"mixed_units_note,omitempty"`
}

// RowResult is one persisted resolution attempt for an input row. Results are
// append-only per row; the latest attempt wins at the presentation layer.
type RowResult struct {
	ID           int64               `json:"id"`
	InputRowID   int64               `json:"input_row_id"`
	DecisionType DecisionType        `json:"decision_type"`
	SelectedID   string              `json:"selected_id,omitempty"`
	Candidates   []RankedCandidate   `json:"candidates,omitempty"`
	Components   []ResolvedComponent `json:"components,omitempty"`
	BiogenicT    string              `json:"biogenic_t,omitempty"`
	TotalT       string              `json:"total_t,omitempty"`
	Description  string              `json:"description,omitempty"`
	Source       string              `json:"source,omitempty"`
	DetailCalc   string              `json:"detail_calc,omitempty"`
	Provenance   *ProvenanceRecord   `json:"provenance,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// ProvenanceRecord captures the audit trail for a resolved row.
type ProvenanceRecord struct {
	Timestamp       time.Time         `json:"timestamp"`
	Input           map[string]string `json:"input"`
	NormalizedInput map[string]string `json:"normalized_input"`
	QueryUsed       string            `json:"query_used,omitempty"`
	CandidateCount  int               `json:"candidate_count"`
	DecisionType    DecisionType      `json:"decision_type"`
	SelectedIDs     []string          `json:"selected_ids"`
	Quantities      []float64         `json:"quantities"`
	OracleModel     string            `json:"oracle_model,omitempty"`
	Notes           []string          `json:"notes,omitempty"`
}
