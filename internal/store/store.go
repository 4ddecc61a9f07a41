// Package store persists jobs, input rows, and row results. Results are
// append-only per row; the most recent result is the current one.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/klimatrix/factor-cli/internal/model"
)

// RowEdit carries user-editable fields of an input row. Applying an edit
// resets the row to pending so it is re-resolved on the next run.
type RowEdit struct {
	Label         *string `json:"label,omitempty"`
	ProductInfo   *string `json:"product_info,omitempty"`
	ReferenceUnit *string `json:"reference_unit,omitempty"`
	Region        *string `json:"region,omitempty"`
	ReferenceYear *string `json:"reference_year,omitempty"`
}

// Store is the persistence interface for the processing pipeline.
type Store interface {
	Migrate(ctx context.Context) error

	CreateJob(ctx context.Context, job *model.Job, rows []model.InputRow) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	IncrementJobDone(ctx context.Context, jobID string) error

	ListRows(ctx context.Context, jobID string) ([]model.InputRow, error)
	AddRow(ctx context.Context, jobID string, row *model.InputRow) error
	DeleteRow(ctx context.Context, rowID int64) error
	GetRow(ctx context.Context, rowID int64) (*model.InputRow, error)
	PendingRows(ctx context.Context, jobID string) ([]model.InputRow, error)
	UpdateRowStatus(ctx context.Context, rowID int64, status model.RowStatus, errMsg string) error
	UpdateRowNormalized(ctx context.Context, rowID int64, labelNorm, productInfoNorm, regionNorm string) error
	EditRow(ctx context.Context, rowID int64, edit RowEdit) error

	AppendResult(ctx context.Context, result *model.RowResult) error
	LatestResult(ctx context.Context, rowID int64) (*model.RowResult, error)
	LatestResults(ctx context.Context, jobID string) (map[int64]*model.RowResult, error)

	Close() error
}

// ErrNotFound is returned when a job or row does not exist.
var ErrNotFound = eris.New("store: not found")

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json")
	}
	return b, nil
}

func unmarshalJSON[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, eris.Wrap(err, "store: unmarshal json")
	}
	return v, nil
}
