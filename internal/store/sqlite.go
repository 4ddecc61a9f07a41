package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/klimatrix/factor-cli/internal/model"
)

// SQLiteStore implements Store using an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL,
	total_rows INTEGER NOT NULL,
	done_rows  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS input_rows (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id            TEXT NOT NULL REFERENCES jobs(id),
	row_index         INTEGER NOT NULL,
	scope             TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	subcategory       TEXT NOT NULL DEFAULT '',
	label             TEXT NOT NULL,
	product_info      TEXT NOT NULL DEFAULT '',
	reference_unit    TEXT NOT NULL,
	region            TEXT NOT NULL DEFAULT '',
	reference_year    TEXT NOT NULL DEFAULT '',
	label_norm        TEXT NOT NULL DEFAULT '',
	product_info_norm TEXT NOT NULL DEFAULT '',
	region_norm       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	error_message     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS row_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	input_row_id  INTEGER NOT NULL REFERENCES input_rows(id),
	decision_type TEXT NOT NULL,
	selected_id   TEXT NOT NULL DEFAULT '',
	candidates    BLOB,
	components    BLOB,
	biogenic_t    TEXT NOT NULL DEFAULT '',
	total_t       TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	detail_calc   TEXT NOT NULL DEFAULT '',
	provenance    BLOB,
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_input_rows_job ON input_rows(job_id);
CREATE INDEX IF NOT EXISTS idx_input_rows_status ON input_rows(job_id, status);
CREATE INDEX IF NOT EXISTS idx_row_results_row ON row_results(input_row_id, id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "store: migrate sqlite")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job, rows []model.InputRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin create job")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, mode, status, total_rows, done_rows, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		job.ID, job.Mode, job.Status, len(rows), job.CreatedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: insert job")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO input_rows (job_id, row_index, scope, category, subcategory,
			label, product_info, reference_unit, region, reference_year,
			label_norm, product_info_norm, region_norm, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "store: prepare insert row")
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		if r.Status == "" {
			r.Status = model.RowStatusPending
		}
		res, err := stmt.ExecContext(ctx, job.ID, r.RowIndex, r.Scope, r.Category,
			r.Subcategory, r.Label, r.ProductInfo, r.ReferenceUnit, r.Region,
			r.ReferenceYear, r.LabelNorm, r.ProductInfoNorm, r.RegionNorm, r.Status)
		if err != nil {
			return eris.Wrapf(err, "store: insert row %d", r.RowIndex)
		}
		r.ID, _ = res.LastInsertId()
		r.JobID = job.ID
	}

	job.TotalRows = len(rows)
	return eris.Wrap(tx.Commit(), "store: commit create job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var j model.Job
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mode, status, total_rows, done_rows, created_at
		FROM jobs WHERE id = ?`, jobID).
		Scan(&j.ID, &j.Mode, &j.Status, &j.TotalRows, &j.DoneRows, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get job")
	}
	return &j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, status, total_rows, done_rows, created_at
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		if err := rows.Scan(&j.ID, &j.Mode, &j.Status, &j.TotalRows, &j.DoneRows, &j.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan job")
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "store: list jobs iterate")
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, status, jobID)
	return eris.Wrap(err, "store: update job status")
}

func (s *SQLiteStore) IncrementJobDone(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET done_rows = done_rows + 1 WHERE id = ?`, jobID)
	return eris.Wrap(err, "store: increment job done")
}

const inputRowColumns = `id, job_id, row_index, scope, category, subcategory,
	label, product_info, reference_unit, region, reference_year,
	label_norm, product_info_norm, region_norm, status, error_message`

func scanInputRow(row scannable) (*model.InputRow, error) {
	var r model.InputRow
	err := row.Scan(&r.ID, &r.JobID, &r.RowIndex, &r.Scope, &r.Category,
		&r.Subcategory, &r.Label, &r.ProductInfo, &r.ReferenceUnit, &r.Region,
		&r.ReferenceYear, &r.LabelNorm, &r.ProductInfoNorm, &r.RegionNorm,
		&r.Status, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan input row")
	}
	return &r, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) ListRows(ctx context.Context, jobID string) ([]model.InputRow, error) {
	return s.queryRows(ctx, `
		SELECT `+inputRowColumns+` FROM input_rows
		WHERE job_id = ? ORDER BY row_index`, jobID)
}

func (s *SQLiteStore) PendingRows(ctx context.Context, jobID string) ([]model.InputRow, error) {
	return s.queryRows(ctx, `
		SELECT `+inputRowColumns+` FROM input_rows
		WHERE job_id = ? AND status = 'pending' ORDER BY row_index`, jobID)
}

func (s *SQLiteStore) queryRows(ctx context.Context, query string, args ...any) ([]model.InputRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query rows")
	}
	defer rows.Close()

	var out []model.InputRow
	for rows.Next() {
		r, err := scanInputRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "store: query rows iterate")
}

func (s *SQLiteStore) AddRow(ctx context.Context, jobID string, row *model.InputRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin add row")
	}
	defer tx.Rollback()

	if row.RowIndex == 0 {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(row_index) + 1, 0) FROM input_rows WHERE job_id = ?`,
			jobID).Scan(&row.RowIndex)
		if err != nil {
			return eris.Wrap(err, "store: next row index")
		}
	}
	if row.Status == "" {
		row.Status = model.RowStatusPending
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO input_rows (job_id, row_index, scope, category, subcategory,
			label, product_info, reference_unit, region, reference_year,
			label_norm, product_info_norm, region_norm, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, row.RowIndex, row.Scope, row.Category, row.Subcategory,
		row.Label, row.ProductInfo, row.ReferenceUnit, row.Region,
		row.ReferenceYear, row.LabelNorm, row.ProductInfoNorm, row.RegionNorm,
		row.Status)
	if err != nil {
		return eris.Wrap(err, "store: add row")
	}
	row.ID, _ = res.LastInsertId()
	row.JobID = jobID

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET total_rows = total_rows + 1 WHERE id = ?`, jobID); err != nil {
		return eris.Wrap(err, "store: bump total rows")
	}
	return eris.Wrap(tx.Commit(), "store: commit add row")
}

func (s *SQLiteStore) DeleteRow(ctx context.Context, rowID int64) error {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin delete row")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM row_results WHERE input_row_id = ?`, rowID); err != nil {
		return eris.Wrap(err, "store: delete row results")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM input_rows WHERE id = ?`, rowID); err != nil {
		return eris.Wrap(err, "store: delete row")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET total_rows = total_rows - 1 WHERE id = ?`, row.JobID); err != nil {
		return eris.Wrap(err, "store: drop total rows")
	}
	return eris.Wrap(tx.Commit(), "store: commit delete row")
}

func (s *SQLiteStore) GetRow(ctx context.Context, rowID int64) (*model.InputRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inputRowColumns+` FROM input_rows WHERE id = ?`, rowID)
	return scanInputRow(row)
}

func (s *SQLiteStore) UpdateRowStatus(ctx context.Context, rowID int64, status model.RowStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE input_rows SET status = ?, error_message = ? WHERE id = ?`,
		status, errMsg, rowID)
	return eris.Wrap(err, "store: update row status")
}

func (s *SQLiteStore) UpdateRowNormalized(ctx context.Context, rowID int64, labelNorm, productInfoNorm, regionNorm string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE input_rows
		SET label_norm = ?, product_info_norm = ?, region_norm = ?
		WHERE id = ?`, labelNorm, productInfoNorm, regionNorm, rowID)
	return eris.Wrap(err, "store: update row normalized")
}

func (s *SQLiteStore) EditRow(ctx context.Context, rowID int64, edit RowEdit) error {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return err
	}
	applyEdit(row, edit)

	_, err = s.db.ExecContext(ctx, `
		UPDATE input_rows
		SET label = ?, product_info = ?, reference_unit = ?, region = ?,
			reference_year = ?, status = 'pending', error_message = ''
		WHERE id = ?`,
		row.Label, row.ProductInfo, row.ReferenceUnit, row.Region,
		row.ReferenceYear, rowID)
	return eris.Wrap(err, "store: edit row")
}

func applyEdit(row *model.InputRow, edit RowEdit) {
	if edit.Label != nil {
		row.Label = *edit.Label
	}
	if edit.ProductInfo != nil {
		row.ProductInfo = *edit.ProductInfo
	}
	if edit.ReferenceUnit != nil {
		row.ReferenceUnit = *edit.ReferenceUnit
	}
	if edit.Region != nil {
		row.Region = *edit.Region
	}
	if edit.ReferenceYear != nil {
		row.ReferenceYear = *edit.ReferenceYear
	}
}

func (s *SQLiteStore) AppendResult(ctx context.Context, result *model.RowResult) error {
	candidates, err := marshalJSON(result.Candidates)
	if err != nil {
		return err
	}
	components, err := marshalJSON(result.Components)
	if err != nil {
		return err
	}
	provenance, err := marshalJSON(result.Provenance)
	if err != nil {
		return err
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO row_results (input_row_id, decision_type, selected_id,
			candidates, components, biogenic_t, total_t, description, source,
			detail_calc, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.InputRowID, result.DecisionType, result.SelectedID,
		candidates, components, result.BiogenicT, result.TotalT,
		result.Description, result.Source, result.DetailCalc, provenance,
		result.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "store: append result")
	}
	result.ID, _ = res.LastInsertId()
	return nil
}

const resultColumns = `id, input_row_id, decision_type, selected_id, candidates,
	components, biogenic_t, total_t, description, source, detail_calc,
	provenance, created_at`

func scanResult(row scannable) (*model.RowResult, error) {
	var r model.RowResult
	var candidates, components, provenance []byte
	err := row.Scan(&r.ID, &r.InputRowID, &r.DecisionType, &r.SelectedID,
		&candidates, &components, &r.BiogenicT, &r.TotalT, &r.Description,
		&r.Source, &r.DetailCalc, &provenance, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan result")
	}
	if r.Candidates, err = unmarshalJSON[[]model.RankedCandidate](candidates); err != nil {
		return nil, err
	}
	if r.Components, err = unmarshalJSON[[]model.ResolvedComponent](components); err != nil {
		return nil, err
	}
	if len(provenance) > 0 {
		p, err := unmarshalJSON[model.ProvenanceRecord](provenance)
		if err != nil {
			return nil, err
		}
		r.Provenance = &p
	}
	return &r, nil
}

func (s *SQLiteStore) LatestResult(ctx context.Context, rowID int64) (*model.RowResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+resultColumns+` FROM row_results
		WHERE input_row_id = ? ORDER BY id DESC LIMIT 1`, rowID)
	return scanResult(row)
}

func (s *SQLiteStore) LatestResults(ctx context.Context, jobID string) (map[int64]*model.RowResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM row_results
		WHERE input_row_id IN (SELECT id FROM input_rows WHERE job_id = ?)
		ORDER BY id`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "store: latest results")
	}
	defer rows.Close()

	out := make(map[int64]*model.RowResult)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out[r.InputRowID] = r
	}
	return out, eris.Wrap(rows.Err(), "store: latest results iterate")
}
