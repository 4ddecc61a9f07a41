package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/klimatrix/factor-cli/internal/model"
)

// PgxPool is the subset of pgxpool.Pool used by PostgresStore; pgxmock
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore connects to the database at databaseURL.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "store: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping postgres")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wraps an existing pool (or mock).
func NewPostgresStoreWithPool(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL,
	total_rows INTEGER NOT NULL,
	done_rows  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS input_rows (
	id                BIGSERIAL PRIMARY KEY,
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
	id            BIGSERIAL PRIMARY KEY,
	input_row_id  BIGINT NOT NULL REFERENCES input_rows(id),
	decision_type TEXT NOT NULL,
	selected_id   TEXT NOT NULL DEFAULT '',
	candidates    JSONB,
	components    JSONB,
	biogenic_t    TEXT NOT NULL DEFAULT '',
	total_t       TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	detail_calc   TEXT NOT NULL DEFAULT '',
	provenance    JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_input_rows_job ON input_rows(job_id);
CREATE INDEX IF NOT EXISTS idx_input_rows_status ON input_rows(job_id, status);
CREATE INDEX IF NOT EXISTS idx_row_results_row ON row_results(input_row_id, id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "store: migrate postgres")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job, rows []model.InputRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin create job")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, mode, status, total_rows, done_rows, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)`,
		job.ID, job.Mode, job.Status, len(rows), job.CreatedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: insert job")
	}

	for i := range rows {
		r := &rows[i]
		if r.Status == "" {
			r.Status = model.RowStatusPending
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO input_rows (job_id, row_index, scope, category, subcategory,
				label, product_info, reference_unit, region, reference_year,
				label_norm, product_info_norm, region_norm, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
			job.ID, r.RowIndex, r.Scope, r.Category, r.Subcategory,
			r.Label, r.ProductInfo, r.ReferenceUnit, r.Region, r.ReferenceYear,
			r.LabelNorm, r.ProductInfoNorm, r.RegionNorm, r.Status).Scan(&r.ID)
		if err != nil {
			return eris.Wrapf(err, "store: insert row %d", r.RowIndex)
		}
		r.JobID = job.ID
	}

	job.TotalRows = len(rows)
	return eris.Wrap(tx.Commit(ctx), "store: commit create job")
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var j model.Job
	err := s.pool.QueryRow(ctx, `
		SELECT id, mode, status, total_rows, done_rows, created_at
		FROM jobs WHERE id = $1`, jobID).
		Scan(&j.ID, &j.Mode, &j.Status, &j.TotalRows, &j.DoneRows, &j.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get job")
	}
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, mode, status, total_rows, done_rows, created_at
		FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
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

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $1 WHERE id = $2`, status, jobID)
	return eris.Wrap(err, "store: update job status")
}

func (s *PostgresStore) IncrementJobDone(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET done_rows = done_rows + 1 WHERE id = $1`, jobID)
	return eris.Wrap(err, "store: increment job done")
}

const pgInputRowColumns = `id, job_id, row_index, scope, category, subcategory,
	label, product_info, reference_unit, region, reference_year,
	label_norm, product_info_norm, region_norm, status, error_message`

func (s *PostgresStore) ListRows(ctx context.Context, jobID string) ([]model.InputRow, error) {
	return s.queryRows(ctx, `
		SELECT `+pgInputRowColumns+` FROM input_rows
		WHERE job_id = $1 ORDER BY row_index`, jobID)
}

func (s *PostgresStore) PendingRows(ctx context.Context, jobID string) ([]model.InputRow, error) {
	return s.queryRows(ctx, `
		SELECT `+pgInputRowColumns+` FROM input_rows
		WHERE job_id = $1 AND status = 'pending' ORDER BY row_index`, jobID)
}

func (s *PostgresStore) queryRows(ctx context.Context, query string, args ...any) ([]model.InputRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query rows")
	}
	defer rows.Close()

	var out []model.InputRow
	for rows.Next() {
		r, err := scanPgInputRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "store: query rows iterate")
}

func scanPgInputRow(row pgx.Row) (*model.InputRow, error) {
	var r model.InputRow
	err := row.Scan(&r.ID, &r.JobID, &r.RowIndex, &r.Scope, &r.Category,
		&r.Subcategory, &r.Label, &r.ProductInfo, &r.ReferenceUnit, &r.Region,
		&r.ReferenceYear, &r.LabelNorm, &r.ProductInfoNorm, &r.RegionNorm,
		&r.Status, &r.ErrorMessage)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan input row")
	}
	return &r, nil
}

func (s *PostgresStore) AddRow(ctx context.Context, jobID string, row *model.InputRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin add row")
	}
	defer tx.Rollback(ctx)

	if row.RowIndex == 0 {
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(row_index) + 1, 0) FROM input_rows WHERE job_id = $1`,
			jobID).Scan(&row.RowIndex)
		if err != nil {
			return eris.Wrap(err, "store: next row index")
		}
	}
	if row.Status == "" {
		row.Status = model.RowStatusPending
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO input_rows (job_id, row_index, scope, category, subcategory,
			label, product_info, reference_unit, region, reference_year,
			label_norm, product_info_norm, region_norm, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		jobID, row.RowIndex, row.Scope, row.Category, row.Subcategory,
		row.Label, row.ProductInfo, row.ReferenceUnit, row.Region,
		row.ReferenceYear, row.LabelNorm, row.ProductInfoNorm, row.RegionNorm,
		row.Status).Scan(&row.ID)
	if err != nil {
		return eris.Wrap(err, "store: add row")
	}
	row.JobID = jobID

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET total_rows = total_rows + 1 WHERE id = $1`, jobID); err != nil {
		return eris.Wrap(err, "store: bump total rows")
	}
	return eris.Wrap(tx.Commit(ctx), "store: commit add row")
}

func (s *PostgresStore) DeleteRow(ctx context.Context, rowID int64) error {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin delete row")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM row_results WHERE input_row_id = $1`, rowID); err != nil {
		return eris.Wrap(err, "store: delete row results")
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM input_rows WHERE id = $1`, rowID); err != nil {
		return eris.Wrap(err, "store: delete row")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET total_rows = total_rows - 1 WHERE id = $1`, row.JobID); err != nil {
		return eris.Wrap(err, "store: drop total rows")
	}
	return eris.Wrap(tx.Commit(ctx), "store: commit delete row")
}

func (s *PostgresStore) GetRow(ctx context.Context, rowID int64) (*model.InputRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgInputRowColumns+` FROM input_rows WHERE id = $1`, rowID)
	return scanPgInputRow(row)
}

func (s *PostgresStore) UpdateRowStatus(ctx context.Context, rowID int64, status model.RowStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE input_rows SET status = $1, error_message = $2 WHERE id = $3`,
		status, errMsg, rowID)
	return eris.Wrap(err, "store: update row status")
}

func (s *PostgresStore) UpdateRowNormalized(ctx context.Context, rowID int64, labelNorm, productInfoNorm, regionNorm string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE input_rows
		SET label_norm = $1, product_info_norm = $2, region_norm = $3
		WHERE id = $4`, labelNorm, productInfoNorm, regionNorm, rowID)
	return eris.Wrap(err, "store: update row normalized")
}

func (s *PostgresStore) EditRow(ctx context.Context, rowID int64, edit RowEdit) error {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return err
	}
	applyEdit(row, edit)

	_, err = s.pool.Exec(ctx, `
		UPDATE input_rows
		SET label = $1, product_info = $2, reference_unit = $3, region = $4,
			reference_year = $5, status = 'pending', error_message = ''
		WHERE id = $6`,
		row.Label, row.ProductInfo, row.ReferenceUnit, row.Region,
		row.ReferenceYear, rowID)
	return eris.Wrap(err, "store: edit row")
}

func (s *PostgresStore) AppendResult(ctx context.Context, result *model.RowResult) error {
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

	err = s.pool.QueryRow(ctx, `
		INSERT INTO row_results (input_row_id, decision_type, selected_id,
			candidates, components, biogenic_t, total_t, description, source,
			detail_calc, provenance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		result.InputRowID, result.DecisionType, result.SelectedID,
		candidates, components, result.BiogenicT, result.TotalT,
		result.Description, result.Source, result.DetailCalc, provenance,
		result.CreatedAt).Scan(&result.ID)
	return eris.Wrap(err, "store: append result")
}

const pgResultColumns = `id, input_row_id, decision_type, selected_id, candidates,
	components, biogenic_t, total_t, description, source, detail_calc,
	provenance, created_at`

func scanPgResult(row pgx.Row) (*model.RowResult, error) {
	var r model.RowResult
	var candidates, components, provenance []byte
	err := row.Scan(&r.ID, &r.InputRowID, &r.DecisionType, &r.SelectedID,
		&candidates, &components, &r.BiogenicT, &r.TotalT, &r.Description,
		&r.Source, &r.DetailCalc, &provenance, &r.CreatedAt)
	if err == pgx.ErrNoRows {
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

func (s *PostgresStore) LatestResult(ctx context.Context, rowID int64) (*model.RowResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgResultColumns+` FROM row_results
		WHERE input_row_id = $1 ORDER BY id DESC LIMIT 1`, rowID)
	return scanPgResult(row)
}

func (s *PostgresStore) LatestResults(ctx context.Context, jobID string) (map[int64]*model.RowResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgResultColumns+` FROM row_results
		WHERE input_row_id IN (SELECT id FROM input_rows WHERE job_id = $1)
		ORDER BY id`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "store: latest results")
	}
	defer rows.Close()

	out := make(map[int64]*model.RowResult)
	for rows.Next() {
		r, err := scanPgResult(rows)
		if err != nil {
			return nil, err
		}
		out[r.InputRowID] = r
	}
	return out, eris.Wrap(rows.Err(), "store: latest results iterate")
}
