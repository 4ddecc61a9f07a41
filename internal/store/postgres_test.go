package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klimatrix/factor-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStoreWithPool(mock), mock
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Now().UTC()
	mock.ExpectQuery("SELECT id, mode, status, total_rows, done_rows, created_at").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "mode", "status", "total_rows", "done_rows", "created_at"}).
			AddRow("job-1", "auto", "processing", 5, 2, created))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.Equal(t, 5, job.TotalRows)
	assert.Equal(t, 2, job.DoneRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJobNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, mode, status, total_rows, done_rows, created_at").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRowStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE input_rows SET status").
		WithArgs(model.RowStatusCalculated, "", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateRowStatus(context.Background(), 7, model.RowStatusCalculated, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendResultReturnsID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO row_results").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	result := &model.RowResult{
		InputRowID:   7,
		DecisionType: model.DecisionMatch,
		SelectedID:   "ds-1",
	}
	require.NoError(t, s.AppendResult(context.Background(), result))
	assert.Equal(t, int64(42), result.ID)
	assert.False(t, result.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
