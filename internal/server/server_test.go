package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/klimatrix/factor-cli/internal/calc"
	"github.com/klimatrix/factor-cli/internal/model"
	"github.com/klimatrix/factor-cli/internal/oracle"
	"github.com/klimatrix/factor-cli/internal/orchestrator"
	"github.com/klimatrix/factor-cli/internal/output"
	"github.com/klimatrix/factor-cli/internal/retrieval"
	"github.com/klimatrix/factor-cli/internal/store"
	"github.com/klimatrix/factor-cli/internal/validate"
)

type fakeLookup map[string]*model.DatasetRecord

func (f fakeLookup) LookupByExternalID(ctx context.Context, externalID string) (*model.DatasetRecord, error) {
	return f[externalID], nil
}

type stubRetriever struct{}

func (stubRetriever) Retrieve(ctx context.Context, q retrieval.Query) (*model.RetrievalResult, error) {
	return &model.RetrievalResult{}, nil
}

type stubOracle struct{}

func (stubOracle) Decide(ctx context.Context, row oracle.RowContext, candidates []model.CandidateResult, allowDecompose bool) (*model.Decision, error) {
	return &model.Decision{Type: model.DecisionMatch, SelectedID: "ds-1"}, nil
}

func (stubOracle) RequestDecomposition(ctx context.Context, row oracle.RowContext, reason string) (*model.Decision, error) {
	return &model.Decision{Type: model.DecisionMatch, SelectedID: "ds-1"}, nil
}

func (stubOracle) ConvertUnit(ctx context.Context, referenceUnit, datasetUnit, productContext string) (*model.UnitConversion, error) {
	return &model.UnitConversion{Factor: 1}, nil
}

func (stubOracle) Model() string { return "stub-model" }

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	lookup := fakeLookup{
		"ds-1": {ID: 1, ExternalID: "ds-1", ActivityName: "diesel production",
			Geography: "DE", Unit: "l", ReferenceAmount: 1, BiogenicKg: 0.01, TotalExclBioKg: 0.5},
		"ds-2": {ID: 2, ExternalID: "ds-2", ActivityName: "diesel production, low-sulfur",
			Geography: "GLO", Unit: "l", ReferenceAmount: 1, BiogenicKg: 0.02, TotalExclBioKg: 0.75},
	}
	orch := orchestrator.New(st, stubRetriever{}, stubOracle{},
		calc.New(lookup),
		validate.New(lookup, 1000),
		output.New("test catalog", 1000),
		orchestrator.Options{})

	srv := httptest.NewServer(New(st, orch, []string{"*"}).Router())
	t.Cleanup(srv.Close)
	return srv, st
}

func templateUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Input")
	require.NoError(t, err)
	header := sheet.AddRow()
	for _, h := range []string{"Label", "Reference unit", "Region"} {
		header.AddCell().Value = h
	}
	for _, data := range [][]string{{"Diesel", "l", "DE"}, {"Strom", "kWh", ""}} {
		row := sheet.AddRow()
		for _, v := range data {
			row.AddCell().Value = v
		}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "template.xlsx")
	require.NoError(t, err)
	require.NoError(t, file.Write(part))
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func seedJob(t *testing.T, st *store.SQLiteStore, rows []model.InputRow) string {
	t.Helper()
	job := &model.Job{ID: "job-1", Mode: model.ModeAuto, Status: model.JobStatusPending,
		CreatedAt: time.Now().UTC()}
	for i := range rows {
		orchestrator.NormalizeRow(&rows[i])
	}
	require.NoError(t, st.CreateJob(context.Background(), job, rows))
	return job.ID
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateJob(t *testing.T) {
	srv, st := newTestServer(t)

	body, contentType := templateUpload(t)
	resp, err := http.Post(srv.URL+"/api/jobs", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		JobID     string `json:"job_id"`
		TotalRows int    `json:"total_rows"`
	}
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.JobID)
	assert.Equal(t, 2, created.TotalRows)

	rows, err := st.ListRows(context.Background(), created.JobID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Diesel", rows[0].Label)
	assert.Equal(t, "diesel", rows[0].LabelNorm, "rows are normalized on upload")
	assert.Equal(t, model.GlobalRegion, rows[1].RegionNorm)
}

func TestCreateJob_MissingFile(t *testing.T) {
	srv, _ := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("other", "x"))
	require.NoError(t, writer.Close())

	resp, err := http.Post(srv.URL+"/api/jobs", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateJob_InvalidTemplate(t *testing.T) {
	srv, _ := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "junk.xlsx")
	require.NoError(t, err)
	_, err = part.Write([]byte("not a spreadsheet"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(srv.URL+"/api/jobs", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetJob_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/jobs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcess_InvalidMode(t *testing.T) {
	srv, st := newTestServer(t)
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})

	resp, err := http.Post(srv.URL+"/api/jobs/"+jobID+"/process",
		"application/json", strings.NewReader(`{"mode":"yolo"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcess_Accepted(t *testing.T) {
	srv, st := newTestServer(t)
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})

	resp, err := http.Post(srv.URL+"/api/jobs/"+jobID+"/process",
		"application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		Status string `json:"status"`
		Mode   string `json:"mode"`
	}
	decodeBody(t, resp, &accepted)
	assert.Equal(t, "started", accepted.Status)
	assert.Equal(t, "auto", accepted.Mode, "mode defaults to auto")
}

func TestProgress(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	jobID := seedJob(t, st, []model.InputRow{
		{RowIndex: 0, Label: "Diesel", ReferenceUnit: "l"},
		{RowIndex: 1, Label: "Strom", ReferenceUnit: "kWh"},
		{RowIndex: 2, Label: "Stahl", ReferenceUnit: "kg"},
	})
	rows, err := st.ListRows(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, st.UpdateRowStatus(ctx, rows[0].ID, model.RowStatusCalculated, ""))
	require.NoError(t, st.UpdateRowStatus(ctx, rows[1].ID, model.RowStatusSearching, ""))
	require.NoError(t, st.AppendResult(ctx, &model.RowResult{
		InputRowID:   rows[0].ID,
		DecisionType: model.DecisionMatch,
		SelectedID:   "ds-1",
		TotalT:       "0,0005",
	}))

	resp, err := http.Get(srv.URL + "/api/jobs/" + jobID + "/progress")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var progress struct {
		Total      int `json:"total"`
		Pending    int `json:"pending"`
		Processing int `json:"processing"`
		Done       int `json:"done"`
		Calculated int `json:"calculated"`
		Rows       []struct {
			Label     string `json:"label"`
			HasResult bool   `json:"has_result"`
			TotalT    string `json:"total_t"`
		} `json:"rows"`
	}
	decodeBody(t, resp, &progress)
	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 1, progress.Pending)
	assert.Equal(t, 1, progress.Processing)
	assert.Equal(t, 1, progress.Done)
	assert.Equal(t, 1, progress.Calculated)
	require.Len(t, progress.Rows, 3)
	assert.True(t, progress.Rows[0].HasResult)
	assert.Equal(t, "0,0005", progress.Rows[0].TotalT)
	assert.False(t, progress.Rows[1].HasResult)
}

func TestEditRow_ResetsAndNormalizes(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})
	rows, err := st.ListRows(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, st.UpdateRowStatus(ctx, rows[0].ID, model.RowStatusError, "boom"))

	req, err := http.NewRequest(http.MethodPatch,
		srv.URL+"/api/rows/"+strconv.FormatInt(rows[0].ID, 10),
		strings.NewReader(`{"label":"Grünstrom","region":"de"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var row model.InputRow
	decodeBody(t, resp, &row)
	assert.Equal(t, "Grünstrom", row.Label)
	assert.Equal(t, "grunstrom", row.LabelNorm)
	assert.Equal(t, "DE", row.RegionNorm)
	assert.Equal(t, model.RowStatusPending, row.Status)
	assert.Empty(t, row.ErrorMessage)
}

func TestResolveRow(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})
	rows, err := st.ListRows(ctx, jobID)
	require.NoError(t, err)
	rowID := rows[0].ID
	rowURL := srv.URL + "/api/rows/" + strconv.FormatInt(rowID, 10) + "/resolve"

	// Not ambiguous yet.
	resp, err := http.Post(rowURL, "application/json", strings.NewReader(`{"selected_id":"ds-1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, st.AppendResult(ctx, &model.RowResult{
		InputRowID:   rowID,
		DecisionType: model.DecisionAmbiguous,
		Candidates: []model.RankedCandidate{
			{ExternalID: "ds-1", Rank: 1},
			{ExternalID: "ds-2", Rank: 2},
		},
	}))
	require.NoError(t, st.UpdateRowStatus(ctx, rowID, model.RowStatusAmbiguous, ""))

	// Selection must come from the stored candidate list.
	resp, err = http.Post(rowURL, "application/json", strings.NewReader(`{"selected_id":"ds-9"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(rowURL, "application/json", strings.NewReader(`{"selected_id":"ds-2"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var row model.InputRow
	decodeBody(t, resp, &row)
	assert.Equal(t, model.RowStatusCalculated, row.Status)

	result, err := st.LatestResult(ctx, rowID)
	require.NoError(t, err)
	assert.Equal(t, "ds-2", result.SelectedID)
	assert.Equal(t, model.DecisionMatch, result.DecisionType)
}

func TestResolveRow_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rows/999/resolve",
		"application/json", strings.NewReader(`{"selected_id":"ds-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProvenance(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})
	rows, err := st.ListRows(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, st.AppendResult(ctx, &model.RowResult{
		InputRowID:   rows[0].ID,
		DecisionType: model.DecisionMatch,
		SelectedID:   "ds-1",
		Provenance: &model.ProvenanceRecord{
			DecisionType: model.DecisionMatch,
			SelectedIDs:  []string{"ds-1"},
			OracleModel:  "stub-model",
		},
	}))

	resp, err := http.Get(srv.URL + "/api/rows/" + strconv.FormatInt(rows[0].ID, 10) + "/provenance")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var prov model.ProvenanceRecord
	decodeBody(t, resp, &prov)
	assert.Equal(t, model.DecisionMatch, prov.DecisionType)
	assert.Equal(t, []string{"ds-1"}, prov.SelectedIDs)
	assert.Equal(t, "stub-model", prov.OracleModel)
}

func TestExport(t *testing.T) {
	srv, st := newTestServer(t)
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})

	resp, err := http.Get(srv.URL + "/api/jobs/" + jobID + "/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "factor_results_job-1.xlsx")
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		resp.Header.Get("Content-Type"))
}

func TestAddRow(t *testing.T) {
	srv, st := newTestServer(t)
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})

	resp, err := http.Post(srv.URL+"/api/jobs/"+jobID+"/rows",
		"application/json", strings.NewReader(`{"label":"Stahlblech","reference_unit":"kg","region":"de"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var row model.InputRow
	decodeBody(t, resp, &row)
	assert.NotZero(t, row.ID)
	assert.Equal(t, "stahlblech", row.LabelNorm)
	assert.Equal(t, "DE", row.RegionNorm)

	job, err := st.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, job.TotalRows)
}

func TestAddRow_MissingFields(t *testing.T) {
	srv, st := newTestServer(t)
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})

	resp, err := http.Post(srv.URL+"/api/jobs/"+jobID+"/rows",
		"application/json", strings.NewReader(`{"label":"Stahlblech"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteRow(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	jobID := seedJob(t, st, []model.InputRow{{Label: "Diesel", ReferenceUnit: "l"}})
	rows, err := st.ListRows(ctx, jobID)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete,
		srv.URL+"/api/rows/"+strconv.FormatInt(rows[0].ID, 10), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = st.GetRow(ctx, rows[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListAmbiguous(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	jobID := seedJob(t, st, []model.InputRow{
		{RowIndex: 0, Label: "Diesel", ReferenceUnit: "l"},
		{RowIndex: 1, Label: "Strom", ReferenceUnit: "kWh"},
	})
	rows, err := st.ListRows(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, st.AppendResult(ctx, &model.RowResult{
		InputRowID:   rows[0].ID,
		DecisionType: model.DecisionAmbiguous,
		Candidates:   []model.RankedCandidate{{ExternalID: "ds-1", Rank: 1}},
	}))
	require.NoError(t, st.UpdateRowStatus(ctx, rows[0].ID, model.RowStatusAmbiguous, ""))

	resp, err := http.Get(srv.URL + "/api/jobs/" + jobID + "/ambiguous")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ambiguous []struct {
		Label      string                  `json:"label"`
		Candidates []model.RankedCandidate `json:"candidates"`
	}
	decodeBody(t, resp, &ambiguous)
	require.Len(t, ambiguous, 1)
	assert.Equal(t, "Diesel", ambiguous[0].Label)
	require.Len(t, ambiguous[0].Candidates, 1)
	assert.Equal(t, "ds-1", ambiguous[0].Candidates[0].ExternalID)
}

func TestBatchResolve(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	jobID := seedJob(t, st, []model.InputRow{
		{RowIndex: 0, Label: "Diesel", ReferenceUnit: "l"},
		{RowIndex: 1, Label: "Strom", ReferenceUnit: "kWh"},
	})
	rows, err := st.ListRows(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, st.AppendResult(ctx, &model.RowResult{
		InputRowID:   rows[0].ID,
		DecisionType: model.DecisionAmbiguous,
		Candidates: []model.RankedCandidate{
			{ExternalID: "ds-1", Rank: 1},
			{ExternalID: "ds-2", Rank: 2},
		},
	}))
	require.NoError(t, st.UpdateRowStatus(ctx, rows[0].ID, model.RowStatusAmbiguous, ""))

	body := fmt.Sprintf(`{"selections":[
		{"row_id":%d,"selected_id":"ds-1"},
		{"row_id":%d,"selected_id":"ds-1"},
		{"row_id":99999,"selected_id":"ds-1"}
	]}`, rows[0].ID, rows[1].ID)
	resp, err := http.Post(srv.URL+"/api/jobs/"+jobID+"/resolve", "application/json",
		strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Resolved int `json:"resolved"`
		Failed   int `json:"failed"`
	}
	decodeBody(t, resp, &result)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 2, result.Failed, "non-ambiguous and missing rows fail individually")

	row, err := st.GetRow(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RowStatusCalculated, row.Status)
}
