package export

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/klimatrix/factor-cli/internal/model"
	"github.com/klimatrix/factor-cli/internal/store"
)

func buildTemplate(t *testing.T, headers []string, dataRows [][]string) []byte {
	t.Helper()
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Input")
	require.NoError(t, err)

	header := sheet.AddRow()
	for _, h := range headers {
		header.AddCell().Value = h
	}
	for _, data := range dataRows {
		row := sheet.AddRow()
		for _, v := range data {
			row.AddCell().Value = v
		}
	}

	var buf bytes.Buffer
	require.NoError(t, file.Write(&buf))
	return buf.Bytes()
}

func TestParseTemplate_EnglishHeaders(t *testing.T) {
	data := buildTemplate(t,
		[]string{"Scope", "Category", "Label", "Product info", "Reference unit", "Region"},
		[][]string{
			{"Scope 1", "Fuel", "Diesel", "B7", "l", "DE"},
			{"Scope 3", "Materials", "Steel sheet", "", "kg", ""},
		})

	rows, err := ParseTemplate(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 0, rows[0].RowIndex)
	assert.Equal(t, "Diesel", rows[0].Label)
	assert.Equal(t, "B7", rows[0].ProductInfo)
	assert.Equal(t, "l", rows[0].ReferenceUnit)
	assert.Equal(t, "DE", rows[0].Region)
	assert.Equal(t, "Steel sheet", rows[1].Label)
}

func TestParseTemplate_GermanHeaders(t *testing.T) {
	data := buildTemplate(t,
		[]string{"Bezeichnung", "Produktinformationen", "Referenzeinheit", "ggf. Region", "Referenzjahr"},
		[][]string{{"Strom", "Ökostrom", "kWh", "DE", "2024"}})

	rows, err := ParseTemplate(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Strom", rows[0].Label)
	assert.Equal(t, "Ökostrom", rows[0].ProductInfo)
	assert.Equal(t, "kWh", rows[0].ReferenceUnit)
	assert.Equal(t, "2024", rows[0].ReferenceYear)
}

func TestParseTemplate_SkipsIncompleteRows(t *testing.T) {
	data := buildTemplate(t,
		[]string{"Label", "Reference unit"},
		[][]string{
			{"Diesel", "l"},
			{"", "kg"},
			{"Steel", ""},
		})

	rows, err := ParseTemplate(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Diesel", rows[0].Label)
}

func TestParseTemplate_MissingRequiredColumn(t *testing.T) {
	data := buildTemplate(t,
		[]string{"Label", "Region"},
		[][]string{{"Diesel", "DE"}})

	_, err := ParseTemplate(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference_unit")
}

func TestParseTemplate_NoValidRows(t *testing.T) {
	data := buildTemplate(t,
		[]string{"Label", "Reference unit"},
		[][]string{{"", ""}})

	_, err := ParseTemplate(data)
	require.Error(t, err)
}

func TestParseTemplate_NotAnXLSX(t *testing.T) {
	_, err := ParseTemplate([]byte("not a spreadsheet"))
	assert.Error(t, err)
}

func TestBuildResults(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Migrate(ctx))

	job := &model.Job{ID: "job-1", Mode: model.ModeAuto, Status: model.JobStatusCompleted,
		CreatedAt: time.Now().UTC()}
	rows := []model.InputRow{
		{RowIndex: 0, Label: "Diesel", ReferenceUnit: "l", Status: model.RowStatusCalculated},
		{RowIndex: 1, Label: "Unicorn dust", ReferenceUnit: "kg", Status: model.RowStatusError,
			ErrorMessage: "no candidates found"},
	}
	require.NoError(t, st.CreateJob(ctx, job, rows))
	require.NoError(t, st.AppendResult(ctx, &model.RowResult{
		InputRowID:   rows[0].ID,
		DecisionType: model.DecisionMatch,
		SelectedID:   "ds-1",
		BiogenicT:    "0,1",
		TotalT:       "2,5",
		Description:  "1 l = diesel production (DE)",
		Source:       "ecoinvent 3.11; dataset IDs: ds-1",
		Provenance:   &model.ProvenanceRecord{DecisionType: model.DecisionMatch},
	}))

	file, err := BuildResults(ctx, st, "job-1")
	require.NoError(t, err)
	require.Len(t, file.Sheets, 2)

	results := file.Sheets[0]
	require.Len(t, results.Rows, 3, "header plus one line per input row")
	assert.Equal(t, "Row", results.Rows[0].Cells[0].String())

	first := results.Rows[1]
	assert.Equal(t, "Diesel", first.Cells[4].String())
	assert.Equal(t, "calculated", first.Cells[9].String())
	assert.Equal(t, "0,1", first.Cells[10].String())
	assert.Equal(t, "2,5", first.Cells[11].String())

	second := results.Rows[2]
	assert.Equal(t, "error", second.Cells[9].String())
	assert.Equal(t, "no candidates found", second.Cells[15].String())

	prov := file.Sheets[1]
	require.Len(t, prov.Rows, 3)
	assert.Contains(t, prov.Rows[1].Cells[2].String(), `"decision_type":"match"`)
}
