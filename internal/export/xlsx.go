// Package export reads input templates and writes result workbooks.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/klimatrix/factor-cli/internal/model"
	"github.com/klimatrix/factor-cli/internal/store"
)

// Template header aliases, lowercase. German aliases match the upstream
// reporting template.
var columnMap = map[string]string{
	"scope":                "scope",
	"category":             "category",
	"kategorie":            "category",
	"subcategory":          "subcategory",
	"unterkategorie":       "subcategory",
	"ggf. unterkategorie":  "subcategory",
	"label":                "label",
	"bezeichnung":          "label",
	"product info":         "product_info",
	"produktinformationen": "product_info",
	"reference unit":       "reference_unit",
	"referenzeinheit":      "reference_unit",
	"region":               "region",
	"ggf. region":          "region",
	"reference year":       "reference_year",
	"referenzjahr":         "reference_year",
}

// ParseTemplate reads an .xlsx input template into rows. The label and
// reference unit columns are mandatory; rows missing either are skipped.
func ParseTemplate(data []byte) ([]model.InputRow, error) {
	file, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "export: open template")
	}
	if len(file.Sheets) == 0 {
		return nil, eris.New("export: template has no sheets")
	}
	sheet := file.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.New("export: template has no data rows")
	}

	colIndex := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		header := strings.ToLower(strings.TrimSpace(cell.String()))
		if field, ok := columnMap[header]; ok {
			colIndex[field] = i
		}
	}
	for _, required := range []string{"label", "reference_unit"} {
		if _, ok := colIndex[required]; !ok {
			return nil, eris.Errorf("export: required column %q not found in template header", required)
		}
	}

	var rows []model.InputRow
	for _, sheetRow := range sheet.Rows[1:] {
		value := func(field string) string {
			i, ok := colIndex[field]
			if !ok || i >= len(sheetRow.Cells) {
				return ""
			}
			return strings.TrimSpace(sheetRow.Cells[i].String())
		}

		label := value("label")
		unit := value("reference_unit")
		if label == "" || unit == "" {
			continue
		}

		rows = append(rows, model.InputRow{
			RowIndex:      len(rows),
			Scope:         value("scope"),
			Category:      value("category"),
			Subcategory:   value("subcategory"),
			Label:         label,
			ProductInfo:   value("product_info"),
			ReferenceUnit: unit,
			Region:        value("region"),
			ReferenceYear: value("reference_year"),
		})
	}

	if len(rows) == 0 {
		return nil, eris.New("export: no valid data rows in template (need label and reference unit)")
	}
	return rows, nil
}

var resultHeaders = []string{
	"Row", "Scope", "Category", "Subcategory", "Label", "Product info",
	"Reference unit", "Region", "Reference year", "Status",
	"Biogenic emissions [t CO2-eq]", "Total excl. biogenic [t CO2-eq]",
	"Description", "Source", "Detailed calculation", "Error",
}

// BuildResults assembles a results workbook for the job: one sheet with row
// outcomes, one with provenance records.
func BuildResults(ctx context.Context, st store.Store, jobID string) (*xlsx.File, error) {
	rows, err := st.ListRows(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := st.LatestResults(ctx, jobID)
	if err != nil {
		return nil, err
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Results")
	if err != nil {
		return nil, eris.Wrap(err, "export: add results sheet")
	}

	appendRow(sheet, resultHeaders...)
	for _, row := range rows {
		var biogenicT, totalT, description, source, detail string
		if result := results[row.ID]; result != nil {
			biogenicT = result.BiogenicT
			totalT = result.TotalT
			description = result.Description
			source = result.Source
			detail = result.DetailCalc
		}
		appendRow(sheet,
			fmt.Sprintf("%d", row.RowIndex+1),
			row.Scope, row.Category, row.Subcategory, row.Label,
			row.ProductInfo, row.ReferenceUnit, row.Region, row.ReferenceYear,
			string(row.Status), biogenicT, totalT, description, source, detail,
			row.ErrorMessage,
		)
	}

	provSheet, err := file.AddSheet("Provenance")
	if err != nil {
		return nil, eris.Wrap(err, "export: add provenance sheet")
	}
	appendRow(provSheet, "Row", "Label", "Provenance JSON")
	for _, row := range rows {
		prov := ""
		if result := results[row.ID]; result != nil && result.Provenance != nil {
			data, err := json.Marshal(result.Provenance)
			if err != nil {
				return nil, eris.Wrap(err, "export: marshal provenance")
			}
			prov = string(data)
		}
		appendRow(provSheet, fmt.Sprintf("%d", row.RowIndex+1), row.Label, prov)
	}

	return file, nil
}

func appendRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().Value = v
	}
}
