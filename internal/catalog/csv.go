package catalog

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Source CSV column headers.
const (
	colExternalID      = "Activity UUID_Product UUID"
	colActivityName    = "Activity Name"
	colGeography       = "Geography"
	colProductName     = "Reference Product Name"
	colUnit            = "Reference Product Unit"
	colReferenceAmount = "Reference Product Amount"
	colBiogenic        = "Biogenic [kg CO2-Eq]"
	colTotalExclBio    = "Total (excl. Biogenic) [kg CO2-Eq]"
)

// LoadCSV imports a semicolon-separated dataset export into the catalog,
// replacing any existing rows. Returns the number of records loaded.
func (c *Catalog) LoadCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return 0, eris.Wrap(err, "catalog: read csv header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colExternalID, colActivityName, colGeography,
		colProductName, colUnit, colReferenceAmount, colBiogenic, colTotalExclBio} {
		if _, ok := idx[required]; !ok {
			return 0, eris.Errorf("catalog: csv missing column %q", required)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: begin load")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_embeddings`); err != nil {
		return 0, eris.Wrap(err, "catalog: clear embeddings")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets`); err != nil {
		return 0, eris.Wrap(err, "catalog: clear datasets")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO datasets (external_id, activity_name, geography, product_name,
			unit, reference_amount, biogenic_kg, total_excl_bio_kg, is_aggregate, search_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: prepare insert")
	}
	defer stmt.Close()

	loaded := 0
	skipped := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrap(err, "catalog: read csv row")
		}

		field := func(name string) string {
			i := idx[name]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		externalID := field(colExternalID)
		activityName := field(colActivityName)
		unit := field(colUnit)
		if externalID == "" || activityName == "" || unit == "" {
			skipped++
			continue
		}

		refAmount, err := parseReferenceAmount(field(colReferenceAmount))
		if err != nil {
			skipped++
			continue
		}
		biogenic, err := parseDecimal(field(colBiogenic))
		if err != nil {
			skipped++
			continue
		}
		total, err := parseDecimal(field(colTotalExclBio))
		if err != nil {
			skipped++
			continue
		}

		productName := field(colProductName)
		searchText := strings.ToLower(strings.TrimSpace(activityName + " " + productName))

		_, err = stmt.ExecContext(ctx, externalID, activityName, field(colGeography),
			productName, unit, refAmount, biogenic, total,
			boolToInt(isAggregateActivity(activityName)), searchText)
		if err != nil {
			return 0, eris.Wrapf(err, "catalog: insert %s", externalID)
		}
		loaded++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "catalog: commit load")
	}

	c.mu.Lock()
	c.units = nil
	c.regions = nil
	c.mu.Unlock()

	zap.L().Info("catalog loaded",
		zap.String("path", path),
		zap.Int("loaded", loaded),
		zap.Int("skipped", skipped),
	)
	return loaded, nil
}

// isAggregateActivity reports whether the activity is a market aggregate.
// Aggregates are kept for direct lookup but excluded from the search corpus.
func isAggregateActivity(activityName string) bool {
	lower := strings.ToLower(activityName)
	return strings.HasPrefix(lower, "market for ") ||
		strings.HasPrefix(lower, "market group for ")
}

// parseDecimal parses a number that may use a comma as the decimal separator.
func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "catalog: parse decimal %q", s)
	}
	return v, nil
}

// parseReferenceAmount parses the reference amount, which is integral in the
// source but may be serialized with a decimal tail ("1.0", "-1,0").
func parseReferenceAmount(s string) (int64, error) {
	v, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
