// Package catalog provides the read-only emission dataset catalog backed by
// SQLite. The catalog is populated once (catalog load) and treated as
// immutable for the process lifetime.
package catalog

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/klimatrix/factor-cli/internal/model"
)

// CorpusEntry is one (id, searchText) pair of the non-aggregate search corpus.
type CorpusEntry struct {
	ID   int64
	Text string
}

// Catalog wraps the dataset database.
type Catalog struct {
	db *sql.DB

	mu      sync.Mutex
	units   map[string]struct{}
	regions map[string]struct{}
}

// Open opens (or creates) the catalog database at the given path.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "catalog: exec %s", pragma)
		}
	}
	return &Catalog{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS datasets (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id        TEXT NOT NULL UNIQUE,
	activity_name      TEXT NOT NULL,
	geography          TEXT NOT NULL,
	product_name       TEXT NOT NULL,
	unit               TEXT NOT NULL,
	reference_amount   INTEGER NOT NULL,
	biogenic_kg        REAL NOT NULL,
	total_excl_bio_kg  REAL NOT NULL,
	is_aggregate       INTEGER NOT NULL DEFAULT 0,
	search_text        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dataset_embeddings (
	dataset_id INTEGER PRIMARY KEY REFERENCES datasets(id),
	model      TEXT NOT NULL,
	vector     BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_datasets_external_id ON datasets(external_id);
CREATE INDEX IF NOT EXISTS idx_datasets_unit ON datasets(unit);
CREATE INDEX IF NOT EXISTS idx_datasets_geography ON datasets(geography);
CREATE INDEX IF NOT EXISTS idx_datasets_is_aggregate ON datasets(is_aggregate);
`

// Migrate creates the catalog schema if it does not exist.
func (c *Catalog) Migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "catalog: migrate")
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

const datasetColumns = `id, external_id, activity_name, geography, product_name,
	unit, reference_amount, biogenic_kg, total_excl_bio_kg, is_aggregate`

type scannable interface {
	Scan(dest ...any) error
}

func scanDataset(row scannable) (*model.DatasetRecord, error) {
	var d model.DatasetRecord
	var isAggregate int
	err := row.Scan(&d.ID, &d.ExternalID, &d.ActivityName, &d.Geography,
		&d.ProductName, &d.Unit, &d.ReferenceAmount, &d.BiogenicKg,
		&d.TotalExclBioKg, &isAggregate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: scan dataset")
	}
	d.IsAggregate = isAggregate != 0
	return &d, nil
}

// LookupByExternalID returns the record with the given stable identifier, or
// nil if absent.
func (c *Catalog) LookupByExternalID(ctx context.Context, externalID string) (*model.DatasetRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE external_id = ?`, externalID)
	return scanDataset(row)
}

// LookupByExternalIDs returns the records for a batch of identifiers, in the
// order given; identifiers without a record are skipped.
func (c *Catalog) LookupByExternalIDs(ctx context.Context, externalIDs []string) ([]model.DatasetRecord, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(externalIDs)), ",")
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE external_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: lookup batch")
	}
	defer rows.Close()

	byID := make(map[string]model.DatasetRecord, len(externalIDs))
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		byID[d.ExternalID] = *d
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: lookup batch iterate")
	}

	out := make([]model.DatasetRecord, 0, len(byID))
	for _, id := range externalIDs {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// LookupByID returns the record with the given internal row id, or nil.
func (c *Catalog) LookupByID(ctx context.Context, id int64) (*model.DatasetRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id)
	return scanDataset(row)
}

// Units returns the catalog's distinct unit set. Cached after the first call;
// the catalog is immutable once loaded.
func (c *Catalog) Units(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.units != nil {
		return c.units, nil
	}
	set, err := c.distinct(ctx, "unit")
	if err != nil {
		return nil, err
	}
	c.units = set
	return set, nil
}

// Regions returns the catalog's distinct geography set. Cached.
func (c *Catalog) Regions(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.regions != nil {
		return c.regions, nil
	}
	set, err := c.distinct(ctx, "geography")
	if err != nil {
		return nil, err
	}
	c.regions = set
	return set, nil
}

func (c *Catalog) distinct(ctx context.Context, column string) (map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT `+column+` FROM datasets`)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: distinct %s", column)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "catalog: scan %s", column)
		}
		set[v] = struct{}{}
	}
	return set, eris.Wrapf(rows.Err(), "catalog: distinct %s iterate", column)
}

// SearchCorpus returns (id, searchText) for every non-aggregate record, in id
// order. Both ranking indexes are built from this corpus.
func (c *Catalog) SearchCorpus(ctx context.Context) ([]CorpusEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, search_text FROM datasets WHERE is_aggregate = 0 ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: search corpus")
	}
	defer rows.Close()

	var corpus []CorpusEntry
	for rows.Next() {
		var e CorpusEntry
		if err := rows.Scan(&e.ID, &e.Text); err != nil {
			return nil, eris.Wrap(err, "catalog: scan corpus entry")
		}
		corpus = append(corpus, e)
	}
	return corpus, eris.Wrap(rows.Err(), "catalog: search corpus iterate")
}

// Count returns the number of catalog records.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&n)
	return n, eris.Wrap(err, "catalog: count")
}
