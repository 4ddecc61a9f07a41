package catalog

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
)

// EmbeddingRow pairs a dataset id with its embedding vector.
type EmbeddingRow struct {
	DatasetID int64
	Vector    []float32
}

// SaveEmbeddings stores vectors for the given model, replacing any previous
// vectors for the same dataset ids.
func (c *Catalog) SaveEmbeddings(ctx context.Context, modelName string, rows []EmbeddingRow) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "catalog: begin save embeddings")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_embeddings (dataset_id, model, vector) VALUES (?, ?, ?)
		ON CONFLICT(dataset_id) DO UPDATE SET model = excluded.model, vector = excluded.vector`)
	if err != nil {
		return eris.Wrap(err, "catalog: prepare embedding insert")
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.DatasetID, modelName, encodeVector(row.Vector)); err != nil {
			return eris.Wrapf(err, "catalog: insert embedding %d", row.DatasetID)
		}
	}
	return eris.Wrap(tx.Commit(), "catalog: commit embeddings")
}

// LoadEmbeddings returns all stored vectors for the given model, in dataset id
// order.
func (c *Catalog) LoadEmbeddings(ctx context.Context, modelName string) ([]EmbeddingRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT dataset_id, vector FROM dataset_embeddings
		WHERE model = ? ORDER BY dataset_id`, modelName)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: load embeddings")
	}
	defer rows.Close()

	var out []EmbeddingRow
	for rows.Next() {
		var row EmbeddingRow
		var blob []byte
		if err := rows.Scan(&row.DatasetID, &blob); err != nil {
			return nil, eris.Wrap(err, "catalog: scan embedding")
		}
		row.Vector = decodeVector(blob)
		out = append(out, row)
	}
	return out, eris.Wrap(rows.Err(), "catalog: load embeddings iterate")
}

// EmbeddingCount returns the number of stored vectors for the given model.
func (c *Catalog) EmbeddingCount(ctx context.Context, modelName string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dataset_embeddings WHERE model = ?`, modelName).Scan(&n)
	return n, eris.Wrap(err, "catalog: embedding count")
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
