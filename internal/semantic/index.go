package semantic

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/klimatrix/factor-cli/internal/catalog"
	"github.com/klimatrix/factor-cli/internal/retrieval"
)

// Index is a flat inner-product index over normalized vectors. With
// normalized vectors, inner product equals cosine similarity.
type Index struct {
	embedder Embedder

	mu   sync.RWMutex
	ids  []int64
	vecs [][]float32
}

// NewIndex creates an empty index that embeds queries with embedder.
func NewIndex(embedder Embedder) *Index {
	return &Index{embedder: embedder}
}

// Load populates the index from stored embedding rows.
func (ix *Index) Load(rows []catalog.EmbeddingRow) {
	ids := make([]int64, len(rows))
	vecs := make([][]float32, len(rows))
	for i, row := range rows {
		ids[i] = row.DatasetID
		vecs[i] = normalize(row.Vector)
	}

	ix.mu.Lock()
	ix.ids = ids
	ix.vecs = vecs
	ix.mu.Unlock()

	zap.L().Info("semantic index loaded", zap.Int("vectors", len(rows)))
}

// Loaded reports whether the index holds any vectors.
func (ix *Index) Loaded() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vecs) > 0
}

// Search embeds the query and returns the topN most similar entries, best
// first.
func (ix *Index) Search(ctx context.Context, query string, topN int) ([]retrieval.Hit, error) {
	embedded, err := ix.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embedded) == 0 {
		return nil, eris.New("semantic: empty query embedding")
	}
	q := normalize(embedded[0])

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]retrieval.Hit, len(ix.vecs))
	for i, v := range ix.vecs {
		hits[i] = retrieval.Hit{ID: ix.ids[i], Score: dot(q, v)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })

	if topN < len(hits) {
		hits = hits[:topN]
	}
	return hits, nil
}

// Build embeds the catalog's search corpus in batches and persists the
// vectors. The index itself is not populated; call Load afterwards.
func Build(ctx context.Context, cat *catalog.Catalog, embedder Embedder, modelName string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 256
	}

	corpus, err := cat.SearchCorpus(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for start := 0; start < len(corpus); start += batchSize {
		end := start + batchSize
		if end > len(corpus) {
			end = len(corpus)
		}
		batch := corpus[start:end]

		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = e.Text
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, eris.Wrapf(err, "semantic: embed batch at %d", start)
		}

		rows := make([]catalog.EmbeddingRow, len(batch))
		for i, e := range batch {
			rows[i] = catalog.EmbeddingRow{DatasetID: e.ID, Vector: vectors[i]}
		}
		if err := cat.SaveEmbeddings(ctx, modelName, rows); err != nil {
			return total, err
		}
		total += len(rows)

		zap.L().Info("embedded batch",
			zap.Int("done", total),
			zap.Int("total", len(corpus)),
		)
	}
	return total, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
