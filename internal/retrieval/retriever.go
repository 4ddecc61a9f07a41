// Package retrieval implements hybrid lexical + semantic candidate search
// with reciprocal rank fusion and region/unit-aware re-ranking.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/klimatrix/factor-cli/internal/catalog"
	"github.com/klimatrix/factor-cli/internal/model"
)

// Hit is one scored entry of a ranked list, higher score first.
type Hit struct {
	ID    int64
	Score float64
}

// CatalogReader is the catalog surface the retriever needs.
type CatalogReader interface {
	Units(ctx context.Context) (map[string]struct{}, error)
	SearchCorpus(ctx context.Context) ([]catalog.CorpusEntry, error)
	LookupByID(ctx context.Context, id int64) (*model.DatasetRecord, error)
}

// SemanticSearcher is a vector index over the search corpus. An unloaded
// searcher degrades retrieval to lexical-only.
type SemanticSearcher interface {
	Loaded() bool
	Search(ctx context.Context, query string, topN int) ([]Hit, error)
}

// Options tunes the retriever.
type Options struct {
	TopK         int
	LexicalTopN  int
	SemanticTopN int
	RRFK         int
	ExpandTerms  bool
	ScopeHints   bool
}

// DefaultOptions returns the standard retrieval tuning.
func DefaultOptions() Options {
	return Options{
		TopK:         20,
		LexicalTopN:  100,
		SemanticTopN: 100,
		RRFK:         60,
		ExpandTerms:  true,
		ScopeHints:   true,
	}
}

// Query is one retrieval request.
type Query struct {
	Label         string
	ProductInfo   string
	ReferenceUnit string
	Region        string
	Scope         string
	Category      string
	// TopK overrides Options.TopK when positive.
	TopK int
}

// Retriever performs hybrid candidate search over the catalog.
type Retriever struct {
	catalog  CatalogReader
	semantic SemanticSearcher
	opts     Options

	bm25 *bm25Index
	ids  []int64
}

// New creates a retriever. Call Init before Retrieve.
func New(cat CatalogReader, sem SemanticSearcher, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts = DefaultOptions()
	}
	return &Retriever{catalog: cat, semantic: sem, opts: opts}
}

// Init builds the lexical index from the non-aggregate search corpus.
func (r *Retriever) Init(ctx context.Context) error {
	corpus, err := r.catalog.SearchCorpus(ctx)
	if err != nil {
		return eris.Wrap(err, "retrieval: load corpus")
	}

	r.ids = make([]int64, len(corpus))
	tokenized := make([][]string, len(corpus))
	for i, entry := range corpus {
		r.ids[i] = entry.ID
		tokenized[i] = Tokenize(entry.Text)
	}
	r.bm25 = newBM25Index(tokenized)

	zap.L().Info("lexical index built", zap.Int("documents", len(corpus)))
	return nil
}

// Retrieve returns ranked candidates for the query, or a forced-decomposition
// refusal when the reference unit cannot be served by the catalog.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*model.RetrievalResult, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = r.opts.TopK
	}

	mappedUnit, ok := MapUnit(q.ReferenceUnit)
	units, err := r.catalog.Units(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: load units")
	}
	if _, inCatalog := units[mappedUnit]; !ok || !inCatalog {
		return &model.RetrievalResult{
			ForceDecompose: true,
			Reason: fmt.Sprintf("unit %q (mapped: %q) not available in catalog; known units: %s",
				q.ReferenceUnit, mappedUnit, sortedKeys(units)),
		}, nil
	}

	query := r.buildQuery(q)
	if query == "" {
		return &model.RetrievalResult{
			ForceDecompose: true,
			Reason:         "empty query after normalization",
		}, nil
	}

	lexical := r.lexicalSearch(query)
	semantic, err := r.semanticSearch(ctx, query)
	if err != nil {
		return nil, err
	}
	fused := rrfMerge(lexical, semantic, r.opts.RRFK)

	regionNorm := strings.ToUpper(strings.TrimSpace(q.Region))
	if regionNorm == "" {
		regionNorm = model.GlobalRegion
	}
	priority := regionPriority(regionNorm)

	var scored []model.CandidateResult
	for _, f := range fused {
		ds, err := r.catalog.LookupByID(ctx, f.id)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			continue
		}
		prio, ok := priority[ds.Geography]
		if !ok {
			prio = 3
		}
		scored = append(scored, model.CandidateResult{
			Dataset:        *ds,
			LexicalRank:    f.lexicalRank,
			SemanticRank:   f.semanticRank,
			FusedScore:     f.score,
			RegionPriority: prio,
		})
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].RegionPriority != scored[b].RegionPriority {
			return scored[a].RegionPriority < scored[b].RegionPriority
		}
		return scored[a].FusedScore > scored[b].FusedScore
	})

	final := filterByUnit(scored, mappedUnit, topK)

	return &model.RetrievalResult{
		Candidates: final,
		QueryUsed:  query,
	}, nil
}

// buildQuery assembles the normalized search query from the row fields, with
// term expansion and scope hints.
func (r *Retriever) buildQuery(q Query) string {
	expand := func(s string) string {
		if r.opts.ExpandTerms {
			return TranslateTerms(s)
		}
		return s
	}

	parts := []string{expand(q.Label)}
	if q.ProductInfo != "" {
		parts = append(parts, expand(q.ProductInfo))
	}
	if r.opts.ScopeHints && q.Scope != "" {
		switch {
		case strings.Contains(q.Scope, "Scope 1") || strings.Contains(q.Scope, "1."):
			parts = append(parts, "combustion burned fuel")
		case strings.Contains(q.Scope, "Scope 3") || strings.Contains(q.Scope, "3."):
			parts = append(parts, "production manufacturing")
		}
	}
	if q.Category != "" {
		parts = append(parts, expand(q.Category))
	}

	return strings.TrimSpace(Normalize(strings.Join(parts, " ")))
}

func (r *Retriever) lexicalSearch(query string) []Hit {
	if r.bm25 == nil {
		return nil
	}
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	scores := r.bm25.scores(tokens)
	var hits []Hit
	for _, i := range r.bm25.topN(scores, r.opts.LexicalTopN) {
		hits = append(hits, Hit{ID: r.ids[i], Score: scores[i]})
	}
	return hits
}

func (r *Retriever) semanticSearch(ctx context.Context, query string) ([]Hit, error) {
	if r.semantic == nil || !r.semantic.Loaded() {
		return nil, nil
	}
	hits, err := r.semantic.Search(ctx, query, r.opts.SemanticTopN)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: semantic search")
	}
	return hits, nil
}

type fusedHit struct {
	id           int64
	score        float64
	lexicalRank  int
	semanticRank int
}

// rrfMerge fuses two ranked lists with reciprocal rank fusion. Ranks are
// 1-based; an id absent from a list keeps rank 0 for that list.
func rrfMerge(lexical, semantic []Hit, k int) []fusedHit {
	byID := make(map[int64]*fusedHit)
	order := make([]int64, 0, len(lexical)+len(semantic))

	get := func(id int64) *fusedHit {
		if h, ok := byID[id]; ok {
			return h
		}
		h := &fusedHit{id: id}
		byID[id] = h
		order = append(order, id)
		return h
	}

	for i, hit := range lexical {
		h := get(hit.ID)
		h.score += 1.0 / float64(k+i+1)
		h.lexicalRank = i + 1
	}
	for i, hit := range semantic {
		h := get(hit.ID)
		h.score += 1.0 / float64(k+i+1)
		h.semanticRank = i + 1
	}

	out := make([]fusedHit, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].score > out[b].score })
	return out
}

// regionPriority maps geographies to rank tiers for the requested region:
// 0 exact, 1 global, 2 rest-of-world, 3 everything else.
func regionPriority(requested string) map[string]int {
	prio := map[string]int{requested: 0}
	if requested != model.GlobalRegion {
		prio[model.GlobalRegion] = 1
	}
	if requested != model.RestOfWorldRegion {
		prio[model.RestOfWorldRegion] = 2
	}
	return prio
}

// filterByUnit prefers candidates whose unit matches, filling the remainder
// with non-matching candidates in ranked order.
func filterByUnit(scored []model.CandidateResult, unit string, topK int) []model.CandidateResult {
	var matched, other []model.CandidateResult
	for _, c := range scored {
		if c.Dataset.Unit == unit {
			matched = append(matched, c)
		} else {
			other = append(other, c)
		}
	}
	if len(matched) >= topK {
		return matched[:topK]
	}
	need := topK - len(matched)
	if need > len(other) {
		need = len(other)
	}
	return append(matched, other[:need]...)
}

func sortedKeys(set map[string]struct{}) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
