package retrieval

import (
	"math"
	"sort"
)

// BM25 Okapi parameters.
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// bm25Index is an in-memory Okapi BM25 index over tokenized documents.
// Terms with negative IDF are floored to epsilon times the average IDF.
type bm25Index struct {
	docFreqs []map[string]int
	docLens  []int
	avgdl    float64
	idf      map[string]float64
}

func newBM25Index(corpus [][]string) *bm25Index {
	idx := &bm25Index{
		docFreqs: make([]map[string]int, len(corpus)),
		docLens:  make([]int, len(corpus)),
		idf:      make(map[string]float64),
	}

	df := make(map[string]int)
	totalLen := 0
	for i, doc := range corpus {
		freqs := make(map[string]int, len(doc))
		for _, tok := range doc {
			freqs[tok]++
		}
		for tok := range freqs {
			df[tok]++
		}
		idx.docFreqs[i] = freqs
		idx.docLens[i] = len(doc)
		totalLen += len(doc)
	}
	if len(corpus) > 0 {
		idx.avgdl = float64(totalLen) / float64(len(corpus))
	}

	n := float64(len(corpus))
	idfSum := 0.0
	var negative []string
	for tok, freq := range df {
		v := math.Log((n - float64(freq) + 0.5) / (float64(freq) + 0.5))
		idx.idf[tok] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, tok)
		}
	}
	if len(df) > 0 {
		floor := bm25Epsilon * idfSum / float64(len(df))
		for _, tok := range negative {
			idx.idf[tok] = floor
		}
	}

	return idx
}

// scores returns the BM25 score of every document for the query tokens.
func (idx *bm25Index) scores(query []string) []float64 {
	out := make([]float64, len(idx.docFreqs))
	for _, tok := range query {
		idf, ok := idx.idf[tok]
		if !ok {
			continue
		}
		for i, freqs := range idx.docFreqs {
			f := float64(freqs[tok])
			if f == 0 {
				continue
			}
			denom := f + bm25K1*(1-bm25B+bm25B*float64(idx.docLens[i])/idx.avgdl)
			out[i] += idf * f * (bm25K1 + 1) / denom
		}
	}
	return out
}

// topN returns the indices of the n highest-scoring documents with score > 0,
// best first.
func (idx *bm25Index) topN(scores []float64, n int) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	var out []int
	for _, i := range order {
		if scores[i] <= 0 || len(out) >= n {
			break
		}
		out = append(out, i)
	}
	return out
}
