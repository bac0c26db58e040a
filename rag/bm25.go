package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/xraph/ragflow/graph"
)

// BM25RetrieverType is the component type of BM25Retriever.
const BM25RetrieverType = "rag.BM25Retriever"

// DefaultTopK is the number of documents a retriever returns by default.
const DefaultTopK = 10

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Retriever ranks an in-memory corpus against a query with Okapi BM25.
//
// Input socket "query" (string); output socket "documents" ([]Document).
// Ties keep corpus order, so a query with no matching terms returns the
// first TopK documents unchanged.
type BM25Retriever struct {
	corpus Corpus
	topK   int

	docTokens [][]string
	df        map[string]int
	avgLen    float64
}

var _ graph.Component = (*BM25Retriever)(nil)

// NewBM25Retriever indexes corpus. A topK of zero or less means DefaultTopK.
func NewBM25Retriever(corpus Corpus, topK int) *BM25Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	r := &BM25Retriever{
		corpus:    corpus,
		topK:      topK,
		docTokens: make([][]string, len(corpus)),
		df:        make(map[string]int),
	}

	total := 0
	for i, doc := range corpus {
		toks := tokenize(doc.Content)
		r.docTokens[i] = toks
		total += len(toks)

		seen := make(map[string]bool, len(toks))
		for _, tok := range toks {
			if !seen[tok] {
				seen[tok] = true
				r.df[tok]++
			}
		}
	}
	if len(corpus) > 0 {
		r.avgLen = float64(total) / float64(len(corpus))
	}
	return r
}

// Type implements graph.Component.
func (r *BM25Retriever) Type() string { return BM25RetrieverType }

// Params implements graph.Component.
func (r *BM25Retriever) Params() map[string]any {
	return map[string]any{"documents": []Document(r.corpus), "top_k": r.topK}
}

// InputSockets implements graph.Component.
func (r *BM25Retriever) InputSockets() []string { return []string{"query"} }

// OutputSockets implements graph.Component.
func (r *BM25Retriever) OutputSockets() []string { return []string{"documents"} }

// Run implements graph.Component.
func (r *BM25Retriever) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	query, ok := inputs["query"].(string)
	if !ok && inputs["query"] != nil {
		return nil, fmt.Errorf("rag: retriever query must be a string, got %T", inputs["query"])
	}
	return map[string]any{"documents": r.Retrieve(query)}, nil
}

// Retrieve returns up to TopK documents ordered by descending score.
func (r *BM25Retriever) Retrieve(query string) []Document {
	terms := tokenize(query)
	scored := make([]Document, len(r.corpus))
	for i, doc := range r.corpus {
		doc.Score = r.score(i, terms)
		scored[i] = doc
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}
	return scored
}

func (r *BM25Retriever) score(doc int, terms []string) float64 {
	toks := r.docTokens[doc]
	if len(toks) == 0 || len(terms) == 0 {
		return 0
	}
	tf := make(map[string]int, len(toks))
	for _, tok := range toks {
		tf[tok]++
	}

	n := float64(len(r.corpus))
	norm := bm25K1 * (1 - bm25B + bm25B*float64(len(toks))/r.avgLen)

	var s float64
	for _, term := range terms {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		df := float64(r.df[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		s += idf * f * (bm25K1 + 1) / (f + norm)
	}
	return s
}

// tokenize lowercases s and splits it on anything that is not a letter or
// a digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
