// Package retrieval implements the hybrid ranker (spec.md §4.5): lexical
// BM25, sparse TF-IDF cosine, temporal candidates, Reciprocal Rank Fusion,
// a linear feature ranker, MMR diversification, and sigmoid calibration.
//
// No bleve/bm25 library appears anywhere in the retrieved corpus — this
// package hand-implements the formulas spec.md states explicitly, the
// same way the teacher hand-implements Mahalanobis distance rather than
// reaching for a stats library.
package retrieval

import (
	"math"
	"sort"
	"strings"
)

// Document is the tokenized, indexed form of one episode.
type Document struct {
	ID     string
	Tokens []string
}

// BM25Index is an in-memory inverted index with BM25 scoring.
type BM25Index struct {
	k1, b      float64
	docs       map[string][]string
	docLen     map[string]int
	avgDocLen  float64
	postings   map[string]map[string]int // term -> docID -> term freq
	corpusSize int
}

// NewBM25Index builds an index with the standard k1=1.2, b=0.75 defaults.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		k1:       1.2,
		b:        0.75,
		docs:     make(map[string][]string),
		docLen:   make(map[string]int),
		postings: make(map[string]map[string]int),
	}
}

// Tokenize lowercases and splits on non-alphanumeric runes. Intentionally
// simple: no stemming, no stopword list, matching the closed-vocabulary
// phrase grammar's own "no NLP dependency" stance in internal/temporal.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// Index adds or replaces a document.
func (idx *BM25Index) Index(doc Document) {
	idx.Remove(doc.ID)
	idx.docs[doc.ID] = doc.Tokens
	idx.docLen[doc.ID] = len(doc.Tokens)

	termFreq := make(map[string]int)
	for _, tok := range doc.Tokens {
		termFreq[tok]++
	}
	for term, freq := range termFreq {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string]int)
		}
		idx.postings[term][doc.ID] = freq
	}
	idx.corpusSize = len(idx.docs)
	idx.recomputeAvgLen()
}

// Remove deletes a document from the index.
func (idx *BM25Index) Remove(id string) {
	if _, ok := idx.docs[id]; !ok {
		return
	}
	delete(idx.docs, id)
	delete(idx.docLen, id)
	for term, postings := range idx.postings {
		delete(postings, id)
		if len(postings) == 0 {
			delete(idx.postings, term)
		}
	}
	idx.corpusSize = len(idx.docs)
	idx.recomputeAvgLen()
}

func (idx *BM25Index) recomputeAvgLen() {
	if len(idx.docLen) == 0 {
		idx.avgDocLen = 0
		return
	}
	var total int
	for _, l := range idx.docLen {
		total += l
	}
	idx.avgDocLen = float64(total) / float64(len(idx.docLen))
}

// Scored is one (docID, score) result.
type Scored struct {
	ID    string
	Score float64
}

// Search returns the top-k documents by BM25 score for the query.
func (idx *BM25Index) Search(query string, k int) []Scored {
	terms := Tokenize(query)
	scores := make(map[string]float64)

	for _, term := range terms {
		postings, ok := idx.postings[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(idx.corpusSize)-float64(len(postings))+0.5)/(float64(len(postings))+0.5))
		for docID, tf := range postings {
			dl := float64(idx.docLen[docID])
			denom := float64(tf) + idx.k1*(1-idx.b+idx.b*dl/maxFloat(idx.avgDocLen, 1))
			scores[docID] += idf * (float64(tf) * (idx.k1 + 1) / maxFloat(denom, 1e-9))
		}
	}

	out := make([]Scored, 0, len(scores))
	for id, s := range scores {
		out = append(out, Scored{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
