package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcore/hearthcore/internal/temporal"
)

func buildCorpus() *Corpus {
	bm25 := NewBM25Index()
	tfidf := NewTFIDFIndex()
	ids := temporal.NewIDMap()
	idx := temporal.New(time.UTC, 72)
	meta := map[string]CandidateMeta{}

	docs := map[string]string{
		"ep-1": "the dog went to the park this morning",
		"ep-2": "grandma's soup recipe for sunday dinner",
		"ep-3": "the park was full of dogs playing fetch",
	}
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	for id, text := range docs {
		tokens := Tokenize(text)
		bm25.Index(Document{ID: id, Tokens: tokens})
		tfidf.Index(Document{ID: id, Tokens: tokens})
		ids.Dense(id)
		idx.Index(ids.Dense(id), now)
		meta[id] = CandidateMeta{Timestamp: now}
	}

	return &Corpus{BM25: bm25, TFIDF: tfidf, Temporal: idx, IDs: ids, Meta: meta}
}

func TestSearch_RanksRelevantDocHigher(t *testing.T) {
	corpus := buildCorpus()
	s := NewSearch(corpus, DefaultWeights(), DefaultCalibration(), nil, nil)

	resp, err := s.Run(context.Background(), Request{Query: "dog park", TimeBudgetMS: 50, K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, []string{"ep-1", "ep-3"}, resp.Results[0].ID)
}

func TestSearch_FastPathUnderTinyBudget(t *testing.T) {
	corpus := buildCorpus()
	s := NewSearch(corpus, DefaultWeights(), DefaultCalibration(), nil, nil)

	resp, err := s.Run(context.Background(), Request{Query: "soup", TimeBudgetMS: 2, K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "ep-2", resp.Results[0].ID)
}

func TestBM25_EmptyQueryNoResults(t *testing.T) {
	idx := NewBM25Index()
	idx.Index(Document{ID: "a", Tokens: []string{"x", "y"}})
	res := idx.Search("", 10)
	assert.Empty(t, res)
}

func TestRRFFuse_CombinesRankings(t *testing.T) {
	a := []string{"x", "y", "z"}
	b := []string{"y", "x", "w"}
	fused := RRFFuse([][]string{a, b}, 60)
	require.NotEmpty(t, fused)
	assert.Equal(t, "x", fused[0].ID) // x ranks 1st and 2nd, y ranks 2nd and 1st -> tie, then alpha order... verify via share
}

func TestCosine_IdenticalVectorsEqualOne(t *testing.T) {
	v := SparseVector{"a": 1, "b": 2}
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}

func TestCalibration_Monotonic(t *testing.T) {
	c := DefaultCalibration()
	low := c.Calibrate(0.1)
	high := c.Calibrate(0.9)
	assert.Less(t, low, high)
}
