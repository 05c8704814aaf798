package retrieval

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearthcore/hearthcore/internal/corekit"
	"github.com/hearthcore/hearthcore/internal/policy"
	"github.com/hearthcore/hearthcore/internal/temporal"
)

// CandidateMeta is the subset of episode metadata the ranker's feature
// assembly needs, supplied by the caller's lookup function so this
// package never depends on the storage layer directly.
type CandidateMeta struct {
	Tags      []string
	ActorID   string
	Timestamp time.Time
}

// Corpus bundles the three index structures one space's retrieval
// pipeline searches over.
type Corpus struct {
	BM25     *BM25Index
	TFIDF    *TFIDFIndex
	Temporal *temporal.Index
	IDs      *temporal.IDMap
	Meta     map[string]CandidateMeta
}

// Request is one retrieval call (spec.md §4.5).
type Request struct {
	Query         string
	TimeRange     *temporal.Range
	TimeBudgetMS  int64
	AllowReranker bool
	ActorID       string
	K             int
	Now           time.Time
}

// TraceEntry is one top candidate's explainability record.
type TraceEntry struct {
	ID             string
	Features       Features
	Reasons        []string
	CalibratedConf float64
}

// Response is the ranked result set plus its trace.
type Response struct {
	Results []Scored
	Trace   []TraceEntry
}

// Search runs the retrieval steps over a Corpus; its Reranker is consulted
// in step 7 when allowed and budget permits.
type Search struct {
	corpus      *Corpus
	weights     Weights
	calibration Calibration
	reranker    policy.Reranker
	clock       policy.Clock
}

func NewSearch(corpus *Corpus, w Weights, cal Calibration, reranker policy.Reranker, clock policy.Clock) *Search {
	if clock == nil {
		clock = policy.SystemClock{}
	}
	return &Search{corpus: corpus, weights: w, calibration: cal, reranker: reranker, clock: clock}
}

// Run executes the full pipeline: fan out candidate sources, fuse with
// RRF, assemble features, linear-rank, MMR-diversify, optionally rerank,
// calibrate, and trace the top-3.
func (s *Search) Run(ctx context.Context, req Request) (Response, error) {
	now := req.Now
	if now.IsZero() {
		now = s.clock.Now()
	}
	k := req.K
	if k <= 0 {
		k = 20
	}

	// Step 1: budget gate. ≤3ms triggers the lexical-only fast path.
	if req.TimeBudgetMS > 0 && req.TimeBudgetMS <= 3 {
		lex := s.corpus.BM25.Search(req.Query, k)
		return s.finishFastPath(lex, now), nil
	}

	fanoutBudget := time.Duration(req.TimeBudgetMS) * 6 / 10 * time.Millisecond
	if fanoutBudget <= 0 || fanoutBudget > 20*time.Millisecond {
		fanoutBudget = 20 * time.Millisecond
	}
	fanCtx, cancel := context.WithTimeout(ctx, fanoutBudget)
	defer cancel()

	var lexical, vector, temporalIDs []string
	bm25Raw := make(map[string]float64)
	cosineRaw := make(map[string]float64)
	g, gCtx := errgroup.WithContext(fanCtx)
	g.Go(func() error {
		for _, r := range s.corpus.BM25.Search(req.Query, k*3) {
			lexical = append(lexical, r.ID)
			bm25Raw[r.ID] = r.Score
		}
		return nil
	})
	g.Go(func() error {
		qv := s.corpus.TFIDF.QueryVector(Tokenize(req.Query))
		for _, r := range s.vectorCandidates(qv, k*3) {
			vector = append(vector, r.ID)
			cosineRaw[r.ID] = r.Score
		}
		return nil
	})
	if req.TimeRange != nil {
		g.Go(func() error {
			bm := s.corpus.Temporal.Slice(req.TimeRange.From, req.TimeRange.To)
			it := bm.Iterator()
			for it.HasNext() {
				id := it.Next()
				if sid, ok := s.corpus.IDs.Sparse(id); ok {
					temporalIDs = append(temporalIDs, sid)
				}
			}
			return nil
		})
	}
	_ = gCtx
	_ = g.Wait() // deadline firing simply drops whichever source hadn't finished

	rankings := [][]string{}
	if len(lexical) > 0 {
		rankings = append(rankings, lexical)
	}
	if len(vector) > 0 {
		rankings = append(rankings, vector)
	}
	if len(temporalIDs) > 0 {
		rankings = append(rankings, temporalIDs)
	}
	if len(rankings) == 0 {
		return Response{}, corekit.New(corekit.KindSubstrateFailure, "retrieval.Run", errNoCandidates)
	}

	fused := RRFFuse(rankings, 60)
	vectors := make(map[string]SparseVector, len(fused))
	scored := make([]Scored, 0, len(fused))
	for _, f := range fused {
		vectors[f.ID] = s.corpus.TFIDF.Weighted(f.ID)
		features := s.assembleFeatures(f, now, req, bm25Raw, cosineRaw)
		score, _ := Rank(features, s.weights)
		scored = append(scored, Scored{ID: f.ID, Score: score})
	}

	diversified := MMRSelect(scored, vectors, 0.7, k)

	if req.AllowReranker && s.reranker != nil {
		diversified = s.applyReranker(ctx, req.Query, diversified)
	}

	return s.finish(diversified, vectors, now), nil
}

var errNoCandidates = errNoCandidatesType{}

type errNoCandidatesType struct{}

func (errNoCandidatesType) Error() string { return "retrieval: no candidate source returned results" }

func (s *Search) vectorCandidates(qv SparseVector, k int) []Scored {
	scored := make([]Scored, 0)
	for id := range s.corpus.Meta {
		sim := Cosine(qv, s.corpus.TFIDF.Weighted(id))
		if sim > 0 {
			scored = append(scored, Scored{ID: id, Score: sim})
		}
	}
	sortScoredDesc(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func (s *Search) assembleFeatures(cand Scored, now time.Time, req Request, bm25Raw, cosineRaw map[string]float64) Features {
	f := Features{RRFScore: cand.Score, BM25Score: bm25Raw[cand.ID], VectorCosine: cosineRaw[cand.ID]}
	meta, ok := s.corpus.Meta[cand.ID]
	if !ok {
		return f
	}
	f.RecencyWeight = s.corpus.Temporal.RecencyWeight(meta.Timestamp, now)
	if meta.ActorID != "" && meta.ActorID == req.ActorID {
		f.ActorAffinity = 1.0
	}
	if req.TimeRange != nil {
		if !meta.Timestamp.Before(req.TimeRange.From) && meta.Timestamp.Before(req.TimeRange.To) {
			f.TemporalMatch = 1.0
		}
	}
	return f
}

func (s *Search) applyReranker(ctx context.Context, query string, candidates []Scored) []Scored {
	ids := make([]string, len(candidates))
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	scores, err := s.reranker.Rerank(ctx, query, ids, texts)
	if err != nil || len(scores) != len(candidates) {
		return candidates
	}
	for i := range candidates {
		candidates[i].Score = scores[i]
	}
	sortScoredDesc(candidates)
	return candidates
}

// finishFastPath calibrates the lexical-only results of the tight-budget
// path (spec.md §4.5 Testable Scenario S6) and traces why MMR/reranker
// were skipped.
func (s *Search) finishFastPath(results []Scored, now time.Time) Response {
	_ = now
	trace := make([]TraceEntry, 0, 3)
	for i, r := range results {
		if i >= 3 {
			break
		}
		trace = append(trace, TraceEntry{
			ID:             r.ID,
			Reasons:        []string{"fast_path: budget ≤ 3ms", "source_used=fts"},
			CalibratedConf: s.calibration.Calibrate(r.Score),
		})
	}
	for i := range results {
		results[i].Score = s.calibration.Calibrate(results[i].Score)
	}
	return Response{Results: results, Trace: trace}
}

func (s *Search) finish(results []Scored, vectors map[string]SparseVector, now time.Time) Response {
	_ = now
	trace := make([]TraceEntry, 0, 3)
	for i, r := range results {
		if i >= 3 {
			break
		}
		trace = append(trace, TraceEntry{
			ID:             r.ID,
			Reasons:        []string{"fused from available candidate sources"},
			CalibratedConf: s.calibration.Calibrate(r.Score),
		})
	}
	for i := range results {
		results[i].Score = s.calibration.Calibrate(results[i].Score)
	}
	return Response{Results: results, Trace: trace}
}

func sortScoredDesc(s []Scored) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && (s[j].Score > s[j-1].Score || (s[j].Score == s[j-1].Score && s[j].ID < s[j-1].ID)); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
