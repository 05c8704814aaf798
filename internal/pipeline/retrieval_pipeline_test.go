package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/retrieval"
	"github.com/hearthcore/hearthcore/internal/temporal"
	"github.com/hearthcore/hearthcore/internal/uow"
)

// TestHandleRetrievalRequest_ParsesTemporalPhraseFromQuery exercises P05's
// real handler (not a hand-built retrieval.Request) end to end: a query
// embedding "yesterday" must resolve to a time.Range via
// temporal.ParsePhrase and feed it into Search.Run as TimeRange, closing
// the integration gap a hand-built retrieval.Request would hide. TimeRange
// is a ranking signal (temporal_match feature), not a hard filter, so the
// in-range event is asserted to outrank the out-of-range one rather than
// exclude it outright — matching Testable Scenario S2's own assertions.
func TestHandleRetrievalRequest_ParsesTemporalPhraseFromQuery(t *testing.T) {
	r := newTestRegistry(t)

	loc := r.deps.Location
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, loc)
	r.deps.Clock = fixedClock{now}

	yesterday := now.AddDate(0, 0, -1)
	lastWeek := now.AddDate(0, 0, -10)

	newCorpus := &retrieval.Corpus{
		BM25:     retrieval.NewBM25Index(),
		TFIDF:    retrieval.NewTFIDFIndex(),
		Temporal: temporal.New(loc, 72),
		IDs:      temporal.NewIDMap(),
		Meta:     map[string]retrieval.CandidateMeta{},
	}
	newCorpus.BM25.Index(retrieval.Document{ID: "evt-recent", Tokens: retrieval.Tokenize("soccer practice")})
	newCorpus.BM25.Index(retrieval.Document{ID: "evt-old", Tokens: retrieval.Tokenize("soccer tryouts")})
	newCorpus.TFIDF.Index(retrieval.Document{ID: "evt-recent", Tokens: retrieval.Tokenize("soccer practice")})
	newCorpus.TFIDF.Index(retrieval.Document{ID: "evt-old", Tokens: retrieval.Tokenize("soccer tryouts")})
	newCorpus.Meta["evt-recent"] = retrieval.CandidateMeta{Timestamp: yesterday}
	newCorpus.Meta["evt-old"] = retrieval.CandidateMeta{Timestamp: lastWeek}
	newCorpus.Temporal.Index(newCorpus.IDs.Dense("evt-recent"), yesterday)
	newCorpus.Temporal.Index(newCorpus.IDs.Dense("evt-old"), lastWeek)

	r.deps.Search = retrieval.NewSearch(newCorpus, retrieval.DefaultWeights(), retrieval.DefaultCalibration(), nil, r.deps.Clock)

	env := newTestEnvelope(envelope.TopicRetrievalRequest, retrievalRequestEvent{
		Query: "soccer yesterday", K: 10, TimeBudgetMS: 50,
	})

	result := r.handleRetrievalRequest(context.Background(), env)
	require.True(t, result.Ack)

	entries, err := r.deps.KV.ListDLQ("")
	require.NoError(t, err)
	require.Empty(t, entries)

	var published retrievalResponseEvent
	var found bool
	require.NoError(t, r.deps.KV.PendingOutbox(func(id string, raw []byte) (bool, error) {
		var row uow.OutboxRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return false, err
		}
		if row.Topic != envelope.TopicRetrievalResponse {
			return false, nil
		}
		found = true
		return true, json.Unmarshal(row.Payload, &published)
	}))
	require.True(t, found, "P05 must stage a retrieval.response outbox row")

	require.NotEmpty(t, published.ResultIDs)
	assert.Equal(t, "evt-recent", published.ResultIDs[0],
		"the in-range event must rank first once the query's temporal phrase is parsed")
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }
