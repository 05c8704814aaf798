package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/retrieval"
	"github.com/hearthcore/hearthcore/internal/temporal"
)

// handleRetrievalRequest implements P05: run the C5 search and publish
// retrieval.response.
func (r *Registry) handleRetrievalRequest(ctx context.Context, env *envelope.Envelope) bus.HandlerResult {
	var req retrievalRequestEvent
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return r.reject(ctx, "p05_retrieval_request", env, "schema_invalid: "+err.Error())
	}

	u, receipt, err := r.beginUoW(ctx, "p05_retrieval_request", env)
	if err != nil {
		return bus.Nack(true, err.Error())
	}
	if receipt != nil {
		return bus.Ack()
	}

	now := r.now()
	timeRange := extractTimeRange(req.Query, now, r.deps.Location)

	searchStart := time.Now()
	resp, err := r.deps.Search.Run(ctx, retrieval.Request{
		Query:        req.Query,
		ActorID:      req.ActorID,
		K:            req.K,
		TimeBudgetMS: req.TimeBudgetMS,
		TimeRange:    timeRange,
		Now:          now,
	})
	searchSeconds := time.Since(searchStart).Seconds()
	if err != nil {
		u.Rollback()
		return bus.Nack(true, err.Error())
	}

	ids := make([]string, len(resp.Results))
	scores := make([]float64, len(resp.Results))
	for i, res := range resp.Results {
		ids[i] = res.ID
		scores[i] = res.Score
	}

	if err := u.StageEvent(envelope.TopicRetrievalResponse, retrievalResponseEvent{
		Query: req.Query, ResultIDs: ids, Scores: scores, Margin12: margin12(scores),
	}, now); err != nil {
		u.Rollback()
		return bus.Nack(false, err.Error())
	}

	if _, err := u.Commit(now); err != nil {
		return bus.Nack(true, err.Error())
	}
	r.deps.Metrics.RetrievalLatency.Observe(searchSeconds)
	return bus.Ack()
}

// extractTimeRange resolves spec.md §4.4's closed-grammar temporal phrase
// out of free-text query, trying the longest token window first at every
// starting position so "last week" wins over "last" or "week" alone. A
// query with no recognizable phrase leaves the search unconstrained.
func extractTimeRange(query string, now time.Time, loc *time.Location) *temporal.Range {
	tokens := strings.Fields(query)
	for length := 3; length >= 1; length-- {
		for i := 0; i+length <= len(tokens); i++ {
			phrase := strings.Join(tokens[i:i+length], " ")
			r := temporal.ParsePhrase(phrase, now, loc)
			if r.Confidence > 0 {
				return &r
			}
		}
	}
	return nil
}

// margin12 is the gap between the top-2 ranked scores, the retrieval
// confidence margin cortex.Inputs consumes (spec.md §4.8). A single or
// empty result set has no competing candidate, so the margin is reported
// as maximally wide (no low-margin penalty applies).
func margin12(scores []float64) float64 {
	if len(scores) < 2 {
		return 1.0
	}
	m := scores[0] - scores[1]
	if m < 0 {
		return 0
	}
	return m
}
