package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/hippocampus"
)

// RunConsolidationSweep implements P03: select rollup candidates by
// hippocampus.Score over every stored episode and publish rollup.apply
// for the top-scoring backlog. P03 has no trigger topic — callers (the
// daemon's background ticker) invoke it directly.
func (r *Registry) RunConsolidationSweep(ctx context.Context, minScore float64, maxPerSweep int) (int, error) {
	type candidate struct {
		id    string
		score float64
	}
	var candidates []candidate

	err := r.deps.KV.ForEachEpisode(func(id string, raw []byte) error {
		var e struct {
			Tags      []string  `json:"tags"`
			Band      envelope.Band `json:"band"`
			Timestamp time.Time `json:"timestamp"`
			Tombstoned bool     `json:"tombstoned"`
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil
		}
		if e.Tombstoned {
			return nil
		}
		importance := hippocampus.Importance(0, bandWeight(e.Band), e.Tags)
		recency := recencyDecay(e.Timestamp, r.now())
		score := hippocampus.Score(importance, recency)
		if score >= minScore {
			candidates = append(candidates, candidate{id: id, score: score})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > maxPerSweep {
		candidates = candidates[:maxPerSweep]
	}

	applied := 0
	for _, c := range candidates {
		env := &envelope.Envelope{
			EventID:   r.deps.IDs.NewID(r.now()),
			Topic:     envelope.TopicRollupApply,
			SpaceID:   r.deps.KV.SpaceID(),
			Actor:     envelope.ActorRef{Kind: "system", ID: "pipeline.p03"},
			Band:      envelope.BandGreen,
			TraceID:   r.deps.IDs.NewID(r.now()).String(),
			Timestamp: r.now(),
		}
		summary, _ := r.deps.Bridge.Summary(c.id)
		payload, merr := json.Marshal(rollupApplyEvent{Summary: summary, DerivedFrom: []string{c.id}})
		if merr != nil {
			continue
		}
		env.Payload = payload
		if _, err := r.deps.Bus.Publish(ctx, env); err != nil {
			continue
		}
		applied++
	}
	return applied, nil
}

func recencyDecay(t time.Time, now time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	const halfLifeHours = 72.0
	hours := now.Sub(t).Hours()
	if hours < 0 {
		hours = 0
	}
	decay := 1.0
	for h := halfLifeHours; h < hours; h += halfLifeHours {
		decay *= 0.5
	}
	return decay
}

// NextSweepInterval computes P03's adaptive period from the current
// episode backlog relative to highWatermark.
func NextSweepInterval(base, min time.Duration, backlogSize, highWatermark int) time.Duration {
	return hippocampus.AdaptivePeriod(base, min, backlogSize, highWatermark)
}

// SnapshotSpace implements P18: it opens a storage.Snapshot and returns the
// number of keys across every KV bucket. It writes nothing and does not
// count the in-memory temporal/lexical indices; the operator server's
// space_snapshot command writes the raw snapshot itself and does not call
// SnapshotSpace.
func (r *Registry) SnapshotSpace() (episodes int, err error) {
	tx, err := r.deps.KV.Snapshot()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	count := 0
	if walkErr := tx.ForEach(func(name []byte, b *bolt.Bucket) error {
		return b.ForEach(func(_, _ []byte) error { count++; return nil })
	}); walkErr != nil {
		return 0, walkErr
	}
	return count, nil
}

// VerifySpace implements P19: it tails every known topic's WAL from offset
// 0 and returns the record count per topic (checksums are validated at
// WAL-open time by the bus). Topics whose tail fails are left out of the
// map. It does not cross-check the counts against stored episodes or
// consumer offsets, and the operator server's space_verify command does
// not call it.
func (r *Registry) VerifySpace(ctx context.Context) (map[string]uint64, error) {
	out := make(map[string]uint64)
	for _, topic := range envelope.AllTopics() {
		records, err := r.deps.Bus.Tail(topic, 0)
		if err != nil {
			continue
		}
		out[string(topic)] = uint64(len(records))
	}
	return out, nil
}

