package bus

import (
	"context"
	"encoding/json"

	"github.com/hearthcore/hearthcore/internal/corekit"
	"github.com/hearthcore/hearthcore/internal/envelope"
)

// ReplayDLQ republishes every dead-lettered entry for a topic (or all
// topics, if topic is empty) and removes it from the DLQ bucket on
// success. The envelope is republished unchanged: it carries no
// replayed_from marker, so a replay cannot be told apart from a first
// attempt by its envelope.
func (b *Bus) ReplayDLQ(ctx context.Context, topic string) (int, error) {
	entries, err := b.kv.ListDLQ(topic)
	if err != nil {
		return 0, corekit.New(corekit.KindSubstrateFailure, "bus.ReplayDLQ", err)
	}

	replayed := 0
	for _, e := range entries {
		var env envelope.Envelope
		if err := json.Unmarshal(e.Envelope, &env); err != nil {
			continue
		}
		if _, err := b.Publish(ctx, &env); err != nil {
			continue
		}
		if err := b.kv.DeleteDLQ(e.Topic, e.EventID); err != nil {
			continue
		}
		replayed++
	}
	return replayed, nil
}

// ReplayOne republishes a single dead-lettered entry identified by
// (topic, eventID) — the operator CLI's
// `dlq replay --topic <topic> --event-id <event_id>`.
func (b *Bus) ReplayOne(ctx context.Context, topic, eventID string) error {
	entries, err := b.kv.ListDLQ(topic)
	if err != nil {
		return corekit.New(corekit.KindSubstrateFailure, "bus.ReplayOne", err)
	}
	for _, e := range entries {
		if e.EventID != eventID {
			continue
		}
		var env envelope.Envelope
		if err := json.Unmarshal(e.Envelope, &env); err != nil {
			return corekit.New(corekit.KindInvariantViolation, "bus.ReplayOne", err)
		}
		if _, err := b.Publish(ctx, &env); err != nil {
			return err
		}
		return b.kv.DeleteDLQ(e.Topic, e.EventID)
	}
	return corekit.New(corekit.KindInvariantViolation, "bus.ReplayOne", corekit.ErrNotFound)
}
