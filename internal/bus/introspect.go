package bus

import (
	"sort"

	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/storage"
)

// Tail returns the records on topic from offset from onward, for operator
// CLI's `bus tail`.
func (b *Bus) Tail(topic envelope.Topic, from uint64) ([]storage.WALRecord, error) {
	ts, err := b.topic(topic)
	if err != nil {
		return nil, err
	}
	return ts.wal.ReadFrom(from)
}

// GroupLag is one consumer group's committed offset and the topic's next
// write offset, for operator CLI's `bus groups`/`bus offsets`.
type GroupLag struct {
	Topic          envelope.Topic
	Group          string
	CommittedOffset uint64
	NextOffset      uint64
}

// Groups lists every known (topic, group) pair and its lag, sorted by
// topic then group for deterministic CLI output.
func (b *Bus) Groups() []GroupLag {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []GroupLag
	for topic, ts := range b.topics {
		ts.mu.Lock()
		next := ts.wal.NextOffset()
		for group := range ts.groups {
			committed, _ := b.kv.GetOffset(string(topic), group)
			out = append(out, GroupLag{Topic: topic, Group: group, CommittedOffset: committed, NextOffset: next})
		}
		ts.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Group < out[j].Group
	})
	return out
}

// Offset returns a single group's committed offset on topic.
func (b *Bus) Offset(topic envelope.Topic, group string) (uint64, error) {
	return b.kv.GetOffset(string(topic), group)
}

// DLQList returns the dead-lettered entries for topic (or every topic, if
// topic is empty), for operator CLI's `dlq list`.
func (b *Bus) DLQList(topic string) ([]storage.DLQEntry, error) {
	return b.kv.ListDLQ(topic)
}
