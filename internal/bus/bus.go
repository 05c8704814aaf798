package bus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthcore/hearthcore/internal/budget"
	"github.com/hearthcore/hearthcore/internal/corekit"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/storage"
)

// HandlerResult is a consumer handler's disposition for one record,
// matching spec.md §4.10's Ack/Nack contract.
type HandlerResult struct {
	Ack    bool
	Retry  bool
	Reason string
}

// Ack builds a successful disposition.
func Ack() HandlerResult { return HandlerResult{Ack: true} }

// Nack builds a retriable-or-not failure disposition.
func Nack(retry bool, reason string) HandlerResult {
	return HandlerResult{Ack: false, Retry: retry, Reason: reason}
}

// HandlerFunc processes one dispatched record.
type HandlerFunc func(ctx context.Context, env *envelope.Envelope) HandlerResult

// Options configures a Bus.
type Options struct {
	WALDir          string
	MaxPayloadBytes int
	AdmissionCap    int           // high-watermark backpressure capacity
	AdmissionRefill time.Duration
	FlushInterval   time.Duration
	MaxAttempts     int
	ShardCount      int
	Backoff         BackoffParams
}

// DefaultOptions returns sane defaults matching spec.md §4.3/§6.
func DefaultOptions(walDir string) Options {
	return Options{
		WALDir:          walDir,
		MaxPayloadBytes: 256 * 1024,
		AdmissionCap:    10000,
		AdmissionRefill: time.Second,
		FlushInterval:   5 * time.Millisecond,
		MaxAttempts:     8,
		ShardCount:      4,
		Backoff:         DefaultBackoffParams(),
	}
}

// Bus owns one WAL per topic and the consumer groups reading it.
type Bus struct {
	opts   Options
	kv     *storage.KV
	log    *zap.Logger
	admit  *budget.Bucket

	mu     sync.Mutex
	topics map[envelope.Topic]*topicState
	closed bool
}

type topicState struct {
	mu     sync.Mutex
	wal    *storage.WAL
	groups map[string]*consumerGroup
}

// New builds a Bus backed by kv for offsets/DLQ and a WAL file per topic
// under opts.WALDir.
func New(kv *storage.KV, log *zap.Logger, opts Options) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		opts:   opts,
		kv:     kv,
		log:    log,
		admit:  budget.New(opts.AdmissionCap, opts.AdmissionRefill),
		topics: make(map[envelope.Topic]*topicState),
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.admit.Close()
	var firstErr error
	for _, ts := range b.topics {
		ts.mu.Lock()
		for _, g := range ts.groups {
			g.stop()
		}
		if err := ts.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		ts.mu.Unlock()
	}
	return firstErr
}

func (b *Bus) topic(t envelope.Topic) (*topicState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ts, ok := b.topics[t]; ok {
		return ts, nil
	}
	path := filepath.Join(b.opts.WALDir, string(t)+".log")
	w, _, err := storage.OpenWAL(path)
	if err != nil {
		return nil, err
	}
	ts := &topicState{wal: w, groups: make(map[string]*consumerGroup)}
	b.topics[t] = ts
	go b.flushLoop(ts)
	return ts, nil
}

func (b *Bus) flushLoop(ts *topicState) {
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()
	for range ticker.C {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}
		_ = ts.wal.Flush()
	}
}

// Publish validates and appends an envelope to its topic's WAL, returning
// its offset. Returns corekit.KindBusy if the admission gate is saturated.
func (b *Bus) Publish(ctx context.Context, env *envelope.Envelope) (uint64, error) {
	if err := env.Validate(b.opts.MaxPayloadBytes); err != nil {
		return 0, corekit.New(corekit.KindInvariantViolation, "bus.Publish", err)
	}
	if !b.admit.Consume(1) {
		return 0, corekit.New(corekit.KindBusy, "bus.Publish", corekit.ErrBusy)
	}

	sum := sha256.Sum256(env.Payload)
	env.PayloadSHA = hex.EncodeToString(sum[:])

	data, err := json.Marshal(env)
	if err != nil {
		return 0, corekit.New(corekit.KindInvariantViolation, "bus.Publish", err)
	}

	ts, err := b.topic(env.Topic)
	if err != nil {
		return 0, err
	}
	offset, err := ts.wal.Append(env.EventID.String(), env.Timestamp.UnixNano(), data)
	if err != nil {
		return 0, err
	}
	return offset, nil
}

// Subscribe registers a named consumer group against a topic. handler is
// invoked per record, bucketed by a stable hash of event_id across
// opts.ShardCount worker goroutines so records sharing a bucket are
// processed in order while distinct buckets run in parallel.
func (b *Bus) Subscribe(topic envelope.Topic, group string, handler HandlerFunc) error {
	ts, err := b.topic(topic)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, exists := ts.groups[group]; exists {
		return fmt.Errorf("bus.Subscribe: group %q already registered on %q", group, topic)
	}

	startOffset, err := b.kv.GetOffset(string(topic), group)
	if err != nil {
		return err
	}

	cg := newConsumerGroup(b, topic, group, handler, startOffset)
	ts.groups[group] = cg
	cg.start(ts.wal)
	return nil
}

func shardFor(eventID string, shardCount int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(eventID))
	return int(h.Sum32()) % shardCount
}
