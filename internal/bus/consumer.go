package bus

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/storage"
)

const pollInterval = 10 * time.Millisecond

type dispatchItem struct {
	offset uint64
	env    envelope.Envelope
	sm     *recordStateMachine
}

// consumerGroup drives one (topic, group) pair's read loop, dispatch
// shards, retry/backoff, and offset commit.
type consumerGroup struct {
	bus     *Bus
	topic   envelope.Topic
	group   string
	handler HandlerFunc

	shards []chan dispatchItem

	mu        sync.Mutex
	completed map[uint64]bool
	nextOffset uint64 // next offset to commit, contiguous high-watermark
	seen      map[uint64]bool // offsets already dispatched, avoids re-dispatch on poll

	cancel context.CancelFunc
	wg     sync.WaitGroup
	rng    *rand.Rand
}

func newConsumerGroup(b *Bus, topic envelope.Topic, group string, handler HandlerFunc, startOffset uint64) *consumerGroup {
	shardCount := b.opts.ShardCount
	if shardCount < 1 {
		shardCount = 1
	}
	cg := &consumerGroup{
		bus:        b,
		topic:      topic,
		group:      group,
		handler:    handler,
		shards:     make([]chan dispatchItem, shardCount),
		completed:  make(map[uint64]bool),
		nextOffset: startOffset,
		seen:       make(map[uint64]bool),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := range cg.shards {
		cg.shards[i] = make(chan dispatchItem, 256)
	}
	return cg
}

func (cg *consumerGroup) start(wal *storage.WAL) {
	ctx, cancel := context.WithCancel(context.Background())
	cg.cancel = cancel

	for i := range cg.shards {
		cg.wg.Add(1)
		go cg.runShard(ctx, i)
	}
	cg.wg.Add(1)
	go cg.poll(ctx, wal)
}

func (cg *consumerGroup) stop() {
	if cg.cancel != nil {
		cg.cancel()
	}
	cg.wg.Wait()
}

func (cg *consumerGroup) poll(ctx context.Context, wal *storage.WAL) {
	defer cg.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cg.mu.Lock()
			from := cg.nextOffset
			cg.mu.Unlock()
			records, err := wal.ReadFrom(from)
			if err != nil {
				continue
			}
			for _, rec := range records {
				cg.mu.Lock()
				if cg.seen[rec.Offset] {
					cg.mu.Unlock()
					continue
				}
				cg.seen[rec.Offset] = true
				cg.mu.Unlock()

				var env envelope.Envelope
				if err := json.Unmarshal(rec.Envelope, &env); err != nil {
					cg.markCompleted(rec.Offset)
					continue
				}
				item := dispatchItem{offset: rec.Offset, env: env, sm: newRecordStateMachine()}
				shard := shardFor(env.EventID.String(), len(cg.shards))
				select {
				case cg.shards[shard] <- item:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (cg *consumerGroup) runShard(ctx context.Context, idx int) {
	defer cg.wg.Done()
	ch := cg.shards[idx]
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			cg.process(ctx, item)
		}
	}
}

func (cg *consumerGroup) process(ctx context.Context, item dispatchItem) {
	item.sm.transition(StateInFlight)

	deadline := time.Duration(item.env.QoS.LatencyBudgetMS) * time.Millisecond
	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	result := cg.handler(callCtx, &item.env)
	if result.Ack {
		item.sm.transition(StateAcked)
		cg.markCompleted(item.offset)
		return
	}

	item.sm.transition(StateNacked)
	attempts := item.sm.attemptCount()
	if !result.Retry || attempts >= cg.bus.opts.MaxAttempts {
		cg.deadLetter(item, result.Reason)
		cg.markCompleted(item.offset)
		return
	}

	delay := cg.bus.opts.Backoff.Delay(attempts, cg.rng)
	item.sm.transition(StatePending)
	shard := shardFor(item.env.EventID.String(), len(cg.shards))
	time.AfterFunc(delay, func() {
		select {
		case cg.shards[shard] <- item:
		case <-ctx.Done():
		}
	})
}

func (cg *consumerGroup) deadLetter(item dispatchItem, reason string) {
	item.sm.transition(StateDLQ)
	raw, _ := json.Marshal(item.env)
	now := time.Now().UTC()
	entry := storage.DLQEntry{
		Topic:     string(cg.topic),
		Group:     cg.group,
		EventID:   item.env.EventID.String(),
		Reason:    reason,
		Attempts:  item.sm.attemptCount(),
		FirstSeen: now,
		LastSeen:  now,
		Envelope:  raw,
	}
	_ = cg.bus.kv.PutDLQ(entry)
}

// markCompleted advances the contiguous commit high-watermark and
// persists it. Offsets that complete out of order are remembered until
// the gap closes.
func (cg *consumerGroup) markCompleted(offset uint64) {
	cg.mu.Lock()
	cg.completed[offset] = true
	advanced := false
	for cg.completed[cg.nextOffset] {
		delete(cg.completed, cg.nextOffset)
		cg.nextOffset++
		advanced = true
	}
	commitTo := cg.nextOffset
	cg.mu.Unlock()

	if advanced {
		_ = cg.bus.kv.CommitOffset(string(cg.topic), cg.group, commitTo)
	}
}
