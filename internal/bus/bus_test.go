package bus

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/idgen"
	"github.com/hearthcore/hearthcore/internal/storage"
)

func newTestBus(t *testing.T) (*Bus, *storage.KV) {
	t.Helper()
	dir := t.TempDir()
	kv, err := storage.Open(filepath.Join(dir, "space.db"), "space-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	opts := DefaultOptions(dir)
	opts.FlushInterval = time.Millisecond
	b := New(kv, nil, opts)
	t.Cleanup(func() { _ = b.Close() })
	return b, kv
}

func newTestEnvelope(ids *idgen.Source, topic envelope.Topic, payload string) *envelope.Envelope {
	now := time.Now().UTC()
	return &envelope.Envelope{
		EventID:   ids.NewID(now),
		Topic:     topic,
		SpaceID:   "space-1",
		Actor:     envelope.ActorRef{Kind: "system", ID: "test"},
		Band:      envelope.BandGreen,
		TraceID:   "trace-1",
		Timestamp: now,
		Payload:   []byte(`"` + payload + `"`),
	}
}

func TestPublishSubscribe_DeliversAndAcks(t *testing.T) {
	b, _ := newTestBus(t)
	ids := idgen.NewSource()

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 1)

	err := b.Subscribe(envelope.TopicHippoEncode, "group-a", func(ctx context.Context, env *envelope.Envelope) HandlerResult {
		mu.Lock()
		received = append(received, string(env.Payload))
		n := len(received)
		mu.Unlock()
		if n == 1 {
			select {
			case done <- struct{}{}:
			default:
			}
		}
		return Ack()
	})
	require.NoError(t, err)

	env := newTestEnvelope(ids, envelope.TopicHippoEncode, "hello")
	_, err = b.Publish(context.Background(), env)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, received, `"hello"`)
}

func TestPublish_RejectsOversizedPayload(t *testing.T) {
	dir := t.TempDir()
	kv, err := storage.Open(filepath.Join(dir, "space.db"), "space-1")
	require.NoError(t, err)
	defer kv.Close()

	opts := DefaultOptions(dir)
	opts.MaxPayloadBytes = 4
	b := New(kv, nil, opts)
	defer b.Close()

	ids := idgen.NewSource()
	env := newTestEnvelope(ids, envelope.TopicHippoEncode, "too long for four bytes")
	_, err = b.Publish(context.Background(), env)
	assert.Error(t, err)
}

func TestPublish_RejectsBlackBandWithoutMLSGroup(t *testing.T) {
	b, _ := newTestBus(t)
	ids := idgen.NewSource()
	env := newTestEnvelope(ids, envelope.TopicHippoEncode, "secret")
	env.Band = envelope.BandBlack
	_, err := b.Publish(context.Background(), env)
	assert.Error(t, err)
}

func TestDeadLetter_AfterExhaustingRetries(t *testing.T) {
	dir := t.TempDir()
	kv, err := storage.Open(filepath.Join(dir, "space.db"), "space-1")
	require.NoError(t, err)
	defer kv.Close()

	opts := DefaultOptions(dir)
	opts.MaxAttempts = 1
	opts.Backoff.Base = time.Millisecond
	opts.Backoff.Max = time.Millisecond
	b := New(kv, nil, opts)
	defer b.Close()

	ids := idgen.NewSource()
	err = b.Subscribe(envelope.TopicHippoEncode, "group-b", func(ctx context.Context, env *envelope.Envelope) HandlerResult {
		return Nack(true, "simulated failure")
	})
	require.NoError(t, err)

	env := newTestEnvelope(ids, envelope.TopicHippoEncode, "will fail")
	_, err = b.Publish(context.Background(), env)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, err := kv.ListDLQ(string(envelope.TopicHippoEncode))
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
