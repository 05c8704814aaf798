// Package storage — kv.go
//
// BoltDB-backed persistent storage for a single space's episodic memory.
//
// Schema (one bbolt file per SpaceId):
//
//	/episodes
//	    key:   episode_id (ULID, sortable)
//	    value: JSON-encoded Episode
//
//	/receipts
//	    key:   receipt_id (ULID)
//	    value: JSON-encoded Receipt
//
//	/idem
//	    key:   sha256(actor_id + ":" + idempotency_key) hex-encoded
//	    value: receipt_id this key already committed to
//
//	/offsets
//	    key:   topic + "/" + consumer_group
//	    value: uint64 big-endian offset
//
//	/dlq
//	    key:   topic + "/" + event_id
//	    value: JSON-encoded DLQEntry
//
//	/consolidation
//	    key:   episode_id
//	    value: JSON-encoded consolidation candidate score
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer per space (bbolt enforces one writer tx).
//   - AtomicBatch applies a multi-bucket change in one bbolt.Update
//     transaction; the other mutators (offsets, DLQ, single records) each
//     run their own Update transaction.
//   - Reads use read-only transactions (bbolt.View) or Snapshot for a
//     consistent multi-bucket view.
//
// Failure modes:
//   - Corrupt bbolt file: bolt.Open returns an error; the space is marked
//     unavailable rather than silently starting empty.
//   - Disk full: Update returns an error classified corekit.KindSubstrateFailure.
package storage

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hearthcore/hearthcore/internal/corekit"
)

const (
	SchemaVersion = "1"

	bucketEpisodes      = "episodes"
	bucketReceipts      = "receipts"
	bucketIdem          = "idem"
	bucketOffsets       = "offsets"
	bucketDLQ           = "dlq"
	bucketConsolidation = "consolidation"
	bucketOutbox        = "outbox"
	bucketMeta          = "meta"
)

// KV wraps a single-space BoltDB instance with typed accessors.
type KV struct {
	db      *bolt.DB
	spaceID string
}

// Open opens (or creates) the bbolt database backing one space.
func Open(path, spaceID string) (*KV, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, corekit.New(corekit.KindSubstrateFailure, "storage.Open", err)
	}

	kv := &KV{db: bdb, spaceID: spaceID}
	if err := kv.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{
			bucketEpisodes, bucketReceipts, bucketIdem, bucketOffsets,
			bucketDLQ, bucketConsolidation, bucketOutbox, bucketMeta,
		} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(SchemaVersion))
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, corekit.New(corekit.KindSubstrateFailure, "storage.Open", err)
	}

	if err := kv.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return kv, nil
}

func (kv *KV) checkSchemaVersion() error {
	return kv.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		if v := string(meta.Get([]byte("schema_version"))); v != SchemaVersion {
			return corekit.New(corekit.KindSubstrateFailure, "storage.checkSchemaVersion",
				fmt.Errorf("schema version mismatch: have %q want %q", v, SchemaVersion))
		}
		return nil
	})
}

func (kv *KV) Close() error { return kv.db.Close() }

// SpaceID returns the space this KV instance was opened for.
func (kv *KV) SpaceID() string { return kv.spaceID }

// IdemKey computes the lookup key for an idempotency check.
func IdemKey(actorID, idempotencyKey string) []byte {
	h := sha256.Sum256([]byte(actorID + ":" + idempotencyKey))
	key := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(key, h[:])
	return key
}

// LookupIdem returns the receipt_id already committed for this idempotency
// key, or ("", nil) if the key has never been seen.
func (kv *KV) LookupIdem(actorID, idempotencyKey string) (string, error) {
	key := IdemKey(actorID, idempotencyKey)
	var receiptID string
	err := kv.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketIdem)).Get(key)
		if v != nil {
			receiptID = string(v)
		}
		return nil
	})
	return receiptID, err
}

// Batch is the set of writes staged by a Unit of Work, committed atomically.
type Batch struct {
	Episodes      map[string][]byte // episode_id -> JSON
	Receipt       *struct {
		ID   string
		Body []byte
	}
	IdemActorID string
	IdemKey     string
	Consolidation map[string][]byte
	Outbox      map[string][]byte // outbox_row_id -> JSON(OutboxRow)
}

// AtomicBatch commits every staged write in a single bbolt transaction:
// episodes, the receipt, and the idempotency pointer all land together or
// not at all.
func (kv *KV) AtomicBatch(b Batch) error {
	return kv.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket([]byte(bucketEpisodes))
		for id, data := range b.Episodes {
			if err := eb.Put([]byte(id), data); err != nil {
				return err
			}
		}
		if b.Receipt != nil {
			rb := tx.Bucket([]byte(bucketReceipts))
			if err := rb.Put([]byte(b.Receipt.ID), b.Receipt.Body); err != nil {
				return err
			}
			if b.IdemKey != "" {
				ib := tx.Bucket([]byte(bucketIdem))
				if err := ib.Put(IdemKey(b.IdemActorID, b.IdemKey), []byte(b.Receipt.ID)); err != nil {
					return err
				}
			}
		}
		if len(b.Consolidation) > 0 {
			cb := tx.Bucket([]byte(bucketConsolidation))
			for id, data := range b.Consolidation {
				if err := cb.Put([]byte(id), data); err != nil {
					return err
				}
			}
		}
		if len(b.Outbox) > 0 {
			ob := tx.Bucket([]byte(bucketOutbox))
			for id, data := range b.Outbox {
				if err := ob.Put([]byte(id), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// PendingOutbox calls fn for every outbox row in key (insertion) order,
// including rows already marked published. Polled by the outbox publisher goroutine.
func (kv *KV) PendingOutbox(fn func(id string, raw []byte) (stop bool, err error)) error {
	return kv.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketOutbox)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			stop, err := fn(string(k), v)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	})
}

// MarkOutboxPublished rewrites an outbox row's JSON body (with Published
// set true by the caller) back into the bucket.
func (kv *KV) MarkOutboxPublished(id string, updated []byte) error {
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketOutbox)).Put([]byte(id), updated)
	})
}

// DeleteOutbox removes a row once it has been durably published and does
// not need to be retried on restart.
func (kv *KV) DeleteOutbox(id string) error {
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketOutbox)).Delete([]byte(id))
	})
}

// PutEpisode stores a single episode outside of a batch context (used by
// consolidation rollups and tests).
func (kv *KV) PutEpisode(id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEpisodes)).Put([]byte(id), data)
	})
}

// GetEpisode retrieves an episode by id, unmarshalling into dst.
func (kv *KV) GetEpisode(id string, dst any) (bool, error) {
	found := false
	err := kv.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketEpisodes)).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, dst)
	})
	return found, err
}

// ForEachEpisode iterates all episodes in key (id) order.
func (kv *KV) ForEachEpisode(fn func(id string, raw []byte) error) error {
	return kv.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEpisodes)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// GetReceipt retrieves a receipt by id.
func (kv *KV) GetReceipt(id string, dst any) (bool, error) {
	found := false
	err := kv.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketReceipts)).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, dst)
	})
	return found, err
}

// ─── Consumer offsets ──────────────────────────────────────────────────────

func offsetKey(topic, group string) []byte { return []byte(topic + "/" + group) }

// GetOffset returns the last committed offset for a (topic, group) pair.
func (kv *KV) GetOffset(topic, group string) (uint64, error) {
	var off uint64
	err := kv.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketOffsets)).Get(offsetKey(topic, group))
		if v != nil {
			off = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return off, err
}

// CommitOffset persists the next offset to read for a (topic, group) pair.
func (kv *KV) CommitOffset(topic, group string, offset uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, offset)
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketOffsets)).Put(offsetKey(topic, group), buf)
	})
}

// ─── Dead-letter queue ─────────────────────────────────────────────────────

// DLQEntry is a single record that exhausted its retry budget.
type DLQEntry struct {
	Topic        string    `json:"topic"`
	Group        string    `json:"group"`
	EventID      string    `json:"event_id"`
	Reason       string    `json:"reason"`
	Attempts     int       `json:"attempts"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Envelope     []byte    `json:"envelope"`
	ReplayedFrom string    `json:"replayed_from,omitempty"`
}

func dlqKey(topic, eventID string) []byte { return []byte(topic + "/" + eventID) }

// PutDLQ records (or updates) a dead-lettered entry.
func (kv *KV) PutDLQ(e DLQEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDLQ)).Put(dlqKey(e.Topic, e.EventID), data)
	})
}

// DeleteDLQ removes an entry after a successful replay.
func (kv *KV) DeleteDLQ(topic, eventID string) error {
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDLQ)).Delete(dlqKey(topic, eventID))
	})
}

// ListDLQ returns every dead-lettered entry, optionally filtered by topic.
func (kv *KV) ListDLQ(topic string) ([]DLQEntry, error) {
	var out []DLQEntry
	err := kv.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDLQ)).ForEach(func(_, v []byte) error {
			var e DLQEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if topic == "" || e.Topic == topic {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// Snapshot returns a read-only bbolt transaction giving a consistent
// point-in-time view across every bucket. Callers must call tx.Rollback()
// when done (bbolt's read-only "commit").
func (kv *KV) Snapshot() (*bolt.Tx, error) {
	return kv.db.Begin(false)
}
