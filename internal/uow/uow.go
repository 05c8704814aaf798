// Package uow implements the Unit of Work (spec.md §4.2): an idempotent,
// atomic multi-store commit that stages episodes, a receipt, and outbox
// rows and then writes all of them in one bbolt transaction. Grounded on
// storage.KV.AtomicBatch's single-transaction commit; the idempotency
// short-circuit and outbox pattern are spec.md's own description, with no
// direct teacher analog.
package uow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hearthcore/hearthcore/internal/corekit"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/storage"
)

// IDSource generates monotonic per-process ULIDs.
type IDSource interface {
	NewID(t time.Time) ulid.ULID
}

// UnitOfWork stages writes for one logical operation and commits them
// atomically. Not safe for concurrent use by multiple goroutines; callers
// create one per request.
type UnitOfWork struct {
	kv      *storage.KV
	ids     IDSource
	actorID string
	spaceID string
	idemKey string

	episodes []Episode
	outbox   []OutboxRow
	done     bool
}

// Begin starts a unit of work, short-circuiting to the already-committed
// receipt if idemKey has been seen before for this actor.
func Begin(ctx context.Context, kv *storage.KV, ids IDSource, actorID, spaceID, idemKey string) (*UnitOfWork, *Receipt, error) {
	if idemKey != "" {
		receiptID, err := kv.LookupIdem(actorID, idemKey)
		if err != nil {
			return nil, nil, corekit.New(corekit.KindSubstrateFailure, "uow.Begin", err)
		}
		if receiptID != "" {
			var r Receipt
			found, err := kv.GetReceipt(receiptID, &r)
			if err != nil {
				return nil, nil, corekit.New(corekit.KindSubstrateFailure, "uow.Begin", err)
			}
			if found {
				return nil, &r, nil
			}
		}
	}
	return &UnitOfWork{kv: kv, ids: ids, actorID: actorID, spaceID: spaceID, idemKey: idemKey}, nil, nil
}

// StageEpisode buffers an episode for commit. The episode's ID and
// Timestamp are assigned here if unset.
func (u *UnitOfWork) StageEpisode(e Episode, now time.Time) Episode {
	if e.ID == "" {
		e.ID = u.ids.NewID(now).String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.SpaceID == "" {
		e.SpaceID = u.spaceID
	}
	u.episodes = append(u.episodes, e)
	return e
}

// StageEvent buffers an outbox row to be published at-least-once after
// commit.
func (u *UnitOfWork) StageEvent(topic envelope.Topic, payload any, now time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return corekit.New(corekit.KindInvariantViolation, "uow.StageEvent", err)
	}
	u.outbox = append(u.outbox, OutboxRow{
		ID:       u.ids.NewID(now).String(),
		Topic:    topic,
		Payload:  data,
		StagedAt: now,
	})
	return nil
}

// Commit writes every staged episode, the receipt, the idempotency
// pointer, and the outbox rows in a single bbolt transaction.
func (u *UnitOfWork) Commit(now time.Time) (*Receipt, error) {
	if u.done {
		return nil, corekit.New(corekit.KindInvariantViolation, "uow.Commit", fmt.Errorf("already committed or rolled back"))
	}
	u.done = true

	receipt := Receipt{
		ID:          u.ids.NewID(now).String(),
		SpaceID:     u.spaceID,
		ActorID:     u.actorID,
		CommittedAt: now,
	}

	batch := storage.Batch{
		Episodes:    make(map[string][]byte, len(u.episodes)),
		IdemActorID: u.actorID,
		IdemKey:     u.idemKey,
		Outbox:      make(map[string][]byte, len(u.outbox)),
	}
	for _, e := range u.episodes {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, corekit.New(corekit.KindInvariantViolation, "uow.Commit", err)
		}
		batch.Episodes[e.ID] = data
		receipt.EpisodeIDs = append(receipt.EpisodeIDs, e.ID)
	}
	for _, row := range u.outbox {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, corekit.New(corekit.KindInvariantViolation, "uow.Commit", err)
		}
		batch.Outbox[row.ID] = data
	}

	receiptBody, err := json.Marshal(receipt)
	if err != nil {
		return nil, corekit.New(corekit.KindInvariantViolation, "uow.Commit", err)
	}
	batch.Receipt = &struct {
		ID   string
		Body []byte
	}{ID: receipt.ID, Body: receiptBody}

	if err := u.kv.AtomicBatch(batch); err != nil {
		return nil, corekit.New(corekit.KindSubstrateFailure, "uow.Commit", err)
	}
	return &receipt, nil
}

// Rollback discards staged writes. Safe to call after Commit (no-op).
func (u *UnitOfWork) Rollback() {
	u.done = true
	u.episodes = nil
	u.outbox = nil
}
