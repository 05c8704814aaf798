package uow

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/idgen"
	"github.com/hearthcore/hearthcore/internal/storage"
)

func openTestKV(t *testing.T) *storage.KV {
	t.Helper()
	path := filepath.Join(t.TempDir(), "space.db")
	kv, err := storage.Open(path, "space-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestUnitOfWork_CommitPersistsEpisodesAndReceipt(t *testing.T) {
	kv := openTestKV(t)
	ids := idgen.NewSource()
	now := time.Now().UTC()

	u, existing, err := Begin(nil, kv, ids, "actor-1", "space-1", "idem-key-1")
	require.NoError(t, err)
	assert.Nil(t, existing)

	u.StageEpisode(Episode{Content: "first steps"}, now)
	require.NoError(t, u.StageEvent(envelope.TopicHippoEncode, map[string]string{"x": "y"}, now))

	receipt, err := u.Commit(now)
	require.NoError(t, err)
	require.Len(t, receipt.EpisodeIDs, 1)

	var got Episode
	found, err := kv.GetEpisode(receipt.EpisodeIDs[0], &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "first steps", got.Content)
}

func TestUnitOfWork_IdempotentReplayReturnsSameReceipt(t *testing.T) {
	kv := openTestKV(t)
	ids := idgen.NewSource()
	now := time.Now().UTC()

	u1, _, err := Begin(nil, kv, ids, "actor-1", "space-1", "dup-key")
	require.NoError(t, err)
	u1.StageEpisode(Episode{Content: "one"}, now)
	receipt1, err := u1.Commit(now)
	require.NoError(t, err)

	u2, existing, err := Begin(nil, kv, ids, "actor-1", "space-1", "dup-key")
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Nil(t, u2)
	assert.Equal(t, receipt1.ID, existing.ID)
}

func TestUnitOfWork_DoubleCommitFails(t *testing.T) {
	kv := openTestKV(t)
	ids := idgen.NewSource()
	now := time.Now().UTC()

	u, _, err := Begin(nil, kv, ids, "actor-1", "space-1", "")
	require.NoError(t, err)
	u.StageEpisode(Episode{Content: "once"}, now)
	_, err = u.Commit(now)
	require.NoError(t, err)

	_, err = u.Commit(now)
	assert.Error(t, err)
}
