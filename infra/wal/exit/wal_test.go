package exit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingIDs(t *testing.T, o *Outbox) []uint64 {
	t.Helper()
	var ids []uint64
	require.NoError(t, o.Pending(0, func(e Entry) error {
		ids = append(ids, e.CommandID)
		return nil
	}))
	return ids
}

func TestStageIsIdempotent(t *testing.T) {
	o, err := Open(t.TempDir())
	require.NoError(t, err)
	defer o.Close()

	ok, err := o.Stage(1, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = o.Stage(1, []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), e.Payload)
	assert.Equal(t, StateNew, e.State)
}

func TestAckAdvancesOffsetAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	o, err := Open(dir)
	require.NoError(t, err)

	for id := uint64(1); id <= 3; id++ {
		_, err := o.Stage(id, []byte{byte(id)})
		require.NoError(t, err)
	}
	require.NoError(t, o.MarkSent(1))
	require.NoError(t, o.Ack(1))
	require.NoError(t, o.MarkFailed(2))

	assert.Equal(t, uint64(1), o.AckedOffset())
	assert.Equal(t, []uint64{2, 3}, pendingIDs(t, o))

	e, err := o.Get(2)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, e.State)
	assert.Equal(t, uint32(1), e.Retries)
	require.NoError(t, o.Close())

	o, err = Open(dir)
	require.NoError(t, err)
	defer o.Close()
	assert.Equal(t, uint64(1), o.AckedOffset())

	// replayed command 1 is not staged again
	ok, err := o.Stage(1, []byte{1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingLimit(t *testing.T) {
	o, err := Open(t.TempDir())
	require.NoError(t, err)
	defer o.Close()

	for id := uint64(1); id <= 5; id++ {
		_, err := o.Stage(id, nil)
		require.NoError(t, err)
	}
	var ids []uint64
	require.NoError(t, o.Pending(2, func(e Entry) error {
		ids = append(ids, e.CommandID)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2}, ids)

	n, err := o.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestTruncateAckedUpTo(t *testing.T) {
	o, err := Open(t.TempDir())
	require.NoError(t, err)
	defer o.Close()

	for id := uint64(1); id <= 4; id++ {
		_, err := o.Stage(id, nil)
		require.NoError(t, err)
	}
	require.NoError(t, o.Ack(1))
	require.NoError(t, o.Ack(2))

	// capped at the ack offset
	n, err := o.TruncateAckedUpTo(10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = o.Get(1)
	assert.Error(t, err)
	assert.Equal(t, []uint64{3, 4}, pendingIDs(t, o))
}

func TestSyncedStageSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	o, err := Open(dir)
	require.NoError(t, err)
	for id := uint64(1); id <= 3; id++ {
		_, err := o.Stage(id, []byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, o.Sync())
	require.NoError(t, o.Close())

	o, err = Open(dir)
	require.NoError(t, err)
	defer o.Close()
	assert.Equal(t, []uint64{1, 2, 3}, pendingIDs(t, o))
}
