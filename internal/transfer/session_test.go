package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func senderConfig() Config {
	return Config{
		Mode:        ModeSender,
		Protocol:    ProtocolStream,
		PeerAddress: "127.0.0.1:9",
		Timeout:     time.Second,
	}.WithDefaultChunkSize()
}

func TestStoreLifecycleHappyPath(t *testing.T) {
	store := NewStore()
	id := store.Create(senderConfig())

	_, ok := store.Get(id)
	require.True(t, ok)

	_, cancel, err := store.Start(id, "/tmp/f", "127.0.0.1:9", 1000)
	require.Nil(t, err)
	require.NotNil(t, cancel)

	store.MarkTransferring(id)
	snap, _ := store.Get(id)
	assert.Equal(t, StatusTransferring, snap.Status)

	store.UpdateProgress(id, 400, 100.0, 6.0)
	snap, _ = store.Get(id)
	assert.Equal(t, int64(400), snap.BytesTransferred)

	// Progress is clamped to TotalBytes even if an engine reports over.
	store.UpdateProgress(id, 5000, 100.0, 0)
	snap, _ = store.Get(id)
	assert.Equal(t, int64(1000), snap.BytesTransferred)

	store.Complete(id, "deadbeef")
	snap, _ = store.Get(id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, int64(1000), snap.BytesTransferred)
	assert.True(t, snap.Status.Terminal())
}

func TestStoreCompleteWithUnknownTotalUsesMeasuredBytes(t *testing.T) {
	store := NewStore()
	id := store.Create(senderConfig())

	// A receiver with no negotiated size (e.g. UDP, no handshake) starts at
	// TotalBytes=0; Complete must not clobber the measured count to zero.
	_, _, err := store.Start(id, "/tmp/f", "peer", 0)
	require.Nil(t, err)
	store.UpdateProgress(id, 4096, 0, 0)

	store.Complete(id, "deadbeef")
	snap, _ := store.Get(id)
	assert.Equal(t, int64(4096), snap.BytesTransferred)
	assert.Equal(t, int64(4096), snap.TotalBytes)
}

func TestStoreSetTotalBytesAppliedOnComplete(t *testing.T) {
	store := NewStore()
	id := store.Create(senderConfig())

	_, _, err := store.Start(id, "/tmp/f", "peer", 0)
	require.Nil(t, err)
	store.SetTotalBytes(id, 10240)
	store.UpdateProgress(id, 10240, 0, 0)

	store.Complete(id, "deadbeef")
	snap, _ := store.Get(id)
	assert.Equal(t, int64(10240), snap.BytesTransferred)
	assert.Equal(t, int64(10240), snap.TotalBytes)
}

func TestStoreStartRejectsAlreadyActive(t *testing.T) {
	store := NewStore()
	id := store.Create(senderConfig())

	_, _, err := store.Start(id, "/tmp/f", "peer", 10)
	require.Nil(t, err)

	_, _, err = store.Start(id, "/tmp/f", "peer", 10)
	require.NotNil(t, err)
	assert.Equal(t, CodeConfigError, err.Code)
}

func TestStoreCancelRequiresActiveSession(t *testing.T) {
	store := NewStore()
	id := store.Create(senderConfig())

	_, err := store.Cancel(id)
	require.NotNil(t, err, "cancelling an Idle session must fail")

	_, _, startErr := store.Start(id, "/tmp/f", "peer", 10)
	require.Nil(t, startErr)

	bytesSoFar, err := store.Cancel(id)
	require.Nil(t, err)
	assert.Equal(t, int64(0), bytesSoFar)

	// Double-cancel: the flag is already set, and the session is not yet
	// terminal (CancelToTerminal hasn't run), so a second Cancel is
	// idempotent from the caller's perspective.
	_, err = store.Cancel(id)
	assert.Nil(t, err)

	store.CancelToTerminal(id)
	snap, _ := store.Get(id)
	assert.Equal(t, StatusCancelled, snap.Status)

	// Once terminal, a further cancel attempt must fail.
	_, err = store.Cancel(id)
	assert.NotNil(t, err)
}

func TestStoreFailIsTerminalAndMonotonic(t *testing.T) {
	store := NewStore()
	id := store.Create(senderConfig())
	_, _, _ = store.Start(id, "/tmp/f", "peer", 10)

	cause := New(CodeNetworkError, true, "boom", nil)
	store.Fail(id, cause)
	snap, _ := store.Get(id)
	assert.Equal(t, StatusErrored, snap.Status)
	assert.Equal(t, cause, snap.Err)

	// A terminal session must never be re-mutated by a later Complete call.
	store.Complete(id, "somechecksum")
	snap, _ = store.Get(id)
	assert.Equal(t, StatusErrored, snap.Status)
	assert.Empty(t, snap.Checksum)
}

func TestStorePurgeByAgeAndCount(t *testing.T) {
	store := NewStore()

	// Two sessions old enough to be purged by age.
	oldIDs := make([]string, 2)
	for i := range oldIDs {
		id := store.Create(senderConfig())
		_, _, _ = store.Start(id, "/tmp/f", "peer", 10)
		store.Complete(id, "x")
		oldIDs[i] = id
	}

	removed := store.Purge(-time.Second, 100) // negative maxAge: everything terminal is "older"
	assert.Equal(t, 2, removed)
	for _, id := range oldIDs {
		_, ok := store.Get(id)
		assert.False(t, ok)
	}
}

func TestStorePurgeCapsRetainedTerminalSet(t *testing.T) {
	store := NewStore()
	ids := make([]string, 5)
	for i := range ids {
		id := store.Create(senderConfig())
		_, _, _ = store.Start(id, "/tmp/f", "peer", 10)
		store.Complete(id, "x")
		ids[i] = id
		time.Sleep(time.Millisecond)
	}

	removed := store.Purge(time.Hour, 2)
	assert.Equal(t, 3, removed)
	assert.Len(t, store.ListTerminal(), 2)
}

func TestStoreListActiveExcludesTerminal(t *testing.T) {
	store := NewStore()
	activeID := store.Create(senderConfig())
	_, _, _ = store.Start(activeID, "/tmp/f", "peer", 10)

	doneID := store.Create(senderConfig())
	_, _, _ = store.Start(doneID, "/tmp/f", "peer", 10)
	store.Complete(doneID, "x")

	active := store.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, activeID, active[0].ID)
}
