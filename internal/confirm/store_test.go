package confirm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcpgateway/internal/gwerrors"
)

func TestCreateAndPeek(t *testing.T) {
	store := New()
	entry := store.Create("fs", "tools/call", "read_file", []byte(`{"name":"read_file"}`))

	peeked, err := store.Peek(entry.ID)
	require.NoError(t, err)
	require.Equal(t, "fs", peeked.ServerID)
	require.Equal(t, "read_file", peeked.ToolName)
}

func TestPeekNotFound(t *testing.T) {
	store := New()
	_, err := store.Peek("missing")
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	require.Equal(t, gwerrors.KindNotFound, gwErr.Kind)
}

func TestPeekExpiredRemovesEntry(t *testing.T) {
	store := New()
	entry := store.Create("fs", "tools/call", "read_file", nil)

	// Simulate 11 minutes of elapsed time (S6).
	store.mu.Lock()
	store.entries[entry.ID].CreatedAt = time.Now().Add(-11 * time.Minute)
	store.mu.Unlock()

	_, err := store.Peek(entry.ID)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	require.Equal(t, gwerrors.KindExpired, gwErr.Kind)

	_, err = store.Peek(entry.ID)
	require.Error(t, err, "expected entry to have been removed after expiry")
}

func TestRejectRemovesEntryAndNeverDispatches(t *testing.T) {
	store := New()
	entry := store.Create("fs", "tools/call", "delete_file", nil)

	rejected, err := store.Reject(entry.ID)
	require.NoError(t, err)
	require.Equal(t, entry.ID, rejected.ID)

	_, err = store.Peek(entry.ID)
	require.Error(t, err, "expected entry removed after rejection")
}

func TestRejectExpiredReportsExpired(t *testing.T) {
	store := New()
	entry := store.Create("fs", "tools/call", "delete_file", nil)

	store.mu.Lock()
	store.entries[entry.ID].CreatedAt = time.Now().Add(-TTL - time.Minute)
	store.mu.Unlock()

	_, err := store.Reject(entry.ID)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	require.Equal(t, gwerrors.KindExpired, gwErr.Kind)
}

func TestExpiresAtIsTenMinutesAfterCreation(t *testing.T) {
	store := New()
	entry := store.Create("fs", "tools/call", "read_file", nil)

	require.Equal(t, TTL, entry.ExpiresAt().Sub(entry.CreatedAt))
}
