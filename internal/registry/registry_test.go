package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mcpgateway/internal/backend"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/mcpconfig"
)

func TestInsertRejectsDuplicateID(t *testing.T) {
	reg := New()
	record := NewRecord("fs", mcpconfig.ServerConfig{Command: "npx"}, "npx", nil, mcpconfig.RiskLow, false)

	require.NoError(t, reg.Insert("fs", record))

	err := reg.Insert("fs", record)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	require.Equal(t, gwerrors.KindConflict, gwErr.Kind)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	reg := New()
	_, err := reg.Get("missing")
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	require.Equal(t, gwerrors.KindNotFound, gwErr.Kind)
}

func TestRemoveThenGetIsNotFound(t *testing.T) {
	reg := New()
	record := NewRecord("fs", mcpconfig.ServerConfig{Command: "npx"}, "npx", nil, mcpconfig.RiskLow, false)
	require.NoError(t, reg.Insert("fs", record))

	reg.Remove("fs")

	_, err := reg.Get("fs")
	require.Error(t, err)
}

func TestListAndIDsSnapshotAllRecords(t *testing.T) {
	reg := New()
	for _, id := range []string{"a", "b", "c"} {
		record := NewRecord(id, mcpconfig.ServerConfig{Command: "npx"}, "npx", nil, mcpconfig.RiskLow, false)
		require.NoError(t, reg.Insert(id, record))
	}

	require.Len(t, reg.List(), 3)
	require.Len(t, reg.IDs(), 3)

	// Mutating the snapshot slice must not affect the registry.
	ids := reg.IDs()
	ids[0] = "mutated"
	_, err := reg.Get("a")
	require.NoError(t, err, "expected original record 'a' unaffected by snapshot mutation")
}

func TestRecordReadyTracksInitState(t *testing.T) {
	record := NewRecord("fs", mcpconfig.ServerConfig{Command: "npx"}, "npx", nil, mcpconfig.RiskLow, false)

	require.False(t, record.Ready())

	record.SetInitState(backend.StateInitialized)
	require.True(t, record.Ready())

	record.SetInitState(backend.StateTimeout)
	require.False(t, record.Ready())
}

func TestRecordPIDWithoutProcessIsZero(t *testing.T) {
	record := NewRecord("fs", mcpconfig.ServerConfig{Command: "npx"}, "npx", nil, mcpconfig.RiskLow, false)
	require.Equal(t, 0, record.PID())
}
