package connector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSyncModeRejectsReservedMode(t *testing.T) {
	var err = ValidateSyncMode("CSV", map[string]any{"sync_mode": "cdc"})
	require.Error(t, err)

	var syncErr *UnsupportedSyncModeError
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, "CSV", syncErr.ConnectorType)
	require.Equal(t, "cdc", syncErr.SyncMode)
}

func TestValidateSyncModeAcceptsImplementedModes(t *testing.T) {
	require.NoError(t, ValidateSyncMode("CSV", map[string]any{"sync_mode": "full_refresh"}))
	require.NoError(t, ValidateSyncMode("CSV", map[string]any{"sync_mode": "incremental"}))
}

func TestValidateSyncModeIgnoresAbsentParam(t *testing.T) {
	require.NoError(t, ValidateSyncMode("CSV", map[string]any{}))
}

func TestResolveAliasesPrefersCanonicalName(t *testing.T) {
	var out = ResolveAliases(map[string]any{"dbname": "a", "database": "b"})
	require.Equal(t, "b", out["database"])
	require.NotContains(t, out, "dbname")
}
