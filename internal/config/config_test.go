package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	conf := FromViper(New())

	assert.Equal(t, ":8080", conf.Addr)
	assert.Equal(t, 50, conf.HistoryCapacity)
	assert.Equal(t, 80*time.Millisecond, conf.DragEmitInterval)
	assert.Equal(t, 1200*time.Millisecond, conf.PresenceDebounce)
	assert.Equal(t, 10, conf.SnapshotKeep)
	require.NoError(t, conf.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLASSBOARD_ADDR", ":9090")
	t.Setenv("CLASSBOARD_HISTORY_CAPACITY", "7")
	t.Setenv("CLASSBOARD_DRAG_EMIT_INTERVAL", "120ms")

	conf := FromViper(New())

	assert.Equal(t, ":9090", conf.Addr)
	assert.Equal(t, 7, conf.HistoryCapacity)
	assert.Equal(t, 120*time.Millisecond, conf.DragEmitInterval)
}

func TestValidateRejectsNonPositive(t *testing.T) {
	conf := FromViper(New())
	conf.HistoryCapacity = 0

	err := conf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history_capacity: must be GT 0")
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CLASSBOARD_SNAPSHOT_KEEP=3\n"), 0o600))
	t.Setenv("CLASSBOARD_ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("CLASSBOARD_SNAPSHOT_KEEP") })

	conf, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, conf.SnapshotKeep)
}
