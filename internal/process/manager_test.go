package process

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_PIDLifecycle(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	assert.Equal(t, filepath.Join(dir, PIDFilename), m.PIDFile())
	assert.Zero(t, m.ReadPID())
	assert.False(t, m.IsRunning())

	require.NoError(t, m.WritePID())
	assert.Equal(t, os.Getpid(), m.ReadPID())
	assert.True(t, m.IsRunning(), "the test process itself is alive")
	assert.True(t, m.WaitForService(time.Second))

	require.NoError(t, m.CleanupPID())
	assert.Zero(t, m.ReadPID())
	assert.NoError(t, m.CleanupPID(), "removing a missing pid file is fine")
}

func TestManager_StalePID(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	// Pids this large are never allocated on Linux.
	require.NoError(t, os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(1<<30)), 0600))

	assert.False(t, m.IsRunning())
	assert.NoFileExists(t, m.PIDFile(), "stale pid files are removed")
	assert.ErrorIs(t, m.Stop(time.Second), ErrNotRunning)
}

func TestManager_GarbagePID(t *testing.T) {
	m := NewManager(t.TempDir())

	require.NoError(t, os.WriteFile(m.PIDFile(), []byte("not-a-pid"), 0600))
	assert.Zero(t, m.ReadPID())

	require.NoError(t, os.WriteFile(m.PIDFile(), []byte("-5"), 0600))
	assert.Zero(t, m.ReadPID())
	assert.False(t, m.WaitForService(150*time.Millisecond))
}
