package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuedPing_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.queued.yaml")

	_, ok, err := ReadQueuedPing(path)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, WriteQueuedPing(path, QueuedPing{ClusterJobID: "123", WrittenAt: time.Now()}))

	ping, ok, err := ReadQueuedPing(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "123", ping.ClusterJobID)
}

func TestPreflightCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.executing.yaml")
	require.NoError(t, PreflightCheck(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	err := PreflightCheck(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestArmAndFinish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.executing.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := Arm(ctx, path, ExecutingPing{Host: "test-host", PID: 1})
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err, "Arm must write the ping file immediately")

	h.Stop()
	require.NoError(t, Finish(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMarkBad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.queued.yaml")
	require.NoError(t, WriteQueuedPing(path, QueuedPing{WrittenAt: time.Now()}))

	require.NoError(t, MarkBad(path, false))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".bad")
	assert.NoError(t, err)
}

func TestMarkBad_MissingPathIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	assert.NoError(t, MarkBad(path, false))
}

func TestIsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.executing.yaml")
	stale, err := IsStale(path)
	require.NoError(t, err)
	assert.False(t, stale, "a nonexistent ping is not stale")

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	old := time.Now().Add(-(PingTimeout + time.Minute))
	require.NoError(t, os.Chtimes(path, old, old))

	stale, err = IsStale(path)
	require.NoError(t, err)
	assert.True(t, stale)

	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))
	stale, err = IsStale(path)
	require.NoError(t, err)
	assert.False(t, stale)
}
