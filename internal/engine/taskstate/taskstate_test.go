package taskstate

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/annotate"
	"github.com/uap-go/uap/internal/engine/heartbeat"
	"github.com/uap-go/uap/internal/engine/volatile"
	"github.com/uap-go/uap/internal/fscache"
)

func newTestRun(t *testing.T) *engine.Run {
	t.Helper()
	dir := t.TempDir()
	return engine.NewRun("align", "s1", dir)
}

func hashOf(t *testing.T, data []byte) string {
	t.Helper()
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestObserve_Pending(t *testing.T) {
	r := newTestRun(t)
	assert.Equal(t, Pending, Observe(r, fscache.New(0)))
}

func TestObserve_Queued(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, os.MkdirAll(r.OutputDir(), 0o755))
	require.NoError(t, heartbeat.WriteQueuedPing(r.QueuedPingPath(), heartbeat.QueuedPing{WrittenAt: time.Now()}))
	assert.Equal(t, Queued, Observe(r, fscache.New(0)))
}

func TestObserve_Executing(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, os.MkdirAll(r.OutputDir(), 0o755))
	require.NoError(t, os.WriteFile(r.ExecutingPingPath(), []byte("x"), 0o644))
	assert.Equal(t, Executing, Observe(r, fscache.New(0)))
}

func TestObserve_BadStale(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, os.MkdirAll(r.OutputDir(), 0o755))
	require.NoError(t, os.WriteFile(r.ExecutingPingPath(), []byte("x"), 0o644))
	old := time.Now().Add(-(heartbeat.PingTimeout + time.Minute))
	require.NoError(t, os.Chtimes(r.ExecutingPingPath(), old, old))
	assert.Equal(t, BadStale, Observe(r, fscache.New(0)))
}

func TestObserve_BadFromAnnotationError(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, os.MkdirAll(r.OutputDir(), 0o755))
	ann := annotate.FromRun(r, "alignment", "host", time.Now(), time.Now(), "", nil, assertError("boom"))
	require.NoError(t, annotate.Write(r.AnnotationPath(), ann))
	assert.Equal(t, Bad, Observe(r, fscache.New(0)))
}

func TestObserve_Finished(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, os.MkdirAll(r.OutputDir(), 0o755))
	outPath := filepath.Join(r.OutputDir(), "s1.bam")
	content := []byte("bamdata")
	require.NoError(t, os.WriteFile(outPath, content, 0o644))
	require.NoError(t, r.AddOutputFile("out/bam", "s1.bam", nil))
	r.KnownPaths[outPath].SHA256 = hashOf(t, content)

	ann := annotate.FromRun(r, "alignment", "host", time.Now(), time.Now(), "", nil, nil)
	require.NoError(t, annotate.Write(r.AnnotationPath(), ann))

	assert.Equal(t, Finished, Observe(r, fscache.New(0)))
}

func TestObserve_Changed(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, os.MkdirAll(r.OutputDir(), 0o755))
	outPath := filepath.Join(r.OutputDir(), "s1.bam")
	require.NoError(t, os.WriteFile(outPath, []byte("bamdata"), 0o644))
	require.NoError(t, r.AddOutputFile("out/bam", "s1.bam", nil))
	r.KnownPaths[outPath].SHA256 = "not-the-real-hash"

	ann := annotate.FromRun(r, "alignment", "host", time.Now(), time.Now(), "", nil, nil)
	require.NoError(t, annotate.Write(r.AnnotationPath(), ann))

	assert.Equal(t, Changed, Observe(r, fscache.New(0)))
}

func TestObserve_Volatilized(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, os.MkdirAll(r.OutputDir(), 0o755))
	outPath := filepath.Join(r.OutputDir(), "s1.bam")
	require.NoError(t, os.WriteFile(outPath, []byte("bamdata"), 0o644))
	require.NoError(t, r.AddOutputFile("out/bam", "s1.bam", nil))
	r.KnownPaths[outPath].SHA256 = hashOf(t, []byte("bamdata"))

	ann := annotate.FromRun(r, "alignment", "host", time.Now(), time.Now(), "", nil, nil)
	require.NoError(t, annotate.Write(r.AnnotationPath(), ann))

	require.NoError(t, volatile.Volatilize(outPath, r.KnownPaths[outPath], nil, nil))

	assert.Equal(t, Volatilized, Observe(r, fscache.New(0)))
}

// assertError is a trivial error constructor kept local to this test file.
type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func assertError(msg string) error { return assertErr{msg: msg} }
