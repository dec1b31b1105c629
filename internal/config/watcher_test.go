package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const signalTimeout = 3 * time.Second

// waitForChange reports whether a change signal arrived within timeout.
func waitForChange(w *Watcher, timeout time.Duration) bool {
	select {
	case <-w.Changes():
		return true
	case <-time.After(timeout):
		return false
	}
}

// drain discards any signal that is already pending.
func drain(w *Watcher) {
	select {
	case <-w.Changes():
	default:
	}
}

func startWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w := NewWatcher(path, zap.NewNop()).WithPollInterval(50 * time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_SignalsOnModify(t *testing.T) {
	path := writeConfig(t, "")
	w := startWatcher(t, path)
	assert.Equal(t, ModeNotify, w.Mode())

	require.NoError(t, os.WriteFile(path, []byte("[config]\npolling_interval = 7\n"), 0644))

	assert.True(t, waitForChange(w, signalTimeout), "expected change signal after write")
}

func TestWatcher_SignalsOnDeleteAndRecreate(t *testing.T) {
	path := writeConfig(t, "[config]\n")
	w := startWatcher(t, path)

	require.NoError(t, os.Remove(path))
	assert.True(t, waitForChange(w, signalTimeout), "expected change signal after delete")

	require.NoError(t, os.WriteFile(path, []byte("[[rule]]\nname = \"x\"\nprofile = \"balanced\"\n"), 0644))
	assert.True(t, waitForChange(w, signalTimeout), "expected change signal after recreate")
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	path := writeConfig(t, "")
	w := startWatcher(t, path)

	sibling := filepath.Join(filepath.Dir(path), "other.toml")
	require.NoError(t, os.WriteFile(sibling, []byte("x = 1\n"), 0644))

	assert.False(t, waitForChange(w, 500*time.Millisecond), "sibling writes must not signal")
}

func TestWatcher_PollFallback(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet")
	path := filepath.Join(dir, "config.toml")
	w := startWatcher(t, path)
	assert.Equal(t, ModePoll, w.Mode())

	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, []byte("[config]\n"), 0644))

	assert.True(t, waitForChange(w, signalTimeout), "expected change signal from polling")
}

func TestWatcher_FallsBackToPollingWhenDirectoryRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "power-rules")
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, []byte("[config]\n"), 0644))
	w := startWatcher(t, path)
	require.Equal(t, ModeNotify, w.Mode())

	require.NoError(t, os.RemoveAll(dir))
	assert.True(t, waitForChange(w, signalTimeout), "expected change signal after directory removal")
	assert.Eventually(t, func() bool { return w.Mode() == ModePoll }, signalTimeout, 10*time.Millisecond)
	drain(w)

	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, []byte("[config]\npolling_interval = 3\n"), 0644))
	assert.True(t, waitForChange(w, signalTimeout), "expected change signal after directory recreated")
}

func TestWatcher_CoalescesPendingSignals(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "config.toml"), zap.NewNop())

	w.Trigger()
	w.Trigger()
	w.Trigger()

	assert.True(t, waitForChange(w, 10*time.Millisecond))
	assert.False(t, waitForChange(w, 10*time.Millisecond), "capacity is one signal")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(writeConfig(t, ""), zap.NewNop())

	w.Stop() // never started
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background())) // already running
	w.Stop()
	w.Stop()
}

func TestWatcher_ContextCancelStopsGoroutine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher(writeConfig(t, ""), zap.NewNop())
	require.NoError(t, w.Start(ctx))

	cancel()
	w.Stop()

	drain(w)
	assert.Len(t, w.Changes(), 0)
}
