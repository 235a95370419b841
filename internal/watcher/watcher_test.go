package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
)

type changeCollector struct {
	mu   sync.Mutex
	dirs [][]string
}

func (c *changeCollector) handle(_ context.Context, packDirs []string) {
	c.mu.Lock()
	c.dirs = append(c.dirs, packDirs)
	c.mu.Unlock()
}

func (c *changeCollector) bursts() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.dirs...)
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant(filepath.Join("packs", "mech", manifest.FileName)))
	assert.True(t, relevant(filepath.Join("packs", "mech", "sounds", "keydown.wav")))
	assert.True(t, relevant(filepath.Join("packs", "mech", "sounds", "clack.OGG")))
	assert.True(t, relevant(filepath.Join("packs", "newpack")), "directories are relevant")

	assert.False(t, relevant(filepath.Join("packs", "mech", "pack.json.tmp")))
	assert.False(t, relevant(filepath.Join("packs", "mech", "notes.txt")))
}

func TestWatcherReportsPackDir(t *testing.T) {
	root := t.TempDir()
	packDir := filepath.Join(root, "mech")
	require.NoError(t, os.MkdirAll(filepath.Join(packDir, "sounds"), 0o755))

	collector := &changeCollector{}
	w, err := New(root, 50*time.Millisecond, collector.handle, logging.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(packDir, manifest.FileName), []byte("{}"), 0o644))

	require.Eventually(t, func() bool {
		return len(collector.bursts()) > 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Contains(t, collector.bursts()[0], packDir)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	packDir := filepath.Join(root, "mech")
	require.NoError(t, os.MkdirAll(filepath.Join(packDir, "sounds"), 0o755))

	collector := &changeCollector{}
	w, err := New(root, 150*time.Millisecond, collector.handle, logging.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		name := filepath.Join(packDir, "sounds", "keydown.wav")
		require.NoError(t, os.WriteFile(name, []byte{byte(i)}, 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(collector.bursts()) > 0
	}, 3*time.Second, 10*time.Millisecond)

	// The writes land well inside one debounce window.
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, collector.bursts(), 1)
}

func TestWatcherIgnoresTempFiles(t *testing.T) {
	root := t.TempDir()
	packDir := filepath.Join(root, "mech")
	require.NoError(t, os.MkdirAll(packDir, 0o755))

	collector := &changeCollector{}
	w, err := New(root, 50*time.Millisecond, collector.handle, logging.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(packDir, "pack.json.tmp"), []byte("{}"), 0o644))

	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, collector.bursts())
}

func TestWatcherMissingRoot(t *testing.T) {
	collector := &changeCollector{}
	w, err := New(filepath.Join(t.TempDir(), "absent"), 50*time.Millisecond, collector.handle, logging.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, w.Start(ctx), "a missing root is not a startup failure")
	assert.NoError(t, w.Stop())
}
