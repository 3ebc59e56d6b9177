package gekkofx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fx.toml")
	require.NoError(t, os.WriteFile(path, []byte("frames = 1\n"), 0o644))

	w, err := NewConfigWatcher(path, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("frames = 7\n"), 0o644))

	// Truncation may surface as its own write event carrying an empty file,
	// so wait for the final content.
	timeout := time.After(5 * time.Second)
	for frames := 0; frames != 7; {
		select {
		case cfg := <-w.Updates():
			frames = cfg.Frames
		case <-timeout:
			t.Fatal("no config update")
		}
	}

	require.NoError(t, os.WriteFile(path, []byte("frames = -1\n"), 0o644))
	select {
	case err := <-w.Errors():
		assert.ErrorIs(t, err, ErrInvalidConfig)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	_, open := <-w.Updates()
	assert.False(t, open)
}

func TestConfigWatcher_MissingDir(t *testing.T) {
	_, err := NewConfigWatcher(filepath.Join(t.TempDir(), "missing", "fx.toml"), nil)
	assert.Error(t, err)
}
