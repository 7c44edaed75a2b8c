package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	require.NoError(t, os.Chtimes(filepath.Dir(path), mtime, mtime))
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	now := time.Now()
	outputs := t.TempDir()
	status := t.TempDir()

	touch(t, filepath.Join(outputs, "old-run", "merged.docx"), 48*time.Hour, now)
	touch(t, filepath.Join(outputs, "new-run", "merged.docx"), time.Hour, now)
	touch(t, filepath.Join(status, "old-run", "status.json"), 30*time.Hour, now)
	touch(t, filepath.Join(status, "busy-run", "status.json"), 30*time.Hour, now)

	s := &Sweeper{
		Roots:  []string{outputs, status, filepath.Join(t.TempDir(), "missing")},
		MaxAge: 24 * time.Hour,
		Active: func(name string) bool { return name == "busy-run" },
	}
	n, err := s.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoDirExists(t, filepath.Join(outputs, "old-run"))
	assert.DirExists(t, filepath.Join(outputs, "new-run"))
	assert.NoDirExists(t, filepath.Join(status, "old-run"))
	assert.DirExists(t, filepath.Join(status, "busy-run"))
}

func TestRunStopsWithContext(t *testing.T) {
	now := time.Now()
	root := t.TempDir()
	touch(t, filepath.Join(root, "stale", "f"), 2*time.Hour, now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&Sweeper{Roots: []string{root}, MaxAge: time.Hour}).Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(root, "stale"))
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
