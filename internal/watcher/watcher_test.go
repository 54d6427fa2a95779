package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mkRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "refs", "heads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index"), []byte{}, 0o644))
	return root
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) onChange(repoRoot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, repoRoot)
}

func (r *recorder) waitForAny(t *testing.T, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.calls)
		r.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestAddRepositoryRejectsNonGitDir(t *testing.T) {
	w, err := New(func(string) {})
	require.NoError(t, err)
	defer w.Close()

	err = w.AddRepository(t.TempDir())
	require.Error(t, err)
}

func TestIndexWriteTriggersDebouncedCallback(t *testing.T) {
	root := mkRepo(t)
	rec := &recorder{}
	w, err := New(rec.onChange)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRepository(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index"), []byte("x"), 0o644))

	calls := rec.waitForAny(t, 2*time.Second)
	require.Len(t, calls, 1)
	require.Equal(t, filepath.Clean(root), calls[0])
}

func TestBurstOfEventsCollapsesToOneCallback(t *testing.T) {
	root := mkRepo(t)
	rec := &recorder{}
	w, err := New(rec.onChange)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRepository(root))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index"), []byte{byte(i)}, 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(DebounceDelay + 500*time.Millisecond)
	calls := rec.waitForAny(t, 10*time.Millisecond)
	require.Len(t, calls, 1, "a burst within the debounce window must collapse to a single callback")
}

func TestRemoveRepositoryStopsWatching(t *testing.T) {
	root := mkRepo(t)
	rec := &recorder{}
	w, err := New(rec.onChange)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRepository(root))
	w.RemoveRepository(root)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index"), []byte("x"), 0o644))
	time.Sleep(DebounceDelay + 300*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Empty(t, rec.calls)
}

func TestWatchEventObserverFiresPerRawEventAheadOfDebounce(t *testing.T) {
	root := mkRepo(t)
	rec := &recorder{}
	observed := &recorder{}
	w, err := New(rec.onChange)
	require.NoError(t, err)
	defer w.Close()
	w.SetWatchEventObserver(observed.onChange)

	require.NoError(t, w.AddRepository(root))

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index"), []byte{byte(i)}, 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	// The observer fires once per raw relevant event, independent of the
	// single debounced onChange callback the burst collapses to.
	time.Sleep(DebounceDelay + 500*time.Millisecond)
	observed.mu.Lock()
	defer observed.mu.Unlock()
	require.GreaterOrEqual(t, len(observed.calls), 3)
	for _, call := range observed.calls {
		require.Equal(t, filepath.Clean(root), call)
	}
}

func TestIrrelevantFileInGitDirIsIgnored(t *testing.T) {
	root := mkRepo(t)
	rec := &recorder{}
	w, err := New(rec.onChange)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddRepository(root))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "description"), []byte("x"), 0o644))

	time.Sleep(DebounceDelay + 300*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Empty(t, rec.calls)
}
