package daemon

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
)

// withFakeGitOnPath prepends a directory containing a shell script named
// `git` to PATH for the duration of the test, so Worker.Scan exercises the
// daemon without depending on a real git binary or repo fixture.
func withFakeGitOnPath(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake git shim is a POSIX shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "git")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	oldPath := os.Getenv("PATH")
	require.NoError(t, os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath))
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
}

func mkGitRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "refs", "heads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	return root
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestRegisterRepositoryScansAndPublishes(t *testing.T) {
	withFakeGitOnPath(t, `printf 'M  a.txt\0'`)
	root := mkGitRepo(t)

	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	sub, unsub := d.Events().SubscribeStatusChanged()
	defer unsub()

	require.True(t, d.RegisterRepository(root))

	select {
	case ev := <-sub:
		require.Equal(t, root, ev.RepoRoot)
		require.Equal(t, state.LocallyModified, ev.RootStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive StatusChanged after registration")
	}

	statuses := d.GetFileStatuses([]string{filepath.Join(root, "a.txt")})
	require.Equal(t, state.LocallyModified, statuses[filepath.Join(root, "a.txt")])
}

func TestRegisterRepositoryEmitsDiscoveredOnce(t *testing.T) {
	withFakeGitOnPath(t, `printf ''`)
	root := mkGitRepo(t)

	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	discovered, unsub := d.Events().SubscribeDiscovered()
	defer unsub()

	require.True(t, d.RegisterRepository(root))
	select {
	case ev := <-discovered:
		require.Equal(t, root, ev.RepoRoot)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive Discovered on first registration")
	}

	// Re-registering the same root must not emit a second Discovered.
	require.True(t, d.RegisterRepository(root))
	select {
	case <-discovered:
		t.Fatal("Discovered must only fire once per repository")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnregisterRepositoryDropsCache(t *testing.T) {
	withFakeGitOnPath(t, `printf ''`)
	root := mkGitRepo(t)

	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	require.True(t, d.RegisterRepository(root))
	waitFor(t, time.Second, func() bool {
		_, ok := indexOf(d.GetRegisteredRepositories(), root)
		return ok
	})

	require.True(t, d.UnregisterRepository(root))
	_, ok := indexOf(d.GetRegisteredRepositories(), root)
	require.False(t, ok)
}

func TestGetFileStatusesDefaultsToUnversioned(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	out := d.GetFileStatuses([]string{"/nowhere/special.txt"})
	require.Equal(t, state.Unversioned, out["/nowhere/special.txt"])
}

func TestRefreshRepositoryRequiresPriorRegistration(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	require.False(t, d.RefreshRepository("/never/registered"))
}

func TestGetServiceStatusReportsReady(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	stats := d.GetServiceStatus()
	require.True(t, stats.ServiceReady)
	require.Equal(t, 0, stats.RegisteredRepositories)
}

type fakeMetricsObserver struct {
	mu     sync.Mutex
	watch  []string
	update []string
}

func (f *fakeMetricsObserver) ObserveWatchEvent(repoRoot string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watch = append(f.watch, repoRoot)
}

func (f *fakeMetricsObserver) ObserveUpdateEvent(repoRoot string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update = append(f.update, repoRoot)
}

func TestScanAndPublishReportsUpdateEventToMetricsObserver(t *testing.T) {
	withFakeGitOnPath(t, `printf 'M  a.txt\0'`)
	root := mkGitRepo(t)

	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	obs := &fakeMetricsObserver{}
	d.SetMetricsObserver(obs)

	require.True(t, d.RegisterRepository(root))

	waitFor(t, 2*time.Second, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.update) > 0
	})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, []string{root}, obs.update)
}

func indexOf(xs []string, want string) (int, bool) {
	for i, x := range xs {
		if x == want {
			return i, true
		}
	}
	return -1, false
}
