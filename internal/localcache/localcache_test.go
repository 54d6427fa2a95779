package localcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
)

func TestGetMissSchedulesCoalescedFetch(t *testing.T) {
	var mu sync.Mutex
	var fetched []string
	c := New(50*time.Millisecond, time.Hour, 100, func(dir string) {
		mu.Lock()
		fetched = append(fetched, dir)
		mu.Unlock()
	})
	defer c.Close()

	hit, fs := c.Get("/repo/a/b/c.txt")
	assert.False(t, hit)
	assert.Equal(t, state.Unversioned, fs)

	// Second miss on a sibling in the same directory must not trigger a
	// second fetch while one is already outstanding.
	c.Get("/repo/a/b/d.txt")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fetched) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"/repo/a/b"}, fetched)
	mu.Unlock()
}

func TestGetHitWithinTTL(t *testing.T) {
	c := New(100*time.Millisecond, time.Hour, 100, func(string) {})
	defer c.Close()

	c.Update("/repo", map[string]state.FileState{"/repo/a.txt": state.LocallyModified})

	hit, fs := c.Get("/repo/a.txt")
	assert.True(t, hit)
	assert.Equal(t, state.LocallyModified, fs)
}

func TestGetMissAfterTTLExpires(t *testing.T) {
	c := New(20*time.Millisecond, time.Hour, 100, func(string) {})
	defer c.Close()

	c.Update("/repo", map[string]state.FileState{"/repo/a.txt": state.Added})
	time.Sleep(30 * time.Millisecond)

	hit, _ := c.Get("/repo/a.txt")
	assert.False(t, hit)
}

func TestUpdateClearsPendingForDirectory(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c := New(50*time.Millisecond, time.Hour, 100, func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	defer c.Close()

	c.Get("/repo/a/file.txt") // schedules fetch, marks /repo/a pending
	c.Update("/repo", map[string]state.FileState{"/repo/a/file.txt": state.Normal})

	// Pending cleared, so a fresh miss after TTL expiry schedules again.
	time.Sleep(60 * time.Millisecond)
	c.Get("/repo/a/other.txt")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
}

func TestClearRepositoryDropsOnlyItsEntries(t *testing.T) {
	c := New(time.Hour, time.Hour, 100, func(string) {})
	defer c.Close()

	c.Update("/repo1", map[string]state.FileState{"/repo1/a.txt": state.Added})
	c.Update("/repo2", map[string]state.FileState{"/repo2/b.txt": state.Added})

	c.ClearRepository("/repo1")
	assert.Equal(t, 1, c.Len())

	hit, _ := c.Get("/repo1/a.txt")
	assert.False(t, hit)
}

func TestClearAllEmptiesCache(t *testing.T) {
	c := New(time.Hour, time.Hour, 100, func(string) {})
	defer c.Close()
	c.Update("/repo", map[string]state.FileState{"/repo/a.txt": state.Added})
	c.ClearAll()
	assert.Equal(t, 0, c.Len())
}

func TestCleanupLoopEvictsExpiredEntries(t *testing.T) {
	c := New(10*time.Millisecond, 20*time.Millisecond, 100, func(string) {})
	defer c.Close()

	c.Update("/repo", map[string]state.FileState{"/repo/a.txt": state.Added})
	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
