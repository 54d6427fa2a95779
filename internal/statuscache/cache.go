// Package statuscache holds the daemon's authoritative view of every
// registered repository: a repo root maps to the full {path → FileState}
// map most recently computed by internal/worker (spec.md §4.2). It is the
// single source of truth the bus server reads from; internal/daemon writes
// each worker scan into it. The watcher never touches it.
package statuscache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/vcserr"
)

// MaxRepositories bounds the number of simultaneously cached repositories
// (spec.md §4.2). Registration beyond the cap is refused, not evicted —
// an operator-visible CapacityExceeded rather than a silent LRU eviction.
const MaxRepositories = 100

// CleanupInterval is how often the periodic disk-existence sweep runs
// (spec.md §4.2: "Periodic cleanup (every 5 minutes) removes repositories
// whose root path no longer exists on disk").
const CleanupInterval = 5 * time.Minute

// RepositoryEntry is one repository's cached status: the full file map,
// including an entry at RepoRoot itself carrying the Worker-computed
// rollup (spec.md §3: "Contains an entry for the repo root itself whose
// state is the rollup").
type RepositoryEntry struct {
	RepoRoot    string
	Files       map[string]state.FileState
	LastUpdated time.Time
}

// RootState returns the repository's overall rollup status, i.e. its own
// entry in Files. Defaults to Normal if the root key is absent (an empty,
// freshly registered repository).
func (e RepositoryEntry) RootState() state.FileState {
	if fs, ok := e.Files[e.RepoRoot]; ok {
		return fs
	}
	return state.Normal
}

// Change describes one path whose FileState differed between two
// successive scans of the same repository, the payload behind
// RepositoryStatusChanged (spec.md §6).
type Change struct {
	Path     string
	OldState state.FileState
	NewState state.FileState
}

// Cache is the concurrency-safe repo-root → RepositoryEntry map. All
// methods are goroutine-safe; callers never see a half-updated entry.
type Cache struct {
	mu    sync.RWMutex
	repos map[string]*RepositoryEntry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{repos: make(map[string]*RepositoryEntry)}
}

// Register adds repoRoot to the cache with an empty status map, returning
// CapacityExceeded if the cache is already at MaxRepositories and repoRoot
// isn't already present (registration is idempotent).
func (c *Cache) Register(repoRoot string) error {
	repoRoot = filepath.Clean(repoRoot)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.repos[repoRoot]; ok {
		return nil
	}
	if len(c.repos) >= MaxRepositories {
		return &vcserr.CapacityExceeded{Limit: MaxRepositories}
	}
	c.repos[repoRoot] = &RepositoryEntry{
		RepoRoot:    repoRoot,
		Files:       make(map[string]state.FileState),
		LastUpdated: time.Now(),
	}
	return nil
}

// Unregister drops repoRoot from the cache entirely.
func (c *Cache) Unregister(repoRoot string) {
	repoRoot = filepath.Clean(repoRoot)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.repos, repoRoot)
}

// Reset replaces repoRoot's file map with newFiles — which must already
// carry the repo-root rollup entry internal/worker.Rollup computes — and
// returns the diff against the previous map (additions, removals, and
// state changes) so the caller can decide whether to emit
// RepositoryStatusChanged. A path present before but absent from newFiles
// is reported with NewState Unversioned, mirroring
// git-status-cache.cpp::resetVersion's deleted-file handling.
func (c *Cache) Reset(repoRoot string, newFiles map[string]state.FileState) ([]Change, error) {
	repoRoot = filepath.Clean(repoRoot)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.repos[repoRoot]
	if !ok {
		return nil, &vcserr.RepositoryGone{RepoRoot: repoRoot}
	}

	var changes []Change
	for path, oldState := range entry.Files {
		if newState, still := newFiles[path]; !still {
			changes = append(changes, Change{Path: path, OldState: oldState, NewState: state.Unversioned})
		} else if newState != oldState {
			changes = append(changes, Change{Path: path, OldState: oldState, NewState: newState})
		}
	}
	for path, newState := range newFiles {
		if _, existed := entry.Files[path]; !existed {
			changes = append(changes, Change{Path: path, OldState: state.Unversioned, NewState: newState})
		}
	}

	entry.Files = newFiles
	entry.LastUpdated = time.Now()

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// Get returns the FileState for an exact absolute path, routing to the
// longest registered repository root that prefixes it. Returns
// (Unversioned, false) if no repository owns the path.
func (c *Cache) Get(path string) (state.FileState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry := c.findOwningLocked(path)
	if entry == nil {
		return state.Unversioned, false
	}
	if fs, ok := entry.Files[filepath.Clean(path)]; ok {
		return fs, true
	}
	return state.Normal, true
}

// GetBatch resolves every path in paths in one call, each independently
// routed to its owning repository.
func (c *Cache) GetBatch(paths []string) map[string]state.FileState {
	out := make(map[string]state.FileState, len(paths))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range paths {
		entry := c.findOwningLocked(p)
		if entry == nil {
			continue
		}
		clean := filepath.Clean(p)
		if fs, ok := entry.Files[clean]; ok {
			out[p] = fs
		} else {
			out[p] = state.Normal
		}
	}
	return out
}

// GetRepository returns a snapshot copy of repoRoot's entry, or false if
// it's not registered.
func (c *Cache) GetRepository(repoRoot string) (RepositoryEntry, bool) {
	repoRoot = filepath.Clean(repoRoot)
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.repos[repoRoot]
	if !ok {
		return RepositoryEntry{}, false
	}
	filesCopy := make(map[string]state.FileState, len(entry.Files))
	for k, v := range entry.Files {
		filesCopy[k] = v
	}
	return RepositoryEntry{
		RepoRoot:    entry.RepoRoot,
		Files:       filesCopy,
		LastUpdated: entry.LastUpdated,
	}, true
}

// RegisteredRepositories returns every registered repo root, sorted.
func (c *Cache) RegisteredRepositories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.repos))
	for root := range c.repos {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// ClearRepository empties repoRoot's file map without unregistering it.
func (c *Cache) ClearRepository(repoRoot string) {
	repoRoot = filepath.Clean(repoRoot)
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.repos[repoRoot]; ok {
		entry.Files = make(map[string]state.FileState)
	}
}

// ClearAll empties every repository's file map, keeping registrations.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.repos {
		entry.Files = make(map[string]state.FileState)
	}
}

// CleanupStale unregisters every repository whose root path no longer
// exists on disk, returning the roots it dropped (spec.md §4.2: "Periodic
// cleanup (every 5 minutes) removes repositories whose root path no longer
// exists on disk"; spec.md §7's RepositoryGone recovery path). It is
// independent of access recency — an idle-but-present repository is never
// evicted, only a genuinely deleted one. Intended to be called both
// unconditionally on CleanupInterval and from the daemon's 30 s health
// tick when the cached-path threshold is exceeded (spec.md §4.5).
func (c *Cache) CleanupStale() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped []string
	for root := range c.repos {
		if _, err := os.Stat(root); err != nil && os.IsNotExist(err) {
			dropped = append(dropped, root)
			delete(c.repos, root)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Len reports the number of registered repositories.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.repos)
}

// TotalPaths sums the file-map size across every registered repository,
// the metric the daemon's health tick compares against its 50 000-path
// threshold (spec.md §4.5).
func (c *Cache) TotalPaths() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, entry := range c.repos {
		total += len(entry.Files)
	}
	return total
}

// findOwningLocked returns the entry whose RepoRoot is the longest prefix
// of path, or nil. Callers must hold c.mu (read or write).
func (c *Cache) findOwningLocked(path string) *RepositoryEntry {
	clean := filepath.Clean(path)
	var best *RepositoryEntry
	bestLen := -1
	for root, entry := range c.repos {
		if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
			continue
		}
		if len(root) > bestLen {
			best = entry
			bestLen = len(root)
		}
	}
	return best
}
