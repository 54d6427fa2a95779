// Package emblem is the host-called badge provider: it answers
// emblem_for(path) from the Local Cache, lazily registering repositories on
// first sight (spec.md §4.8), grounded in git-emblem-plugin.cpp's
// call_once first-time-initialization and s_pathCache negative-result
// cache, with git-utils.cpp's isGitRepositoryRoot/isDirectoryEmpty probes
// reimplemented directly against the filesystem (no git subprocess on this
// hot path).
package emblem

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/localcache"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
)

// NegativePathCacheSize and NegativePathCacheTTL bound the per-process
// repo-root probe cache (spec.md §4.8 step 2: "≤ 1000 entries, 30 s
// expiry").
const (
	NegativePathCacheSize = 1000
	NegativePathCacheTTL  = 30 * time.Second
)

// EmptyDirDepthCap and EmptyDirFanoutCap are the performance caps on the
// Git-empty-directory probe (spec.md §4.8 step 3, §9's open question: tune,
// never remove).
const (
	EmptyDirDepthCap  = 3
	EmptyDirFanoutCap = 10
)

// RegisterFunc asks the daemon to register a newly discovered repository
// root, best-effort (spec.md §4.8 step 1 and step 2).
type RegisterFunc func(path string)

// Plugin answers badge queries for the host's icon-paint hot path. Every
// method is safe to call concurrently and never blocks on Git or the bus.
type Plugin struct {
	local    *localcache.Cache
	register RegisterFunc

	// pathCache maps a path to whether it was found to be a repository
	// root, short-circuiting repeated `.git` existence probes.
	pathCache *lru.LRU[string, bool]

	depthCap  int
	fanoutCap int

	firstCallOnce sync.Once
}

// New returns a Plugin backed by local for state lookups and register for
// lazy repository discovery.
func New(local *localcache.Cache, register RegisterFunc) *Plugin {
	return &Plugin{
		local:     local,
		register:  register,
		pathCache: lru.NewLRU[string, bool](NegativePathCacheSize, nil, NegativePathCacheTTL),
		depthCap:  EmptyDirDepthCap,
		fanoutCap: EmptyDirFanoutCap,
	}
}

// EmblemFor returns the badge-icon name for path, or "" for no badge. It
// never blocks: a cache miss schedules async work and returns "" for this
// paint, relying on the host to re-query on the next one (spec.md §4.8
// step 4, §5's non-blocking hot-path contract).
func (p *Plugin) EmblemFor(path string) string {
	path = filepath.Clean(path)

	p.firstCallOnce.Do(func() {
		if p.register != nil {
			go p.register(filepath.Dir(path))
		}
	})

	if !p.local.InsideKnownRepository(path) {
		if isRepo, ok := p.pathCache.Get(path); ok {
			if !isRepo {
				return ""
			}
			// Already known to be a repo root and already registered;
			// fall through to read its status from the local cache.
		} else if hasGitDir(path) {
			p.pathCache.Add(path, true)
			if p.register != nil {
				go p.register(path)
			}
			return ""
		} else {
			p.pathCache.Add(path, false)
			return ""
		}
	}

	_, fs := p.local.Get(path)
	icon := state.IconName(fs)
	if icon == "" {
		return ""
	}
	if isDirectoryEmpty(path, p.depthCap, p.fanoutCap) {
		return ""
	}
	return icon
}

// hasGitDir reports whether path/.git exists as either a directory (a
// normal repo) or a file (a worktree's gitdir pointer).
func hasGitDir(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

// isDirectoryEmpty reports whether path is Git-visible-empty: no files
// anywhere under it, only (possibly nested) empty directories, bounded by
// depthCap/fanoutCap for performance (git-utils.cpp::isDirectoryEmpty /
// isDirectoryEmptyRecursive). A non-directory path is never "empty".
func isDirectoryEmpty(path string, depthCap, fanoutCap int) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return dirEmptyRecursive(path, depthCap, fanoutCap)
}

func dirEmptyRecursive(path string, remainingDepth, fanoutCap int) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return true // a directory that vanished mid-probe reads as empty
	}
	if len(entries) == 0 {
		return true
	}
	if remainingDepth <= 0 {
		// Out of budget: assume non-empty rather than over-claim emptiness.
		return false
	}

	var subdirs []string
	for _, e := range entries {
		if !e.IsDir() {
			return false // any file at all means not Git-empty
		}
		subdirs = append(subdirs, filepath.Join(path, e.Name()))
	}
	if len(subdirs) > fanoutCap {
		return false
	}
	for _, sub := range subdirs {
		if !dirEmptyRecursive(sub, remainingDepth-1, fanoutCap) {
			return false
		}
	}
	return true
}
