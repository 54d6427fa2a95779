// Package watcher arms fsnotify on the subset of a repository's .git
// metadata that indicates its working-tree status may have changed, and
// debounces the resulting flood of events into one rescan trigger per
// repository (spec.md §4.4), grounded in
// git-repository-watcher.cpp's QFileSystemWatcher + debounce-timer design
// and console/stream.go's fsnotify event-loop shape.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/vcserr"
)

// DebounceDelay coalesces a burst of filesystem events for the same
// repository into a single rescan trigger.
const DebounceDelay = 500 * time.Millisecond

// CleanupInterval is how often the watcher checks for watched paths whose
// backing file has disappeared (e.g. a ref file removed on branch delete).
const CleanupInterval = 30 * time.Second

// watchedLeafFiles are the .git files whose mtime changing indicates a
// status-relevant event, beyond the always-watched refs/ subtree
// (git-repository-watcher.cpp::getGitMetadataFiles).
var watchedLeafFiles = []string{"index", "HEAD", "ORIG_HEAD", "FETCH_HEAD", "MERGE_HEAD", "config"}

// skipDirNames are directory basenames the watcher never descends into
// when looking for new .git/refs entries to watch
// (git-repository-watcher.cpp::shouldWatchDirectory).
var skipDirNames = map[string]bool{
	"build": true, "dist": true, "node_modules": true, ".vscode": true,
	".idea": true, "target": true, "bin": true, "obj": true, ".vs": true,
	"__pycache__": true,
}

// Watcher observes one or more repository roots and invokes a callback,
// debounced, whenever a repository's .git metadata changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func(repoRoot string)

	// onWatchEvent, if set, is called once per raw relevant fsnotify event,
	// ahead of debouncing — the per-repository "watch events" counter
	// SPEC_FULL.md §12 names. Set with SetWatchEventObserver.
	onWatchEvent func(repoRoot string)

	mu       sync.Mutex
	repos    map[string]struct{}            // registered repo roots
	watched  map[string]string              // watched path -> owning repo root
	pending  map[string]struct{}            // repo roots awaiting debounce flush
	timer    *time.Timer
	stopped  bool
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Watcher. onChange is invoked (from an internal goroutine)
// at most once per debounce window per repository that changed.
func New(onChange func(repoRoot string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &vcserr.WatcherLimitHit{Cause: err}
	}
	w := &Watcher{
		fsw:      fsw,
		onChange: onChange,
		repos:    make(map[string]struct{}),
		watched:  make(map[string]string),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	go w.cleanupLoop()
	return w, nil
}

// SetWatchEventObserver registers fn to be called once per raw relevant
// filesystem event the watcher observes, for observability (SPEC_FULL.md
// §12). Mirrors internal/client's SetStatusChangedHandler-style optional
// callback wiring.
func (w *Watcher) SetWatchEventObserver(fn func(repoRoot string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onWatchEvent = fn
}

// AddRepository arms watches on repoRoot's git metadata. Repeated calls
// for an already-watched root are no-ops.
func (w *Watcher) AddRepository(repoRoot string) error {
	repoRoot = filepath.Clean(repoRoot)
	gitDir := filepath.Join(repoRoot, ".git")
	if info, err := os.Stat(gitDir); err != nil || !info.IsDir() {
		return &vcserr.RepositoryGone{RepoRoot: repoRoot}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.repos[repoRoot]; ok {
		return nil
	}
	w.repos[repoRoot] = struct{}{}

	for _, dir := range importantDirectories(repoRoot) {
		w.addWatchLocked(dir, repoRoot)
	}
	w.walkRefsLocked(filepath.Join(gitDir, "refs"), repoRoot)
	return nil
}

// RemoveRepository tears down every watch associated with repoRoot.
func (w *Watcher) RemoveRepository(repoRoot string) {
	repoRoot = filepath.Clean(repoRoot)
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.repos, repoRoot)
	for path, owner := range w.watched {
		if owner == repoRoot {
			_ = w.fsw.Remove(path)
			delete(w.watched, path)
		}
	}
	delete(w.pending, repoRoot)
}

// Close stops the watcher goroutines and releases OS resources.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.done) })
	return w.fsw.Close()
}

func importantDirectories(repoRoot string) []string {
	gitDir := filepath.Join(repoRoot, ".git")
	return []string{
		repoRoot,
		gitDir,
		filepath.Join(gitDir, "refs"),
		filepath.Join(gitDir, "refs", "heads"),
		filepath.Join(gitDir, "refs", "remotes"),
	}
}

// addWatchLocked arms a watch on dir if it exists, recording its owner.
// Callers must hold w.mu.
func (w *Watcher) addWatchLocked(dir, repoRoot string) {
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if _, already := w.watched[dir]; already {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		return
	}
	w.watched[dir] = repoRoot
}

// walkRefsLocked recursively arms watches under refsDir, skipping the
// directories shouldWatchDirectory would skip. Callers must hold w.mu.
func (w *Watcher) walkRefsLocked(refsDir, repoRoot string) {
	entries, err := os.ReadDir(refsDir)
	if err != nil {
		return
	}
	w.addWatchLocked(refsDir, repoRoot)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if skipDirNames[e.Name()] {
			continue
		}
		w.walkRefsLocked(filepath.Join(refsDir, e.Name()), repoRoot)
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case <-w.fsw.Errors:
			// Transient OS-level read errors are not actionable here; the
			// periodic cleanup loop re-arms watches under each repository's
			// refs/ tree (other dropped watches are not re-armed).
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := ev.Name
	owner, ok := w.watched[dir]
	if !ok {
		// The event may be on a leaf file inside a watched directory
		// (index, HEAD, a ref file); check by directory instead.
		owner, ok = w.watched[filepath.Dir(dir)]
	}
	if !ok {
		return
	}

	if !isRelevant(dir) {
		return
	}

	if w.onWatchEvent != nil {
		w.onWatchEvent(owner)
	}

	w.pending[owner] = struct{}{}
	w.scheduleFlushLocked()
}

// isRelevant filters events down to the leaf files spec.md §4.4 names,
// plus anything under a refs/ directory (new or deleted ref files).
func isRelevant(path string) bool {
	base := filepath.Base(path)
	for _, f := range watchedLeafFiles {
		if base == f {
			return true
		}
	}
	return filepath.Base(filepath.Dir(path)) == "refs" || base == "refs" ||
		containsRefsComponent(path)
}

func containsRefsComponent(path string) bool {
	for _, part := range splitPath(path) {
		if part == "refs" {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	var parts []string
	for path != "." && path != string(filepath.Separator) && path != "" {
		parts = append(parts, filepath.Base(path))
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}
	return parts
}

// scheduleFlushLocked (re)arms the single debounce timer shared across all
// repositories, matching git-repository-watcher.cpp's one-shot
// m_updateTimer. Callers must hold w.mu.
func (w *Watcher) scheduleFlushLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(DebounceDelay, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	roots := make([]string, 0, len(w.pending))
	for root := range w.pending {
		roots = append(roots, root)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for _, root := range roots {
		if w.onChange != nil {
			w.onChange(root)
		}
	}
}

func (w *Watcher) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.cleanupDeadWatches()
		}
	}
}

// cleanupDeadWatches drops watches whose backing path no longer exists and
// re-walks each registered repository's refs/ tree to pick up newly
// created branches, mirroring onCleanupPaths + checkAndAddNewDirectories.
func (w *Watcher) cleanupDeadWatches() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, owner := range w.watched {
		if _, err := os.Stat(path); err != nil {
			_ = w.fsw.Remove(path)
			delete(w.watched, path)
		}
		_ = owner
	}
	for root := range w.repos {
		w.walkRefsLocked(filepath.Join(root, ".git", "refs"), root)
	}
}
