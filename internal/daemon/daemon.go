// Package daemon wires the Status Cache, Repository Watcher, and Version
// Worker into the single long-lived service described by spec.md §4.5;
// internal/busif wraps a *Daemon to export it over D-Bus. Grounded in
// cmd/agentd/main.go's Agent struct (the teacher's top-level
// wire-everything-together type) and git-status-cache.cpp's
// register/unregister/cleanup lifecycle.
package daemon

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/events"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/statuscache"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/vcserr"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/watcher"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/worker"
)

// HealthTickInterval is how often the daemon checks cache size and runs
// cleanup (spec.md §4.5, §5).
const HealthTickInterval = 30 * time.Second

// HealthCacheThreshold is the total cached-path count that triggers a
// cleanup pass on the health tick.
const HealthCacheThreshold = 50000

// ShutdownGracePeriod bounds how long in-flight git subprocesses are
// awaited before the daemon gives up (spec.md §5).
const ShutdownGracePeriod = 3 * time.Second

// MetricsObserver receives per-repository watch/update event counts
// (SPEC_FULL.md §12, mirrored from
// GitRepositoryWatcher::m_watchEvents/m_updateEvents). *metrics.Registry
// satisfies this without internal/daemon importing internal/metrics.
type MetricsObserver interface {
	ObserveWatchEvent(repoRoot string)
	ObserveUpdateEvent(repoRoot string)
}

// Stats mirrors the minimum fields spec.md §6's GetServiceStatus must
// report.
type Stats struct {
	CacheSize               int
	RegisteredRepositories  int
	ServiceReady            bool
	ScanHits                int64
	ScanMisses              int64
}

// Daemon owns one Status Cache, one Watcher, and one Worker, and exposes
// the request/response + publish/subscribe surface internal/busif
// re-exports over D-Bus.
type Daemon struct {
	cache   *statuscache.Cache
	watch   *watcher.Watcher
	work    *worker.Worker
	bus     *events.Bus

	metricsMu sync.RWMutex
	metrics   MetricsObserver

	ctx    context.Context
	cancel context.CancelFunc

	// scans tracks every in-flight Worker.Scan goroutine so Close can bound
	// its wait for them (spec.md §5's cancellation policy: terminate and
	// await up to ShutdownGracePeriod).
	scans errgroup.Group
	// healthWg tracks only the health-tick loop, which outlives any single
	// scan and is awaited separately.
	healthWg sync.WaitGroup
	// cleanupWg tracks the 5-minute disk-existence sweep, a separate
	// cadence from the 30 s health tick.
	cleanupWg sync.WaitGroup

	mu    sync.Mutex
	ready bool
	hits  int64
	miss  int64
}

// New constructs a Daemon with its own cache, worker, and filesystem
// watcher, and starts its background health-tick loop. Call Close to
// release all resources.
func New() (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cache:  statuscache.New(),
		work:   worker.New(),
		bus:    events.New(),
		ctx:    ctx,
		cancel: cancel,
		ready:  true,
	}

	w, err := watcher.New(d.onRepositoryChanged)
	if err != nil {
		cancel()
		return nil, err
	}
	d.watch = w
	w.SetWatchEventObserver(d.observeWatchEvent)

	d.healthWg.Add(1)
	go d.healthLoop()

	d.cleanupWg.Add(1)
	go d.cleanupLoop()

	return d, nil
}

// Events returns the internal bus so internal/busif can re-publish
// StatusChanged/Discovered as D-Bus signals.
func (d *Daemon) Events() *events.Bus { return d.bus }

// SetMetricsObserver wires obs to receive per-repository watch/update
// event counts. Called after New, once the metrics registry exists
// (cmd/gitvcsd wires internal/metrics.Registry here).
func (d *Daemon) SetMetricsObserver(obs MetricsObserver) {
	d.metricsMu.Lock()
	defer d.metricsMu.Unlock()
	d.metrics = obs
}

func (d *Daemon) observeWatchEvent(repoRoot string) {
	d.metricsMu.RLock()
	obs := d.metrics
	d.metricsMu.RUnlock()
	if obs != nil {
		obs.ObserveWatchEvent(repoRoot)
	}
}

func (d *Daemon) observeUpdateEvent(repoRoot string) {
	d.metricsMu.RLock()
	obs := d.metrics
	d.metricsMu.RUnlock()
	if obs != nil {
		obs.ObserveUpdateEvent(repoRoot)
	}
}

// Close stops the health loop and watcher and releases resources. It
// does not wait for in-flight scans beyond ShutdownGracePeriod.
func (d *Daemon) Close() error {
	d.cancel()

	scansDone := make(chan struct{})
	go func() {
		d.scans.Wait()
		close(scansDone)
	}()
	select {
	case <-scansDone:
	case <-time.After(ShutdownGracePeriod):
		log.Printf("gitvcsd: shutdown grace period elapsed with scans still in flight")
	}

	d.healthWg.Wait()
	d.cleanupWg.Wait()
	return d.watch.Close()
}

// RegisterRepository cleans repoRoot, registers it in the cache and
// watcher, publishes Discovered, and kicks off an async scan. The path is
// not checked for being a repository: a failed watch is only logged and
// registration still succeeds. Returns
// false (not an error) on CapacityExceeded, matching the bus method's
// bool-return contract (spec.md §6).
func (d *Daemon) RegisterRepository(repoRoot string) bool {
	repoRoot = filepath.Clean(repoRoot)
	alreadyKnown := d.isRegistered(repoRoot)

	if err := d.cache.Register(repoRoot); err != nil {
		log.Printf("gitvcsd: register %s refused: %v", repoRoot, err)
		return false
	}
	if err := d.watch.AddRepository(repoRoot); err != nil {
		log.Printf("gitvcsd: watch %s failed: %v", repoRoot, err)
		// Registration still proceeds: the daemon can serve cached status
		// even if the live-refresh watch couldn't be armed.
	}
	if !alreadyKnown {
		d.bus.PublishDiscovered(events.Discovered{RepoRoot: repoRoot})
	}

	d.scans.Go(func() error {
		d.scanAndPublish(repoRoot)
		return nil
	})
	return true
}

// UnregisterRepository drops repoRoot from the cache and watcher without
// emitting an event (spec.md §6).
func (d *Daemon) UnregisterRepository(repoRoot string) bool {
	repoRoot = filepath.Clean(repoRoot)
	d.cache.Unregister(repoRoot)
	d.watch.RemoveRepository(repoRoot)
	return true
}

// RefreshRepository forces an async rescan of an already-registered
// repository.
func (d *Daemon) RefreshRepository(repoRoot string) bool {
	repoRoot = filepath.Clean(repoRoot)
	if !d.isRegistered(repoRoot) {
		return false
	}
	d.scans.Go(func() error {
		d.scanAndPublish(repoRoot)
		return nil
	})
	return true
}

// ClearRepositoryCache drops repoRoot's cached entries without
// rescanning (spec.md §6).
func (d *Daemon) ClearRepositoryCache(repoRoot string) bool {
	repoRoot = filepath.Clean(repoRoot)
	d.cache.ClearRepository(repoRoot)
	return true
}

// ClearAllResources drops every repository's cached entries, used on
// last-window-closed (spec.md §4.9, §6).
func (d *Daemon) ClearAllResources() bool {
	d.cache.ClearAll()
	return true
}

// GetFileStatuses is a pure cache read: missing paths resolve to
// Unversioned (spec.md §6).
func (d *Daemon) GetFileStatuses(paths []string) map[string]state.FileState {
	out := d.cache.GetBatch(paths)
	for _, p := range paths {
		if _, ok := out[p]; !ok {
			out[p] = state.Unversioned
		}
	}
	return out
}

// GetRepositoryStatus is a pure cache read of one repository's full
// snapshot.
func (d *Daemon) GetRepositoryStatus(repoRoot string) map[string]state.FileState {
	entry, ok := d.cache.GetRepository(filepath.Clean(repoRoot))
	if !ok {
		return map[string]state.FileState{}
	}
	return entry.Files
}

// GetRegisteredRepositories lists every registered repo root.
func (d *Daemon) GetRegisteredRepositories() []string {
	return d.cache.RegisteredRepositories()
}

// GetServiceStatus reports the minimum fields spec.md §6 requires.
func (d *Daemon) GetServiceStatus() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		CacheSize:              d.cache.TotalPaths(),
		RegisteredRepositories: d.cache.Len(),
		ServiceReady:           d.ready,
		ScanHits:               d.hits,
		ScanMisses:             d.miss,
	}
}

func (d *Daemon) isRegistered(repoRoot string) bool {
	_, ok := d.cache.GetRepository(repoRoot)
	return ok
}

// onRepositoryChanged is the Watcher's debounced callback: it asks the
// Worker to re-scan (spec.md §4.4's "correctness constraint" — the
// watcher itself never touches the cache or runs git).
func (d *Daemon) onRepositoryChanged(repoRoot string) {
	d.scans.Go(func() error {
		d.scanAndPublish(repoRoot)
		return nil
	})
}

// scanAndPublish runs one Worker scan and, on success, resets the cache
// and publishes the resulting diff. On GitInvocationFailure no change
// event is emitted, avoiding the flapping spec.md §7 warns against.
func (d *Daemon) scanAndPublish(repoRoot string) {
	scan, err := d.work.Scan(d.ctx, repoRoot)
	d.mu.Lock()
	if err != nil {
		d.miss++
	} else {
		d.hits++
	}
	d.mu.Unlock()
	if err != nil {
		log.Printf("gitvcsd: scan failed: %v", err)
		return
	}
	for _, skip := range scan.Skipped {
		log.Printf("gitvcsd: %v", skip)
	}

	changes, err := d.cache.Reset(repoRoot, scan.Files)
	if err != nil {
		if _, gone := err.(*vcserr.RepositoryGone); gone {
			return // unregistered mid-scan; nothing to publish
		}
		log.Printf("gitvcsd: cache reset failed for %s: %v", repoRoot, err)
		return
	}

	entry, _ := d.cache.GetRepository(repoRoot)
	payload := make([]statuscache.Change, len(changes))
	copy(payload, changes)
	d.bus.PublishStatusChanged(events.StatusChanged{
		RepoRoot:   repoRoot,
		Changes:    payload,
		RootStatus: entry.RootState(),
	})
	d.observeUpdateEvent(repoRoot)
}

// healthLoop runs the 30 s health tick: if total cached paths exceed
// HealthCacheThreshold, unregister repositories whose root no longer
// exists on disk (spec.md §4.5, §4.2).
func (d *Daemon) healthLoop() {
	defer d.healthWg.Done()
	ticker := time.NewTicker(HealthTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runHealthTick()
		}
	}
}

func (d *Daemon) runHealthTick() {
	total := d.cache.TotalPaths()
	stats := d.GetServiceStatus()
	log.Printf("gitvcsd: health tick: %d repositories, %d cached paths, %d hits, %d misses",
		stats.RegisteredRepositories, total, stats.ScanHits, stats.ScanMisses)
	if total <= HealthCacheThreshold {
		return
	}
	d.cleanupStaleRepositories("health tick")
}

// cleanupLoop runs statuscache's 5-minute disk-existence sweep
// unconditionally (spec.md §4.2), independent of the 30 s health tick's
// threshold-gated pass.
func (d *Daemon) cleanupLoop() {
	defer d.cleanupWg.Done()
	ticker := time.NewTicker(statuscache.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.cleanupStaleRepositories("periodic cleanup")
		}
	}
}

// cleanupStaleRepositories drops every repository whose root no longer
// exists on disk and unwatches it, logging under label for whichever
// caller (health tick or periodic cleanup) triggered the sweep.
func (d *Daemon) cleanupStaleRepositories(label string) {
	dropped := d.cache.CleanupStale()
	for _, root := range dropped {
		d.watch.RemoveRepository(root)
	}
	if len(dropped) > 0 {
		log.Printf("gitvcsd: %s cleanup dropped %d repositories with missing roots", label, len(dropped))
	}
}
