// Package metrics exposes the daemon's health/hit-miss statistics (spec.md
// §4.5, SPEC_FULL.md §12's "cache/watcher statistics surface") as
// Prometheus gauges and counters on a loopback HTTP listener, wiring the
// teacher's declared-but-unused github.com/prometheus/client_golang
// dependency into real use.
package metrics

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats is the snapshot metrics polls from the daemon on every collection
// tick. It mirrors daemon.Stats without importing internal/daemon, keeping
// this package usable standalone and in tests.
type Stats struct {
	CacheSize              int
	RegisteredRepositories int
	ServiceReady           bool
	ScanHits               int64
	ScanMisses             int64
}

// StatsSource supplies the current snapshot. *daemon.Daemon does not
// satisfy it directly (its GetServiceStatus returns daemon.Stats);
// cmd/gitvcsd adapts it with StatsFunc.
type StatsSource interface {
	GetServiceStatus() Stats
}

// StatsFunc adapts a plain function to StatsSource.
type StatsFunc func() Stats

// GetServiceStatus implements StatsSource.
func (f StatsFunc) GetServiceStatus() Stats { return f() }

// CollectInterval is how often the registry pulls a fresh snapshot from the
// daemon, matching the daemon's own health tick cadence.
const CollectInterval = 30 * time.Second

// Registry owns the Prometheus collectors and the background poller that
// keeps them current.
type Registry struct {
	reg    *prometheus.Registry
	source StatsSource
	logger *log.Logger

	cacheSize    prometheus.Gauge
	repositories prometheus.Gauge
	ready        prometheus.Gauge
	scanHits     prometheus.Counter
	scanMisses   prometheus.Counter

	watchEvents  *prometheus.CounterVec
	updateEvents *prometheus.CounterVec

	lastHits   int64
	lastMisses int64

	server     *http.Server
	listenAddr string
}

// New builds a Registry that polls source every CollectInterval. Call
// Serve to start the HTTP listener.
func New(source StatsSource, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg:    reg,
		source: source,
		logger: logger,
		cacheSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gitvcsd_cache_size",
			Help: "Total cached paths across all registered repositories.",
		}),
		repositories: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gitvcsd_registered_repositories",
			Help: "Number of repositories currently registered with the daemon.",
		}),
		ready: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gitvcsd_service_ready",
			Help: "1 if the daemon has completed startup, 0 otherwise.",
		}),
		scanHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gitvcsd_scan_hits_total",
			Help: "Number of Git status scans that completed successfully.",
		}),
		scanMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gitvcsd_scan_misses_total",
			Help: "Number of Git status scans that failed.",
		}),
		watchEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gitvcsd_watch_events_total",
			Help: "Filesystem change events observed per repository.",
		}, []string{"repo_root"}),
		updateEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gitvcsd_update_events_total",
			Help: "Status-change events published per repository.",
		}, []string{"repo_root"}),
	}
	return r
}

// ObserveWatchEvent increments the per-repository watch-event counter
// (SPEC_FULL.md §12's "per-repository watch/update event counters").
func (r *Registry) ObserveWatchEvent(repoRoot string) {
	r.watchEvents.WithLabelValues(repoRoot).Inc()
}

// ObserveUpdateEvent increments the per-repository update-event counter.
func (r *Registry) ObserveUpdateEvent(repoRoot string) {
	r.updateEvents.WithLabelValues(repoRoot).Inc()
}

// Collect pulls one snapshot from the source and updates the gauges. The
// two counters only ever move forward, so Collect adds the delta since the
// last observed cumulative value.
func (r *Registry) Collect() {
	snap := r.source.GetServiceStatus()
	r.cacheSize.Set(float64(snap.CacheSize))
	r.repositories.Set(float64(snap.RegisteredRepositories))
	if snap.ServiceReady {
		r.ready.Set(1)
	} else {
		r.ready.Set(0)
	}
	r.scanHits.Add(deltaSince(&r.lastHits, snap.ScanHits))
	r.scanMisses.Add(deltaSince(&r.lastMisses, snap.ScanMisses))
}

// deltaSince turns a monotonically increasing cumulative value into the
// increment since the last observation, since Prometheus Counters only
// support Add, not Set.
func deltaSince(last *int64, current int64) float64 {
	prev := *last
	*last = current
	if current < prev {
		return 0
	}
	return float64(current - prev)
}

// Run polls Collect every CollectInterval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(CollectInterval)
	defer ticker.Stop()
	r.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Collect()
		}
	}
}

// Serve starts the loopback HTTP listener at addr serving /metrics. It
// returns immediately; call Shutdown to stop it.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	r.server = &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.listenAddr = ln.Addr().String()
	go func() {
		if err := r.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.logger.Printf("metrics: server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the actual listen address after Serve has bound it,
// resolving a ":0" request to the ephemeral port the OS assigned.
func (r *Registry) Addr() string { return r.listenAddr }

// Shutdown stops the HTTP listener, if started.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
