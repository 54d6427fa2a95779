// Package config loads gitvcsd's YAML configuration the way the teacher's
// agentd loads its own: a typed struct tree, yaml.v3 unmarshal, defaults
// applied post-unmarshal, nothing here governs Git invocation semantics —
// those are fixed by spec.md §6, not configurable.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of gitvcsd's configuration tree.
type Config struct {
	Bus         BusConfig         `yaml:"bus"`
	Cache       CacheConfig       `yaml:"cache"`
	Worker      WorkerConfig      `yaml:"worker"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	LocalCache  LocalCacheConfig  `yaml:"localcache"`
	Emblem      EmblemConfig      `yaml:"emblem"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	DebugStream DebugStreamConfig `yaml:"debugstream"`
}

// BusConfig names the D-Bus identity gitvcsd exports (spec.md §6).
type BusConfig struct {
	ServiceName string `yaml:"service_name"`
	ObjectPath  string `yaml:"object_path"`
}

// CacheConfig governs internal/statuscache.
type CacheConfig struct {
	MaxRepositories    int `yaml:"max_repositories"`
	CleanupIntervalMs  int `yaml:"cleanup_interval_ms"`
	MaxCachedPaths     int `yaml:"max_cached_paths"`
}

// CleanupInterval is CleanupIntervalMs as a time.Duration.
func (c CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

// WorkerConfig governs internal/worker.
type WorkerConfig struct {
	GitBinary       string `yaml:"git_binary"`
	ScanTimeoutMs   int    `yaml:"scan_timeout_ms"`
	ShutdownGraceMs int    `yaml:"shutdown_grace_ms"`
}

func (w WorkerConfig) ScanTimeout() time.Duration {
	return time.Duration(w.ScanTimeoutMs) * time.Millisecond
}

func (w WorkerConfig) ShutdownGrace() time.Duration {
	return time.Duration(w.ShutdownGraceMs) * time.Millisecond
}

// WatcherConfig governs internal/watcher.
type WatcherConfig struct {
	DebounceMs  int      `yaml:"debounce_ms"`
	GCIntervalMs int     `yaml:"gc_interval_ms"`
	IgnoredDirs []string `yaml:"ignored_dirs"`
}

func (w WatcherConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

func (w WatcherConfig) GCInterval() time.Duration {
	return time.Duration(w.GCIntervalMs) * time.Millisecond
}

// LocalCacheConfig governs internal/localcache, the extension-side cache.
type LocalCacheConfig struct {
	TTLMs             int `yaml:"ttl_ms"`
	CleanupIntervalMs int `yaml:"cleanup_interval_ms"`
	MaxCachedPaths    int `yaml:"max_cached_paths"`
}

func (l LocalCacheConfig) TTL() time.Duration {
	return time.Duration(l.TTLMs) * time.Millisecond
}

func (l LocalCacheConfig) CleanupInterval() time.Duration {
	return time.Duration(l.CleanupIntervalMs) * time.Millisecond
}

// EmblemConfig governs internal/emblem.
type EmblemConfig struct {
	NegativePathCacheSize   int `yaml:"negative_path_cache_size"`
	NegativePathCacheTTLMs  int `yaml:"negative_path_cache_ttl_ms"`
	EmptyDirDepthCap        int `yaml:"empty_dir_depth_cap"`
	EmptyDirFanoutCap       int `yaml:"empty_dir_fanout_cap"`
}

func (e EmblemConfig) NegativePathCacheTTL() time.Duration {
	return time.Duration(e.NegativePathCacheTTLMs) * time.Millisecond
}

// MetricsConfig governs internal/metrics's Prometheus exporter.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DebugStreamConfig governs internal/debugstream's optional websocket feed.
type DebugStreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration gitvcsd runs with when no config file
// is present, matching the values documented alongside this type.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			ServiceName: "org.deepin.FileManager.Git",
			ObjectPath:  "/org/deepin/filemanager/git",
		},
		Cache: CacheConfig{
			MaxRepositories:   100,
			CleanupIntervalMs: 300000,
			MaxCachedPaths:    50000,
		},
		Worker: WorkerConfig{
			GitBinary:       "git",
			ScanTimeoutMs:   10000,
			ShutdownGraceMs: 3000,
		},
		Watcher: WatcherConfig{
			DebounceMs:   500,
			GCIntervalMs: 30000,
			IgnoredDirs:  []string{"build", "dist", "node_modules", "target", "bin", "obj", "__pycache__", ".vscode", ".idea"},
		},
		LocalCache: LocalCacheConfig{
			TTLMs:             100,
			CleanupIntervalMs: 5000,
			MaxCachedPaths:    10000,
		},
		Emblem: EmblemConfig{
			NegativePathCacheSize:  1000,
			NegativePathCacheTTLMs: 30000,
			EmptyDirDepthCap:       3,
			EmptyDirFanoutCap:      10,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9469",
		},
		DebugStream: DebugStreamConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9470",
		},
	}
}

// Load reads and unmarshals a YAML config file at path, filling any field
// left zero by the file with Default()'s value. A missing file is not an
// error: Load returns Default() unchanged, matching the bus binaries'
// no-config-file-needed-to-start posture.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in any field the file left at its zero value,
// mirroring agentd's LoadConfig post-unmarshal defaulting pass.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Bus.ServiceName == "" {
		cfg.Bus.ServiceName = d.Bus.ServiceName
	}
	if cfg.Bus.ObjectPath == "" {
		cfg.Bus.ObjectPath = d.Bus.ObjectPath
	}
	if cfg.Cache.MaxRepositories == 0 {
		cfg.Cache.MaxRepositories = d.Cache.MaxRepositories
	}
	if cfg.Cache.CleanupIntervalMs == 0 {
		cfg.Cache.CleanupIntervalMs = d.Cache.CleanupIntervalMs
	}
	if cfg.Cache.MaxCachedPaths == 0 {
		cfg.Cache.MaxCachedPaths = d.Cache.MaxCachedPaths
	}
	if cfg.Worker.GitBinary == "" {
		cfg.Worker.GitBinary = d.Worker.GitBinary
	}
	if cfg.Worker.ScanTimeoutMs == 0 {
		cfg.Worker.ScanTimeoutMs = d.Worker.ScanTimeoutMs
	}
	if cfg.Worker.ShutdownGraceMs == 0 {
		cfg.Worker.ShutdownGraceMs = d.Worker.ShutdownGraceMs
	}
	if cfg.Watcher.DebounceMs == 0 {
		cfg.Watcher.DebounceMs = d.Watcher.DebounceMs
	}
	if cfg.Watcher.GCIntervalMs == 0 {
		cfg.Watcher.GCIntervalMs = d.Watcher.GCIntervalMs
	}
	if len(cfg.Watcher.IgnoredDirs) == 0 {
		cfg.Watcher.IgnoredDirs = d.Watcher.IgnoredDirs
	}
	if cfg.LocalCache.TTLMs == 0 {
		cfg.LocalCache.TTLMs = d.LocalCache.TTLMs
	}
	if cfg.LocalCache.CleanupIntervalMs == 0 {
		cfg.LocalCache.CleanupIntervalMs = d.LocalCache.CleanupIntervalMs
	}
	if cfg.LocalCache.MaxCachedPaths == 0 {
		cfg.LocalCache.MaxCachedPaths = d.LocalCache.MaxCachedPaths
	}
	if cfg.Emblem.NegativePathCacheSize == 0 {
		cfg.Emblem.NegativePathCacheSize = d.Emblem.NegativePathCacheSize
	}
	if cfg.Emblem.NegativePathCacheTTLMs == 0 {
		cfg.Emblem.NegativePathCacheTTLMs = d.Emblem.NegativePathCacheTTLMs
	}
	if cfg.Emblem.EmptyDirDepthCap == 0 {
		cfg.Emblem.EmptyDirDepthCap = d.Emblem.EmptyDirDepthCap
	}
	if cfg.Emblem.EmptyDirFanoutCap == 0 {
		cfg.Emblem.EmptyDirFanoutCap = d.Emblem.EmptyDirFanoutCap
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = d.Metrics.Listen
	}
	if cfg.DebugStream.Listen == "" {
		cfg.DebugStream.Listen = d.DebugStream.Listen
	}
}
