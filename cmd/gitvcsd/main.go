// Command gitvcsd is the Git version-control awareness daemon (spec.md
// §4.5): it owns the authoritative Status Cache, Repository Watcher, and
// Version Worker, and exports them over the session bus via internal/busif.
// Subcommand dispatch follows cmd/agentd/main.go's shape: a bare invocation
// runs the daemon, named subcommands print one-shot diagnostics against a
// freshly loaded config.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/busif"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/client"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/config"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/daemon"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/debugstream"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/metrics"
)

// Version is gitvcsd's release version.
const Version = "0.1.0"

const defaultConfigPath = "/etc/gitvcsd/config.yaml"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			runStatusCommand(os.Args[2:])
			return
		case "repos":
			runReposCommand(os.Args[2:])
			return
		case "version":
			fmt.Printf("gitvcsd version %s\n", Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}
	runDaemon()
}

func printHelp() {
	fmt.Println(`gitvcsd - Git version-control awareness daemon

Usage:
  gitvcsd [command] [options]

Commands:
  (none)       Run as daemon (default)
  status       Show daemon health and configuration
  repos        List currently registered repositories
  version      Show version information
  help         Show this help

Options:
  -config string  Path to config file (default "/etc/gitvcsd/config.yaml")
  -json           Output in JSON format (status, repos)`)
}

func outputJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// dialRunningDaemon loads cfg and connects a Bus Client to the already-running
// gitvcsd instance it describes. Subcommands use this rather than
// constructing their own daemon.Daemon, since they report on the live
// service's state, not a fresh one.
func dialRunningDaemon(configPath string) (*config.Config, *client.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	c := client.New(cfg.Bus.ServiceName, cfg.Bus.ObjectPath, nil)
	if err := c.Connect(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to gitvcsd on the session bus: %w", err)
	}
	return cfg, c, nil
}

func runStatusCommand(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	fs.Parse(args)

	cfg, c, err := dialRunningDaemon(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	stats, err := c.GetServiceStatus()
	if err != nil {
		log.Fatalf("GetServiceStatus failed: %v", err)
	}
	if *jsonOutput {
		outputJSON(map[string]any{
			"version":      Version,
			"bus_service":  cfg.Bus.ServiceName,
			"bus_path":     cfg.Bus.ObjectPath,
			"ready":        stats.ServiceReady,
			"cache_size":   stats.CacheSize,
			"repositories": stats.RegisteredRepositories,
		})
		return
	}
	fmt.Printf("gitvcsd status\n")
	fmt.Printf("==============\n")
	fmt.Printf("Version:      %s\n", Version)
	fmt.Printf("Bus service:  %s\n", cfg.Bus.ServiceName)
	fmt.Printf("Bus path:     %s\n", cfg.Bus.ObjectPath)
	fmt.Printf("Ready:        %v\n", stats.ServiceReady)
	fmt.Printf("Cache size:   %d\n", stats.CacheSize)
	fmt.Printf("Repositories: %d\n", stats.RegisteredRepositories)
}

func runReposCommand(args []string) {
	fs := flag.NewFlagSet("repos", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	fs.Parse(args)

	_, c, err := dialRunningDaemon(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	repos, err := c.GetRegisteredRepositories()
	if err != nil {
		log.Fatalf("GetRegisteredRepositories failed: %v", err)
	}
	if *jsonOutput {
		outputJSON(map[string]any{"repositories": repos})
		return
	}
	if len(repos) == 0 {
		fmt.Println("No repositories registered.")
		return
	}
	for _, r := range repos {
		fmt.Println(r)
	}
}

func runDaemon() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	d, err := daemon.New()
	if err != nil {
		log.Fatalf("failed to start daemon: %v", err)
	}

	srv, err := busif.NewServer(d, cfg.Bus.ServiceName, cfg.Bus.ObjectPath, nil)
	if err != nil {
		log.Fatalf("failed to export bus interface: %v", err)
	}

	metricsReg := metrics.New(metrics.StatsFunc(func() metrics.Stats {
		s := d.GetServiceStatus()
		return metrics.Stats{
			CacheSize:              s.CacheSize,
			RegisteredRepositories: s.RegisteredRepositories,
			ServiceReady:           s.ServiceReady,
			ScanHits:               s.ScanHits,
			ScanMisses:             s.ScanMisses,
		}
	}), nil)
	d.SetMetricsObserver(metricsReg)
	if err := metricsReg.Serve(cfg.Metrics.Listen); err != nil {
		log.Printf("metrics: failed to start listener on %s: %v", cfg.Metrics.Listen, err)
	}
	ctx, cancelMetrics := context.WithCancel(context.Background())
	go metricsReg.Run(ctx)

	var stream *debugstream.Broadcaster
	if cfg.DebugStream.Enabled {
		stream = debugstream.New(d.Events(), nil)
		if err := stream.Serve(cfg.DebugStream.Listen); err != nil {
			log.Printf("debugstream: failed to start listener on %s: %v", cfg.DebugStream.Listen, err)
		}
	}

	log.Printf("gitvcsd: listening on %s%s", cfg.Bus.ServiceName, cfg.Bus.ObjectPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("gitvcsd: shutting down")
	cancelMetrics()
	if stream != nil {
		stream.Close()
	}
	srv.Close()
	d.Close()
}
