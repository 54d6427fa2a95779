// Command gitvcs-emblemctl wires internal/client and internal/emblem
// together exactly as a host file manager's extension would, without
// needing the host process (SPEC_FULL.md §10.1). It is a manual-test tool:
// point it at one or more paths and it prints the badge icon each would
// receive, driving the same lazy-registration and local-cache plumbing the
// real extension relies on.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/client"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/emblem"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/localcache"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
)

const defaultServiceName = "org.deepin.FileManager.Git"
const defaultObjectPath = "/org/deepin/filemanager/git"

// settleWait bounds how long this one-shot CLI waits for an async
// registration + fetch to land in the local cache before giving up and
// reporting whatever EmblemFor currently returns.
const settleWait = 500 * time.Millisecond

func main() {
	serviceName := flag.String("service", defaultServiceName, "gitvcsd bus service name")
	objectPath := flag.String("object-path", defaultObjectPath, "gitvcsd bus object path")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] path [path...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Looks up the emblem badge gitvcsd would paint for each path,")
		fmt.Fprintln(os.Stderr, "connecting to a running gitvcsd over the session bus.")
		flag.PrintDefaults()
	}
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(*serviceName, *objectPath, log.New(os.Stderr, "", log.LstdFlags))
	if err := c.Connect(); err != nil {
		log.Fatalf("gitvcs-emblemctl: failed to connect to gitvcsd: %v", err)
	}
	defer c.Close()

	local := localcache.New(localcache.DefaultTTL, localcache.DefaultCleanupInterval, localcache.DefaultMaxPaths,
		func(dir string) { c.GetFileStatusesAsync([]string{dir}) })
	defer local.Close()

	c.SetStatusChangedHandler(func(repoRoot string, changes map[string]state.FileState) {
		local.Update(repoRoot, changes)
	})
	c.SetFileStatusesReadyHandler(func(statuses map[string]state.FileState) {
		local.Update("", statuses)
	})

	plugin := emblem.New(local, func(path string) {
		if _, err := c.RegisterRepository(path); err != nil {
			log.Printf("gitvcs-emblemctl: register %s: %v", path, err)
		}
	})

	for _, p := range paths {
		icon := plugin.EmblemFor(p)
		if icon == "" {
			// The first lookup of a path almost always misses: registration
			// and the initial scan are async. Give them one chance to land
			// before reporting a final answer.
			time.Sleep(settleWait)
			icon = plugin.EmblemFor(p)
		}
		if icon == "" {
			fmt.Printf("%s\t(no badge)\n", p)
			continue
		}
		fmt.Printf("%s\t%s\n", p, icon)
	}
}
