// Package events is the daemon's internal publish/subscribe broker,
// replacing the Qt signal/slot connections git-status-cache.cpp and
// git-repository-watcher.cpp use to notify the daemon of changes
// (spec.md §9's design notes call for this substitution). It carries only
// the two signals the bus interface exposes externally
// (RepositoryStatusChanged, RepositoryDiscovered) as plain structs;
// internal/busif is responsible for re-emitting them over D-Bus.
package events

import (
	"sync"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/statuscache"
)

// StatusChanged mirrors the RepositoryStatusChanged bus signal (spec.md §6):
// one repository's incremental per-path changes, plus its new root status.
type StatusChanged struct {
	RepoRoot   string
	Changes    []statuscache.Change
	RootStatus state.FileState
}

// Discovered mirrors the RepositoryDiscovered bus signal: a previously
// unknown repository root was just registered.
type Discovered struct {
	RepoRoot string
}

// Bus fans StatusChanged and Discovered events out to any number of
// subscribers. Publish never blocks on a slow subscriber for long: each
// subscriber gets its own bounded channel, and a full channel drops the
// event for that subscriber rather than stalling the publisher.
type Bus struct {
	mu            sync.RWMutex
	statusSubs    map[int]chan StatusChanged
	discoveredSub map[int]chan Discovered
	nextID        int
}

// subscriberBuffer bounds how many queued events a slow subscriber may
// lag behind before new events are dropped for it.
const subscriberBuffer = 64

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		statusSubs:    make(map[int]chan StatusChanged),
		discoveredSub: make(map[int]chan Discovered),
	}
}

// SubscribeStatusChanged registers a new subscriber and returns its
// channel plus an unsubscribe function.
func (b *Bus) SubscribeStatusChanged() (<-chan StatusChanged, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan StatusChanged, subscriberBuffer)
	b.statusSubs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.statusSubs[id]; ok {
			delete(b.statusSubs, id)
			close(c)
		}
	}
}

// SubscribeDiscovered registers a new subscriber and returns its channel
// plus an unsubscribe function.
func (b *Bus) SubscribeDiscovered() (<-chan Discovered, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Discovered, subscriberBuffer)
	b.discoveredSub[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.discoveredSub[id]; ok {
			delete(b.discoveredSub, id)
			close(c)
		}
	}
}

// PublishStatusChanged fans e out to every current subscriber.
func (b *Bus) PublishStatusChanged(e StatusChanged) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.statusSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

// PublishDiscovered fans e out to every current subscriber.
func (b *Bus) PublishDiscovered(e Discovered) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.discoveredSub {
		select {
		case ch <- e:
		default:
		}
	}
}
