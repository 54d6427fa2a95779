// Package lifecycle implements the host's window-plugin hook (spec.md
// §4.9): construct the Bus Client on the first window, register
// repositories as navigation visits new directories, and tear everything
// down when the last window closes.
package lifecycle

import (
	"log"
	"sync"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/client"
)

// Hook tracks open-window count and owns the single Bus Client shared by
// every window of the host process.
type Hook struct {
	mu          sync.Mutex
	openWindows int
	bus         *client.Client
	newClient   func() *client.Client
	logger      *log.Logger
}

// New returns a Hook that lazily builds its Bus Client with newClient on
// the first window open. newClient is a constructor rather than a client
// value because it is called again on every transition from zero to one
// open window; each client it returns is Connect()ed right away.
func New(newClient func() *client.Client, logger *log.Logger) *Hook {
	if logger == nil {
		logger = log.Default()
	}
	return &Hook{newClient: newClient, logger: logger}
}

// OnWindowOpened increments the open-window count, constructing and
// connecting the Bus Client on the transition from zero to one.
func (h *Hook) OnWindowOpened() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openWindows++
	if h.openWindows == 1 && h.bus == nil {
		h.bus = h.newClient()
		if err := h.bus.Connect(); err != nil {
			h.logger.Printf("lifecycle: initial bus connect failed, will retry: %v", err)
		}
	}
}

// OnWindowClosed decrements the open-window count. On the transition to
// zero it best-effort clears every daemon-side resource and tears down the
// client (spec.md §4.9: "on the last window closed").
func (h *Hook) OnWindowClosed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openWindows == 0 {
		return
	}
	h.openWindows--
	if h.openWindows > 0 {
		return
	}
	if h.bus == nil {
		return
	}
	if _, err := h.bus.ClearAllResources(); err != nil {
		h.logger.Printf("lifecycle: clear_all_resources on last-window-close failed: %v", err)
	}
	h.bus.Close()
	h.bus = nil
}

// OnLocationChanged registers dir as a repository candidate, enabling
// cross-repo discovery as the user navigates (spec.md §4.9). Safe to call
// before any window has opened; it is then a no-op.
func (h *Hook) OnLocationChanged(dir string) {
	h.mu.Lock()
	bus := h.bus
	h.mu.Unlock()
	if bus == nil {
		return
	}
	if _, err := bus.RegisterRepository(dir); err != nil {
		h.logger.Printf("lifecycle: register_repository(%s) failed: %v", dir, err)
	}
}

// OpenWindows reports the current tracked window count, for tests.
func (h *Hook) OpenWindows() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openWindows
}

// Client returns the Hook's current Bus Client, or nil if no window is
// open.
func (h *Hook) Client() *client.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bus
}
