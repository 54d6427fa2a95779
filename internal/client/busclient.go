// Package client is the in-extension stub for talking to gitvcsd over the
// session bus: reconnection, sync/async calls, signal subscription, and
// variant-to-typed conversion (spec.md §4.6). Grounded in ws/client.go's
// mutex-guarded connection handle, done-channel shutdown, and
// goroutine-driven reconnect loop, rewired from a websocket dial onto a
// godbus session-bus proxy.
package client

import (
	"log"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/busif"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/vcserr"
)

// ReconnectInterval is how often Client retries after losing the daemon's
// bus name ownership or failing an initial connect (spec.md §4.6, §5).
const ReconnectInterval = 5 * time.Second

// StatusChangedHandler receives a decoded RepositoryStatusChanged signal.
type StatusChangedHandler func(repoRoot string, changes map[string]state.FileState)

// DiscoveredHandler receives a decoded RepositoryDiscovered signal.
type DiscoveredHandler func(repoRoot string)

// FileStatusesReadyHandler receives the result of a prior
// GetFileStatusesAsync call.
type FileStatusesReadyHandler func(statuses map[string]state.FileState)

// Client maintains a proxy to the daemon's bus interface, reconnecting on a
// fixed retry timer whenever the connection or the daemon's name ownership
// is lost.
type Client struct {
	serviceName string
	objectPath  dbus.ObjectPath
	logger      *log.Logger

	mu          sync.Mutex
	conn        *dbus.Conn
	obj         dbus.BusObject
	connected   bool
	reconnecting bool
	done        chan struct{}

	onStatusChanged     StatusChangedHandler
	onDiscovered        DiscoveredHandler
	onFileStatusesReady FileStatusesReadyHandler
}

// New returns a disconnected Client. Call Connect to establish the bus
// session; failed or lost connections retry automatically every
// ReconnectInterval until Close is called.
func New(serviceName, objectPath string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		serviceName: serviceName,
		objectPath:  dbus.ObjectPath(objectPath),
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// SetStatusChangedHandler registers the callback invoked on every decoded
// RepositoryStatusChanged signal.
func (c *Client) SetStatusChangedHandler(h StatusChangedHandler) { c.onStatusChanged = h }

// SetDiscoveredHandler registers the callback invoked on every decoded
// RepositoryDiscovered signal.
func (c *Client) SetDiscoveredHandler(h DiscoveredHandler) { c.onDiscovered = h }

// SetFileStatusesReadyHandler registers the callback invoked when an async
// fetch started by GetFileStatusesAsync completes.
func (c *Client) SetFileStatusesReadyHandler(h FileStatusesReadyHandler) { c.onFileStatusesReady = h }

// Connect dials the session bus, binds the proxy object, and subscribes to
// both published signals. On failure it arms the reconnect timer and
// returns a BusUnavailable error.
func (c *Client) Connect() error {
	conn, err := dbus.SessionBus()
	if err != nil {
		c.scheduleReconnect()
		return &vcserr.BusUnavailable{Cause: err}
	}

	matchArgs := []dbus.MatchOption{
		dbus.WithMatchObjectPath(c.objectPath),
		dbus.WithMatchInterface(busif.InterfaceName),
	}
	if err := conn.AddMatchSignal(matchArgs...); err != nil {
		conn.Close()
		c.scheduleReconnect()
		return &vcserr.BusUnavailable{Cause: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.obj = conn.Object(c.serviceName, c.objectPath)
	c.connected = true
	c.reconnecting = false
	c.mu.Unlock()

	go c.readSignals(conn)
	return nil
}

// Close stops the reconnect loop and releases the bus connection.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// Connected reports whether a bus session is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) readSignals(conn *dbus.Conn) {
	ch := make(chan *dbus.Signal, 32)
	conn.Signal(ch)
	defer conn.RemoveSignal(ch)

	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-ch:
			if !ok {
				c.markDisconnected()
				return
			}
			c.handleSignal(sig)
		}
	}
}

func (c *Client) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case busif.InterfaceName + ".RepositoryStatusChanged":
		if len(sig.Body) != 2 {
			return
		}
		root, ok := sig.Body[0].(string)
		if !ok {
			return
		}
		raw, ok := sig.Body[1].(map[string]int32)
		if !ok {
			return
		}
		if c.onStatusChanged != nil {
			c.onStatusChanged(root, decodeStates(raw))
		}
	case busif.InterfaceName + ".RepositoryDiscovered":
		if len(sig.Body) != 1 {
			return
		}
		root, ok := sig.Body[0].(string)
		if !ok {
			return
		}
		if c.onDiscovered != nil {
			c.onDiscovered(root)
		}
	}
}

func decodeStates(raw map[string]int32) map[string]state.FileState {
	out := make(map[string]state.FileState, len(raw))
	for p, v := range raw {
		out[p] = state.FileState(v)
	}
	return out
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.scheduleReconnect()
}

// scheduleReconnect arms a single background retry loop; concurrent calls
// collapse into the same loop (mirrors ws/client.go's reconnecting guard).
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(ReconnectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				if err := c.Connect(); err == nil {
					c.logger.Printf("busclient: reconnected")
					return
				}
			}
		}
	}()
}

// call invokes method on the daemon object and stores the reply into dest.
// On any bus-level failure it marks the client disconnected (arming a
// reconnect) and returns BusUnavailable.
func (c *Client) call(method string, dest interface{}, args ...interface{}) error {
	c.mu.Lock()
	obj := c.obj
	connected := c.connected
	c.mu.Unlock()
	if !connected || obj == nil {
		return &vcserr.BusUnavailable{}
	}

	call := obj.Call(busif.InterfaceName+"."+method, 0, args...)
	if call.Err != nil {
		c.markDisconnected()
		return &vcserr.BusUnavailable{Cause: call.Err}
	}
	if dest != nil {
		if err := call.Store(dest); err != nil {
			return &vcserr.BusUnavailable{Cause: err}
		}
	}
	return nil
}

// RegisterRepository is a synchronous call; spec.md §5 restricts
// synchronous bus calls to non-UI paths like this one.
func (c *Client) RegisterRepository(path string) (bool, error) {
	var ok bool
	err := c.call("RegisterRepository", &ok, path)
	return ok, err
}

func (c *Client) UnregisterRepository(path string) (bool, error) {
	var ok bool
	err := c.call("UnregisterRepository", &ok, path)
	return ok, err
}

func (c *Client) GetFileStatuses(paths []string) (map[string]state.FileState, error) {
	var raw map[string]int32
	if err := c.call("GetFileStatuses", &raw, paths); err != nil {
		return nil, err
	}
	return decodeStates(raw), nil
}

// GetFileStatusesAsync returns immediately; the result arrives via the
// FileStatusesReady handler set with SetFileStatusesReadyHandler (spec.md
// §4.6's async-fetch contract).
func (c *Client) GetFileStatusesAsync(paths []string) {
	go func() {
		statuses, err := c.GetFileStatuses(paths)
		if err != nil {
			return
		}
		if c.onFileStatusesReady != nil {
			c.onFileStatusesReady(statuses)
		}
	}()
}

func (c *Client) GetRepositoryStatus(path string) (map[string]state.FileState, error) {
	var raw map[string]int32
	if err := c.call("GetRepositoryStatus", &raw, path); err != nil {
		return nil, err
	}
	return decodeStates(raw), nil
}

func (c *Client) RefreshRepository(path string) (bool, error) {
	var ok bool
	err := c.call("RefreshRepository", &ok, path)
	return ok, err
}

func (c *Client) ClearRepositoryCache(path string) (bool, error) {
	var ok bool
	err := c.call("ClearRepositoryCache", &ok, path)
	return ok, err
}

func (c *Client) GetRegisteredRepositories() ([]string, error) {
	var repos []string
	err := c.call("GetRegisteredRepositories", &repos)
	return repos, err
}

// ServiceStatus mirrors GetServiceStatus's minimum fields (spec.md §6).
type ServiceStatus struct {
	CacheSize              int
	RegisteredRepositories int
	ServiceReady           bool
}

func (c *Client) GetServiceStatus() (ServiceStatus, error) {
	var raw map[string]dbus.Variant
	if err := c.call("GetServiceStatus", &raw); err != nil {
		return ServiceStatus{}, err
	}
	var out ServiceStatus
	if v, ok := raw["cacheSize"]; ok {
		if n, ok := v.Value().(int32); ok {
			out.CacheSize = int(n)
		}
	}
	if v, ok := raw["registeredRepositories"]; ok {
		if n, ok := v.Value().(int32); ok {
			out.RegisteredRepositories = int(n)
		}
	}
	if v, ok := raw["serviceReady"]; ok {
		if b, ok := v.Value().(bool); ok {
			out.ServiceReady = b
		}
	}
	return out, nil
}

func (c *Client) ClearAllResources() (bool, error) {
	var ok bool
	err := c.call("ClearAllResources", &ok)
	return ok, err
}
