// Package busif exports a *daemon.Daemon over the session bus, implementing
// the literal interface of spec.md §6: well-known name
// "org.deepin.FileManager.Git", object "/org/deepin/filemanager/git". It is
// the only daemon-side package that imports godbus/dbus/v5; on the
// extension side only internal/client does. Every other package deals in
// typed Go values, never variants (spec.md §9's design note on keeping
// variants out of the cache and emblem plugin).
package busif

import (
	"log"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/daemon"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/events"
)

// InterfaceName is the D-Bus interface implemented on ObjectPath.
const InterfaceName = "org.deepin.FileManager.Git"

// Server owns the session-bus connection and forwards method calls to a
// daemon.Daemon, re-emitting its internal events as D-Bus signals.
type Server struct {
	conn        *dbus.Conn
	d           *daemon.Daemon
	serviceName string
	objectPath  dbus.ObjectPath
	logger      *log.Logger

	stopStatus     func()
	stopDiscovered func()
	done           chan struct{}
}

// export is the type godbus reflects over to build the method table; its
// exported methods are exactly spec.md §6's method list.
type export struct {
	d *daemon.Daemon
}

func (e *export) RegisterRepository(path string) (bool, *dbus.Error) {
	return e.d.RegisterRepository(path), nil
}

func (e *export) UnregisterRepository(path string) (bool, *dbus.Error) {
	return e.d.UnregisterRepository(path), nil
}

func (e *export) GetFileStatuses(paths []string) (map[string]int32, *dbus.Error) {
	statuses := e.d.GetFileStatuses(paths)
	out := make(map[string]int32, len(statuses))
	for p, s := range statuses {
		out[p] = int32(s)
	}
	return out, nil
}

func (e *export) GetRepositoryStatus(path string) (map[string]int32, *dbus.Error) {
	statuses := e.d.GetRepositoryStatus(path)
	out := make(map[string]int32, len(statuses))
	for p, s := range statuses {
		out[p] = int32(s)
	}
	return out, nil
}

func (e *export) RefreshRepository(path string) (bool, *dbus.Error) {
	return e.d.RefreshRepository(path), nil
}

func (e *export) ClearRepositoryCache(path string) (bool, *dbus.Error) {
	return e.d.ClearRepositoryCache(path), nil
}

func (e *export) GetRegisteredRepositories() ([]string, *dbus.Error) {
	return e.d.GetRegisteredRepositories(), nil
}

func (e *export) GetServiceStatus() (map[string]dbus.Variant, *dbus.Error) {
	stats := e.d.GetServiceStatus()
	return map[string]dbus.Variant{
		"cacheSize":              dbus.MakeVariant(int32(stats.CacheSize)),
		"registeredRepositories": dbus.MakeVariant(int32(stats.RegisteredRepositories)),
		"serviceReady":           dbus.MakeVariant(stats.ServiceReady),
		"scanHits":               dbus.MakeVariant(stats.ScanHits),
		"scanMisses":             dbus.MakeVariant(stats.ScanMisses),
	}, nil
}

func (e *export) ClearAllResources() (bool, *dbus.Error) {
	return e.d.ClearAllResources(), nil
}

// NewServer connects to the session bus, requests serviceName, exports d's
// methods at objectPath/InterfaceName, and starts forwarding d's internal
// events as RepositoryStatusChanged/RepositoryDiscovered signals.
func NewServer(d *daemon.Daemon, serviceName, objectPath string, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}

	path := dbus.ObjectPath(objectPath)
	if err := conn.Export(&export{d: d}, path, InterfaceName); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, err
	}

	reply, err := conn.RequestName(serviceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, &nameInUseError{name: serviceName}
	}

	s := &Server{
		conn:        conn,
		d:           d,
		serviceName: serviceName,
		objectPath:  path,
		logger:      logger,
		done:        make(chan struct{}),
	}

	statusCh, stopStatus := d.Events().SubscribeStatusChanged()
	discoveredCh, stopDiscovered := d.Events().SubscribeDiscovered()
	s.stopStatus = stopStatus
	s.stopDiscovered = stopDiscovered

	go s.forwardSignals(statusCh, discoveredCh)

	return s, nil
}

// forwardSignals converts internal event structs into D-Bus signal emits,
// keeping variant encoding entirely inside this package (spec.md §9).
func (s *Server) forwardSignals(statusCh <-chan events.StatusChanged, discoveredCh <-chan events.Discovered) {
	for {
		select {
		case <-s.done:
			return
		case e, ok := <-statusCh:
			if !ok {
				return
			}
			changes := make(map[string]int32, len(e.Changes))
			for _, c := range e.Changes {
				changes[c.Path] = int32(c.NewState)
			}
			if err := s.conn.Emit(s.objectPath, InterfaceName+".RepositoryStatusChanged", e.RepoRoot, changes); err != nil {
				s.logger.Printf("emit RepositoryStatusChanged failed: %v", err)
			}
		case e, ok := <-discoveredCh:
			if !ok {
				return
			}
			if err := s.conn.Emit(s.objectPath, InterfaceName+".RepositoryDiscovered", e.RepoRoot); err != nil {
				s.logger.Printf("emit RepositoryDiscovered failed: %v", err)
			}
		}
	}
}

// Close releases the bus name and connection.
func (s *Server) Close() error {
	close(s.done)
	s.stopStatus()
	s.stopDiscovered()
	_, _ = s.conn.ReleaseName(s.serviceName)
	return s.conn.Close()
}

type nameInUseError struct{ name string }

func (e *nameInUseError) Error() string {
	return "bus name already owned: " + e.name
}

const introspectXML = `<node>
	<interface name="` + InterfaceName + `">
		<method name="RegisterRepository">
			<arg direction="in" type="s"/>
			<arg direction="out" type="b"/>
		</method>
		<method name="UnregisterRepository">
			<arg direction="in" type="s"/>
			<arg direction="out" type="b"/>
		</method>
		<method name="GetFileStatuses">
			<arg direction="in" type="as"/>
			<arg direction="out" type="a{si}"/>
		</method>
		<method name="GetRepositoryStatus">
			<arg direction="in" type="s"/>
			<arg direction="out" type="a{si}"/>
		</method>
		<method name="RefreshRepository">
			<arg direction="in" type="s"/>
			<arg direction="out" type="b"/>
		</method>
		<method name="ClearRepositoryCache">
			<arg direction="in" type="s"/>
			<arg direction="out" type="b"/>
		</method>
		<method name="GetRegisteredRepositories">
			<arg direction="out" type="as"/>
		</method>
		<method name="GetServiceStatus">
			<arg direction="out" type="a{sv}"/>
		</method>
		<method name="ClearAllResources">
			<arg direction="out" type="b"/>
		</method>
		<signal name="RepositoryStatusChanged">
			<arg type="s"/>
			<arg type="a{si}"/>
		</signal>
		<signal name="RepositoryDiscovered">
			<arg type="s"/>
		</signal>
	</interface>
</node>`
