// Package debugstream is an optional loopback WebSocket broadcaster of the
// daemon's published events, for developer tooling (SPEC_FULL.md §10.1,
// §11). It reuses the message-envelope shape and gorilla/websocket
// dependency from ws/client.go, server-side: every connected developer
// client receives the same JSON-encoded RepositoryStatusChanged /
// RepositoryDiscovered feed the bus publishes internally.
package debugstream

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/events"
)

// envelope mirrors ws/client.go's wire shape: a type tag, a timestamp, and
// a raw JSON payload.
type envelope struct {
	Type    string          `json:"type"`
	Ts      string          `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Broadcaster fans out every StatusChanged/Discovered event from an
// internal/events.Bus to any number of connected loopback WebSocket
// clients, each identified by a uuid.UUID connection ID.
type Broadcaster struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*websocket.Conn

	unsubStatus     func()
	unsubDiscovered func()
	done            chan struct{}

	server *http.Server
	addr   string
}

// New returns a Broadcaster subscribed to bus. Call Serve to start
// accepting connections.
func New(bus *events.Bus, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	b := &Broadcaster{
		logger:  logger,
		clients: make(map[uuid.UUID]*websocket.Conn),
		done:    make(chan struct{}),
	}
	statusCh, stopStatus := bus.SubscribeStatusChanged()
	discoveredCh, stopDiscovered := bus.SubscribeDiscovered()
	b.unsubStatus = stopStatus
	b.unsubDiscovered = stopDiscovered
	go b.forward(statusCh, discoveredCh)
	return b
}

// forward relays bus events to connected clients until either channel
// closes (on unsubscribe) or Close is called.
func (b *Broadcaster) forward(statusCh <-chan events.StatusChanged, discoveredCh <-chan events.Discovered) {
	for {
		select {
		case <-b.done:
			return
		case e, ok := <-statusCh:
			if !ok {
				return
			}
			b.broadcast("status_changed", e)
		case e, ok := <-discoveredCh:
			if !ok {
				return
			}
			b.broadcast("discovered", e)
		}
	}
}

func (b *Broadcaster) broadcast(msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Printf("debugstream: marshal %s: %v", msgType, err)
		return
	}
	msg, err := json.Marshal(envelope{
		Type:    msgType,
		Ts:      time.Now().UTC().Format(time.RFC3339Nano),
		Payload: data,
	})
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(b.clients, id)
		}
	}
}

func (b *Broadcaster) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Printf("debugstream: upgrade failed: %v", err)
		return
	}
	id := uuid.New()
	b.mu.Lock()
	b.clients[id] = conn
	b.mu.Unlock()

	// Drain and discard inbound frames; this feed is one-directional. The
	// read loop's only job is detecting client disconnect.
	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, id)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Serve starts the loopback HTTP/WebSocket listener at addr (path
// "/stream"). It returns immediately; call Close to stop.
func (b *Broadcaster) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", b.handleConn)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	b.addr = ln.Addr().String()
	b.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := b.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			b.logger.Printf("debugstream: server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the actual listen address after Serve has bound it.
func (b *Broadcaster) Addr() string { return b.addr }

// ClientCount reports the number of currently connected developer clients,
// for tests and health reporting.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close unsubscribes from the bus, closes every connected client, and stops
// the listener.
func (b *Broadcaster) Close() error {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	b.unsubStatus()
	b.unsubDiscovered()

	b.mu.Lock()
	for id, conn := range b.clients {
		conn.Close()
		delete(b.clients, id)
	}
	b.mu.Unlock()

	if b.server != nil {
		return b.server.Close()
	}
	return nil
}
