package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/events"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/models"
)

const (
	writeWait     = 5 * time.Second
	snapshotLimit = 50
	sendBuffer    = 64
)

// client owns one connection. Only its writer goroutine writes data frames,
// so a slow peer never blocks Publish.
type client struct {
	conn      *websocket.Conn
	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan interface{}, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue queues v without blocking. It reports false when the queue is full.
func (c *client) enqueue(v interface{}) bool {
	select {
	case c.send <- v:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Manager manages WebSocket connections and broadcasts job events.
type Manager struct {
	clients   map[*client]bool
	clientsMu sync.Mutex
	store     database.Store
	log       logger.Logger
	upgrader  websocket.Upgrader
}

// New creates a new WebSocket manager. New clients receive a snapshot of
// recent jobs and metrics read from store.
func New(store database.Store, log logger.Logger) *Manager {
	return &Manager{
		clients: make(map[*client]bool),
		store:   store,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Snapshot is the first message a client receives.
type Snapshot struct {
	Type    string          `json:"type"`
	Jobs    []models.Job    `json:"jobs"`
	Metrics *models.Metrics `json:"metrics"`
}

// ServeHTTP upgrades the request and registers the connection.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warnf(r.Context(), "[WEBSOCKET] upgrade failed: %v", err)
		return
	}
	m.AddClient(r.Context(), conn)
}

// AddClient adds a new WebSocket client. The first message it receives is a
// snapshot of recent jobs and metrics.
func (m *Manager) AddClient(ctx context.Context, conn *websocket.Conn) {
	c := newClient(conn)
	c.enqueue(m.snapshot(ctx))

	m.clientsMu.Lock()
	m.clients[c] = true
	total := len(m.clients)
	m.clientsMu.Unlock()

	m.log.Infof(ctx, "[WEBSOCKET] New client connected. Total clients: %d", total)

	go m.writeLoop(c)

	// Reads only detect disconnection.
	go func() {
		defer m.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *Manager) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case v := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(v); err != nil {
				m.log.Warnf(context.Background(), "[WEBSOCKET] Failed to send update: %v", err)
				m.remove(c)
				return
			}
		}
	}
}

func (m *Manager) remove(c *client) {
	m.clientsMu.Lock()
	_, ok := m.clients[c]
	delete(m.clients, c)
	total := len(m.clients)
	m.clientsMu.Unlock()

	if ok {
		c.stop()
		c.conn.Close()
		m.log.Infof(context.Background(), "[WEBSOCKET] Client disconnected. Total clients: %d", total)
	}
}

func (m *Manager) snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Type: "snapshot", Jobs: []models.Job{}}
	if jobs, err := m.store.ListJobs(ctx, "", snapshotLimit); err == nil {
		snap.Jobs = jobs
	} else {
		m.log.Warnf(ctx, "[WEBSOCKET] snapshot jobs: %v", err)
	}
	if metrics, err := m.store.GetMetrics(ctx); err == nil {
		snap.Metrics = metrics
	} else {
		m.log.Warnf(ctx, "[WEBSOCKET] snapshot metrics: %v", err)
	}
	return snap
}

// Publish queues ev for every connected client and returns without waiting
// for delivery. A client whose queue is full is dropped.
func (m *Manager) Publish(ctx context.Context, ev events.Event) error {
	m.clientsMu.Lock()
	targets := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		targets = append(targets, c)
	}
	m.clientsMu.Unlock()

	for _, c := range targets {
		if !c.enqueue(ev) {
			m.log.Warnf(ctx, "[WEBSOCKET] client too slow, dropping it (event %s)", ev.Type)
			m.remove(c)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients
func (m *Manager) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

// Close disconnects every client.
func (m *Manager) Close() {
	m.clientsMu.Lock()
	targets := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		targets = append(targets, c)
	}
	m.clientsMu.Unlock()

	// WriteControl may run concurrently with the writer goroutine.
	for _, c := range targets {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		m.remove(c)
	}
}
