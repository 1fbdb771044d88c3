// Package ipc serves the opaque progress sink: a websocket stream of
// {installationId, phase, ...detail} messages emitted by the Operation
// Scheduler as it runs installs, launches, deletes, and restores.
package ipc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Phase names a progress message may report. The consumer treats these
// as opaque strings; this list exists for producer-side typo safety.
const (
	PhaseSteps    = "steps"
	PhaseDownload = "download"
	PhaseExtract  = "extract"
	PhaseDelete   = "delete"
	PhaseCopy     = "copy"
	PhasePrepare  = "prepare"
	PhaseRun      = "run"
	PhaseDeps     = "deps"
	PhaseSetup    = "setup"
	PhaseMigrate  = "migrate"
	PhaseRestore  = "restore"
	PhaseLaunch   = "launch"
	PhaseDone     = "done"
)

// Progress is one message pushed to every connected client. Percent is
// -1 for indeterminate progress, 0-100 otherwise. Detail carries
// phase-specific fields (byte counts, current file name, log line) and
// is marshaled inline at the top level of the JSON object.
type Progress struct {
	InstallationID string         `json:"installationId"`
	Phase          string         `json:"phase"`
	Percent        int            `json:"percent"`
	Message        string         `json:"message,omitempty"`
	Detail         map[string]any `json:"-"`
}

// MarshalJSON flattens Detail alongside the named fields, matching the
// "...detail" shape consumers expect.
func (p Progress) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"installationId": p.InstallationID,
		"phase":          p.Phase,
		"percent":        p.Percent,
	}
	if p.Message != "" {
		out["message"] = p.Message
	}
	for k, v := range p.Detail {
		out[k] = v
	}
	return json.Marshal(out)
}

// Hub is the actor-pattern broadcast hub for progress sink clients:
// one goroutine owns the client map, clients each get a buffered send
// channel drained by a dedicated write pump, and a slow client is
// dropped rather than blocking the rest.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast  chan Progress
	register   chan *client
	unregister chan *client
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub starts the hub goroutine and returns a ready-to-use Hub.
func NewHub(log *zap.Logger) *Hub {
	h := &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    map[*client]struct{}{},
		broadcast:  make(chan Progress, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish enqueues a progress message for broadcast to every connected
// client. Non-blocking: if the hub's internal buffer is full the
// message is dropped rather than stalling the caller (the Scheduler's
// operation goroutine).
func (h *Hub) Publish(p Progress) {
	select {
	case h.broadcast <- p:
	default:
		h.log.Warn("progress sink buffer full, dropping message", zap.String("installationId", p.InstallationID), zap.String("phase", p.Phase))
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a progress sink client. Clients are write-only
// consumers; any inbound message is read and discarded, just enough to
// keep the connection's read deadline satisfied.
func (h *Hub) ServeHTTP(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, 256)}
	h.register <- cl

	go h.writePump(cl)
	h.readPump(cl)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ClientCount reports the number of currently connected progress sink
// clients, mainly for health/diagnostics.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
