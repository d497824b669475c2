package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/feedrelay/feedrelay/internal/store"
	"github.com/feedrelay/feedrelay/pkg/wire"
)

const (
	// writeTimeout is the deadline for a single write to a peer.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxRequestSize bounds a single inbound request frame.
	maxRequestSize = 4096

	// sendBufSize is the per-peer outgoing message buffer depth.
	sendBufSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages the WebSocket peers of one feed. It pushes update and
// withdraw events to every peer as cycles produce them and answers the
// peers' query requests against the feed's store.
type Hub struct {
	feed  string
	store *store.Store
	log   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected peer.
//
// Everything written to the connection goes through send and a single
// writePump. Senders never close send; they watch done instead, which
// close() shuts exactly once no matter how many paths race to it.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// New creates a Hub serving the named feed from st.
func New(feed string, st *store.Store, log *slog.Logger) *Hub {
	return &Hub{
		feed:    feed,
		store:   st,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the peer.
// It sends a hello event immediately on connect, then pushes events as
// cycles produce them and answers requests. Blocks until the connection
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	// Greet the peer with the feed name and current length so it can
	// decide whether it wants a full replay.
	if count, err := h.store.Count(); err == nil {
		if data, err := json.Marshal(wire.Event{Event: wire.EventHello, Feed: h.feed, Length: count}); err == nil {
			h.enqueue(c, data)
		}
	}

	go c.writePump()
	h.readPump(c) // blocks until connection closes
}

// Count returns the number of currently connected peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EmitUpdate broadcasts an update event to every connected peer.
func (h *Hub) EmitUpdate(indicator string, value map[string]any) {
	h.broadcast(wire.Event{Event: wire.EventUpdate, Feed: h.feed, Indicator: indicator, Value: value})
}

// EmitWithdraw broadcasts a withdraw event to every connected peer.
func (h *Hub) EmitWithdraw(indicator string, value map[string]any) {
	h.broadcast(wire.Event{Event: wire.EventWithdraw, Feed: h.feed, Indicator: indicator, Value: value})
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) broadcast(ev wire.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("marshal event", "feed", h.feed, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.enqueue(c, data)
	}
}

// enqueue hands data to the peer's write pump without blocking. A peer
// whose buffer is full has stopped reading and is disconnected.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		h.log.Warn("peer cannot keep up, dropping", "feed", h.feed)
		h.unregister(c)
	}
}

// push hands data to the peer's write pump, waiting for buffer space.
// Used for request replies and replays, which must not be dropped while
// the peer is still alive. Returns false when the peer is gone.
func (h *Hub) push(c *client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// writePump drains the peer's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its
// own goroutine per peer.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads request frames from the connection and dispatches them.
// Each request is answered on its own goroutine so a long replay never
// stalls pong processing. Blocks until the connection closes.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxRequestSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var req wire.Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.replyError(c, "", wire.CodeBadRequest, "malformed request")
			continue
		}
		go h.dispatch(c, req)
	}
}
