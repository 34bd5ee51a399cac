package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 512

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ConnObserver tracks connected clients (metrics).
type ConnObserver interface {
	IncrementConnections()
	DecrementConnections()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// envelope is the frame pushed to websocket clients.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub pushes every published view to connected websocket clients and serves
// the latest one over plain HTTP.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run returns
	observer   ConnObserver
	logger     *slog.Logger

	mu         sync.RWMutex
	latestView []byte // last published payload
	latestMsg  []byte // same payload wrapped in an envelope
}

// NewHub creates a hub. observer may be nil.
func NewHub(logger *slog.Logger, observer ConnObserver) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		observer:   observer,
		logger:     logger.With("module", "feed_hub"),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = true
			if h.observer != nil {
				h.observer.IncrementConnections()
			}
			if msg := h.latest(); msg != nil {
				c.send <- msg
			}
			h.logger.Info("Feed client connected", "total_clients", len(h.clients))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.logger.Info("Feed client disconnected", "total_clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow client
					h.logger.Warn("Dropping slow feed client")
					h.drop(c)
				}
			}
		}
	}
}

// drop removes a client. Only called from Run.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	if h.observer != nil {
		h.observer.DecrementConnections()
	}
}

// Publish encodes v, stores it as the latest view and fans it out.
func (h *Hub) Publish(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(envelope{Type: "orderbook", Payload: payload})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.latestView = payload
	h.latestMsg = msg
	h.mu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		// clients still receive the newest view on their next publish
		h.logger.Warn("Feed broadcast queue full, skipping update")
	}
	return nil
}

func (h *Hub) latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latestMsg
}

// Handler returns the feed routes: GET /view and GET /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/view", h.HandleView)
	mux.HandleFunc("/ws", h.HandleWS)
	return mux
}

// HandleView serves the latest published view as JSON.
// GET /view
func (h *Hub) HandleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.RLock()
	view := h.latestView
	h.mu.RUnlock()

	if view == nil {
		http.Error(w, "no view published yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(view)
}

// HandleWS upgrades the connection and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Feed upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; clients never send data.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("Feed client closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
