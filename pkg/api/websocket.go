package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxFrame   = 64 * 1024
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Registry is the set of live connections. It holds back-references only:
// each connection's read pump owns its lifetime and unregisters on exit.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	log      *zap.SugaredLogger
	onChange func(n int)
}

// NewRegistry creates an empty registry. onChange, if set, is called with
// the new size after every register or unregister.
func NewRegistry(log *zap.SugaredLogger, onChange func(n int)) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		clients:  make(map[*Client]struct{}),
		log:      log,
		onChange: onChange,
	}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	n := len(r.clients)
	r.mu.Unlock()

	r.log.Infow("client_connected", "client", c.id, "total", n)
	if r.onChange != nil {
		r.onChange(n)
	}
}

// Unregister removes c and closes its outbound queue. Safe to call twice.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	_, ok := r.clients[c]
	delete(r.clients, c)
	n := len(r.clients)
	r.mu.Unlock()

	if !ok {
		return
	}
	c.closeSend()
	r.log.Infow("client_disconnected", "client", c.id, "total", n)
	if r.onChange != nil {
		r.onChange(n)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Unicast sends msg to one connection. Failures are logged, not retried.
func (r *Registry) Unicast(c *Client, msg []byte) error {
	if err := c.Send(msg); err != nil {
		r.log.Warnw("unicast_failed", "client", c.id, "err", err)
		return err
	}
	return nil
}

// Broadcast sends msg to every registered connection. A failed send is
// logged and skipped; the connection stays registered until its own read
// pump tears it down.
func (r *Registry) Broadcast(msg []byte) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			r.log.Debugw("broadcast_send_failed", "client", c.id, "err", err)
		}
	}
}

// CloseAll closes every underlying connection, which ends their pumps.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		c.conn.Close()
	}
}

// Client represents a WebSocket connection
type Client struct {
	conn *websocket.Conn
	id   string

	mu     sync.Mutex // guards send against close
	send   chan []byte
	closed bool

	// Subscribed channels. Recorded for visibility; broadcasts are not
	// filtered by them.
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

func newClient(conn *websocket.Conn, id string, buffer int) *Client {
	return &Client{
		conn:          conn,
		id:            id,
		send:          make(chan []byte, buffer),
		subscriptions: make(map[string]bool),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues msg for the write pump without blocking.
func (c *Client) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// Subscribe adds a channel subscription
func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
}

// readPump feeds inbound frames to handle until the connection fails.
func (c *Client) readPump(reg *Registry, handle func(*Client, []byte)) {
	defer func() {
		reg.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reg.log.Warnw("ws_read_error", "client", c.id, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(c, message)
	}
}

// writePump writes queued messages, one JSON object per frame.
func (c *Client) writePump() {
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
				// Registry closed the channel
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
