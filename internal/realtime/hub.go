package realtime

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coviewhq/coview/internal/collab"
	"github.com/coviewhq/coview/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 75 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 256 << 10 // 256 KiB

	sendBufferSize = 64
)

// MessageHandler receives transport events for each connection. The
// coordinator's router implements this; the hub stays protocol-only.
type MessageHandler interface {
	HandleConnect(conn collab.Conn)
	HandleMessage(conn collab.Conn, payload []byte)
	HandleDisconnect(conn collab.Conn)
	HandlePong(conn collab.Conn)
}

// Hub upgrades HTTP requests to WebSocket connections and pumps frames
// between sockets and the message handler.
type Hub struct {
	handler  MessageHandler
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a hub delivering frames to the supplied handler.
func NewHub(handler MessageHandler) *Hub {
	return &Hub{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
		log: logger.WithComponent("realtime"),
	}
}

// Serve upgrades the HTTP connection and runs its read loop until the
// socket closes. The disconnect path runs the coordinator's leave
// semantics exactly as an explicit leaveSession would.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, socket)
	h.handler.HandleConnect(client)

	go client.writeLoop()
	client.readLoop()
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	once   sync.Once

	// mu guards send against close: a broadcast may race the teardown of
	// another connection in the same session, and a send landing after
	// close(send) would panic.
	mu     sync.Mutex
	closed bool
	send   chan collab.Event
}

func newConnection(hub *Hub, socket *websocket.Conn) *connection {
	return &connection{
		hub:    hub,
		socket: socket,
		send:   make(chan collab.Event, sendBufferSize),
	}
}

// Send enqueues an event for delivery. A connection that cannot keep up
// is closed rather than allowed to block the rest of the session.
func (c *connection) Send(event collab.Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return net.ErrClosed
	}

	select {
	case c.send <- event:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		c.hub.log.Warn("dropping backpressured connection")
		// Close on a separate goroutine: Send may be called from inside
		// the coordinator's fan-out, and the disconnect path needs to
		// re-enter the coordinator.
		go c.close()
		return net.ErrClosed
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.handler.HandlePong(c)
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}
		c.hub.handler.HandleMessage(c, payload)
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.handler.HandleDisconnect(c)

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
