// Package pubsub fans change events out to connected websocket subscribers.
// The occupancy core only publishes; connection lifecycle lives here.
package pubsub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// Publisher is the outbound fanout boundary consumed by the bridge.
type Publisher interface {
	// Publish broadcasts to every connected subscriber.
	Publish(event string, payload any)
	// PublishToRoom delivers only to subscribers of the given room.
	PublishToRoom(room, event string, payload any)
}

type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type outbound struct {
	room string // empty means broadcast
	data []byte
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{}
}

// Hub owns the client registry and serializes all fanout through one loop.
type Hub struct {
	log        *zap.Logger
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	publish    chan outbound
	clients    map[*client]struct{}
}

// NewHub creates a hub. Run must be started before publishing.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		publish:    make(chan outbound, 64),
		clients:    make(map[*client]struct{}),
	}
}

// Run drives the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				close(c.send)
				delete(h.clients, c)
			}
		case msg := <-h.publish:
			for c := range h.clients {
				if msg.room != "" {
					if _, ok := c.rooms[msg.room]; !ok {
						continue
					}
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer; drop it rather than block the loop.
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

func (h *Hub) Publish(event string, payload any) {
	h.enqueue("", event, payload)
}

func (h *Hub) PublishToRoom(room, event string, payload any) {
	h.enqueue(room, event, payload)
}

func (h *Hub) enqueue(room, event string, payload any) {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		h.log.Error("marshal fanout event", zap.String("event", event), zap.Error(err))
		return
	}
	h.publish <- outbound{room: room, data: data}
}

// ServeWS upgrades the request and registers the client. Rooms come from the
// comma-separated "rooms" query parameter.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	rooms := make(map[string]struct{})
	for _, room := range strings.Split(c.Query("rooms"), ",") {
		if room = strings.TrimSpace(room); room != "" {
			rooms[room] = struct{}{}
		}
	}

	cl := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), rooms: rooms}
	h.register <- cl

	go cl.writePump()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// Subscribers are read-only; inbound payloads are discarded.
		if _, _, err := c.conn.ReadMessage(); err != nil {
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
