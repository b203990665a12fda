package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// AdminTopic receives every event.
	AdminTopic = "admin"
)

// Message is the frame pushed to websocket clients.
type Message struct {
	Type string       `json:"type"`
	Data events.Event `json:"data"`
}

// Hub pushes settlement and overdue events to connected admin and member
// dashboards. Connections subscribe to one topic: AdminTopic or a member id.
type Hub struct {
	connections map[string]map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan events.Event
	done       chan struct{}

	mu sync.RWMutex
}

type Connection struct {
	ws    *websocket.Conn
	topic string
	send  chan *Message
	quit  chan struct{}
	hub   *Hub
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan events.Event, 256),
		done:        make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.RLock()
			var conns []*Connection
			for _, set := range h.connections {
				for c := range set {
					conns = append(conns, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range conns {
				_ = c.ws.Close()
			}
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.topic] == nil {
				h.connections[conn.topic] = make(map[*Connection]bool)
			}
			h.connections[conn.topic][conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			h.remove(conn)
			h.mu.Unlock()

		case e := <-h.broadcast:
			msg := &Message{Type: string(e.Type), Data: e}
			h.mu.Lock()
			h.deliver(AdminTopic, msg)
			if e.MemberID != "" {
				h.deliver(e.MemberID, msg)
			}
			h.mu.Unlock()
		}
	}
}

// remove requires h.mu held for writing.
func (h *Hub) remove(conn *Connection) {
	set, ok := h.connections[conn.topic]
	if !ok {
		return
	}
	if _, exists := set[conn]; !exists {
		return
	}
	delete(set, conn)
	close(conn.send)
	if len(set) == 0 {
		delete(h.connections, conn.topic)
	}
}

func (h *Hub) deliver(topic string, msg *Message) {
	for conn := range h.connections[topic] {
		select {
		case conn.send <- msg:
		default:
			// Slow consumer.
			h.remove(conn)
		}
	}
}

// Publish implements events.Publisher. It never blocks.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	select {
	case h.broadcast <- e:
	default:
		log.Warnf("[Realtime] broadcast channel full, dropping %s for invoice %s", e.Type, e.InvoiceID)
	}
	return nil
}

// ClientCount returns the number of connections on a topic.
func (h *Hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[topic])
}

// Serve subscribes an upgraded connection to topic and blocks until the
// client goes away. The connection must not be used after Serve returns.
func (h *Hub) Serve(ws *websocket.Conn, topic string) {
	conn := &Connection{
		ws:    ws,
		topic: topic,
		send:  make(chan *Message, 64),
		quit:  make(chan struct{}),
		hub:   h,
	}
	select {
	case h.register <- conn:
	case <-h.done:
		return
	}

	written := make(chan struct{})
	go func() {
		defer close(written)
		conn.writePump()
	}()
	conn.readPump()
	close(conn.quit)
	<-written
}

func (c *Connection) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.ws.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debugf("[Realtime] read error: %v", err)
			}
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.quit:
			return
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Debugf("[Realtime] write error: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
