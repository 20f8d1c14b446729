package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"binance-signal-engine/internal/snapshot"
)

// Connection limits. Documents above the size cap are dropped rather than
// fragmented; a client exceeding the inbound rate limit is disconnected.
const (
	maxMessageBytes  = 1 << 20 // 1 MB
	inboundPerMinute = 30
	maxConnsPerIP    = 5

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer for HTTP; the snapshot
		// stream is read-only public data.
		return true
	},
}

// WSClient is one snapshot subscriber.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
	ip   string
}

// WSHub fans each snapshot document out to every connected subscriber. New
// subscribers immediately receive the latest document.
type WSHub struct {
	clients    map[*WSClient]bool
	perIP      map[string]int
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient

	mu     sync.RWMutex
	latest []byte
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		perIP:      make(map[string]int),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run owns the client set. Start exactly once.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.perIP[client.ip]++
			latest := h.latest
			h.mu.Unlock()

			if latest != nil {
				select {
				case client.send <- latest:
				default:
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if h.perIP[client.ip]--; h.perIP[client.ip] <= 0 {
					delete(h.perIP, client.ip)
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop the connection, not the tick.
					go func(c *WSClient) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// PublishSnapshot serialises the document once and queues it for every
// subscriber. Oversized documents are dropped with a log line.
func (h *WSHub) PublishSnapshot(doc *snapshot.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		log.Printf("Failed to marshal snapshot: %v", err)
		return
	}
	if len(data) > maxMessageBytes {
		log.Printf("Snapshot of %d bytes exceeds message cap, dropped", len(data))
		return
	}

	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
	default:
		log.Println("Broadcast channel full, dropping snapshot")
	}
}

// Latest returns the last published snapshot bytes, nil before the first tick.
func (h *WSHub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// ClientCount returns the number of connected subscribers.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// canAccept enforces the per-IP connection cap.
func (h *WSHub) canAccept(ip string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.perIP[ip] < maxConnsPerIP
}

// writePump pushes queued documents and keepalive pings to one connection.
func (c *WSClient) writePump() {
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

// readPump drains inbound messages. Clients have nothing to say to the
// engine; the pump exists for pong handling and the rate limit.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var inbound []time.Time
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		now := time.Now()
		cutoff := now.Add(-time.Minute)
		kept := inbound[:0]
		for _, t := range inbound {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		inbound = append(kept, now)
		if len(inbound) > inboundPerMinute {
			log.Printf("Client %s exceeded inbound message limit, disconnecting", c.ip)
			return
		}
	}
}
