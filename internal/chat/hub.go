package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Config tunes connection handling.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	// Channel is the Redis pub/sub channel used to relay between instances.
	Channel string
}

func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		PingPeriod:      30 * time.Second,
		PongWait:        35 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageSize:  64 << 10,
		Channel:         "immortal:chat",
	}
}

// Metrics receives connection and message counts. Nil is allowed.
type Metrics interface {
	ChatConnected()
	ChatDisconnected()
	ChatMessage()
}

// Hub relays every JSON message it receives to all open connections,
// including the sender. With a Redis client the relay spans instances.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	rdb      *redis.Client
	metrics  Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(cfg Config, rdb *redis.Client, m Metrics) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultConfig().Channel
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rdb:     rdb,
		metrics: m,
		clients: make(map[*client]struct{}),
	}
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("chat: upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}
	h.add(c)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ChatConnected()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.ChatDisconnected()
	}
}

// Broadcast queues msg on every local connection. Connections whose send
// buffer is full are dropped.
func (h *Hub) Broadcast(msg []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		log.Printf("chat: dropping slow client")
		h.remove(c)
	}
}

// Publish relays msg to every connection. Without Redis, or when publishing
// fails, it falls back to a local broadcast.
func (h *Hub) Publish(ctx context.Context, msg []byte) {
	if h.metrics != nil {
		h.metrics.ChatMessage()
	}
	if h.rdb != nil {
		err := h.rdb.Publish(ctx, h.cfg.Channel, msg).Err()
		if err == nil {
			return
		}
		log.Printf("chat: redis publish failed: %v", err)
	}
	h.Broadcast(msg)
}

// Run forwards messages from the Redis channel to local connections until
// ctx is done. It returns immediately when the hub has no Redis client.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	sub := h.rdb.Subscribe(ctx, h.cfg.Channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast([]byte(m.Payload))
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.mu.Unlock()
}

// normalize re-encodes a client frame. Invalid JSON yields ok=false.
func normalize(raw []byte) ([]byte, bool) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(raw)); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("chat: read error: %v", err)
			}
			return
		}
		msg, ok := normalize(message)
		if !ok {
			log.Printf("chat: dropping invalid JSON frame (%d bytes)", len(message))
			continue
		}
		h.Publish(context.Background(), msg)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
