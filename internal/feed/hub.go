// Package feed streams committed ledger events to websocket subscribers.
package feed

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
)

const (
	defaultBufferSize   = 64
	defaultWriteTimeout = 10 * time.Second
)

// Message is the JSON frame sent for each committed event.
type Message struct {
	EventID     string `json:"event_id"`
	Seq         uint64 `json:"seq"`
	Kind        string `json:"kind"`
	PoolID      uint64 `json:"pool_id"`
	User        string `json:"user"`
	Amount      uint64 `json:"amount"`
	Rewards     uint64 `json:"rewards"`
	Forfeited   uint64 `json:"forfeited"`
	TotalStaked uint64 `json:"total_staked"`
	Timestamp   int64  `json:"timestamp"`
}

// NewMessage converts a ledger event to its wire form.
func NewMessage(e *domain.LedgerEvent) Message {
	return Message{
		EventID:     e.EventID,
		Seq:         e.Seq,
		Kind:        e.Kind.String(),
		PoolID:      e.PoolID,
		User:        e.User.String(),
		Amount:      e.Amount,
		Rewards:     e.Rewards,
		Forfeited:   e.Forfeited,
		TotalStaked: e.TotalStaked,
		Timestamp:   e.Timestamp,
	}
}

// Options for creating Hub.
type Options struct {
	// BufferSize is the per-client queue length. Messages beyond it are dropped.
	BufferSize   int
	WriteTimeout time.Duration
	Logger       *log.Logger
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	poolID uint64
	all    bool
}

func (c *client) wants(poolID uint64) bool {
	return c.all || c.poolID == poolID
}

// Hub fans events out to connected clients. Publish never blocks the caller.
type Hub struct {
	upgrader     websocket.Upgrader
	bufferSize   int
	writeTimeout time.Duration
	logger       *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a new Hub.
func NewHub(opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Hub{
		upgrader:     websocket.Upgrader{},
		bufferSize:   opts.BufferSize,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		clients:      make(map[*client]struct{}),
	}
}

// Publish queues e for every subscribed client.
func (h *Hub) Publish(e *domain.LedgerEvent) {
	if e == nil {
		return
	}
	b, err := json.Marshal(NewMessage(e))
	if err != nil {
		h.logger.Printf("feed: marshal event %s: %v", e.EventID, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(e.PoolID) {
			continue
		}
		select {
		case c.send <- b:
		default:
			observability.RecordFeedDrop()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes away.
// The optional pool query parameter restricts the stream to one pool.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &client{all: true}
	if raw := r.URL.Query().Get("pool"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid pool id", http.StatusBadRequest)
			return
		}
		c.poolID, c.all = id, false
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("feed: upgrade: %v", err)
		return
	}
	c.conn = conn
	c.send = make(chan []byte, h.bufferSize)

	if !h.register(c) {
		conn.Close()
		return
	}

	h.wg.Add(1)
	go h.writeLoop(c)

	// Reads only detect disconnects; clients send nothing meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	observability.UpdateFeedClients(len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	observability.UpdateFeedClients(len(h.clients))
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Printf("feed: write: %v", err)
			h.unregister(c)
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// Close disconnects all clients and waits for their writers to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	observability.UpdateFeedClients(0)
	h.mu.Unlock()

	h.wg.Wait()
}
