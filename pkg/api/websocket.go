package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub maintains active WebSocket connections and fans out channel events
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access
	mu sync.RWMutex

	logger *zap.SugaredLogger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop; it disconnects every client on ctx done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("ws_client_connected", "client", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debugw("ws_client_disconnected", "client", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Publish sends data to every client subscribed to channel whose account
// filter is unset or names one of parties
func (h *Hub) Publish(channel string, parties []common.Address, data any) {
	message, err := json.Marshal(data)
	if err != nil {
		h.logger.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if !client.wants(channel, parties) {
			continue
		}
		select {
		case client.send <- message:
			delivered++
		default:
			// Buffer full, skip this client
			h.logger.Debugw("ws_client_lagging", "client", client.id, "channel", channel)
		}
	}
	h.logger.Debugw("ws_published", "channel", channel, "delivered", delivered)
}

// Subscribers counts clients subscribed to channel
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.IsSubscribed(channel) {
			n++
		}
	}
	return n
}

func knownChannel(channel string) bool {
	return channel == ChannelMatches || channel == ChannelCancellations
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Subscribed channels and their account filter; zero address = all events
	subscriptions map[string]common.Address
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *Client) wants(channel string, parties []common.Address) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	account, ok := c.subscriptions[channel]
	if !ok {
		return false
	}
	if account == (common.Address{}) {
		return true
	}
	for _, p := range parties {
		if p == account {
			return true
		}
	}
	return false
}

// Subscribe adds a channel subscription, replacing any previous filter
func (c *Client) Subscribe(channel string, account common.Address) {
	c.subsMu.Lock()
	c.subscriptions[channel] = account
	c.subsMu.Unlock()
	c.hub.logger.Debugw("ws_subscribed", "client", c.id, "channel", channel, "account", account.Hex())
}

// Unsubscribe removes a channel subscription
func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	c.hub.logger.Debugw("ws_unsubscribed", "client", c.id, "channel", channel)
}

// reply queues an acknowledgement unless the send buffer is full. The hub
// closes send under its write lock, so membership is checked first.
func (c *Client) reply(ack WSAck) {
	message, err := json.Marshal(ack)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- message:
	default:
	}
}

// handle applies one subscription request
func (c *Client) handle(req WSSubscribeRequest) {
	var account common.Address
	if req.Account != "" {
		if !common.IsHexAddress(req.Account) {
			c.reply(WSAck{Type: "error", Op: req.Op, Message: "invalid account: " + req.Account})
			return
		}
		account = common.HexToAddress(req.Account)
	}
	for _, channel := range req.Channels {
		if !knownChannel(channel) {
			c.reply(WSAck{Type: "error", Op: req.Op, Message: "unknown channel: " + channel})
			return
		}
	}

	switch req.Op {
	case "subscribe":
		for _, channel := range req.Channels {
			c.Subscribe(channel, account)
		}
		c.reply(WSAck{Type: "subscribed", Op: req.Op, Channels: req.Channels})
	case "unsubscribe":
		for _, channel := range req.Channels {
			c.Unsubscribe(channel)
		}
		c.reply(WSAck{Type: "unsubscribed", Op: req.Op, Channels: req.Channels})
	default:
		c.hub.logger.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
		c.reply(WSAck{Type: "error", Op: req.Op, Message: "unknown op"})
	}
}

// readPump pumps subscription requests from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("ws_read_failed", "client", c.id, "err", err)
			}
			break
		}

		// Handle subscription requests
		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Debugw("ws_invalid_message", "client", c.id, "err", err)
			c.reply(WSAck{Type: "error", Message: "invalid message"})
			continue
		}
		c.handle(req)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame so clients can decode each message
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

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            uuid.NewString(),
		subscriptions: make(map[string]common.Address),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
