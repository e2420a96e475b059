package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowaak/train-control/internal/go_func_utils"
)

// WebSocket message types.
const (
	wsTypeTrain     = "train"
	wsTypeTrainList = "trainList"
	wsTypePing      = "ping"
	wsTypePong      = "pong"
	wsTypeError     = "error"

	wsSendBufferSize = 256
	wsMaxMessageSize = 4096
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 10 * time.Second
)

// WSMessage is the envelope of every WebSocket frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub tracks WebSocket clients and fans train updates out to them.
type Hub struct {
	logger  *log.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *Hub) register(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("API: websocket client connected (%d clients)", count)
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Printf("API: websocket client disconnected (%d clients)", count)
	}
}

// Broadcast sends a message to every connected client. Clients whose buffer is
// full miss the message.
func (h *Hub) Broadcast(messageType string, payload any) {
	data, err := encodeWSMessage(messageType, payload)
	if err != nil {
		h.logger.Printf("API: failed to encode %s broadcast: %v", messageType, err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}

func encodeWSMessage(messageType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// handleWebSocket upgrades the connection, sends the current train list and then
// streams every train update.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("API: websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	if data, err := encodeWSMessage(wsTypeTrainList, s.service.TrainList()); err == nil {
		client.send <- data
	}
	s.hub.register(client)

	go_func_utils.SafeGo(s.logger, client.writePump)
	go_func_utils.SafeGo(s.logger, func() { client.readPump(s) })
}

func (c *wsClient) readPump(s *Server) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Printf("API: websocket read error: %v", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
		c.handleMessage(s, message)
	}
}

func (c *wsClient) handleMessage(s *Server, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(wsTypeError, "invalid message format")
		return
	}
	switch msg.Type {
	case wsTypePing:
		c.reply(wsTypePong, nil)
	case wsTypeTrainList:
		c.reply(wsTypeTrainList, s.service.TrainList())
	default:
		c.reply(wsTypeError, "unknown message type: "+msg.Type)
	}
}

func (c *wsClient) reply(messageType string, payload any) {
	data, err := encodeWSMessage(messageType, payload)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data without blocking. The send channel may already be closed
// by unregister, which surfaces here as a recovered panic.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}
