package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-session/internal/session"
)

// Message types of the event stream protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	channelPrefix = "session."
	channelAll    = channelPrefix + "*"

	sendBuffer = 256
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// EventPayload is the payload of an event frame.
type EventPayload struct {
	ClientID string `json:"client_id"`
	Topic    string `json:"topic,omitempty"`
	Size     int    `json:"size,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Hub fans session events out to WebSocket clients. Slow clients lose
// events instead of stalling the session.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is done and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Recorder returns a session.Recorder that publishes each event on
// "session.<kind>".
func (h *Hub) Recorder() session.Recorder {
	return session.RecorderFunc(func(ev session.Event) {
		h.Broadcast(channelPrefix+string(ev.Kind), EventPayload{
			ClientID: ev.ClientID,
			Topic:    ev.Topic,
			Size:     ev.Size,
			Detail:   ev.Detail,
		})
	})
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	targets := h.subscribers(channel)
	if len(targets) == 0 {
		return
	}

	frame, err := encode(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode event frame", "channel", channel, "error", err)
		return
	}
	for _, c := range targets {
		c.enqueue(frame)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) subscribers(channel string) []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*wsClient
	for c := range h.clients {
		if c.wants(channel) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The CORS middleware has already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go func() {
		c.readLoop(s.wsCfg)
		s.hub.remove(c)
	}()
}

// wsClient is one WebSocket connection and its channel subscriptions.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

// close stops the write loop; the write loop then closes the connection.
func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue queues frame unless the client is gone or its buffer is full.
func (c *wsClient) enqueue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
	}
}

func (c *wsClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, all := c.channels[channelAll]
	_, one := c.channels[channel]
	return all || one
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend("") //nolint:errcheck // Failure surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		extend("") //nolint:errcheck // Failure surfaces on the next read
		c.handle(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write reports failure
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck // Best effort
			return
		case frame := <-c.send:
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateChannels(msg.ID, msg.Type == WSTypeSubscribe, msg.Payload.Channels)
	default:
		c.reply(msg.ID, WSTypeError, errorBody("unknown message type: "+msg.Type))
	}
}

func (c *wsClient) updateChannels(id string, subscribe bool, channels []string) {
	if len(channels) == 0 {
		c.reply(id, WSTypeError, errorBody("payload must list channels"))
		return
	}
	for _, ch := range channels {
		if !strings.HasPrefix(ch, channelPrefix) {
			c.reply(id, WSTypeError, errorBody("unknown channel: "+ch))
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		if subscribe {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.reply(id, WSTypeResponse, map[string][]string{key: channels})
}

func (c *wsClient) reply(id, msgType string, payload any) {
	frame, err := encode(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}

// encode stamps msg with the current time and marshals it.
func encode(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(msg)
}
