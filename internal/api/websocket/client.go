package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/KevinKickass/PortExtender/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// The first message must arrive within this window
	authWait = 10 * time.Second

	maxMessageSize = 4096

	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// auth is enforced by the first message
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client represents a WebSocket client connection
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	remoteAddr  string
	logger      *zap.Logger
	permissions []auth.Permission
}

type clientMessage struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token,omitempty"`
}

// readPump authenticates the client, registers it and then serves its
// requests until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	var first clientMessage
	if err := c.conn.ReadJSON(&first); err != nil {
		c.logger.Debug("WebSocket closed before authentication", zap.Error(err))
		return
	}
	if first.Type != MessageTypeAuth || first.Token == "" {
		c.sendDirect(NewMessage(MessageTypeAuthFailed, map[string]string{
			"reason": "first message must be authentication"}))
		return
	}

	permissions, err := c.hub.tokens.ValidateToken(first.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr))
		c.sendDirect(NewMessage(MessageTypeAuthFailed, map[string]string{
			"reason": "invalid or expired token"}))
		return
	}
	c.permissions = permissions

	if !c.hub.join(c) {
		return
	}
	go c.writePump()

	c.queue(NewMessage(MessageTypeAuthSuccess, map[string]interface{}{"permissions": permissions}))
	c.queueStatus()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
			}
			return
		}

		switch msg.Type {
		case MessageTypeGetStatus:
			c.queueStatus()
		default:
			c.logger.Debug("Ignoring client message",
				zap.String("remote_addr", c.remoteAddr),
				zap.String("type", string(msg.Type)))
		}
	}
}

func (c *Client) queueStatus() {
	if c.hub.status != nil {
		c.queue(NewStatusMessage(c.hub.status.Status()))
	}
}

// queue hands a message to the write pump. The hub owns closing c.send, so
// the send is guarded against a concurrent unregister.
func (c *Client) queue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// sendDirect writes before the write pump exists.
func (c *Client) sendDirect(msg Message) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteJSON(msg)
}

// writePump handles writing messages to the WebSocket connection
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

// ServeWs handles WebSocket upgrade requests. Clients join the hub only
// after authenticating.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		remoteAddr: conn.RemoteAddr().String(),
		logger:     hub.logger,
	}

	go client.readPump()
}
