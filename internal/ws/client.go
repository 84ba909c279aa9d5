package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/models"
)

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// errorFrame goes to one client when its own frame was rejected.
type errorFrame struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Timestamp int64  `json:"ts"`
}

// Client is one websocket connection bound to a single room. It implements
// bus.Subscriber; Notify never blocks, a full send buffer drops the client.
type Client struct {
	gateway   *Gateway
	conn      *websocket.Conn
	send      chan any
	sessionID string
	roomID    string
	userID    string
	username  string
}

// ID returns the session id, the bus subscriber key.
func (c *Client) ID() string { return c.sessionID }

// Notify queues an event for the write pump. A false return tells the bus
// to drop this subscriber.
func (c *Client) Notify(ev models.Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.gateway.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("session", c.sessionID).Msg("websocket read error")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.gateway.handleFrame(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(payload); err != nil {
				return
			}

			// Drain whatever queued up behind this payload.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteJSON(<-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError pushes an error frame to this client only.
func (c *Client) sendError(msg string) {
	select {
	case c.send <- errorFrame{Type: "error", Error: msg, Timestamp: time.Now().UnixMilli()}:
	default:
	}
}
