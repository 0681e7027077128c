package rt

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

// command is what clients send: subscribe or unsubscribe for one
// session's event stream.
type command struct {
	Type      string `json:"type"`
	SessionID int64  `json:"sessionId"`
}

// Client is one websocket connection. The sessions set is owned by the
// hub's Run goroutine.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	sessions map[int64]bool
	log      *slog.Logger
}

// Handler returns the /ws upgrade handler. The endpoint is public; it
// only ever emits events the overlay could read from the session view
// anyway.
func (h *Hub) Handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		c := &Client{
			id:       uuid.NewString(),
			hub:      h,
			conn:     conn,
			send:     make(chan []byte, sendBufferSize),
			sessions: map[int64]bool{},
			log:      h.log.With("client", conn.RemoteAddr().String()),
		}
		select {
		case h.register <- c:
		case <-h.stopped:
			conn.Close()
			return
		}
		go c.writePump()
		go c.readPump()
	}
}

// readPump parses subscribe/unsubscribe commands until the connection
// dies. Unknown commands are ignored, not fatal.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", "error", err)
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.log.Debug("ignoring malformed command", "error", err)
			continue
		}
		switch cmd.Type {
		case "subscribe", "unsubscribe":
			sub := subscription{client: c, sessionID: cmd.SessionID, on: cmd.Type == "subscribe"}
			select {
			case c.hub.subscribe <- sub:
			case <-c.hub.stopped:
				return
			}
		default:
			c.log.Debug("ignoring unknown command", "type", cmd.Type)
		}
	}
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings. A closed send channel means the hub
// dropped us.
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
