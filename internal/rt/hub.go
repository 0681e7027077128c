// Package rt is the realtime layer: a websocket hub that fans engine
// events out to overlay clients. Clients subscribe per session; the
// hub never blocks the request path, and slow or dead clients are
// dropped rather than waited on.
package rt

import (
	"encoding/json"
	"log/slog"

	"github.com/roach88/weave/internal/engine"
)

const broadcastBufferSize = 256

// subscription is a client asking to start or stop receiving one
// session's events.
type subscription struct {
	client    *Client
	sessionID int64
	on        bool
}

// Hub owns the client registry. All registry state is touched only by
// the Run goroutine; everything else communicates over channels.
type Hub struct {
	log *slog.Logger

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan engine.Event
	done       chan struct{}
	stopped    chan struct{}
	clients    map[*Client]bool
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan engine.Event, broadcastBufferSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		clients:    map[*Client]bool{},
	}
}

// Publish implements engine.Publisher. It never blocks: when the
// broadcast buffer is full the event is dropped and logged. Clients
// resync from the session view, events are advisory.
func (h *Hub) Publish(ev engine.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("event dropped, broadcast buffer full", "type", ev.Type, "session", ev.SessionID)
	}
}

// Run processes registry traffic until Stop. Must run in its own
// goroutine.
func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("client connected", "client", c.id)
		case c := <-h.unregister:
			h.drop(c)
		case sub := <-h.subscribe:
			h.handleSubscribe(sub)
		case ev := <-h.broadcast:
			h.deliver(ev)
		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// Stop shuts the hub down and closes every client.
func (h *Hub) Stop() {
	close(h.done)
	<-h.stopped
}

func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.log.Debug("client disconnected", "client", c.id)
}

func (h *Hub) handleSubscribe(sub subscription) {
	c := sub.client
	if !h.clients[c] {
		return
	}
	kind := "subscribed"
	if sub.on {
		c.sessions[sub.sessionID] = true
	} else {
		delete(c.sessions, sub.sessionID)
		kind = "unsubscribed"
	}
	h.send(c, ack{Type: kind, SessionID: sub.sessionID})
}

// deliver fans one event out to the session's subscribers.
func (h *Hub) deliver(ev engine.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", "type", ev.Type, "error", err)
		return
	}
	for c := range h.clients {
		if !c.sessions[ev.SessionID] {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client can't keep up; cut it loose rather than stall
			// everyone else.
			h.log.Warn("dropping slow client", "client", c.id, "session", ev.SessionID)
			h.drop(c)
		}
	}
}

// ack is the hub's reply to a subscribe or unsubscribe command.
type ack struct {
	Type      string `json:"type"`
	SessionID int64  `json:"sessionId"`
}

func (h *Hub) send(c *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		h.drop(c)
	}
}
