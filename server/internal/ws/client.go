package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liveviz/liveviz/pkg/types"
	"github.com/liveviz/liveviz/server/internal/registry"
)

// binding is one (channel, viewer id) registration made over a connection.
type binding struct {
	vizID    string
	clientID string
}

// client is one upgraded viewer connection. A single connection may register
// under several channels.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	bindings map[binding]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.opts.SendBuffer),
		closed:   make(chan struct{}),
		bindings: make(map[binding]struct{}),
	}
}

// Send enqueues msg without blocking.
func (c *client) Send(msg []byte) error {
	select {
	case <-c.closed:
		return registry.ErrClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		// Outgoing buffer is full: the viewer is too slow to keep up.
		c.close()
		return registry.ErrBufferFull
	}
}

// Closed reports whether the connection has been closed.
func (c *client) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *client) bind(vizID, clientID string) {
	c.mu.Lock()
	c.bindings[binding{vizID: vizID, clientID: clientID}] = struct{}{}
	c.mu.Unlock()
}

func (c *client) unbind(vizID, clientID string) {
	c.mu.Lock()
	delete(c.bindings, binding{vizID: vizID, clientID: clientID})
	c.mu.Unlock()
}

func (c *client) takeBindings() []binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]binding, 0, len(c.bindings))
	for b := range c.bindings {
		out = append(out, b)
	}
	c.bindings = make(map[binding]struct{})
	return out
}

// dispatch handles one inbound control message. Malformed messages, unknown
// actions and unknown channels are dropped; the connection stays open.
func (c *client) dispatch(data []byte) {
	var msg types.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("hub: dropping malformed message", "err", err)
		return
	}

	switch msg.Action {
	case types.ActionConnect, types.ActionDisconnect, types.ActionSave:
	default:
		slog.Debug("hub: ignoring unknown action", "action", msg.Action)
		return
	}

	ch, ok := c.hub.Channel(msg.VizID)
	if !ok {
		slog.Debug("hub: message for unknown channel", "action", msg.Action, "channel", msg.VizID)
		return
	}

	switch msg.Action {
	case types.ActionConnect:
		c.bind(msg.VizID, msg.ClientID)
		ch.AddClient(msg.ClientID, c)
	case types.ActionDisconnect:
		c.unbind(msg.VizID, msg.ClientID)
		ch.RemoveClient(msg.ClientID)
	case types.ActionSave:
		ch.Save(msg.RequestID, msg.Content)
	}
}

// writePump drains the send channel to the WebSocket connection and sends
// periodic pings. Runs in its own goroutine per connection.
func (c *client) writePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout)) //nolint:errcheck
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})      //nolint:errcheck
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// readPump reads control messages until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	opts := c.hub.opts
	c.conn.SetReadLimit(opts.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait)) //nolint:errcheck
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// Any frame proves liveness, not only pongs.
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait)) //nolint:errcheck
		c.dispatch(data)
	}
}
