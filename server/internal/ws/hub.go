package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/liveviz/liveviz/pkg/types"
	"github.com/liveviz/liveviz/server/internal/channel"
)

const (
	// DefaultWriteTimeout is the deadline for a single write to a viewer.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultPongWait is how long to wait for a pong response before treating
	// the connection as dead.
	DefaultPongWait = 60 * time.Second

	// DefaultSendBuffer is the per-viewer outgoing message buffer depth.
	DefaultSendBuffer = 64

	// DefaultReadLimit bounds a single inbound frame. Saved snapshots are whole
	// HTML documents, so this is far above what control messages need.
	DefaultReadLimit = 32 << 20
)

// ErrChannelNotFound is returned by Lookup for unknown channel ids.
var ErrChannelNotFound = errors.New("hub: channel not found")

// Options configures a Hub. Zero fields take the package defaults.
type Options struct {
	// Host and Port are the public address used to build viewer URLs.
	Host string
	Port int

	SendBuffer   int
	ReadLimit    int64
	WriteTimeout time.Duration
	PongWait     time.Duration

	// IdleTTL removes channels that have had no viewers and no activity for
	// this long. Zero keeps channels for the life of the process.
	IdleTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	return o
}

// Hub owns the table of channels and every viewer connection. It is an
// explicit value passed to handlers; independent hubs share no state.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time // injectable for deterministic tests

	mu       sync.RWMutex
	channels map[string]*channel.Channel
	clients  map[*client]struct{}
	onCreate []func(*channel.Channel)
}

// New creates a Hub.
func New(opts Options) *Hub {
	return &Hub{
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Viewers are unauthenticated; restrict origins at a reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now:      time.Now,
		channels: make(map[string]*channel.Channel),
		clients:  make(map[*client]struct{}),
	}
}

// OnChannelCreated registers fn to run after every CreateChannel.
func (h *Hub) OnChannelCreated(fn func(*channel.Channel)) {
	h.mu.Lock()
	h.onCreate = append(h.onCreate, fn)
	h.mu.Unlock()
}

// CreateChannel allocates a fresh id, registers an empty channel under it and
// returns the channel.
func (h *Hub) CreateChannel(assetPath string, info types.Value) *channel.Channel {
	ch := channel.New(uuid.NewString(), assetPath, info)

	h.mu.Lock()
	h.channels[ch.ID()] = ch
	hooks := append([]func(*channel.Channel){}, h.onCreate...)
	h.mu.Unlock()

	slog.Info("hub: channel created", "channel", ch.ID(), "assets", assetPath)
	for _, fn := range hooks {
		fn(ch)
	}
	return ch
}

// Channel returns the channel registered under id.
func (h *Hub) Channel(id string) (*channel.Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[id]
	return ch, ok
}

// Lookup is Channel for API callers: an unknown id is an ErrChannelNotFound.
func (h *Hub) Lookup(id string) (*channel.Channel, error) {
	ch, ok := h.Channel(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelNotFound, id)
	}
	return ch, nil
}

// RemoveChannel unregisters and closes the channel. It reports whether the
// channel existed.
func (h *Hub) RemoveChannel(id string) bool {
	h.mu.Lock()
	ch, ok := h.channels[id]
	delete(h.channels, id)
	h.mu.Unlock()
	if !ok {
		return false
	}
	ch.Close()
	slog.Info("hub: channel removed", "channel", id)
	return true
}

// Channels returns every channel, oldest first.
func (h *Hub) Channels() []*channel.Channel {
	h.mu.RLock()
	out := make([]*channel.Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// VizURL returns the URL a browser opens to view the channel.
func (h *Hub) VizURL(id string) string {
	return fmt.Sprintf("http://%s/%s/", net.JoinHostPort(h.opts.Host, strconv.Itoa(h.opts.Port)), id)
}

// Count returns the number of open viewer connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run reaps idle channels when IdleTTL is set. Run blocks until ctx is
// cancelled, then closes all viewer connections.
func (h *Hub) Run(ctx context.Context) {
	var tick <-chan time.Time
	if h.opts.IdleTTL > 0 {
		interval := h.opts.IdleTTL / 2
		if interval < time.Second {
			interval = time.Second
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case now := <-tick:
			if n := h.Reap(now); n > 0 {
				slog.Debug("hub: reaped idle channels", "count", n)
			}
		}
	}
}

// Reap removes channels idle for longer than IdleTTL as of now and returns
// how many were removed. It does nothing when IdleTTL is zero.
func (h *Hub) Reap(now time.Time) int {
	if h.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-h.opts.IdleTTL)
	removed := 0
	for _, ch := range h.Channels() {
		if ch.IdleSince(cutoff) && h.RemoveChannel(ch.ID()) {
			removed++
		}
	}
	return removed
}

// Upgrades routes WebSocket upgrade requests on any path to the hub and
// everything else to next.
func (h *Hub) Upgrades(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			h.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP upgrades the HTTP connection to WebSocket and services it until
// it closes. A viewer joins channels by sending connect messages.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := newClient(h, conn)
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("hub: connection opened", "remote", c.conn.RemoteAddr().String())
}

// unregister closes c and removes every registration made through it that
// still points at it.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()

	for _, b := range c.takeBindings() {
		if ch, ok := h.Channel(b.vizID); ok {
			ch.RemoveClientConn(b.clientID, c)
		}
	}
	slog.Debug("hub: connection closed", "remote", c.conn.RemoteAddr().String())
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
