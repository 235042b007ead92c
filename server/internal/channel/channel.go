package channel

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liveviz/liveviz/pkg/types"
	"github.com/liveviz/liveviz/server/internal/registry"
)

// Stats is a point-in-time view of a channel's counters.
type Stats struct {
	Viewers          int
	Traces           int
	Broadcasts       uint64
	DeliveryFailures uint64
	Captures         uint64
	PendingCaptures  int
	LastActive       time.Time
}

// Channel is one visualization session: its trace mapping, its connected
// viewers and its snapshot-capture state.
type Channel struct {
	id        string
	assetPath string
	info      types.Value
	createdAt time.Time
	now       func() time.Time // injectable for deterministic tests

	viewers *registry.Registry

	// mu serialises trace mutation with message composition and enqueueing,
	// so every viewer sees messages in the order the channel issued them.
	mu         sync.Mutex
	traces     map[string]types.Value
	joined     chan struct{} // closed and replaced on every AddClient
	lastActive time.Time

	captureMu sync.Mutex   // one capture in flight per channel
	capturing atomic.Int32 // captures running or queued on captureMu

	snapMu   sync.Mutex
	latest   string
	latestAt time.Time
	pending  *pendingCapture

	done      chan struct{}
	closeOnce sync.Once

	broadcasts atomic.Uint64
	failures   atomic.Uint64
	captures   atomic.Uint64
}

// New creates an empty channel with no traces and no viewers.
func New(id, assetPath string, info types.Value) *Channel {
	now := time.Now()
	return &Channel{
		id:         id,
		assetPath:  assetPath,
		info:       info,
		createdAt:  now,
		now:        time.Now,
		viewers:    registry.New(),
		traces:     make(map[string]types.Value),
		joined:     make(chan struct{}),
		lastActive: now,
		done:       make(chan struct{}),
	}
}

// ID returns the channel's routing key.
func (c *Channel) ID() string { return c.id }

// AssetPath returns the directory holding the channel's static content.
func (c *Channel) AssetPath() string { return c.assetPath }

// Info returns the metadata blob forwarded to viewers on join.
func (c *Channel) Info() types.Value { return c.info }

// CreatedAt returns the channel's creation time.
func (c *Channel) CreatedAt() time.Time { return c.createdAt }

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// AddClient registers conn under viewerID, replacing any previous connection
// for that id, and sends the new viewer an initialize message holding the
// full current trace mapping and info.
func (c *Channel) AddClient(viewerID string, conn registry.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}

	if prev := c.viewers.Add(viewerID, conn); prev != nil && prev != conn {
		slog.Debug("channel: viewer id re-registered", "channel", c.id, "viewer", viewerID)
	}

	msg, err := json.Marshal(types.Initialize{
		Action: types.ActionInitialize,
		Traces: c.traces,
		Info:   c.info,
	})
	if err != nil {
		slog.Error("channel: encode initialize", "channel", c.id, "err", err)
		return
	}
	c.deliver(registry.Entry{ViewerID: viewerID, Conn: conn}, msg)

	close(c.joined)
	c.joined = make(chan struct{})
	c.lastActive = c.now()

	slog.Info("channel: viewer connected", "channel", c.id, "viewer", viewerID, "viewers", c.viewers.Len())
}

// RemoveClient removes viewerID. Removing an unknown id is a no-op.
func (c *Channel) RemoveClient(viewerID string) bool {
	removed := c.viewers.Remove(viewerID)
	if removed {
		slog.Info("channel: viewer disconnected", "channel", c.id, "viewer", viewerID)
	}
	return removed
}

// RemoveClientConn removes viewerID only while it is still bound to conn.
func (c *Channel) RemoveClientConn(viewerID string, conn registry.Conn) bool {
	removed := c.viewers.RemoveConn(viewerID, conn)
	if removed {
		slog.Info("channel: viewer connection closed", "channel", c.id, "viewer", viewerID)
	}
	return removed
}

// PutTrace upserts a trace and broadcasts it to every connected viewer.
func (c *Channel) PutTrace(traceID string, data types.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces[traceID] = data
	c.lastActive = c.now()
	c.broadcastLocked(types.PutTrace{
		Action:  types.ActionPutTrace,
		TraceID: traceID,
		Trace:   data,
	})
}

// DeleteTrace removes a trace and broadcasts the removal. It reports whether
// the trace existed; the removal is broadcast either way.
func (c *Channel) DeleteTrace(traceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.traces[traceID]
	delete(c.traces, traceID)
	c.lastActive = c.now()
	c.broadcastLocked(types.RemoveTrace{
		Action:  types.ActionRemoveTrace,
		TraceID: traceID,
	})
	return ok
}

// Reload tells viewers that path changed in the asset directory.
func (c *Channel) Reload(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastLocked(types.Reload{Action: types.ActionReload, Path: path})
}

// Traces returns a copy of the current trace mapping.
func (c *Channel) Traces() map[string]types.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.Value, len(c.traces))
	for id, t := range c.traces {
		out[id] = t
	}
	return out
}

// Trace returns one trace payload.
func (c *Channel) Trace(traceID string) (types.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.traces[traceID]
	return t, ok
}

// ViewerCount returns the number of registered viewers, including ones whose
// connection closed but has not been evicted yet.
func (c *Channel) ViewerCount() int {
	return c.viewers.Len()
}

// ViewerIDs returns the registered viewer ids in sorted order.
func (c *Channel) ViewerIDs() []string {
	entries := c.viewers.Snapshot()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ViewerID)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the channel's current counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	traces, last := len(c.traces), c.lastActive
	c.mu.Unlock()
	return Stats{
		Viewers:          c.viewers.Len(),
		Traces:           traces,
		Broadcasts:       c.broadcasts.Load(),
		DeliveryFailures: c.failures.Load(),
		Captures:         c.captures.Load(),
		PendingCaptures:  int(c.capturing.Load()),
		LastActive:       last,
	}
}

// IdleSince reports whether the channel has no viewers, no capture waiting
// and has seen no activity since cutoff.
func (c *Channel) IdleSince(cutoff time.Time) bool {
	if c.viewers.Len() > 0 || c.Capturing() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastActive.After(cutoff)
}

// Capturing reports whether a Snapshot call is running or queued.
func (c *Channel) Capturing() bool {
	return c.capturing.Load() > 0
}

// Close drops every viewer and fails any capture in progress with ErrClosed.
// The viewers' connections stay open; they may serve other channels.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		// Held so a concurrent AddClient either precedes the clear or sees done.
		c.mu.Lock()
		close(c.done)
		n := len(c.viewers.Clear())
		c.mu.Unlock()
		slog.Info("channel: closed", "channel", c.id, "viewers_dropped", n)
	})
}

// --- internal ---------------------------------------------------------------

// broadcastLocked encodes v once and delivers it to every viewer registered
// when the broadcast starts. Callers must hold c.mu. It returns the number of
// viewers the message was enqueued for.
func (c *Channel) broadcastLocked(v any) int {
	msg, err := json.Marshal(v)
	if err != nil {
		slog.Error("channel: encode broadcast", "channel", c.id, "err", err)
		return 0
	}
	c.broadcasts.Add(1)

	delivered := 0
	for _, e := range c.viewers.Snapshot() {
		if c.deliver(e, msg) {
			delivered++
		}
	}
	return delivered
}

// deliver enqueues msg for one viewer. A closed or failing connection is
// evicted; the error never reaches the caller.
func (c *Channel) deliver(e registry.Entry, msg []byte) bool {
	if e.Conn.Closed() {
		c.viewers.RemoveConn(e.ViewerID, e.Conn)
		return false
	}
	if err := e.Conn.Send(msg); err != nil {
		c.failures.Add(1)
		c.viewers.RemoveConn(e.ViewerID, e.Conn)
		slog.Debug("channel: delivery failed, viewer evicted",
			"channel", c.id, "viewer", e.ViewerID, "err", err)
		return false
	}
	return true
}
