package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liveviz/liveviz/agent/internal/render"
	"github.com/liveviz/liveviz/pkg/types"
)

const (
	// writeTimeout is the deadline for one control message.
	writeTimeout = 10 * time.Second

	// readLimit bounds one inbound frame; initialize carries every trace.
	readLimit = 64 << 20
)

// Renderer produces the HTML returned for a capture request.
type Renderer interface {
	Render(render.State) (string, error)
}

// Options configures a Viewer or a Pool.
type Options struct {
	// ServerURL is the server's WebSocket base URL, e.g. ws://localhost:8080/.
	ServerURL string

	// ClientID is the viewer id registered on each channel.
	ClientID string

	// Initial and Max bound the reconnection backoff.
	Initial time.Duration
	Max     time.Duration

	Renderer Renderer

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Viewer mirrors one channel over its own connection and answers capture
// requests with rendered HTML. Server frames carry no channel id, so each
// mirrored channel needs a dedicated connection.
type Viewer struct {
	vizID string
	opts  Options

	mu       sync.Mutex
	info     types.Value
	traces   map[string]types.Value
	ready    bool
	captures int

	writeMu sync.Mutex
}

// New creates a Viewer for channel vizID. Run connects it.
func New(vizID string, opts Options) *Viewer {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Initial <= 0 {
		opts.Initial = time.Second
	}
	if opts.Max < opts.Initial {
		opts.Max = opts.Initial
	}
	return &Viewer{
		vizID:  vizID,
		opts:   opts,
		traces: make(map[string]types.Value),
	}
}

// VizID returns the mirrored channel's id.
func (v *Viewer) VizID() string { return v.vizID }

// State returns a copy of the mirrored channel content.
func (v *Viewer) State() render.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	traces := make(map[string]types.Value, len(v.traces))
	for id, t := range v.traces {
		traces[id] = t
	}
	return render.State{VizID: v.vizID, Info: v.info, Traces: traces}
}

// Ready reports whether the channel's initial state has arrived on the
// current connection.
func (v *Viewer) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ready
}

// Captures returns how many capture requests this viewer has answered.
func (v *Viewer) Captures() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.captures
}

// Run keeps the viewer connected until ctx is cancelled, reconnecting with
// exponential backoff when the connection is lost.
func (v *Viewer) Run(ctx context.Context) {
	bo := newBackoff(v.opts.Initial, v.opts.Max)
	target, err := v.url()
	if err != nil {
		slog.Error("viewer: bad server url", "channel", v.vizID, "err", err)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := v.opts.Dialer.DialContext(ctx, target, nil)
		if err != nil {
			wait := bo.next()
			slog.Error("viewer: dial failed, will retry",
				"channel", v.vizID, "url", target, "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("viewer: connected", "channel", v.vizID, "url", target)
		bo.reset()

		err = v.session(ctx, conn)
		conn.Close()
		v.setReady(false)

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("viewer: connection lost, will reconnect",
			"channel", v.vizID, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// session registers on the channel and serves frames until the connection
// fails or ctx is cancelled.
func (v *Viewer) session(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(readLimit)

	if err := v.write(conn, types.Inbound{
		Action:   types.ActionConnect,
		ClientID: v.opts.ClientID,
		VizID:    v.vizID,
	}); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		v.write(conn, types.Inbound{ //nolint:errcheck
			Action:   types.ActionDisconnect,
			ClientID: v.opts.ClientID,
			VizID:    v.vizID,
		})
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		reply, err := v.handle(data)
		if err != nil {
			slog.Warn("viewer: dropping frame", "channel", v.vizID, "err", err)
			continue
		}
		if reply != nil {
			if err := v.write(conn, reply); err != nil {
				return fmt.Errorf("save: %w", err)
			}
		}
	}
}

// handle applies one server frame to the mirror. It returns the message to
// send back, if any.
func (v *Viewer) handle(data []byte) (*types.Inbound, error) {
	var msg types.Outbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	switch msg.Action {
	case types.ActionInitialize:
		v.mu.Lock()
		v.traces = make(map[string]types.Value, len(msg.Traces))
		for id, t := range msg.Traces {
			v.traces[id] = t
		}
		v.info = msg.Info
		v.ready = true
		v.mu.Unlock()
		slog.Debug("viewer: initialized", "channel", v.vizID, "traces", len(msg.Traces))

	case types.ActionPutTrace:
		v.mu.Lock()
		v.traces[msg.TraceID] = msg.Trace
		v.mu.Unlock()

	case types.ActionRemoveTrace:
		v.mu.Lock()
		delete(v.traces, msg.TraceID)
		v.mu.Unlock()

	case types.ActionSaveHTML:
		if v.opts.Renderer == nil {
			return nil, errors.New("capture requested but no renderer configured")
		}
		html, err := v.opts.Renderer.Render(v.State())
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.captures++
		v.mu.Unlock()
		slog.Info("viewer: answering capture", "channel", v.vizID, "request", msg.RequestID, "bytes", len(html))
		return &types.Inbound{
			Action:    types.ActionSave,
			ClientID:  v.opts.ClientID,
			VizID:     v.vizID,
			Content:   html,
			RequestID: msg.RequestID,
		}, nil

	case types.ActionReload:
		// Rendering reads no assets.
		slog.Debug("viewer: asset changed", "channel", v.vizID, "path", msg.Path)

	default:
		slog.Debug("viewer: ignoring unknown action", "channel", v.vizID, "action", msg.Action)
	}
	return nil, nil
}

func (v *Viewer) write(conn *websocket.Conn, msg any) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	return conn.WriteJSON(msg)
}

func (v *Viewer) setReady(ready bool) {
	v.mu.Lock()
	v.ready = ready
	v.mu.Unlock()
}

// url returns the WebSocket URL for this channel. The server upgrades on any
// path; the channel path keeps server logs readable.
func (v *Viewer) url() (string, error) {
	return url.JoinPath(v.opts.ServerURL, v.vizID, "ws")
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
