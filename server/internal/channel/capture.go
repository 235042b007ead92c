package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/liveviz/liveviz/pkg/types"
)

var (
	// ErrCaptureTimeout is returned when a capture's context ends before a
	// viewer answers.
	ErrCaptureTimeout = errors.New("channel: capture timed out")

	// ErrClosed is returned when the channel is closed while a capture waits.
	ErrClosed = errors.New("channel: closed")
)

type pendingCapture struct {
	id     string
	result chan string // buffered, receives exactly one value
}

// Snapshot asks the connected viewers for their rendered output and returns
// the first matching answer. With no viewers connected it waits for one to
// join. Concurrent calls are served one at a time in arrival order.
//
// Snapshot blocks until a viewer answers, ctx ends (ErrCaptureTimeout) or the
// channel is closed (ErrClosed).
func (c *Channel) Snapshot(ctx context.Context) (string, error) {
	c.capturing.Add(1)
	defer c.capturing.Add(-1)
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	p := &pendingCapture{id: uuid.NewString(), result: make(chan string, 1)}
	defer func() {
		c.snapMu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.snapMu.Unlock()
	}()

	// A viewer can leave between the wait and the request; ask again once
	// another joins.
	for {
		if err := c.awaitViewer(ctx); err != nil {
			return "", err
		}
		c.snapMu.Lock()
		c.pending = p
		c.snapMu.Unlock()

		c.mu.Lock()
		n := c.broadcastLocked(types.SaveHTML{Action: types.ActionSaveHTML, RequestID: p.id})
		c.mu.Unlock()
		if n > 0 {
			slog.Debug("channel: capture requested", "channel", c.id, "request", p.id, "viewers", n)
			break
		}
		select {
		case content := <-p.result:
			c.captures.Add(1)
			return content, nil
		default:
		}
	}

	select {
	case content := <-p.result:
		c.captures.Add(1)
		return content, nil
	case <-ctx.Done():
		// An answer that landed together with the deadline still counts.
		select {
		case content := <-p.result:
			c.captures.Add(1)
			return content, nil
		default:
		}
		return "", fmt.Errorf("%w: %w", ErrCaptureTimeout, ctx.Err())
	case <-c.done:
		return "", ErrClosed
	}
}

// Save records a viewer's rendered output. It always replaces the latest
// snapshot; it completes the capture in progress when requestID matches it
// or is empty. It reports whether a waiting capture was completed.
func (c *Channel) Save(requestID, content string) bool {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	c.latest = content
	c.latestAt = c.now()
	c.touch()

	p := c.pending
	if p == nil {
		slog.Debug("channel: save with no capture pending", "channel", c.id)
		return false
	}
	if requestID != "" && requestID != p.id {
		slog.Debug("channel: save for a different capture request",
			"channel", c.id, "request", requestID, "pending", p.id)
		return false
	}
	select {
	case p.result <- content:
	default:
	}
	c.pending = nil
	return true
}

// LatestSnapshot returns the most recently saved output and when it arrived.
// The time is zero when nothing has been saved yet.
func (c *Channel) LatestSnapshot() (string, time.Time) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.latest, c.latestAt
}

// awaitViewer returns once at least one viewer is registered.
func (c *Channel) awaitViewer(ctx context.Context) error {
	logged := false
	for {
		c.mu.Lock()
		n, wait := c.viewers.Len(), c.joined
		c.mu.Unlock()
		if n > 0 {
			return nil
		}
		if !logged {
			slog.Info("channel: no viewers connected, waiting for one to capture a snapshot", "channel", c.id)
			logged = true
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCaptureTimeout, ctx.Err())
		case <-c.done:
			return ErrClosed
		}
	}
}

func (c *Channel) touch() {
	c.mu.Lock()
	c.lastActive = c.now()
	c.mu.Unlock()
}
