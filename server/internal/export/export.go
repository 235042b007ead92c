package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/liveviz/liveviz/server/internal/ws"
)

// Default timings applied when Options leaves them zero.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultFrameHeight = 600
)

var (
	ErrNoLauncher = errors.New("export: no browser launcher configured")
	ErrNoEmbedder = errors.New("export: no notebook embedder configured")
)

// Launcher opens a viewer URL somewhere a person can see it.
type Launcher interface {
	Open(url string) error
}

// Embedder displays a channel inline: first as a live frame, later as the
// captured HTML that replaces it.
type Embedder interface {
	Frame(url string, height int) error
	Display(html string) error
}

// Options configures an Exporter.
type Options struct {
	Launcher Launcher
	Embedder Embedder

	// Timeout bounds a capture when the caller's context has no deadline.
	Timeout time.Duration

	// Settle is the pause between caller work and the capture in Capture,
	// giving viewers time to render the final updates.
	Settle time.Duration
}

// Exporter turns live channels into static output.
type Exporter struct {
	hub      *ws.Hub
	launcher Launcher
	embedder Embedder
	timeout  time.Duration
	settle   time.Duration
}

// New creates an Exporter over hub.
func New(hub *ws.Hub, opts Options) *Exporter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	return &Exporter{
		hub:      hub,
		launcher: opts.Launcher,
		embedder: opts.Embedder,
		timeout:  opts.Timeout,
		settle:   opts.Settle,
	}
}

// Snapshot captures the channel's rendered output from a live viewer.
// Unknown channels fail with ws.ErrChannelNotFound.
func (e *Exporter) Snapshot(ctx context.Context, channelID string) (string, error) {
	ch, err := e.hub.Lookup(channelID)
	if err != nil {
		return "", err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return ch.Snapshot(ctx)
}

// SaveToFile captures the channel and writes the output to path, replacing
// any existing file.
func (e *Exporter) SaveToFile(ctx context.Context, channelID, path string) error {
	content, err := e.Snapshot(ctx, channelID)
	if err != nil {
		return fmt.Errorf("export: capture %s: %w", channelID, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("export: write %q: %w", path, err)
	}
	slog.Info("export: snapshot saved", "channel", channelID, "path", path, "bytes", len(content))
	return nil
}

// OpenInBrowser hands the channel's viewer URL to the launcher.
func (e *Exporter) OpenInBrowser(channelID string) error {
	if _, err := e.hub.Lookup(channelID); err != nil {
		return err
	}
	if e.launcher == nil {
		return ErrNoLauncher
	}
	return e.launcher.Open(e.hub.VizURL(channelID))
}

// OpenInNotebook shows the channel as a live inline frame of the given height.
func (e *Exporter) OpenInNotebook(channelID string, height int) error {
	if _, err := e.hub.Lookup(channelID); err != nil {
		return err
	}
	if e.embedder == nil {
		return ErrNoEmbedder
	}
	if height <= 0 {
		height = DefaultFrameHeight
	}
	return e.embedder.Frame(e.hub.VizURL(channelID), height)
}

// Capture opens the channel inline, runs work, waits for viewers to settle,
// captures the rendered output and displays it in place of the live frame.
// It returns whatever work returned; when work fails nothing is captured.
func Capture[T any](ctx context.Context, e *Exporter, channelID string, height int, work func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := e.OpenInNotebook(channelID, height); err != nil {
		return zero, err
	}

	result, err := work(ctx)
	if err != nil {
		return result, err
	}

	if e.settle > 0 {
		select {
		case <-time.After(e.settle):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	content, err := e.Snapshot(ctx, channelID)
	if err != nil {
		return result, fmt.Errorf("export: capture %s: %w", channelID, err)
	}
	if err := e.embedder.Display(content); err != nil {
		return result, fmt.Errorf("export: display capture: %w", err)
	}
	return result, nil
}
