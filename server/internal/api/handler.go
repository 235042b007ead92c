package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/zeebo/blake3"

	"github.com/liveviz/liveviz/server/internal/channel"
	"github.com/liveviz/liveviz/server/internal/export"
	"github.com/liveviz/liveviz/server/internal/ws"
)

// maxTraceBytes bounds a single trace payload accepted over HTTP.
const maxTraceBytes = 32 << 20

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It drives channels on behalf of the process that owns them.
type Handler struct {
	hub *ws.Hub
	exp *export.Exporter
	mux chi.Router
}

// New creates a Handler wired to the hub and exporter and registers all routes.
func New(hub *ws.Hub, exp *export.Exporter) http.Handler {
	h := &Handler{hub: hub, exp: exp, mux: chi.NewRouter()}
	h.mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})

	h.mux.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/channels", h.listChannels)
		r.Post("/channels", h.createChannel)
		r.Route("/channels/{id}", func(r chi.Router) {
			r.Get("/", h.getChannel)
			r.Delete("/", h.deleteChannel)
			r.Get("/traces", h.listTraces)
			r.Put("/traces/{traceID}", h.putTrace)
			r.Delete("/traces/{traceID}", h.deleteTrace)
			r.Get("/snapshot", h.snapshot)
			r.Get("/snapshot/latest", h.latestSnapshot)
			r.Post("/export", h.export)
			r.Post("/open", h.open)
		})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: channel, connection and viewer counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	channels := h.hub.Channels()
	resp := HealthResponse{
		Status:      "ok",
		Channels:    len(channels),
		Connections: h.hub.Count(),
	}
	for _, ch := range channels {
		resp.Viewers += ch.ViewerCount()
	}
	jsonResp(w, http.StatusOK, resp)
}

// listChannels returns GET /api/v1/channels: every channel, oldest first.
func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	channels := h.hub.Channels()
	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, h.toChannelResponse(ch))
	}
	jsonResp(w, http.StatusOK, out)
}

// createChannel handles POST /api/v1/channels.
func (h *Handler) createChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AssetPath == "" {
		jsonErr(w, http.StatusBadRequest, "asset_path is required")
		return
	}
	if fi, err := os.Stat(req.AssetPath); err != nil || !fi.IsDir() {
		jsonErr(w, http.StatusBadRequest, "asset_path is not a directory")
		return
	}

	ch := h.hub.CreateChannel(req.AssetPath, req.Info)
	jsonResp(w, http.StatusCreated, CreateChannelResponse{
		ID:  ch.ID(),
		URL: h.hub.VizURL(ch.ID()),
	})
}

// getChannel returns GET /api/v1/channels/{id}.
func (h *Handler) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, h.toChannelResponse(ch))
}

// deleteChannel handles DELETE /api/v1/channels/{id}.
func (h *Handler) deleteChannel(w http.ResponseWriter, r *http.Request) {
	if !h.hub.RemoveChannel(chi.URLParam(r, "id")) {
		jsonErr(w, http.StatusNotFound, "channel not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listTraces returns GET /api/v1/channels/{id}/traces: the trace mapping.
func (h *Handler) listTraces(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, ch.Traces())
}

// putTrace handles PUT /api/v1/channels/{id}/traces/{traceID}; the body is
// the trace payload, any JSON value.
func (h *Handler) putTrace(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTraceBytes+1))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxTraceBytes {
		jsonErr(w, http.StatusRequestEntityTooLarge, "trace payload too large")
		return
	}
	if !json.Valid(body) {
		jsonErr(w, http.StatusBadRequest, "trace payload must be valid JSON")
		return
	}
	ch.PutTrace(chi.URLParam(r, "traceID"), json.RawMessage(body))
	w.WriteHeader(http.StatusNoContent)
}

// deleteTrace handles DELETE /api/v1/channels/{id}/traces/{traceID}.
// Deleting an unknown trace succeeds.
func (h *Handler) deleteTrace(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	ch.DeleteTrace(chi.URLParam(r, "traceID"))
	w.WriteHeader(http.StatusNoContent)
}

// snapshot handles GET /api/v1/channels/{id}/snapshot: captures the current
// rendered output from a live viewer. Blocks until a viewer answers or the
// timeout (?timeout=, default from config) expires.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, ok := withTimeout(w, r)
	if !ok {
		return
	}
	defer cancel()

	content, err := h.exp.Snapshot(ctx, chi.URLParam(r, "id"))
	if err != nil {
		captureErr(w, err)
		return
	}
	htmlResp(w, r, content)
}

// latestSnapshot handles GET /api/v1/channels/{id}/snapshot/latest: the
// last saved output, without asking viewers.
func (h *Handler) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	content, at := ch.LatestSnapshot()
	if at.IsZero() {
		jsonErr(w, http.StatusNotFound, "no snapshot saved yet")
		return
	}
	htmlResp(w, r, content)
}

// export handles POST /api/v1/channels/{id}/export: captures and writes the
// snapshot to a path on the server's filesystem.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		jsonErr(w, http.StatusBadRequest, "path is required")
		return
	}
	ctx, cancel, ok := withTimeout(w, r)
	if !ok {
		return
	}
	defer cancel()

	if err := h.exp.SaveToFile(ctx, chi.URLParam(r, "id"), req.Path); err != nil {
		captureErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, ExportResponse{Path: req.Path})
}

// open handles POST /api/v1/channels/{id}/open: opens a local browser on
// the channel.
func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	err := h.exp.OpenInBrowser(chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ws.ErrChannelNotFound):
		jsonErr(w, http.StatusNotFound, "channel not found")
	case errors.Is(err, export.ErrNoLauncher):
		jsonErr(w, http.StatusNotImplemented, err.Error())
	default:
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
	}
}

// --- helpers ----------------------------------------------------------------

// channel resolves {id}, writing a 404 when it is unknown.
func (h *Handler) channel(w http.ResponseWriter, r *http.Request) (*channel.Channel, bool) {
	ch, ok := h.hub.Channel(chi.URLParam(r, "id"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "channel not found")
	}
	return ch, ok
}

func (h *Handler) toChannelResponse(ch *channel.Channel) ChannelResponse {
	st := ch.Stats()
	resp := ChannelResponse{
		ID:         ch.ID(),
		URL:        h.hub.VizURL(ch.ID()),
		AssetPath:  ch.AssetPath(),
		Info:       ch.Info(),
		Viewers:    ch.ViewerIDs(),
		TraceCount: st.Traces,
		CreatedAt:  ch.CreatedAt().UTC().Format(time.RFC3339),
		LastActive: st.LastActive.UTC().Format(time.RFC3339),
	}
	if _, at := ch.LatestSnapshot(); !at.IsZero() {
		resp.SnapshotAt = at.UTC().Format(time.RFC3339)
	}
	return resp
}

// withTimeout applies ?timeout= to the request context. A zero return value
// for ok means a 400 has been written.
func withTimeout(w http.ResponseWriter, r *http.Request) (context.Context, context.CancelFunc, bool) {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return r.Context(), func() {}, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		jsonErr(w, http.StatusBadRequest, "timeout must be a positive duration such as 10s")
		return nil, nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), d)
	return ctx, cancel, true
}

func captureErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ws.ErrChannelNotFound):
		jsonErr(w, http.StatusNotFound, "channel not found")
	case errors.Is(err, channel.ErrCaptureTimeout):
		jsonErr(w, http.StatusGatewayTimeout, "no viewer answered the capture request in time")
	case errors.Is(err, channel.ErrClosed):
		jsonErr(w, http.StatusGone, "channel was removed during capture")
	default:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

// htmlResp writes captured HTML with a content-derived ETag.
func htmlResp(w http.ResponseWriter, r *http.Request, content string) {
	sum := blake3.Sum256([]byte(content))
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, content) //nolint:errcheck
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
