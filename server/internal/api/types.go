package api

import "encoding/json"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Channels    int    `json:"channels"`
	Connections int    `json:"connections"`
	Viewers     int    `json:"viewers"`
}

// ChannelResponse is one channel in GET /api/v1/channels or
// GET /api/v1/channels/{id}.
type ChannelResponse struct {
	ID         string          `json:"id"`
	URL        string          `json:"url"`
	AssetPath  string          `json:"asset_path"`
	Info       json.RawMessage `json:"info"`
	Viewers    []string        `json:"viewers"`
	TraceCount int             `json:"trace_count"`
	CreatedAt  string          `json:"created_at"`  // RFC3339
	LastActive string          `json:"last_active"` // RFC3339
	SnapshotAt string          `json:"snapshot_at,omitempty"`
}

// CreateChannelRequest is the body of POST /api/v1/channels.
type CreateChannelRequest struct {
	AssetPath string          `json:"asset_path"`
	Info      json.RawMessage `json:"info"`
}

// CreateChannelResponse is returned by POST /api/v1/channels.
type CreateChannelResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ExportRequest is the body of POST /api/v1/channels/{id}/export.
type ExportRequest struct {
	Path string `json:"path"`
}

// ExportResponse is returned by POST /api/v1/channels/{id}/export.
type ExportResponse struct {
	Path string `json:"path"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
