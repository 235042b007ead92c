// Package api implements the HTTP control API for liveviz-server: the
// surface the owning process uses to create channels and push traces.
//
// New(hub, exporter) returns an http.Handler that serves:
//
//	GET    /api/v1/health                         : status, channel/connection/viewer counts
//	GET    /api/v1/channels                       : all channels ([]ChannelResponse)
//	POST   /api/v1/channels                       : create {asset_path, info} -> 201 {id, url}
//	GET    /api/v1/channels/{id}                  : one channel; 404 if unknown
//	DELETE /api/v1/channels/{id}                  : remove a channel
//	GET    /api/v1/channels/{id}/traces           : current trace mapping
//	PUT    /api/v1/channels/{id}/traces/{traceID} : upsert; body is any JSON value -> 204
//	DELETE /api/v1/channels/{id}/traces/{traceID} : delete (unknown ids too) -> 204
//	GET    /api/v1/channels/{id}/snapshot         : capture from a live viewer (text/html)
//	GET    /api/v1/channels/{id}/snapshot/latest  : last saved output, 404 if none
//	POST   /api/v1/channels/{id}/export           : capture to {path} on the server
//	POST   /api/v1/channels/{id}/open             : open a local browser on the channel
//
// Capture endpoints accept ?timeout=10s and answer 504 when no viewer replies
// in time. Snapshot responses carry a BLAKE3 ETag of the content.
//
// Errors are JSON {"error": "..."} with the matching status code.
package api
