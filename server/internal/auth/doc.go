// Package auth provides authentication middleware for the liveviz-server
// control API.
//
// APIKey(mode, header, key) returns middleware that validates the API key
// from the named HTTP header. When mode != "apikey" or key == "", all requests
// pass through (useful for local development with auth disabled). When the
// key is incorrect or absent the middleware answers 401 immediately.
//
// Viewer connections and static assets are never wrapped: only the process
// that owns the channels is authenticated.
package auth
