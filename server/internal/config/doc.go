// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - Host, HTTPPort     : public address for viewer URLs; listening port (default 8080)
//   - Auth.Mode          : "apikey" or "none" (control API only)
//   - Auth.KeyEnv        : environment variable holding the expected API key
//   - Auth.Header        : HTTP header name (default "x-api-key")
//   - Log.Level/Format   : debug|info|warn|error; json|text
//   - Viewer.*           : send buffer, read limit, write timeout, pong wait
//   - Capture.Timeout    : longest snapshot capture (default 30s)
//   - Capture.Settle     : pause before run-then-capture (default 1s)
//   - Channels.IdleTTL   : idle channel removal (default 0 = never)
//   - Assets.Gzip/Watch  : compressed assets, live reload (both default on)
//   - Preload            : channels created at startup
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
