// Package config loads and watches the liveviz-agent configuration file.
//
// Top-level types:
//   - Config{Agent}: the `agent:` section of config.yaml
//   - AgentConfig: server_url, client_id, channels [], reconnect, render, log
//
// Load(path) reads the YAML file, applies defaults (ws://localhost:8080/,
// 1s..60s reconnect backoff), then validates the URL scheme and enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory and calls
// onChange with the newly parsed Config after every write or atomic replace.
package config
