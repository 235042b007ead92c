package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHost           = "localhost"
	DefaultHTTPPort       = 8080
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultSendBuffer     = 64
	DefaultReadLimit      = 32 << 20
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultCaptureTimeout = 30 * time.Second
	DefaultCaptureSettle  = time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// Host is the hostname written into viewer URLs (default localhost).
	Host string `yaml:"host"`

	// HTTPPort is the port for viewers, assets, the control API and metrics
	// (default 8080). Zero picks a free port at startup.
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates control API clients.
	Auth AuthConfig `yaml:"auth"`

	// Log selects the log level and output format.
	Log LogConfig `yaml:"log"`

	// Viewer tunes per-connection buffering and timeouts.
	Viewer ViewerConfig `yaml:"viewer"`

	// Capture bounds snapshot captures.
	Capture CaptureConfig `yaml:"capture"`

	// Channels controls channel lifetime.
	Channels ChannelsConfig `yaml:"channels"`

	// Assets controls static asset serving.
	Assets AssetsConfig `yaml:"assets"`

	// Preload lists channels created at startup.
	Preload []PreloadChannel `yaml:"preload"`
}

// AuthConfig controls control API authentication. Viewers are never
// authenticated.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// LogConfig selects logging behaviour.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text. Text is meant for terminals.
	Format string `yaml:"format"`
}

// ViewerConfig tunes viewer connections.
type ViewerConfig struct {
	// SendBuffer is the per-viewer outgoing queue depth. A viewer whose queue
	// fills is disconnected.
	SendBuffer int `yaml:"send_buffer"`

	// ReadLimit is the largest inbound frame in bytes; it bounds saved snapshots.
	ReadLimit int64 `yaml:"read_limit"`

	// WriteTimeout is the deadline for one write to a viewer.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PongWait is how long a silent viewer is kept before it is treated as dead.
	PongWait time.Duration `yaml:"pong_wait"`
}

// CaptureConfig bounds snapshot captures.
type CaptureConfig struct {
	// Timeout is the longest a capture waits for a viewer and its answer.
	Timeout time.Duration `yaml:"timeout"`

	// Settle is the pause before capturing in run-then-capture exports.
	Settle time.Duration `yaml:"settle"`
}

// ChannelsConfig controls channel lifetime.
type ChannelsConfig struct {
	// IdleTTL removes channels with no viewers and no activity for this long.
	// Zero (default) keeps channels for the life of the process.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// AssetsConfig controls static asset serving.
type AssetsConfig struct {
	// Gzip compresses asset responses for clients that accept it (default true).
	Gzip *bool `yaml:"gzip"`

	// Watch broadcasts a reload to viewers when an asset file changes (default true).
	Watch *bool `yaml:"watch"`
}

// GzipEnabled reports whether asset responses are compressed.
func (a AssetsConfig) GzipEnabled() bool { return a.Gzip == nil || *a.Gzip }

// WatchEnabled reports whether asset directories are watched.
func (a AssetsConfig) WatchEnabled() bool { return a.Watch == nil || *a.Watch }

// PreloadChannel is a channel created at startup.
type PreloadChannel struct {
	// AssetPath is the directory holding the channel's static content.
	AssetPath string `yaml:"asset_path"`

	// Info is forwarded to viewers on join. Any YAML value is accepted.
	Info any `yaml:"info"`

	// Open launches a browser on the channel once the server listens.
	Open bool `yaml:"open"`
}

// InfoJSON returns Info encoded as JSON, or nil when Info is unset.
func (p PreloadChannel) InfoJSON() (json.RawMessage, error) {
	if p.Info == nil {
		return nil, nil
	}
	data, err := json.Marshal(p.Info)
	if err != nil {
		return nil, fmt.Errorf("preload %q: encode info: %w", p.AssetPath, err)
	}
	return data, nil
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. It is also the
// configuration used when no config file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     DefaultHost,
			HTTPPort: DefaultHTTPPort,
			Log: LogConfig{
				Level:  DefaultLogLevel,
				Format: DefaultLogFormat,
			},
			Viewer: ViewerConfig{
				SendBuffer:   DefaultSendBuffer,
				ReadLimit:    DefaultReadLimit,
				WriteTimeout: DefaultWriteTimeout,
				PongWait:     DefaultPongWait,
			},
			Capture: CaptureConfig{
				Timeout: DefaultCaptureTimeout,
				Settle:  DefaultCaptureSettle,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [0, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|text", s.Log.Format)
	}
	if s.Viewer.SendBuffer <= 0 {
		return fmt.Errorf("server.viewer.send_buffer must be positive")
	}
	if s.Viewer.ReadLimit <= 0 {
		return fmt.Errorf("server.viewer.read_limit must be positive")
	}
	if s.Viewer.WriteTimeout <= 0 || s.Viewer.PongWait <= 0 {
		return fmt.Errorf("server.viewer timeouts must be positive")
	}
	if s.Capture.Timeout <= 0 {
		return fmt.Errorf("server.capture.timeout must be positive")
	}
	if s.Capture.Settle < 0 {
		return fmt.Errorf("server.capture.settle must not be negative")
	}
	if s.Channels.IdleTTL < 0 {
		return fmt.Errorf("server.channels.idle_ttl must not be negative")
	}
	for i, p := range s.Preload {
		if p.AssetPath == "" {
			return fmt.Errorf("server.preload[%d].asset_path is required", i)
		}
		if _, err := p.InfoJSON(); err != nil {
			return err
		}
	}
	return nil
}
