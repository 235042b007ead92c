package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultServerURL        = "ws://localhost:8080/"
	DefaultReconnectInitial = 1 * time.Second
	DefaultReconnectMax     = 60 * time.Second
	DefaultTitle            = "liveviz snapshot"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
)

// Config holds the agent configuration parsed from the `agent:` section of
// config.yaml. The `server:` key in the same file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the WebSocket URL of liveviz-server (ws:// or wss://).
	ServerURL string `yaml:"server_url"`

	// ClientID is the viewer id registered on every channel. A random id is
	// used when empty.
	ClientID string `yaml:"client_id"`

	// Channels lists the channel ids to mirror.
	Channels []string `yaml:"channels"`

	// Reconnect bounds the exponential backoff between connection attempts.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// Render configures the HTML produced for capture requests.
	Render RenderConfig `yaml:"render"`

	// Log selects the log level and output format.
	Log LogConfig `yaml:"log"`
}

// ReconnectConfig bounds reconnection backoff.
type ReconnectConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// RenderConfig configures rendered snapshots.
type RenderConfig struct {
	// Title is the <title> of rendered documents.
	Title string `yaml:"title"`
}

// LogConfig selects logging behaviour.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SameChannels reports whether a and b subscribe to the same channel set,
// ignoring order.
func SameChannels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ServerURL: DefaultServerURL,
			Reconnect: ReconnectConfig{
				Initial: DefaultReconnectInitial,
				Max:     DefaultReconnectMax,
			},
			Render: RenderConfig{Title: DefaultTitle},
			Log: LogConfig{
				Level:  DefaultLogLevel,
				Format: DefaultLogFormat,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	u, err := url.Parse(a.ServerURL)
	if err != nil {
		return fmt.Errorf("agent.server_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("agent.server_url %q: scheme must be ws or wss", a.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("agent.server_url %q: host is required", a.ServerURL)
	}
	for i, id := range a.Channels {
		if id == "" {
			return fmt.Errorf("agent.channels[%d] is empty", i)
		}
	}
	if a.Reconnect.Initial <= 0 {
		return fmt.Errorf("agent.reconnect.initial must be positive")
	}
	if a.Reconnect.Max < a.Reconnect.Initial {
		return fmt.Errorf("agent.reconnect.max must be at least reconnect.initial")
	}
	switch a.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log.level %q unknown: want debug|info|warn|error", a.Log.Level)
	}
	switch a.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("agent.log.format %q unknown: want json|text", a.Log.Format)
	}
	return nil
}
