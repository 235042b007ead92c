package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Valid(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  server_url: "ws://viz.internal:9000/"
  client_id: ci-runner
  channels: [abc, def]
  reconnect:
    initial: 500ms
    max: 10s
  render:
    title: Nightly
`)
	a := cfg.Agent
	assert.Equal(t, "ws://viz.internal:9000/", a.ServerURL)
	assert.Equal(t, "ci-runner", a.ClientID)
	assert.Equal(t, []string{"abc", "def"}, a.Channels)
	assert.Equal(t, 500*time.Millisecond, a.Reconnect.Initial)
	assert.Equal(t, 10*time.Second, a.Reconnect.Max)
	assert.Equal(t, "Nightly", a.Render.Title)
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "agent:\n  channels: [abc]\n")
	a := cfg.Agent
	assert.Equal(t, DefaultServerURL, a.ServerURL)
	assert.Equal(t, DefaultReconnectInitial, a.Reconnect.Initial)
	assert.Equal(t, DefaultReconnectMax, a.Reconnect.Max)
	assert.Equal(t, DefaultTitle, a.Render.Title)
	assert.Equal(t, "info", a.Log.Level)
}

func TestLoad_IgnoresServerSection(t *testing.T) {
	cfg := loadFromString(t, `
server:
  http_port: 9999
agent:
  channels: [abc]
`)
	assert.Equal(t, []string{"abc"}, cfg.Agent.Channels)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"http scheme":       "agent:\n  server_url: http://localhost:8080/\n",
		"no host":           "agent:\n  server_url: ws:///x\n",
		"empty channel":     "agent:\n  channels: [\"\"]\n",
		"zero backoff":      "agent:\n  reconnect: {initial: 0s}\n",
		"max below initial": "agent:\n  reconnect: {initial: 5s, max: 1s}\n",
		"bad log level":     "agent:\n  log: {level: loud}\n",
		"bad yaml":          "agent: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSameChannels(t *testing.T) {
	assert.True(t, SameChannels([]string{"a", "b"}, []string{"b", "a"}))
	assert.True(t, SameChannels(nil, []string{}))
	assert.False(t, SameChannels([]string{"a"}, []string{"a", "b"}))
	assert.False(t, SameChannels([]string{"a", "c"}, []string{"a", "b"}))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "agent:\n  channels: [one]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  channels: [one, two]\n"), 0o644))

	select {
	case c := <-got:
		assert.Equal(t, []string{"one", "two"}, c.Agent.Channels)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatch_SkipsInvalidReload(t *testing.T) {
	path := writeFile(t, "agent:\n  channels: [one]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, func(c *Config) { got <- c }) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  log: {level: loud}\n"), 0o644))

	select {
	case c := <-got:
		t.Fatalf("invalid config delivered: %+v", c.Agent)
	case <-time.After(300 * time.Millisecond):
	}
}

// --- helpers ---

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := Load(writeFile(t, content))
	require.NoError(t, err)
	return cfg
}
