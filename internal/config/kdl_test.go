package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	input := `
meld {
    host "192.168.1.20"
    port 4456
    transport "cli"
    cli-path "/usr/local/bin/meld-cli"
    auth-token "tok"
    request-timeout 2500
}

polling {
    interval 250
    metrics true
    metrics-interval 2000
    refresh-delay 120
    fan-out-rate 2.5
}

touchportal {
    port 12137
    plugin-id "meld.test"
}

log-level "debug"
fixtures "/tmp/fx.yaml"

status {
    listen "127.0.0.1:9477"
}
`
	cfg, err := Parse(input)
	require.NoError(t, err)

	s := cfg.Settings
	assert.Equal(t, "192.168.1.20", s.Host)
	assert.Equal(t, 4456, s.Port)
	assert.Equal(t, "cli", s.Transport)
	assert.Equal(t, "/usr/local/bin/meld-cli", s.CLIPath)
	assert.Equal(t, "tok", s.AuthToken)
	assert.Equal(t, 500*time.Millisecond, s.PollInterval, "floor applies to the file too")
	assert.True(t, s.MetricsEnabled)
	assert.Equal(t, 2*time.Second, s.MetricsInterval)
	assert.Equal(t, "debug", s.LogLevel)

	assert.Equal(t, 2500*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, 120*time.Millisecond, cfg.RefreshDelay)
	assert.Equal(t, 2.5, cfg.FanOutRate)
	assert.Equal(t, "127.0.0.1", cfg.TPHost)
	assert.Equal(t, 12137, cfg.TPPort)
	assert.Equal(t, "meld.test", cfg.PluginID)
	assert.Equal(t, "/tmp/fx.yaml", cfg.FixturesPath)
	assert.Equal(t, "127.0.0.1:9477", cfg.StatusListen)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(`meld { host "unterminated }`)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.kdl"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "meldtp", "config.kdl"), DefaultPath())
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.kdl")
	require.NoError(t, WriteDefaultConfig(path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
