package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// ConfigFile is the config file name under the user config directory.
const ConfigFile = "config.kdl"

// KDLConfig is the on-disk layout.
type KDLConfig struct {
	Meld        KDLMeld        `kdl:"meld"`
	Polling     KDLPolling     `kdl:"polling"`
	TouchPortal KDLTouchPortal `kdl:"touchportal"`
	Status      KDLStatus      `kdl:"status"`
	LogLevel    string         `kdl:"log-level"`
	Fixtures    string         `kdl:"fixtures"`
}

// KDLMeld holds the Meld connection settings.
type KDLMeld struct {
	Host      string `kdl:"host"`
	Port      int    `kdl:"port"`
	Transport string `kdl:"transport"`
	CLIPath   string `kdl:"cli-path"`
	AuthToken string `kdl:"auth-token"`
	// RequestTimeout is in milliseconds.
	RequestTimeout int `kdl:"request-timeout"`
}

// KDLPolling holds intervals, all in milliseconds.
type KDLPolling struct {
	Interval        int     `kdl:"interval"`
	Metrics         bool    `kdl:"metrics"`
	MetricsInterval int     `kdl:"metrics-interval"`
	RefreshDelay    int     `kdl:"refresh-delay"`
	FanOutRate      float64 `kdl:"fan-out-rate"`
}

// KDLTouchPortal addresses the Touch Portal plugin socket.
type KDLTouchPortal struct {
	Host     string `kdl:"host"`
	Port     int    `kdl:"port"`
	PluginID string `kdl:"plugin-id"`
}

// KDLStatus configures the status server.
type KDLStatus struct {
	Listen string `kdl:"listen"`
}

// DefaultPath returns $XDG_CONFIG_HOME/meldtp/config.kdl, falling back to
// ~/.config.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "meldtp", ConfigFile)
}

// Load reads path, or DefaultPath when empty. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses KDL configuration data over the defaults.
func Parse(data string) (*Config, error) {
	var k KDLConfig
	if err := kdl.Unmarshal([]byte(data), &k); err != nil {
		return nil, err
	}
	return k.toConfig(), nil
}

func (k *KDLConfig) toConfig() *Config {
	cfg := Default()
	s := &cfg.Settings

	if k.Meld.Host != "" {
		s.Host = k.Meld.Host
	}
	if k.Meld.Port > 0 {
		s.Port = k.Meld.Port
	}
	if k.Meld.Transport != "" {
		s.Transport = k.Meld.Transport
	}
	if k.Meld.CLIPath != "" {
		s.CLIPath = k.Meld.CLIPath
	}
	s.AuthToken = k.Meld.AuthToken
	if k.Meld.RequestTimeout > 0 {
		cfg.RequestTimeout = time.Duration(k.Meld.RequestTimeout) * time.Millisecond
	}

	if k.Polling.Interval > 0 {
		s.PollInterval = time.Duration(k.Polling.Interval) * time.Millisecond
	}
	s.MetricsEnabled = k.Polling.Metrics
	if k.Polling.MetricsInterval > 0 {
		s.MetricsInterval = time.Duration(k.Polling.MetricsInterval) * time.Millisecond
	}
	if k.Polling.RefreshDelay > 0 {
		cfg.RefreshDelay = time.Duration(k.Polling.RefreshDelay) * time.Millisecond
	}
	if k.Polling.FanOutRate > 0 {
		cfg.FanOutRate = k.Polling.FanOutRate
	}

	if k.TouchPortal.Host != "" {
		cfg.TPHost = k.TouchPortal.Host
	}
	if k.TouchPortal.Port > 0 {
		cfg.TPPort = k.TouchPortal.Port
	}
	if k.TouchPortal.PluginID != "" {
		cfg.PluginID = k.TouchPortal.PluginID
	}

	if k.LogLevel != "" {
		s.LogLevel = k.LogLevel
	}
	cfg.FixturesPath = k.Fixtures
	cfg.StatusListen = k.Status.Listen

	cfg.Settings = s.Normalize()
	return cfg
}

// WriteDefaultConfig writes a documented default config file.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// meldtp configuration
// Values set from Touch Portal's plugin settings override this file.

meld {
    host "127.0.0.1"
    port 4455
    // "webchannel", "cli" or "mock"
    transport "webchannel"
    cli-path "meld-cli"
    // auth-token "secret"
    // Per-call timeout in milliseconds
    request-timeout 10000
}

polling {
    // State poll interval in milliseconds (minimum 500)
    interval 1500
    metrics false
    // Metrics poll interval in milliseconds (minimum 1000)
    metrics-interval 5000
    // Delay before re-reading states after an action, in milliseconds
    refresh-delay 50
    // Child enumerations per second when building nested choice lists.
    // Unlimited when unset.
    // fan-out-rate 4
}

touchportal {
    host "127.0.0.1"
    port 12136
    plugin-id "meld.touchportal.fullcontrol"
}

log-level "info"

// Fixture file for the mock transport
// fixtures "/path/to/fixtures.yaml"

// Health, state and prometheus endpoints
// status {
//     listen "127.0.0.1:9477"
// }
`
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(defaultKDL)+"\n"), 0644)
}
