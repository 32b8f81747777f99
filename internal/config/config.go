// Package config holds the plugin configuration: built-in defaults, the
// KDL config file and the settings Touch Portal pushes at runtime.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Touch Portal setting keys.
const (
	KeyHost            = "meld.host"
	KeyPort            = "meld.port"
	KeyTransport       = "meld.transport"
	KeyCLIPath         = "meld.cliPath"
	KeyAuthToken       = "meld.authToken"
	KeyPollInterval    = "meld.pollInterval"
	KeyMetricsEnabled  = "meld.metrics.enabled"
	KeyMetricsInterval = "meld.metrics.interval"
	KeyLogLevel        = "meld.logLevel"
)

// Defaults and floors.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 4455
	DefaultTransport       = "webchannel"
	DefaultCLIPath         = "meld-cli"
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultMetricsInterval = 5000 * time.Millisecond
	DefaultLogLevel        = "info"

	MinPollInterval    = 500 * time.Millisecond
	MinMetricsInterval = time.Second

	DefaultTPHost         = "127.0.0.1"
	DefaultTPPort         = 12136
	DefaultPluginID       = "meld.touchportal.fullcontrol"
	DefaultRequestTimeout = 10 * time.Second
	DefaultRefreshDelay   = 50 * time.Millisecond
)

// Settings are the options a user can change from Touch Portal.
type Settings struct {
	Host            string
	Port            int
	Transport       string
	CLIPath         string
	AuthToken       string
	PollInterval    time.Duration
	MetricsEnabled  bool
	MetricsInterval time.Duration
	LogLevel        string
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Transport:       DefaultTransport,
		CLIPath:         DefaultCLIPath,
		PollInterval:    DefaultPollInterval,
		MetricsInterval: DefaultMetricsInterval,
		LogLevel:        DefaultLogLevel,
	}
}

// Apply merges host settings over s. Keys that are absent keep their
// current value; numeric values that are missing, malformed or not
// positive fall back to the default.
func (s Settings) Apply(values map[string]string) Settings {
	if v, ok := values[KeyHost]; ok {
		s.Host = strings.TrimSpace(v)
	}
	if v, ok := values[KeyPort]; ok {
		s.Port = positiveInt(v, DefaultPort)
	}
	if v, ok := values[KeyTransport]; ok {
		s.Transport = strings.TrimSpace(v)
	}
	if v, ok := values[KeyCLIPath]; ok {
		s.CLIPath = strings.TrimSpace(v)
	}
	if v, ok := values[KeyAuthToken]; ok {
		s.AuthToken = v
	}
	if v, ok := values[KeyPollInterval]; ok {
		s.PollInterval = millis(v, DefaultPollInterval)
	}
	if v, ok := values[KeyMetricsEnabled]; ok {
		s.MetricsEnabled = strings.EqualFold(strings.TrimSpace(v), "on")
	}
	if v, ok := values[KeyMetricsInterval]; ok {
		s.MetricsInterval = millis(v, DefaultMetricsInterval)
	}
	if v, ok := values[KeyLogLevel]; ok {
		s.LogLevel = strings.TrimSpace(v)
	}
	return s.Normalize()
}

// Normalize fills empty values with defaults and enforces the interval
// floors.
func (s Settings) Normalize() Settings {
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port <= 0 {
		s.Port = DefaultPort
	}
	if s.Transport == "" {
		s.Transport = DefaultTransport
	}
	if s.CLIPath == "" {
		s.CLIPath = DefaultCLIPath
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	s.PollInterval = max(s.PollInterval, MinPollInterval)
	if s.MetricsInterval <= 0 {
		s.MetricsInterval = DefaultMetricsInterval
	}
	s.MetricsInterval = max(s.MetricsInterval, MinMetricsInterval)
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	return s
}

// Config is the fully resolved plugin configuration.
type Config struct {
	Settings Settings

	PluginID       string
	TPHost         string
	TPPort         int
	RequestTimeout time.Duration
	RefreshDelay   time.Duration
	// FanOutRate caps child enumerations per second; 0 means no cap.
	FanOutRate   float64
	FixturesPath string
	// StatusListen is the status server address; empty disables it.
	StatusListen string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Settings:       DefaultSettings(),
		PluginID:       DefaultPluginID,
		TPHost:         DefaultTPHost,
		TPPort:         DefaultTPPort,
		RequestTimeout: DefaultRequestTimeout,
		RefreshDelay:   DefaultRefreshDelay,
	}
}

func positiveInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func millis(s string, fallback time.Duration) time.Duration {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n * float64(time.Millisecond))
}
