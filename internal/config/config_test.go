package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "127.0.0.1", s.Host)
	assert.Equal(t, 4455, s.Port)
	assert.Equal(t, "webchannel", s.Transport)
	assert.Equal(t, "meld-cli", s.CLIPath)
	assert.Equal(t, 1500*time.Millisecond, s.PollInterval)
	assert.False(t, s.MetricsEnabled)
	assert.Equal(t, 5*time.Second, s.MetricsInterval)
	assert.Equal(t, "info", s.LogLevel)
}

func TestSettingsApply(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
		check  func(t *testing.T, s Settings)
	}{
		{
			name: "connection",
			values: map[string]string{
				KeyHost:      " 10.0.0.5 ",
				KeyPort:      "4460",
				KeyTransport: "cli",
				KeyCLIPath:   "/opt/meld/meld-cli",
				KeyAuthToken: "secret",
			},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "10.0.0.5", s.Host)
				assert.Equal(t, 4460, s.Port)
				assert.Equal(t, "cli", s.Transport)
				assert.Equal(t, "/opt/meld/meld-cli", s.CLIPath)
				assert.Equal(t, "secret", s.AuthToken)
			},
		},
		{
			name:   "poll interval floor",
			values: map[string]string{KeyPollInterval: "100"},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, 500*time.Millisecond, s.PollInterval)
			},
		},
		{
			name:   "malformed poll interval uses default",
			values: map[string]string{KeyPollInterval: "fast"},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, 1500*time.Millisecond, s.PollInterval)
			},
		},
		{
			name:   "zero poll interval uses default",
			values: map[string]string{KeyPollInterval: "0"},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, 1500*time.Millisecond, s.PollInterval)
			},
		},
		{
			name:   "metrics",
			values: map[string]string{KeyMetricsEnabled: "on", KeyMetricsInterval: "200"},
			check: func(t *testing.T, s Settings) {
				assert.True(t, s.MetricsEnabled)
				assert.Equal(t, time.Second, s.MetricsInterval)
			},
		},
		{
			name:   "metrics off",
			values: map[string]string{KeyMetricsEnabled: "off"},
			check: func(t *testing.T, s Settings) {
				assert.False(t, s.MetricsEnabled)
			},
		},
		{
			name:   "bad port uses default",
			values: map[string]string{KeyPort: "-1"},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, 4455, s.Port)
			},
		},
		{
			name:   "empty host restores default",
			values: map[string]string{KeyHost: ""},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "127.0.0.1", s.Host)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, DefaultSettings().Apply(tt.values))
		})
	}
}

func TestSettingsApplyMerges(t *testing.T) {
	s := DefaultSettings().Apply(map[string]string{KeyHost: "10.0.0.5", KeyLogLevel: "debug"})
	s = s.Apply(map[string]string{KeyPort: "4460"})

	assert.Equal(t, "10.0.0.5", s.Host, "absent keys keep earlier values")
	assert.Equal(t, 4460, s.Port)
	assert.Equal(t, "debug", s.LogLevel)
}
