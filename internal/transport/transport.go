// Package transport provides the channels used to reach Meld Studio.
//
// Every implementation satisfies the same contract: Connect, Disconnect,
// Call and an optional stream of push notifications delivered through Hooks.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/protocol"
)

// Transport kinds accepted by New.
const (
	KindWebChannel = "webchannel"
	KindCLI        = "cli"
	KindMock       = "mock"
)

// DefaultRequestTimeout bounds a single call when Config.RequestTimeout is zero.
const DefaultRequestTimeout = 10 * time.Second

// Hooks receives unsolicited connection loss and push notifications.
//
// Hooks run on the transport's read goroutine and must not block; anything
// slow belongs on another goroutine.
type Hooks struct {
	// OnDisconnect fires when the remote side drops the channel. An explicit
	// Disconnect does not fire it.
	OnDisconnect   func(err error)
	OnNotification func(protocol.Notification)
}

// Transport is a channel to Meld Studio.
type Transport interface {
	// Name identifies the implementation ("webchannel", "cli", "mock").
	Name() string
	// Connect returns once the transport is usable.
	Connect(ctx context.Context) error
	// Disconnect tears the channel down and fails all pending calls with
	// protocol.ErrDisconnected. It does not fire OnDisconnect.
	Disconnect() error
	// Call invokes method and returns its decoded result. It fails fast
	// with protocol.ErrNotConnected when the transport is down.
	Call(ctx context.Context, method string, params any) (any, error)
	Connected() bool
	// SetHooks must be called before Connect.
	SetHooks(Hooks)
}

// Config selects and parameterises a transport.
type Config struct {
	Kind           string
	Host           string
	Port           int
	AuthToken      string
	CLIPath        string
	RequestTimeout time.Duration
	// FixturesPath is a YAML fixture file for the mock transport.
	FixturesPath string
}

// NormalizeKind maps aliases onto the canonical kind names. Unknown values
// fall back to KindWebChannel.
func NormalizeKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindCLI, "subprocess":
		return KindCLI
	case KindMock:
		return KindMock
	default:
		return KindWebChannel
	}
}

// New builds the transport named by cfg.Kind.
func New(cfg Config, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	switch NormalizeKind(cfg.Kind) {
	case KindCLI:
		return NewCLI(cfg, logger), nil
	case KindMock:
		fixtures := Fixtures{}
		if cfg.FixturesPath != "" {
			loaded, err := LoadFixtures(cfg.FixturesPath)
			if err != nil {
				return nil, fmt.Errorf("mock transport: %w", err)
			}
			fixtures = loaded
		}
		return NewMock(fixtures), nil
	default:
		return NewWebSocket(cfg, logger), nil
	}
}
