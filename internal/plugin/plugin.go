// Package plugin handles Touch Portal events on behalf of the bridge.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/standardbeagle/meldtp/internal/bridge"
	"github.com/standardbeagle/meldtp/internal/capability"
	"github.com/standardbeagle/meldtp/internal/config"
	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/touchportal"
	"github.com/standardbeagle/meldtp/internal/transport"
)

// NotificationTitle titles every notification the plugin raises.
const NotificationTitle = "Meld Studio"

// Controller is the bridge surface the plugin drives.
type Controller interface {
	Start(ctx context.Context)
	Stop()
	Execute(ctx context.Context, actionID string, fields capability.Fields) (any, error)
	RefreshChoice(ctx context.Context, choiceID string) error
	Options() bridge.Options
	SetOptions(bridge.Options)
}

// Notifier shows a message to the Touch Portal user.
type Notifier interface {
	ShowNotification(title, message string) error
}

// Config wires a Plugin.
type Config struct {
	Controller Controller
	Notifier   Notifier
	Base       *config.Config
	// Level is adjusted whenever the log level setting changes.
	Level  *slog.LevelVar
	Logger *slog.Logger
	// OnClose runs after Touch Portal asks the plugin to exit.
	OnClose func()
}

// Plugin reacts to Touch Portal events.
type Plugin struct {
	ctrl     Controller
	notifier Notifier
	base     *config.Config
	level    *slog.LevelVar
	logger   *slog.Logger
	onClose  func()

	mu          sync.Mutex
	settings    config.Settings
	startCancel context.CancelFunc
	closed      bool
	inflight    sync.WaitGroup

	// lifecycle serialises controller Start and Stop.
	lifecycle sync.Mutex
}

// New creates a Plugin.
func New(cfg Config) *Plugin {
	if cfg.Base == nil {
		cfg.Base = config.Default()
	}
	if cfg.Level == nil {
		cfg.Level = new(slog.LevelVar)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.OnClose == nil {
		cfg.OnClose = func() {}
	}
	p := &Plugin{
		ctrl:     cfg.Controller,
		notifier: cfg.Notifier,
		base:     cfg.Base,
		level:    cfg.Level,
		logger:   cfg.Logger.With("component", "plugin"),
		onClose:  cfg.OnClose,
		settings: cfg.Base.Settings,
	}
	p.level.Set(logging.ParseLevel(p.settings.LogLevel))
	return p
}

// Settings returns the settings currently in effect.
func (p *Plugin) Settings() config.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Handle processes one event. Settings are applied inline; connecting,
// actions and choice refreshes run in the background so a slow Meld does
// not hold up the event stream.
func (p *Plugin) Handle(ctx context.Context, ev touchportal.Event) {
	switch ev.Type {
	case touchportal.TypeInfo:
		p.logger.Info("paired with Touch Portal", "version", ev.TPVersionString)
		p.applySettings(ev.SettingsMap())
		p.start(ctx, false)
	case touchportal.TypeSettings:
		p.applySettings(ev.SettingsMap())
		p.start(ctx, true)
	case touchportal.TypeAction:
		p.background(func() { p.runAction(ctx, ev.ActionID, ev.Fields()) })
	case touchportal.TypeConnectorChange:
		p.background(func() { p.refreshChoice(ctx, ev.ConnectorID) })
	case touchportal.TypeClosePlugin:
		p.logger.Info("Touch Portal requested shutdown")
		p.Shutdown()
		p.onClose()
	default:
		p.logger.Debug("ignoring event", "type", ev.Type)
	}
}

// Shutdown abandons any pending start and stops the controller. Later
// info or settings events are ignored.
func (p *Plugin) Shutdown() {
	p.mu.Lock()
	p.closed = true
	if p.startCancel != nil {
		p.startCancel()
		p.startCancel = nil
	}
	p.mu.Unlock()

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.ctrl.Stop()
}

// start (re)starts the controller in the background. A start that has
// not begun by the time a newer one is requested is skipped, and one in
// progress has its connect attempt cancelled.
func (p *Plugin) start(ctx context.Context, restart bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.startCancel != nil {
		p.startCancel()
	}
	startCtx, cancel := context.WithCancel(ctx)
	p.startCancel = cancel
	p.mu.Unlock()

	p.background(func() {
		p.lifecycle.Lock()
		defer p.lifecycle.Unlock()
		if startCtx.Err() != nil {
			return
		}
		if restart {
			p.ctrl.Stop()
		}
		p.ctrl.Start(startCtx)
	})
}

// HandleError logs a transport-level failure of the Touch Portal link.
func (p *Plugin) HandleError(err error) {
	p.logger.Error("Touch Portal error", "error", err)
}

// Wait blocks until background handlers, including pending starts, have
// finished.
func (p *Plugin) Wait() {
	p.inflight.Wait()
}

func (p *Plugin) background(fn func()) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		fn()
	}()
}

func (p *Plugin) runAction(ctx context.Context, actionID string, fields map[string]string) {
	if _, err := p.ctrl.Execute(ctx, actionID, capability.Fields(fields)); err != nil {
		p.logger.Error("action execution failed", "action", actionID, "error", err)
		msg := fmt.Sprintf("Action %s failed: %s", actionID, err)
		if nerr := p.notifier.ShowNotification(NotificationTitle, msg); nerr != nil {
			p.logger.Error("notification failed", "error", nerr)
		}
	}
}

func (p *Plugin) refreshChoice(ctx context.Context, choiceID string) {
	p.logger.Debug("connector change requested", "choice", choiceID)
	if err := p.ctrl.RefreshChoice(ctx, choiceID); err != nil {
		p.logger.Error("connector refresh failed", "choice", choiceID, "error", err)
	}
}

func (p *Plugin) applySettings(values map[string]string) {
	p.mu.Lock()
	p.settings = p.settings.Apply(values)
	s := p.settings
	p.mu.Unlock()

	p.level.Set(logging.ParseLevel(s.LogLevel))
	p.ctrl.SetOptions(BridgeOptions(p.base, s))
	p.logger.Debug("settings applied", "transport", s.Transport, "host", s.Host, "port", s.Port)
}

// BridgeOptions combines file-level configuration with the current host
// settings.
func BridgeOptions(cfg *config.Config, s config.Settings) bridge.Options {
	return bridge.Options{
		Transport: transport.Config{
			Kind:           s.Transport,
			Host:           s.Host,
			Port:           s.Port,
			AuthToken:      s.AuthToken,
			CLIPath:        s.CLIPath,
			RequestTimeout: cfg.RequestTimeout,
			FixturesPath:   cfg.FixturesPath,
		},
		PollInterval:    s.PollInterval,
		MetricsEnabled:  s.MetricsEnabled,
		MetricsInterval: s.MetricsInterval,
		RefreshDelay:    cfg.RefreshDelay,
		FanOutRate:      cfg.FanOutRate,
	}
}
