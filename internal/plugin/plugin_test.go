package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/meldtp/internal/bridge"
	"github.com/standardbeagle/meldtp/internal/capability"
	"github.com/standardbeagle/meldtp/internal/config"
	"github.com/standardbeagle/meldtp/internal/touchportal"
	"github.com/standardbeagle/meldtp/internal/transport"
)

type fakeController struct {
	mu        sync.Mutex
	calls     []string
	opts      bridge.Options
	actions   []string
	fields    []capability.Fields
	refreshed []string
	execErr   error
	// startGate, when set, holds Start until it is closed or the start
	// context ends.
	startGate chan struct{}
}

func (f *fakeController) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeController) Start(ctx context.Context) {
	f.record("start")
	if f.startGate == nil {
		return
	}
	select {
	case <-f.startGate:
	case <-ctx.Done():
		f.record("start cancelled")
	}
}

func (f *fakeController) Stop() { f.record("stop") }

func (f *fakeController) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func (f *fakeController) Execute(_ context.Context, id string, fields capability.Fields) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, id)
	f.fields = append(f.fields, fields)
	return nil, f.execErr
}

func (f *fakeController) RefreshChoice(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, id)
	return nil
}

func (f *fakeController) Options() bridge.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

func (f *fakeController) SetOptions(o bridge.Options) {
	f.mu.Lock()
	f.opts = o
	f.mu.Unlock()
	f.record("options")
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type notice struct{ Title, Message string }

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *fakeNotifier) ShowNotification(title, message string) error {
	n.mu.Lock()
	n.notices = append(n.notices, notice{title, message})
	n.mu.Unlock()
	return nil
}

func settingsEvent(typ string, kv map[string]string) touchportal.Event {
	var entries []map[string]string
	for k, v := range kv {
		entries = append(entries, map[string]string{k: v})
	}
	raw, _ := json.Marshal(entries)
	if typ == touchportal.TypeInfo {
		return touchportal.Event{Type: typ, Settings: raw}
	}
	return touchportal.Event{Type: typ, Values: raw}
}

func newTestPlugin(ctrl Controller, n Notifier) (*Plugin, *slog.LevelVar, *bool) {
	lv := new(slog.LevelVar)
	closed := false
	p := New(Config{
		Controller: ctrl,
		Notifier:   n,
		Level:      lv,
		OnClose:    func() { closed = true },
	})
	return p, lv, &closed
}

func TestPlugin_InfoAppliesSettingsThenStarts(t *testing.T) {
	ctrl := &fakeController{}
	p, lv, _ := newTestPlugin(ctrl, &fakeNotifier{})

	p.Handle(context.Background(), settingsEvent(touchportal.TypeInfo, map[string]string{
		config.KeyHost:         "10.0.0.9",
		config.KeyTransport:    "subprocess",
		config.KeyPollInterval: "100",
		config.KeyLogLevel:     "debug",
	}))
	p.Wait()

	assert.Equal(t, []string{"options", "start"}, ctrl.Calls())
	opts := ctrl.Options()
	assert.Equal(t, "10.0.0.9", opts.Transport.Host)
	assert.Equal(t, 4455, opts.Transport.Port)
	assert.Equal(t, transport.KindCLI, transport.NormalizeKind(opts.Transport.Kind))
	assert.Equal(t, 500*time.Millisecond, opts.PollInterval)
	assert.Equal(t, slog.LevelDebug, lv.Level())
}

func TestPlugin_SettingsRestarts(t *testing.T) {
	ctrl := &fakeController{}
	p, _, _ := newTestPlugin(ctrl, &fakeNotifier{})

	p.Handle(context.Background(), settingsEvent(touchportal.TypeInfo, map[string]string{config.KeyHost: "10.0.0.9"}))
	p.Wait()
	p.Handle(context.Background(), settingsEvent(touchportal.TypeSettings, map[string]string{config.KeyPort: "4460"}))
	p.Wait()

	assert.Equal(t, []string{"options", "start", "options", "stop", "start"}, ctrl.Calls())
	opts := ctrl.Options()
	assert.Equal(t, "10.0.0.9", opts.Transport.Host, "earlier settings survive")
	assert.Equal(t, 4460, opts.Transport.Port)
	assert.Equal(t, 4460, p.Settings().Port)
}

func TestPlugin_ActionFailureNotifies(t *testing.T) {
	ctrl := &fakeController{execErr: errors.New("not connected to Meld")}
	n := &fakeNotifier{}
	p, _, _ := newTestPlugin(ctrl, n)

	p.Handle(context.Background(), touchportal.Event{
		Type:     touchportal.TypeAction,
		ActionID: "meld.scene.switch",
		Data:     []touchportal.DataItem{{ID: "sceneName", Value: "BRB"}},
	})
	p.Wait()

	assert.Equal(t, []string{"meld.scene.switch"}, ctrl.actions)
	assert.Equal(t, capability.Fields{"sceneName": "BRB"}, ctrl.fields[0])
	require.Len(t, n.notices, 1)
	assert.Equal(t, notice{
		Title:   "Meld Studio",
		Message: "Action meld.scene.switch failed: not connected to Meld",
	}, n.notices[0])
}

func TestPlugin_ActionSuccessIsSilent(t *testing.T) {
	ctrl := &fakeController{}
	n := &fakeNotifier{}
	p, _, _ := newTestPlugin(ctrl, n)

	p.Handle(context.Background(), touchportal.Event{Type: touchportal.TypeAction, ActionID: "meld.project.save"})
	p.Wait()
	assert.Empty(t, n.notices)
}

func TestPlugin_ConnectorChangeRefreshes(t *testing.T) {
	ctrl := &fakeController{}
	p, _, _ := newTestPlugin(ctrl, &fakeNotifier{})

	p.Handle(context.Background(), touchportal.Event{Type: touchportal.TypeConnectorChange, ConnectorID: "items:list"})
	p.Wait()
	assert.Equal(t, []string{"items:list"}, ctrl.refreshed)
}

func TestPlugin_CloseStops(t *testing.T) {
	ctrl := &fakeController{}
	p, _, closed := newTestPlugin(ctrl, &fakeNotifier{})

	p.Handle(context.Background(), touchportal.Event{Type: touchportal.TypeClosePlugin})
	assert.Equal(t, []string{"stop"}, ctrl.Calls())
	assert.True(t, *closed)

	p.Handle(context.Background(), touchportal.Event{Type: "broadcast"})
	assert.Equal(t, []string{"stop"}, ctrl.Calls())

	p.Handle(context.Background(), settingsEvent(touchportal.TypeInfo, nil))
	p.Wait()
	assert.Equal(t, []string{"stop", "options"}, ctrl.Calls(), "no start after close")
}

func waitForCall(t *testing.T, ctrl *fakeController, call string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range ctrl.Calls() {
			if c == call {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s", call)
}

func TestPlugin_SlowStartDoesNotBlockEvents(t *testing.T) {
	ctrl := &fakeController{startGate: make(chan struct{})}
	p, _, closed := newTestPlugin(ctrl, &fakeNotifier{})

	handled := make(chan struct{})
	go func() {
		p.Handle(context.Background(), settingsEvent(touchportal.TypeInfo, nil))
		p.Handle(context.Background(), touchportal.Event{Type: touchportal.TypeAction, ActionID: "meld.project.save"})
		close(handled)
	}()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked behind Start")
	}

	waitForCall(t, ctrl, "start")
	require.Eventually(t, func() bool { return len(ctrl.Actions()) == 1 }, 2*time.Second, 5*time.Millisecond)

	p.Handle(context.Background(), touchportal.Event{Type: touchportal.TypeClosePlugin})
	p.Wait()
	assert.Equal(t, []string{"options", "start", "start cancelled", "stop"}, ctrl.Calls())
	assert.True(t, *closed)
}

func TestPlugin_SettingsCancelPendingStart(t *testing.T) {
	gate := make(chan struct{})
	ctrl := &fakeController{startGate: gate}
	p, _, _ := newTestPlugin(ctrl, &fakeNotifier{})

	p.Handle(context.Background(), settingsEvent(touchportal.TypeInfo, nil))
	waitForCall(t, ctrl, "start")

	p.Handle(context.Background(), settingsEvent(touchportal.TypeSettings, map[string]string{config.KeyPort: "4460"}))
	waitForCall(t, ctrl, "stop")
	close(gate)
	p.Wait()

	assert.Equal(t, []string{"options", "start", "options", "start cancelled", "stop", "start"}, ctrl.Calls())
	assert.Equal(t, 4460, ctrl.Options().Transport.Port)
}

func TestBridgeOptions(t *testing.T) {
	cfg := config.Default()
	cfg.RequestTimeout = 3 * time.Second
	cfg.RefreshDelay = 80 * time.Millisecond
	cfg.FanOutRate = 5
	cfg.FixturesPath = "fx.yaml"
	s := cfg.Settings.Apply(map[string]string{
		config.KeyAuthToken:      "tok",
		config.KeyMetricsEnabled: "on",
	})

	opts := BridgeOptions(cfg, s)
	assert.Equal(t, transport.Config{
		Kind:           "webchannel",
		Host:           "127.0.0.1",
		Port:           4455,
		AuthToken:      "tok",
		CLIPath:        "meld-cli",
		RequestTimeout: 3 * time.Second,
		FixturesPath:   "fx.yaml",
	}, opts.Transport)
	assert.True(t, opts.MetricsEnabled)
	assert.Equal(t, 5*time.Second, opts.MetricsInterval)
	assert.Equal(t, 80*time.Millisecond, opts.RefreshDelay)
	assert.Equal(t, 5.0, opts.FanOutRate)
}
