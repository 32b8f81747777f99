package plugin

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/meldtp/internal/bridge"
	"github.com/standardbeagle/meldtp/internal/capability"
	"github.com/standardbeagle/meldtp/internal/config"
	"github.com/standardbeagle/meldtp/internal/touchportal"
	"github.com/standardbeagle/meldtp/internal/transport"
)

type recordingSink struct {
	mu      sync.Mutex
	states  map[string]string
	choices map[string][]touchportal.Choice
}

func newRecordingSink() *recordingSink {
	return &recordingSink{states: map[string]string{}, choices: map[string][]touchportal.Choice{}}
}

func (s *recordingSink) StateUpdate(id, value string) error {
	s.mu.Lock()
	s.states[id] = value
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) ChoiceUpdate(id string, choices []touchportal.Choice) error {
	s.mu.Lock()
	s.choices[id] = choices
	s.mu.Unlock()
	return nil
}

func TestHost_ChoiceLabels(t *testing.T) {
	sink := newRecordingSink()
	h := NewHost(sink)

	require.NoError(t, h.ChoiceUpdate("items:list", []bridge.Choice{{ID: "A::x", Label: "A → x"}}))
	require.NoError(t, h.StateUpdate("meld.currentScene", "Main"))

	assert.Equal(t, []touchportal.Choice{{ID: "A::x", Value: "A → x"}}, sink.choices["items:list"])
	assert.Equal(t, "Main", sink.states["meld.currentScene"])
}

// A full run through the real bridge with the mock transport.
func TestPlugin_WithBridge(t *testing.T) {
	sink := newRecordingSink()
	fixtures := transport.Fixtures{
		"Scenes.GetSceneList": map[string]any{"scenes": []any{map[string]any{"name": "Main"}}},
	}
	ctrl := bridge.NewController(bridge.Config{
		Table: capability.Meld(),
		Host:  NewHost(sink),
		NewTransport: func(transport.Config, *slog.Logger) (transport.Transport, error) {
			return transport.NewMock(fixtures), nil
		},
	})
	t.Cleanup(ctrl.Stop)

	n := &fakeNotifier{}
	p := New(Config{Controller: ctrl, Notifier: n, Base: config.Default()})

	p.Handle(context.Background(), settingsEvent(touchportal.TypeInfo, map[string]string{config.KeyTransport: "mock"}))
	p.Wait()
	assert.True(t, ctrl.Connected())
	sink.mu.Lock()
	assert.Equal(t, "connected", sink.states[capability.StateConnection])
	assert.Equal(t, []touchportal.Choice{{ID: "Main", Value: "Main"}}, sink.choices[capability.ChoiceScenes])
	sink.mu.Unlock()

	p.Handle(context.Background(), touchportal.Event{Type: touchportal.TypeAction, ActionID: "meld.nope"})
	p.Wait()
	require.Len(t, n.notices, 1)
	assert.Equal(t, "Action meld.nope failed: unknown action meld.nope", n.notices[0].Message)
}
