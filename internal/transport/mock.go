package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/meldtp/internal/protocol"
)

// HandlerFunc computes a fixture result from the call params.
type HandlerFunc func(params any) (any, error)

// Fixtures maps a method name to either a static result or a HandlerFunc.
type Fixtures map[string]any

// LoadFixtures reads a YAML document of `Method.Name: result` pairs.
func LoadFixtures(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	fx := make(Fixtures, len(doc))
	for method, v := range doc {
		result, err := wireValue(v)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", method, err)
		}
		fx[method] = result
	}
	return fx, nil
}

// wireValue reshapes a YAML value into what the WebSocket transport would
// have produced for the same JSON: plain maps, []any and float64 numbers.
func wireValue(v any) (any, error) {
	data, err := json.Marshal(plain(v))
	if err != nil {
		return nil, err
	}
	return protocol.DecodeResult(data)
}

// plain rewrites YAML mappings with non-string keys so they can be
// encoded as JSON objects.
func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

// RecordedCall is one call observed by a Mock.
type RecordedCall struct {
	Method string
	Params any
}

// Mock answers calls from fixtures. It is used for offline runs and tests.
type Mock struct {
	mu         sync.Mutex
	fixtures   Fixtures
	connected  bool
	connectErr error
	hooks      Hooks
	calls      []RecordedCall
}

// NewMock creates a Mock serving fixtures.
func NewMock(fixtures Fixtures) *Mock {
	if fixtures == nil {
		fixtures = Fixtures{}
	}
	return &Mock{fixtures: fixtures}
}

func (m *Mock) Name() string { return KindMock }

func (m *Mock) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// SetFixture installs or replaces the result for method.
func (m *Mock) SetFixture(method string, v any) {
	m.mu.Lock()
	m.fixtures[method] = v
	m.mu.Unlock()
}

// FailConnect makes subsequent Connect calls fail with err (nil clears it).
func (m *Mock) FailConnect(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

func (m *Mock) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return &protocol.ConnectionError{URL: "mock://", Err: m.connectErr}
	}
	m.connected = true
	return nil
}

func (m *Mock) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mock) Call(ctx context.Context, method string, params any) (any, error) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil, protocol.ErrNotConnected
	}
	m.calls = append(m.calls, RecordedCall{Method: method, Params: params})
	fixture, ok := m.fixtures[method]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch f := fixture.(type) {
	case HandlerFunc:
		return f(params)
	case func(any) (any, error):
		return f(params)
	}
	if !ok || fixture == nil {
		return nil, fmt.Errorf("no mock fixture for %s", method)
	}
	return fixture, nil
}

// Calls returns a copy of the calls observed so far.
func (m *Mock) Calls() []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedCall(nil), m.calls...)
}

// ResetCalls forgets recorded calls.
func (m *Mock) ResetCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// Emit delivers a push notification as if Meld had sent it.
func (m *Mock) Emit(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	m.mu.Lock()
	onNotify := m.hooks.OnNotification
	m.mu.Unlock()
	if onNotify != nil {
		onNotify(protocol.Notification{Method: method, Params: raw})
	}
	return nil
}

// Drop simulates the remote side closing the channel.
func (m *Mock) Drop(cause error) {
	m.mu.Lock()
	wasConnected := m.connected
	m.connected = false
	onDisconnect := m.hooks.OnDisconnect
	m.mu.Unlock()
	if wasConnected && onDisconnect != nil {
		onDisconnect(cause)
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode notification params: %w", err)
	}
	return data, nil
}
