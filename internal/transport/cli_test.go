package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/process"
	"github.com/standardbeagle/meldtp/internal/protocol"
)

// scriptedRunner returns canned output and records the argument vectors.
type scriptedRunner struct {
	stdout string
	err    error
	args   [][]string
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) (*process.Result, error) {
	r.args = append(r.args, append([]string{name}, args...))
	if len(args) > 0 && args[0] == "--version" {
		return &process.Result{Stdout: []byte("meld-cli 1.0\n")}, nil
	}
	if r.err != nil && r.stdout == "" {
		return nil, r.err
	}
	return &process.Result{Stdout: []byte(r.stdout)}, r.err
}

func newTestCLI(t *testing.T, r *scriptedRunner) *CLI {
	t.Helper()
	c := NewCLIWithRunner(Config{CLIPath: "/opt/meld/meld-cli"}, logging.NewNop(), r)
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestCLI_CallArguments(t *testing.T) {
	r := &scriptedRunner{stdout: `{"result":{"sceneName":"Intro"}}`}
	c := newTestCLI(t, r)

	got, err := c.Call(context.Background(), "Scenes.GetCurrentScene", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sceneName": "Intro"}, got)

	require.Len(t, r.args, 2)
	assert.Equal(t, []string{"/opt/meld/meld-cli", "--version"}, r.args[0])
	call := r.args[1]
	require.Len(t, call, 4)
	assert.Equal(t, []string{"/opt/meld/meld-cli", "jsonrpc", "call"}, call[:3])
	assert.JSONEq(t, `{"method":"Scenes.GetCurrentScene","params":{}}`, call[3])
}

func TestCLI_DecodeOutput(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		want    any
		wantErr error
	}{
		{name: "result member", stdout: `{"result":[1,2]}`, want: []any{float64(1), float64(2)}},
		{name: "bare document", stdout: `{"fps":60}`, want: map[string]any{"fps": float64(60)}},
		{name: "null result", stdout: `{"result":null,"ok":true}`, want: map[string]any{"result": nil, "ok": true}},
		{name: "array", stdout: "[\"a\"]\n", want: []any{"a"}},
		{name: "garbage", stdout: "not json", wantErr: protocol.ErrParse},
		{name: "empty", stdout: "  \n", wantErr: protocol.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeCLIOutput("M", []byte(tt.stdout))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCLI_RemoteError(t *testing.T) {
	r := &scriptedRunner{stdout: `{"error":{"message":"unknown scene","data":{"name":"X"}}}`}
	c := newTestCLI(t, r)

	_, err := c.Call(context.Background(), "Scenes.SetCurrentScene", map[string]any{"sceneName": "X"})
	var re *protocol.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "unknown scene", re.Message)
	assert.Equal(t, json.RawMessage(`{"name":"X"}`), re.Data)
}

func TestCLI_Timeout(t *testing.T) {
	r := &scriptedRunner{err: context.DeadlineExceeded}
	c := newTestCLI(t, r)

	_, err := c.Call(context.Background(), "Stats.GetStats", nil)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
}

func TestCLI_ConnectFailure(t *testing.T) {
	c := NewCLIWithRunner(Config{}, logging.NewNop(), runnerFunc(func() error {
		return process.ErrStart
	}))
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, protocol.ErrProcessSpawn)
	assert.False(t, c.Connected())

	_, err = c.Call(context.Background(), "Stats.GetStats", nil)
	assert.ErrorIs(t, err, protocol.ErrNotConnected)
}

type runnerFunc func() error

func (f runnerFunc) Run(context.Context, string, ...string) (*process.Result, error) {
	return nil, f()
}

func TestCLI_DisconnectStopsCalls(t *testing.T) {
	c := newTestCLI(t, &scriptedRunner{stdout: `{}`})
	require.NoError(t, c.Disconnect())
	_, err := c.Call(context.Background(), "Stats.GetStats", nil)
	assert.True(t, errors.Is(err, protocol.ErrNotConnected))
}
