package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/standardbeagle/meldtp/internal/process"
	"github.com/standardbeagle/meldtp/internal/protocol"
)

// DefaultCLIPath is the executable looked up on PATH when none is configured.
const DefaultCLIPath = "meld-cli"

// CommandRunner runs one executable to completion.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (*process.Result, error)
}

// CLI shells out to meld-cli once per call. It never emits notifications.
type CLI struct {
	cfg       Config
	logger    *slog.Logger
	runner    CommandRunner
	connected atomic.Bool
}

// NewCLI creates a CLI transport backed by a process.Runner.
func NewCLI(cfg Config, logger *slog.Logger) *CLI {
	return NewCLIWithRunner(cfg, logger, process.NewRunner(process.DefaultRunnerConfig()))
}

// NewCLIWithRunner creates a CLI transport with a custom runner.
func NewCLIWithRunner(cfg Config, logger *slog.Logger, runner CommandRunner) *CLI {
	if cfg.CLIPath == "" {
		cfg.CLIPath = DefaultCLIPath
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &CLI{
		cfg:    cfg,
		logger: logger.With("transport", KindCLI),
		runner: runner,
	}
}

func (c *CLI) Name() string { return KindCLI }

func (c *CLI) Connected() bool { return c.connected.Load() }

// SetHooks is a no-op: the CLI has neither push notifications nor a
// connection that can drop on its own.
func (c *CLI) SetHooks(Hooks) {}

// Connect validates that the executable runs.
func (c *CLI) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	c.logger.Info("validating CLI", "path", c.cfg.CLIPath)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if _, err := c.runner.Run(ctx, c.cfg.CLIPath, "--version"); err != nil {
		c.logger.Error("unable to execute meld-cli", "path", c.cfg.CLIPath, "error", err)
		return fmt.Errorf("%w %s: %v", protocol.ErrProcessSpawn, c.cfg.CLIPath, err)
	}
	c.connected.Store(true)
	return nil
}

func (c *CLI) Disconnect() error {
	if c.connected.Swap(false) {
		c.logger.Info("CLI transport disconnected")
	}
	return nil
}

type cliRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type cliResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Call runs `meld-cli jsonrpc call <json>` and decodes stdout.
func (c *CLI) Call(ctx context.Context, method string, params any) (any, error) {
	if !c.connected.Load() {
		return nil, protocol.ErrNotConnected
	}
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(cliRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	c.logger.Debug("executing CLI call", "method", method)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.runner.Run(ctx, c.cfg.CLIPath, "jsonrpc", "call", string(payload))
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &protocol.TimeoutError{Method: method}
		case errors.Is(err, process.ErrStart):
			return nil, fmt.Errorf("%w: %v", protocol.ErrProcessSpawn, err)
		}
		// A non-zero exit may still carry a JSON error document.
		if res == nil || len(bytes.TrimSpace(res.Stdout)) == 0 {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
	}
	return decodeCLIOutput(method, res.Stdout)
}

func decodeCLIOutput(method string, stdout []byte) (any, error) {
	out := bytes.TrimSpace(stdout)
	if len(out) == 0 {
		return nil, fmt.Errorf("%s output: %w: empty", method, protocol.ErrParse)
	}

	var resp cliResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		// Not an object: the whole document is the result.
		v, derr := protocol.DecodeResult(out)
		if derr != nil {
			return nil, fmt.Errorf("%s output: %w: %v", method, protocol.ErrParse, derr)
		}
		return v, nil
	}
	if failure := protocol.ParseErrorObject(resp.Error); failure != nil {
		if failure.Message == "" {
			failure.Message = "CLI error"
		}
		return nil, protocol.NewRemoteError(method, failure)
	}
	if len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null")) {
		return protocol.DecodeResult(out)
	}
	return protocol.DecodeResult(resp.Result)
}
