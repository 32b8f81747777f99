package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/standardbeagle/meldtp/internal/capability"
	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/metrics"
	"github.com/standardbeagle/meldtp/internal/protocol"
	"github.com/standardbeagle/meldtp/internal/transport"
)

// Options are the runtime knobs a Controller reads on every Start.
type Options struct {
	Transport       transport.Config
	PollInterval    time.Duration
	MetricsEnabled  bool
	MetricsInterval time.Duration
	RefreshDelay    time.Duration
	// FanOutRate caps child enumerations per second during a fan-out
	// choice refresh. Zero disables the cap.
	FanOutRate float64
}

// Config wires a Controller.
type Config struct {
	Table   *capability.Table
	Host    Host
	Options Options
	// NewTransport overrides transport.New, mainly for tests.
	NewTransport func(transport.Config, *slog.Logger) (transport.Transport, error)
	AfterFunc    AfterFunc
	Logger       *slog.Logger
	Metrics      *metrics.Collectors
}

var _ metrics.Status = (*Controller)(nil)

// Controller sequences connect → populate choices → poll, and owns the
// background loops.
type Controller struct {
	logger     *slog.Logger
	supervisor *Supervisor
	states     *StateSync
	choices    *ChoiceResolver
	dispatcher *Dispatcher
	limiter    *rate.Limiter

	mu      sync.Mutex
	opts    Options
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewController builds the bridge components around cfg.Table.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = transport.New
	}

	c := &Controller{
		logger:  cfg.Logger.With("component", "controller"),
		opts:    cfg.Options,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}

	c.supervisor = NewSupervisor(SupervisorConfig{
		NewTransport: func() (transport.Transport, error) {
			return cfg.NewTransport(c.Options().Transport, cfg.Logger)
		},
		Publish: func(st ConnState) {
			c.states.Publish(capability.StateConnection, string(st))
		},
		OnConnected: func(ctx context.Context) {
			c.choices.RefreshAll(ctx)
		},
		OnNotification: func(n protocol.Notification) {
			c.states.HandleNotification(n)
		},
		ConnectTimeout: cfg.Options.Transport.RequestTimeout,
		AfterFunc:      cfg.AfterFunc,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	})
	c.choices = NewChoiceResolver(cfg.Table, c.supervisor, cfg.Host, c.limiter, cfg.Logger, cfg.Metrics)
	c.states = NewStateSync(cfg.Table, c.supervisor, cfg.Host, c.choices, cfg.Logger, cfg.Metrics)
	c.dispatcher = NewDispatcher(cfg.Table, c.supervisor, c.states, DispatcherConfig{
		RefreshDelay: cfg.Options.RefreshDelay,
		AfterFunc:    cfg.AfterFunc,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
	})
	return c
}

// Options returns the current options.
func (c *Controller) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// SetOptions replaces the options. They take effect on the next Start.
func (c *Controller) SetOptions(opts Options) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
}

// Start connects, refreshes every choice list and starts the poll loops.
// A failed connection does not return an error; it is retried in the
// background and the loops idle until it succeeds.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	opts := c.opts
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if opts.FanOutRate > 0 {
		c.limiter.SetLimit(rate.Limit(opts.FanOutRate))
	} else {
		c.limiter.SetLimit(rate.Inf)
	}

	c.logger.Info("starting", "transport", transport.NormalizeKind(opts.Transport.Kind))
	c.supervisor.Start(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.states.Run(loopCtx, opts.PollInterval)
	}()
	if opts.MetricsEnabled {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.states.RunMetrics(loopCtx, opts.MetricsInterval)
		}()
	}
}

// Stop halts the loops and the connection. It is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.supervisor.Stop()
		return
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	c.logger.Info("stopping")
	cancel()
	c.wg.Wait()
	c.supervisor.Stop()
}

// Execute dispatches a host action.
func (c *Controller) Execute(ctx context.Context, actionID string, fields capability.Fields) (any, error) {
	return c.dispatcher.Execute(ctx, actionID, fields)
}

// RefreshChoice re-enumerates one choice list.
func (c *Controller) RefreshChoice(ctx context.Context, choiceID string) error {
	return c.choices.Refresh(ctx, choiceID)
}

// Call issues a raw remote call through the supervised transport.
func (c *Controller) Call(ctx context.Context, method string, params any) (any, error) {
	return c.supervisor.Call(ctx, method, params)
}

// Connected reports whether Meld is reachable.
func (c *Controller) Connected() bool { return c.supervisor.Connected() }

// Transport returns the active transport name.
func (c *Controller) Transport() string { return c.supervisor.TransportName() }

// States returns the last published state values.
func (c *Controller) States() map[string]string { return c.states.Snapshot() }
