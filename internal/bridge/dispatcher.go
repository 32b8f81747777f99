package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/standardbeagle/meldtp/internal/capability"
	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/metrics"
)

// DefaultRefreshDelay is how long after a successful action its dependent
// states are re-read. It only gives Meld time to settle; nothing confirms
// the change has been applied by then.
const DefaultRefreshDelay = 50 * time.Millisecond

// PlanRunner executes a post-action refresh plan.
type PlanRunner interface {
	ApplyPlan(ctx context.Context, plan capability.RefreshPlan)
}

// Dispatcher turns host actions into remote calls.
type Dispatcher struct {
	table     *capability.Table
	caller    Caller
	plans     PlanRunner
	delay     time.Duration
	afterFunc AfterFunc
	logger    *slog.Logger
	metrics   *metrics.Collectors
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	RefreshDelay time.Duration
	AfterFunc    AfterFunc
	Logger       *slog.Logger
	Metrics      *metrics.Collectors
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(table *capability.Table, caller Caller, plans PlanRunner, cfg DispatcherConfig) *Dispatcher {
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = DefaultRefreshDelay
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Dispatcher{
		table:     table,
		caller:    caller,
		plans:     plans,
		delay:     cfg.RefreshDelay,
		afterFunc: cfg.AfterFunc,
		logger:    cfg.Logger.With("component", "dispatcher"),
		metrics:   cfg.Metrics,
	}
}

// Execute runs actionID with the given inputs and returns the raw remote
// result. On success the action's refresh plan is scheduled in the
// background; its failures are only logged.
func (d *Dispatcher) Execute(ctx context.Context, actionID string, fields capability.Fields) (any, error) {
	a, ok := d.table.Action(actionID)
	if !ok {
		err := &UnknownActionError{ActionID: actionID}
		d.metrics.ObserveAction(actionID, err)
		return nil, err
	}
	method := a.ResolveMethod(fields)
	if method == "" {
		err := &NoMethodResolvedError{ActionID: actionID}
		d.metrics.ObserveAction(actionID, err)
		return nil, err
	}
	params := a.BuildParams(fields)

	d.logger.Debug("executing action", "action", actionID, "method", method)
	result, err := d.caller.Call(ctx, method, params)
	d.metrics.ObserveAction(actionID, err)
	if err != nil {
		return nil, err
	}

	if !a.Refresh.Empty() && d.plans != nil {
		plan := a.Refresh
		d.afterFunc(d.delay, func() {
			d.plans.ApplyPlan(context.Background(), plan)
		})
	}
	return result, nil
}
