package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/standardbeagle/meldtp/internal/capability"
	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/metrics"
	"github.com/standardbeagle/meldtp/internal/protocol"
)

// Poll interval floors.
const (
	MinPollInterval    = 500 * time.Millisecond
	MinMetricsInterval = time.Second
)

// ChoiceRefresher re-enumerates a dynamic choice list.
type ChoiceRefresher interface {
	Refresh(ctx context.Context, choiceID string) error
}

// StateSync mirrors Meld state onto the host. Polling, notifications and
// post-action refreshes all converge on Publish, which suppresses values
// the host already has.
type StateSync struct {
	table   *capability.Table
	caller  Caller
	host    Host
	logger  *slog.Logger
	metrics *metrics.Collectors
	choices ChoiceRefresher

	mu    sync.Mutex
	cache map[string]string
}

// NewStateSync creates a StateSync. choices may be nil.
func NewStateSync(table *capability.Table, caller Caller, host Host, choices ChoiceRefresher, logger *slog.Logger, m *metrics.Collectors) *StateSync {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StateSync{
		table:   table,
		caller:  caller,
		host:    host,
		logger:  logger.With("component", "states"),
		metrics: m,
		choices: choices,
		cache:   make(map[string]string),
	}
}

// Publish sends value to the host unless it equals the cached value.
// It reports whether an update was sent.
func (s *StateSync) Publish(stateID, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cache[stateID]; ok && prev == value {
		return false
	}
	s.cache[stateID] = value
	if err := s.host.StateUpdate(stateID, value); err != nil {
		s.logger.Error("state update failed", "state", stateID, "error", err)
	}
	s.metrics.IncStateUpdate()
	return true
}

// Snapshot returns a copy of the last published values.
func (s *StateSync) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// RefreshState polls one state and publishes the mapped value. States
// without a poll method are ignored.
func (s *StateSync) RefreshState(ctx context.Context, stateID string) error {
	d, ok := s.table.State(stateID)
	if !ok || !d.Polled() {
		return nil
	}
	raw, err := s.caller.Call(ctx, d.PollMethod, emptyParams())
	if err != nil {
		return fmt.Errorf("refresh %s: %w", stateID, err)
	}
	value, err := d.Map(raw)
	if err != nil {
		return fmt.Errorf("map %s: %w", stateID, err)
	}
	s.Publish(stateID, value)
	return nil
}

// PollOnce refreshes every polled state in declaration order, one at a
// time. A failing state is logged and the cycle continues.
func (s *StateSync) PollOnce(ctx context.Context) {
	if !s.caller.Connected() {
		return
	}
	for _, id := range s.table.StateIDs() {
		if ctx.Err() != nil {
			return
		}
		if err := s.RefreshState(ctx, id); err != nil {
			s.logger.Debug("state poll failed", "state", id, "error", err)
		}
	}
}

// Run polls immediately and then every interval until ctx ends. Cycles
// never overlap: a slow cycle delays the next tick.
func (s *StateSync) Run(ctx context.Context, interval time.Duration) {
	s.every(ctx, max(interval, MinPollInterval), s.PollOnce)
}

// MetricsOnce calls each method of the metrics bundle once and publishes
// the states fed by it.
func (s *StateSync) MetricsOnce(ctx context.Context) {
	if !s.caller.Connected() {
		return
	}
	for _, src := range s.table.Metrics() {
		raw, err := s.caller.Call(ctx, src.Method, emptyParams())
		if err != nil {
			s.logger.Debug("metrics poll failed", "method", src.Method, "error", err)
			continue
		}
		for _, id := range src.States {
			d, _ := s.table.State(id)
			value, err := d.Map(raw)
			if err != nil {
				s.logger.Debug("metrics map failed", "state", id, "error", err)
				continue
			}
			s.Publish(id, value)
		}
	}
}

// RunMetrics runs MetricsOnce immediately and then every interval.
func (s *StateSync) RunMetrics(ctx context.Context, interval time.Duration) {
	s.every(ctx, max(interval, MinMetricsInterval), s.MetricsOnce)
}

func (s *StateSync) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// HandleNotification applies the rule for a pushed method. Direct values
// are published at once; remote refreshes run in the background.
func (s *StateSync) HandleNotification(n protocol.Notification) {
	s.metrics.IncNotification(n.Method)
	rule, ok := s.table.Notification(n.Method)
	if !ok {
		s.logger.Debug("unhandled notification", "method", n.Method)
		return
	}
	if rule.State != "" {
		s.Publish(rule.State, displayValue(n.DecodeParams()[rule.Param]))
	}
	plan := capability.RefreshPlan{States: rule.RefreshStates, Choices: rule.RefreshChoices}
	if !plan.Empty() {
		go s.ApplyPlan(context.Background(), plan)
	}
}

// ApplyPlan refreshes the plan's states concurrently, then its choices in
// order. Failures are logged.
func (s *StateSync) ApplyPlan(ctx context.Context, plan capability.RefreshPlan) {
	var wg sync.WaitGroup
	for _, id := range plan.States {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.RefreshState(ctx, id); err != nil {
				s.logger.Error("state refresh failed", "state", id, "error", err)
			}
		}(id)
	}
	wg.Wait()

	if s.choices == nil {
		return
	}
	for _, id := range plan.Choices {
		if err := s.choices.Refresh(ctx, id); err != nil {
			s.logger.Error("choice refresh failed", "choice", id, "error", err)
		}
	}
}

// displayValue renders a notification param as a state string.
func displayValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
