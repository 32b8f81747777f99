package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/standardbeagle/meldtp/internal/capability"
	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/metrics"
)

// ChoiceResolver enumerates dynamic choice lists and publishes them.
type ChoiceResolver struct {
	table   *capability.Table
	caller  Caller
	host    Host
	logger  *slog.Logger
	metrics *metrics.Collectors
	// limiter throttles per-parent child enumerations; nil means unlimited.
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string][]Choice
}

// NewChoiceResolver creates a resolver. A nil limiter disables throttling.
func NewChoiceResolver(table *capability.Table, caller Caller, host Host, limiter *rate.Limiter, logger *slog.Logger, m *metrics.Collectors) *ChoiceResolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ChoiceResolver{
		table:   table,
		caller:  caller,
		host:    host,
		logger:  logger.With("component", "choices"),
		metrics: m,
		limiter: limiter,
		cache:   make(map[string][]Choice),
	}
}

// Refresh re-enumerates choiceID and publishes the list. It is a no-op
// while disconnected or for an unknown id. On error the previous list
// stays in place.
func (r *ChoiceResolver) Refresh(ctx context.Context, choiceID string) error {
	if !r.caller.Connected() {
		return nil
	}
	d, ok := r.table.Choice(choiceID)
	if !ok {
		r.logger.Debug("unknown choice", "choice", choiceID)
		return nil
	}

	var entries []Choice
	var err error
	if d.Context == capability.FanOutNone {
		entries, err = r.collectDirect(ctx, d)
	} else {
		entries, err = r.collectFanOut(ctx, d)
	}
	if err != nil {
		r.logger.Error("failed to refresh choices", "choice", choiceID, "error", err)
		return err
	}

	list := normalize(entries)

	// The cache only records lists the host accepted, so a failed publish
	// is retried by the next identical refresh.
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, had := r.cache[choiceID]; had && slices.Equal(prev, list) {
		return nil
	}
	if err := r.host.ChoiceUpdate(choiceID, list); err != nil {
		return fmt.Errorf("publish %s: %w", choiceID, err)
	}
	r.cache[choiceID] = list
	r.metrics.IncChoiceUpdate(choiceID)
	return nil
}

// RefreshAll refreshes every known choice in order, continuing past
// failures.
func (r *ChoiceResolver) RefreshAll(ctx context.Context) {
	if !r.caller.Connected() {
		return
	}
	for _, id := range r.table.ChoiceIDs() {
		if ctx.Err() != nil {
			return
		}
		_ = r.Refresh(ctx, id)
	}
}

// Cached returns the last list published for choiceID.
func (r *ChoiceResolver) Cached(choiceID string) []Choice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.cache[choiceID])
}

func (r *ChoiceResolver) collectDirect(ctx context.Context, d capability.ChoiceDescriptor) ([]Choice, error) {
	raw, err := r.caller.Call(ctx, d.Method, emptyParams())
	if err != nil {
		return nil, err
	}
	values, err := d.Map(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Choice, 0, len(values))
	for _, v := range values {
		out = append(out, Choice{ID: v, Label: v})
	}
	return out, nil
}

// collectFanOut enumerates the parents, then the children of each parent,
// addressing every child by a composite id.
func (r *ChoiceResolver) collectFanOut(ctx context.Context, d capability.ChoiceDescriptor) ([]Choice, error) {
	parent, ok := r.table.Parent(d.Context)
	if !ok {
		return nil, fmt.Errorf("no parent enumeration for %q", d.Context)
	}
	raw, err := r.caller.Call(ctx, parent.ListMethod, emptyParams())
	if err != nil {
		return nil, err
	}
	parents, err := parent.Map(raw)
	if err != nil {
		return nil, err
	}

	var out []Choice
	for _, p := range parents {
		if p == "" {
			continue
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		childRaw, err := r.caller.Call(ctx, d.Method, map[string]any{parent.Param: p})
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", d.Method, p, err)
		}
		children, err := d.Map(childRaw)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if c == "" {
				continue
			}
			out = append(out, Choice{
				ID:    capability.EncodeComposite(p, c),
				Label: capability.CompositeLabel(p, c),
			})
		}
	}
	return out, nil
}

// normalize drops empty entries and keeps the first entry for each id.
func normalize(entries []Choice) []Choice {
	seen := make(map[string]bool, len(entries))
	out := make([]Choice, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}
