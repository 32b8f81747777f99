package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/standardbeagle/meldtp/internal/capability"
)

type stateUpdate struct {
	ID    string
	Value string
}

// recordingHost captures everything published to the host.
type recordingHost struct {
	mu      sync.Mutex
	states  []stateUpdate
	choices map[string][][]Choice
	// choiceErr, when set, rejects choice updates without recording them.
	choiceErr error
}

func newRecordingHost() *recordingHost {
	return &recordingHost{choices: make(map[string][][]Choice)}
}

func (h *recordingHost) StateUpdate(id, value string) error {
	h.mu.Lock()
	h.states = append(h.states, stateUpdate{ID: id, Value: value})
	h.mu.Unlock()
	return nil
}

func (h *recordingHost) ChoiceUpdate(id string, choices []Choice) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.choiceErr != nil {
		return h.choiceErr
	}
	h.choices[id] = append(h.choices[id], choices)
	return nil
}

func (h *recordingHost) failChoices(err error) {
	h.mu.Lock()
	h.choiceErr = err
	h.mu.Unlock()
}

// Values returns every value published for id, in order.
func (h *recordingHost) Values(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, u := range h.states {
		if u.ID == id {
			out = append(out, u.Value)
		}
	}
	return out
}

func (h *recordingHost) Last(id string) string {
	vals := h.Values(id)
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

func (h *recordingHost) ChoiceUpdates(id string) [][]Choice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]Choice(nil), h.choices[id]...)
}

// manualClock hands out timers that only fire when told to.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the delays of timers that have neither fired nor been
// stopped.
func (c *manualClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}

// FireNext runs the oldest pending timer on the calling goroutine. It
// reports false when nothing is pending.
func (c *manualClock) FireNext() bool {
	c.mu.Lock()
	var next *manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	c.mu.Unlock()
	next.fn()
	return true
}

// recordingRefresher stands in for the ChoiceResolver.
type recordingRefresher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRefresher) Refresh(_ context.Context, id string) error {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	return nil
}

func (r *recordingRefresher) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// recordingPlans stands in for StateSync as a PlanRunner.
type recordingPlans struct {
	mu    sync.Mutex
	plans []capability.RefreshPlan
}

func (p *recordingPlans) ApplyPlan(_ context.Context, plan capability.RefreshPlan) {
	p.mu.Lock()
	p.plans = append(p.plans, plan)
	p.mu.Unlock()
}

func (p *recordingPlans) Plans() []capability.RefreshPlan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capability.RefreshPlan(nil), p.plans...)
}

func sceneList(names ...string) map[string]any {
	scenes := make([]any, 0, len(names))
	for _, n := range names {
		scenes = append(scenes, map[string]any{"name": n})
	}
	return map[string]any{"scenes": scenes}
}
