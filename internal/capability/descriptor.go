// Package capability holds the declarative description of what the bridge
// can do: which remote method each action calls, how each state is polled
// and mapped, and how each dynamic choice list is enumerated.
//
// The set is closed and built once at startup. Nothing here performs I/O.
package capability

import "fmt"

// Fields is the flat set of named inputs carried by a host action.
type Fields map[string]string

// ActionDescriptor binds an action id to a remote call.
type ActionDescriptor struct {
	ID string
	// Method is the fixed remote method. When empty, MethodFrom resolves it
	// from the action's own inputs.
	Method     string
	MethodFrom func(Fields) string
	// Params builds the remote parameter object. Nil forwards the raw fields.
	Params func(Fields) any
	// Target, when set, names the parent/child fields that may carry a
	// composite identifier and are decoded before Params runs.
	Target *CompositeTarget
	// Refresh lists what to re-read after the action succeeds.
	Refresh RefreshPlan
}

// ResolveMethod returns the remote method for the given inputs, or "".
func (a ActionDescriptor) ResolveMethod(f Fields) string {
	if a.Method != "" {
		return a.Method
	}
	if a.MethodFrom != nil {
		return a.MethodFrom(f)
	}
	return ""
}

// BuildParams decodes composite targets and maps fields to remote params.
func (a ActionDescriptor) BuildParams(f Fields) any {
	if a.Target != nil {
		f = a.Target.Resolve(f)
	}
	if a.Params == nil {
		raw := make(map[string]any, len(f))
		for k, v := range f {
			raw[k] = v
		}
		return raw
	}
	return a.Params(f)
}

// RefreshPlan is the post-action refresh: States are re-read together,
// then Choices one after another.
type RefreshPlan struct {
	States  []string
	Choices []string
}

// Empty reports whether the plan does nothing.
func (p RefreshPlan) Empty() bool {
	return len(p.States) == 0 && len(p.Choices) == 0
}

// StateDescriptor describes one host-visible state.
type StateDescriptor struct {
	ID string
	// FromConnection marks the state as written by the connection
	// supervisor rather than polled.
	FromConnection bool
	PollMethod     string
	Map            func(raw any) (string, error)
}

// Polled reports whether the poll loop is responsible for the state.
func (s StateDescriptor) Polled() bool {
	return !s.FromConnection && s.PollMethod != "" && s.Map != nil
}

// FanOut names the parent enumeration a choice is gathered over.
type FanOut string

const (
	FanOutNone    FanOut = ""
	FanOutScenes  FanOut = "scenes"
	FanOutSources FanOut = "sources"
)

// ChoiceDescriptor describes one dynamic choice list.
type ChoiceDescriptor struct {
	ID      string
	Method  string
	Map     func(raw any) ([]string, error)
	Context FanOut
}

// Parent is the enumeration behind a fan-out context.
type Parent struct {
	ListMethod string
	// Param is the key under which the parent name is passed to the
	// child enumeration.
	Param string
	Map   func(raw any) ([]string, error)
}

// NotificationRule says how a push notification updates states.
type NotificationRule struct {
	// State, when set, is published directly from params[Param].
	State string
	Param string
	// RefreshStates are re-read from the remote side.
	RefreshStates  []string
	RefreshChoices []string
}

// MetricsSource is one call in the metrics bundle and the states its
// result feeds.
type MetricsSource struct {
	Method string
	States []string
}

// Table is an indexed capability set.
type Table struct {
	actions       map[string]ActionDescriptor
	states        map[string]StateDescriptor
	choices       map[string]ChoiceDescriptor
	actionIDs     []string
	stateIDs      []string
	choiceIDs     []string
	parents       map[FanOut]Parent
	notifications map[string]NotificationRule
	metrics       []MetricsSource
}

// Spec is the raw material for NewTable. Slice order is kept for iteration.
type Spec struct {
	Actions       []ActionDescriptor
	States        []StateDescriptor
	Choices       []ChoiceDescriptor
	Parents       map[FanOut]Parent
	Notifications map[string]NotificationRule
	Metrics       []MetricsSource
}

// NewTable indexes spec and checks that every cross-reference resolves.
func NewTable(spec Spec) (*Table, error) {
	t := &Table{
		actions:       make(map[string]ActionDescriptor, len(spec.Actions)),
		states:        make(map[string]StateDescriptor, len(spec.States)),
		choices:       make(map[string]ChoiceDescriptor, len(spec.Choices)),
		parents:       spec.Parents,
		notifications: spec.Notifications,
		metrics:       spec.Metrics,
	}
	if t.parents == nil {
		t.parents = map[FanOut]Parent{}
	}
	if t.notifications == nil {
		t.notifications = map[string]NotificationRule{}
	}

	for _, s := range spec.States {
		if _, dup := t.states[s.ID]; dup {
			return nil, fmt.Errorf("duplicate state %q", s.ID)
		}
		t.states[s.ID] = s
		t.stateIDs = append(t.stateIDs, s.ID)
	}
	for _, c := range spec.Choices {
		if _, dup := t.choices[c.ID]; dup {
			return nil, fmt.Errorf("duplicate choice %q", c.ID)
		}
		if c.Context != FanOutNone {
			if _, ok := t.parents[c.Context]; !ok {
				return nil, fmt.Errorf("choice %q: unknown fan-out context %q", c.ID, c.Context)
			}
		}
		t.choices[c.ID] = c
		t.choiceIDs = append(t.choiceIDs, c.ID)
	}
	for _, a := range spec.Actions {
		if _, dup := t.actions[a.ID]; dup {
			return nil, fmt.Errorf("duplicate action %q", a.ID)
		}
		if a.Method == "" && a.MethodFrom == nil {
			return nil, fmt.Errorf("action %q has no method", a.ID)
		}
		if err := t.checkRefs(a.ID, a.Refresh.States, a.Refresh.Choices); err != nil {
			return nil, err
		}
		t.actions[a.ID] = a
		t.actionIDs = append(t.actionIDs, a.ID)
	}
	for method, rule := range t.notifications {
		states := rule.RefreshStates
		if rule.State != "" {
			states = append([]string{rule.State}, states...)
		}
		if err := t.checkRefs(method, states, rule.RefreshChoices); err != nil {
			return nil, err
		}
	}
	for _, m := range t.metrics {
		for _, id := range m.States {
			s, ok := t.states[id]
			if !ok || s.Map == nil {
				return nil, fmt.Errorf("metrics %s: unknown state %q", m.Method, id)
			}
		}
	}
	return t, nil
}

func (t *Table) checkRefs(owner string, states, choices []string) error {
	for _, id := range states {
		if _, ok := t.states[id]; !ok {
			return fmt.Errorf("%s: unknown state %q", owner, id)
		}
	}
	for _, id := range choices {
		if _, ok := t.choices[id]; !ok {
			return fmt.Errorf("%s: unknown choice %q", owner, id)
		}
	}
	return nil
}

func (t *Table) Action(id string) (ActionDescriptor, bool) {
	a, ok := t.actions[id]
	return a, ok
}

func (t *Table) State(id string) (StateDescriptor, bool) {
	s, ok := t.states[id]
	return s, ok
}

func (t *Table) Choice(id string) (ChoiceDescriptor, bool) {
	c, ok := t.choices[id]
	return c, ok
}

func (t *Table) Parent(ctx FanOut) (Parent, bool) {
	p, ok := t.parents[ctx]
	return p, ok
}

// Notification returns the rule for a pushed method.
func (t *Table) Notification(method string) (NotificationRule, bool) {
	r, ok := t.notifications[method]
	return r, ok
}

// ActionIDs returns action ids in declaration order.
func (t *Table) ActionIDs() []string { return append([]string(nil), t.actionIDs...) }

// StateIDs returns state ids in declaration order.
func (t *Table) StateIDs() []string { return append([]string(nil), t.stateIDs...) }

// ChoiceIDs returns choice ids in declaration order.
func (t *Table) ChoiceIDs() []string { return append([]string(nil), t.choiceIDs...) }

// Metrics returns the metrics bundle.
func (t *Table) Metrics() []MetricsSource { return append([]MetricsSource(nil), t.metrics...) }
