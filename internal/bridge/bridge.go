// Package bridge drives Meld Studio on behalf of the Touch Portal host: it
// keeps the connection alive, dispatches actions, mirrors states and
// resolves dynamic choice lists.
package bridge

import (
	"context"
	"fmt"
	"time"
)

// Choice is one entry of a dynamic choice list.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"value"`
}

// Host receives what the bridge mirrors from Meld.
type Host interface {
	StateUpdate(id, value string) error
	ChoiceUpdate(id string, choices []Choice) error
}

// Caller issues remote calls. It fails fast with protocol.ErrNotConnected
// when there is no live transport.
type Caller interface {
	Call(ctx context.Context, method string, params any) (any, error)
	Connected() bool
}

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests substitute a manual clock.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// UnknownActionError is returned for an action id with no descriptor.
type UnknownActionError struct {
	ActionID string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %s", e.ActionID)
}

// NoMethodResolvedError is returned when an action's method resolves empty.
type NoMethodResolvedError struct {
	ActionID string
}

func (e *NoMethodResolvedError) Error() string {
	return fmt.Sprintf("no method resolved for action %s", e.ActionID)
}

// emptyParams is sent with every poll and enumeration call.
func emptyParams() map[string]any { return map[string]any{} }
