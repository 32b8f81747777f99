// Package metrics exposes bridge health as Prometheus collectors and a
// small HTTP status surface.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/standardbeagle/meldtp/internal/protocol"
)

const namespace = "meldtp"

// Connection states reported by the connection gauge.
var connectionStates = []string{"disconnected", "connecting", "connected"}

// Collectors groups every metric the bridge records. All methods are safe
// on a nil receiver so components can run without metrics.
type Collectors struct {
	registry *prometheus.Registry

	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	connection    *prometheus.GaugeVec
	reconnects    prometheus.Counter
	actions       *prometheus.CounterVec
	stateUpdates  prometheus.Counter
	choiceUpdates *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New creates collectors registered on a private registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote calls to Meld by method and outcome.",
		}, []string{"method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of remote calls to Meld.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		connection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a failure or drop.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Host actions executed by action id and outcome.",
		}, []string{"action", "outcome"}),
		stateUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_updates_total",
			Help:      "State values pushed to the host.",
		}),
		choiceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "choice_updates_total",
			Help:      "Choice lists pushed to the host by choice id.",
		}, []string{"choice"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Push notifications received from Meld by method.",
		}, []string{"method"}),
	}
	c.registry.MustRegister(
		c.calls, c.callDuration, c.connection, c.reconnects,
		c.actions, c.stateUpdates, c.choiceUpdates, c.notifications,
	)
	return c
}

// Registry returns the registry backing the collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// outcome classifies an error for the outcome label.
func outcome(err error) string {
	var remote *protocol.RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrNotConnected), errors.Is(err, protocol.ErrDisconnected):
		return "disconnected"
	case errors.As(err, &remote):
		return "remote_error"
	default:
		return "error"
	}
}

func (c *Collectors) ObserveCall(method string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(method, outcome(err)).Inc()
	c.callDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (c *Collectors) SetConnectionState(state string) {
	if c == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.connection.WithLabelValues(s).Set(v)
	}
}

func (c *Collectors) IncReconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

func (c *Collectors) ObserveAction(action string, err error) {
	if c == nil {
		return
	}
	c.actions.WithLabelValues(action, outcome(err)).Inc()
}

func (c *Collectors) IncStateUpdate() {
	if c == nil {
		return
	}
	c.stateUpdates.Inc()
}

func (c *Collectors) IncChoiceUpdate(choice string) {
	if c == nil {
		return
	}
	c.choiceUpdates.WithLabelValues(choice).Inc()
}

func (c *Collectors) IncNotification(method string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(method).Inc()
}
