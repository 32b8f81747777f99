package plugin

import (
	"github.com/standardbeagle/meldtp/internal/bridge"
	"github.com/standardbeagle/meldtp/internal/touchportal"
)

// Sink is the outbound half of the Touch Portal client.
type Sink interface {
	StateUpdate(id, value string) error
	ChoiceUpdate(id string, choices []touchportal.Choice) error
}

// Host adapts a Touch Portal client to bridge.Host.
type Host struct {
	sink Sink
}

var _ bridge.Host = (*Host)(nil)

// NewHost wraps sink.
func NewHost(sink Sink) *Host {
	return &Host{sink: sink}
}

func (h *Host) StateUpdate(id, value string) error {
	return h.sink.StateUpdate(id, value)
}

func (h *Host) ChoiceUpdate(id string, choices []bridge.Choice) error {
	out := make([]touchportal.Choice, len(choices))
	for i, c := range choices {
		out[i] = touchportal.Choice{ID: c.ID, Value: c.Label}
	}
	return h.sink.ChoiceUpdate(id, out)
}
