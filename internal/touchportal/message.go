// Package touchportal speaks the Touch Portal plugin protocol: newline
// delimited JSON over a local TCP socket.
package touchportal

import (
	"encoding/json"
	"strings"
)

// Inbound message types.
const (
	TypeInfo            = "info"
	TypeSettings        = "settings"
	TypeAction          = "action"
	TypeConnectorChange = "connectorChange"
	TypeListChange      = "listChange"
	TypeClosePlugin     = "closePlugin"
)

// DataItem is one {id, value} field of an action.
type DataItem struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Event is an inbound message. Only the members relevant to Type are set.
type Event struct {
	Type            string          `json:"type"`
	PluginID        string          `json:"pluginId,omitempty"`
	ActionID        string          `json:"actionId,omitempty"`
	ConnectorID     string          `json:"connectorId,omitempty"`
	ListID          string          `json:"listId,omitempty"`
	Data            []DataItem      `json:"data,omitempty"`
	TPVersionString string          `json:"tpVersionString,omitempty"`
	Settings        json.RawMessage `json:"settings,omitempty"`
	Values          json.RawMessage `json:"values,omitempty"`
}

// Fields flattens the action data. A repeated id keeps the last value.
func (e Event) Fields() map[string]string {
	out := make(map[string]string, len(e.Data))
	for _, d := range e.Data {
		out[d.ID] = d.Value
	}
	return out
}

// SettingsMap returns the settings carried by an info or settings event.
// Touch Portal sends them as single-member objects ({"Name": "value"});
// {"id": ..., "value": ...} entries are accepted too.
func (e Event) SettingsMap() map[string]string {
	raw := e.Settings
	if len(raw) == 0 {
		raw = e.Values
	}
	out := map[string]string{}
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return out
	}
	for _, entry := range entries {
		if id, ok := entry["id"].(string); ok {
			out[id] = stringify(entry["value"])
			continue
		}
		for k, v := range entry {
			out[k] = stringify(v)
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, _ := json.Marshal(t)
		return strings.Trim(string(data), `"`)
	}
}

// Choice is one entry of a choiceUpdate.
type Choice struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type pairMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type stateUpdateMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Value string `json:"value"`
}

type choiceUpdateMessage struct {
	Type  string   `json:"type"`
	ID    string   `json:"id"`
	Value []Choice `json:"value"`
}

type notificationOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type notificationMessage struct {
	Type           string               `json:"type"`
	NotificationID string               `json:"notificationId"`
	Title          string               `json:"title"`
	Message        string               `json:"msg"`
	Options        []notificationOption `json:"options"`
}
