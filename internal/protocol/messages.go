// Package protocol defines the JSON-RPC style wire format spoken with Meld Studio.
//
// Format:
//
//	request:      {"jsonrpc":"2.0","id":7,"method":"Scenes.GetSceneList","params":{}}
//	success:      {"id":7,"result":{...}}
//	failure:      {"id":7,"error":{"message":"...","data":{...}}}
//	notification: {"method":"Scenes.CurrentProgramSceneChanged","params":{...}}
//
// A frame may also be a JSON array of the above (a batch).
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Version is the JSON-RPC version tag sent on every request.
const Version = "2.0"

// Request is an outbound call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// NewRequest builds a request, substituting an empty object for nil params.
func NewRequest(id int64, method string, params any) Request {
	if params == nil {
		params = map[string]any{}
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// ErrorObject is the error member of a failed response.
type ErrorObject struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ParseErrorObject reads an error member leniently. Servers are not
// consistent about its shape: a bare string becomes the message, a
// non-numeric code is kept in Data when Data is empty, and any other
// non-object value is rendered as the message.
func ParseErrorObject(raw json.RawMessage) *ErrorObject {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "false", "0", `""`:
		return nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return &ErrorObject{Message: s}
		}
	case '{':
		var doc struct {
			Code    json.RawMessage `json:"code"`
			Message json.RawMessage `json:"message"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &doc); err == nil {
			obj := &ErrorObject{Message: text(doc.Message), Data: doc.Data}
			if len(doc.Code) > 0 {
				if code, err := strconv.Atoi(string(bytes.TrimSpace(doc.Code))); err == nil {
					obj.Code = code
				} else if len(obj.Data) == 0 && !bytes.Equal(doc.Code, []byte("null")) {
					obj.Data = doc.Code
				}
			}
			return obj
		}
	}
	return &ErrorObject{Message: string(raw)}
}

// text renders a raw member as a plain string: strings are unquoted,
// anything else is kept as its JSON text.
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Message is a single inbound frame element. Which fields are set
// decides whether it is a response or a notification.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Failure returns the error member of a response, or nil when it is
// absent or falsy (null, false, 0, "").
func (m Message) Failure() *ErrorObject {
	return ParseErrorObject(m.Error)
}

// RequestID returns the numeric id of the message, if it carries one.
// String ids holding a number ("7") are accepted too.
func (m Message) RequestID() (int64, bool) {
	raw := bytes.TrimSpace(m.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(s)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// IsNotification reports whether the message is an unsolicited push.
func (m Message) IsNotification() bool {
	_, hasID := m.RequestID()
	return !hasID && m.Method != ""
}

// Notification is a server push delivered to subscribers.
type Notification struct {
	Method string
	Params json.RawMessage
}

// DecodeParams unmarshals the notification params into a generic map.
// Missing or non-object params yield an empty map.
func (n Notification) DecodeParams() map[string]any {
	out := map[string]any{}
	if len(n.Params) == 0 {
		return out
	}
	_ = json.Unmarshal(n.Params, &out)
	return out
}

// DecodeResult turns a raw result into plain Go values (maps, slices,
// float64, string, bool, nil). An absent result decodes to nil.
func DecodeResult(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
