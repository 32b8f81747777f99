package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a call is attempted without a live transport.
	// Calls are never queued.
	ErrNotConnected = errors.New("not connected to Meld")
	// ErrTimeout is matched by every TimeoutError.
	ErrTimeout = errors.New("request timed out")
	// ErrDisconnected fails calls still in flight when the transport goes away.
	ErrDisconnected = errors.New("disconnected")
	// ErrConnection is matched by every ConnectionError.
	ErrConnection = errors.New("connection failed")
	// ErrParse marks a malformed inbound frame.
	ErrParse = errors.New("malformed frame")
	// ErrProcessSpawn is returned when the CLI executable cannot be run.
	ErrProcessSpawn = errors.New("cannot execute meld-cli")
)

// TimeoutError reports a call that got no response before its deadline.
type TimeoutError struct {
	Method string
	ID     int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %d (%s) timed out", e.ID, e.Method)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RemoteError is an explicit error returned by Meld.
type RemoteError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}
	if e.Method == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Method, msg)
}

// NewRemoteError converts a wire error object.
func NewRemoteError(method string, obj *ErrorObject) *RemoteError {
	if obj == nil {
		return &RemoteError{Method: method}
	}
	return &RemoteError{Method: method, Code: obj.Code, Message: obj.Message, Data: obj.Data}
}

// ConnectionError reports a transport that failed before it became usable.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{ErrConnection, e.Err} }
