package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseFrame splits an inbound frame into messages.
//
// A batch (JSON array) is unpacked and each element parsed on its own, so
// one malformed element does not discard its siblings: the good messages
// are returned along with an error describing the bad ones.
func ParseFrame(data []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrParse)
	}

	if trimmed[0] != '[' {
		msg, err := parseMessage(trimmed)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	msgs := make([]Message, 0, len(elems))
	var bad int
	var firstErr error
	for _, elem := range elems {
		// Nested batches are re-dispatched the same way.
		inner, err := ParseFrame(elem)
		if err != nil {
			bad++
			if firstErr == nil {
				firstErr = err
			}
		}
		msgs = append(msgs, inner...)
	}
	if bad > 0 {
		return msgs, fmt.Errorf("%d of %d batch elements dropped: %w", bad, len(elems), firstErr)
	}
	return msgs, nil
}

func parseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return msg, nil
}
