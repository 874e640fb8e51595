// Package protocol defines the JSON wire envelope exchanged with clients and
// the reserved "system" namespace.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Reserved namespace and events.
const (
	SystemNamespace = "system"

	// EventInit is sent once to every accepted connection, carrying its id.
	EventInit = "init"
	// EventClientConnected and EventClientDisconnected are raised internally
	// and never placed on the wire.
	EventClientConnected    = "client-connected"
	EventClientDisconnected = "client-disconnected"
)

// Wildcard as an emit target means every connected client.
const Wildcard = "*"

// Protocol-only payload fields. The hub adds the first three to inbound data
// before routing; handlers never see any of them in their payload.
const (
	FieldClientID = "clientId"
	FieldMetadata = "metadata"
	FieldIP       = "ip"
	FieldReplyID  = "reply_id"
)

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed frame")

// Envelope is an outbound message. ReplyID is set only on responses to a
// correlated request.
type Envelope struct {
	Namespace string `json:"namespace"`
	Event     string `json:"event"`
	Data      any    `json:"data"`
	ReplyID   string `json:"reply_id,omitempty"`
}

// Inbound is a decoded client frame.
type Inbound struct {
	Namespace string
	Event     string
	// Data is never nil; an absent or null payload decodes to an empty map.
	Data    map[string]any
	ReplyID string
}

// IsRequest reports whether the frame carries a correlation token.
func (in Inbound) IsRequest() bool {
	return in.ReplyID != ""
}

type rawInbound struct {
	Namespace string          `json:"namespace"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	ReplyID   string          `json:"reply_id"`
}

var jsonNull = []byte("null")

// Decode parses one inbound frame.
//
// Postcondition: Returns an Inbound with non-empty Namespace and Event, or an
// error wrapping ErrMalformed.
func Decode(frame []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Namespace == "" {
		return Inbound{}, fmt.Errorf("%w: missing namespace", ErrMalformed)
	}
	if raw.Event == "" {
		return Inbound{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}

	data := map[string]any{}
	trimmed := bytes.TrimSpace(raw.Data)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, jsonNull) {
		if trimmed[0] != '{' {
			return Inbound{}, fmt.Errorf("%w: data must be an object", ErrMalformed)
		}
		if err := json.Unmarshal(trimmed, &data); err != nil {
			return Inbound{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
	}

	return Inbound{
		Namespace: raw.Namespace,
		Event:     raw.Event,
		Data:      data,
		ReplyID:   raw.ReplyID,
	}, nil
}

// Encode serializes an outbound message. Byte slices and strings are treated
// as pre-encoded frames and passed through unchanged.
func Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	case json.RawMessage:
		return m, nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return b, nil
}

// Init returns the identity message sent to a freshly accepted connection.
func Init(clientID string) Envelope {
	return Envelope{
		Namespace: SystemNamespace,
		Event:     EventInit,
		Data:      map[string]any{FieldClientID: clientID},
	}
}

// Decorate returns a copy of data augmented with the caller's identity,
// metadata, and peer address. data itself is not modified.
func Decorate(data map[string]any, clientID string, metadata map[string]any, ip string) map[string]any {
	out := make(map[string]any, len(data)+3)
	for k, v := range data {
		out[k] = v
	}
	out[FieldClientID] = clientID
	out[FieldMetadata] = metadata
	out[FieldIP] = ip
	return out
}
