// Package frame defines the JSON frames exchanged over the link socket.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types with protocol meaning. Any other non-empty type is an
// application message.
const (
	TypePresence = "presence"
	TypeTyping   = "typing"
	TypeRead     = "read"
	TypeDelivery = "delivery"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeBatch    = "batch"
	TypeRecovery = "recovery"
	TypeMessage  = "message"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DeliveryDelivered is the only delivery status the link emits.
const DeliveryDelivered = "delivered"

// ErrMalformed is returned for frames that are not valid JSON objects or
// carry no type.
var ErrMalformed = errors.New("malformed frame")

// reserved keys are never copied into Payload.
var reserved = map[string]bool{
	"type":      true,
	"id":        true,
	"timestamp": true,
	"data":      true,
	"messages":  true,
}

// Frame is one unit on the wire. Ordinary messages keep their application
// fields in Payload; they are flattened next to type/id/timestamp.
type Frame struct {
	Type      string
	ID        int64
	Timestamp int64
	Data      json.RawMessage
	Messages  []Frame
	Payload   map[string]json.RawMessage
}

// IsControl reports whether t is a control type that bypasses batching.
func IsControl(t string) bool {
	switch t {
	case TypePing, TypePong, TypeBatch, TypeRecovery:
		return true
	}
	return false
}

// IsSignal reports whether t is a presence/typing/read/delivery signal.
// Signals are written immediately and never acknowledged.
func IsSignal(t string) bool {
	switch t {
	case TypePresence, TypeTyping, TypeRead, TypeDelivery:
		return true
	}
	return false
}

// IsOrdinary reports whether t is an application message type.
func IsOrdinary(t string) bool {
	return t != "" && !IsControl(t) && !IsSignal(t)
}

func (f Frame) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(f.Payload)+5)
	for k, v := range f.Payload {
		if !reserved[k] {
			out[k] = v
		}
	}
	typ, err := json.Marshal(f.Type)
	if err != nil {
		return nil, err
	}
	out["type"] = typ
	if f.ID > 0 {
		out["id"] = json.RawMessage(fmt.Sprintf("%d", f.ID))
	}
	if f.Timestamp > 0 {
		out["timestamp"] = json.RawMessage(fmt.Sprintf("%d", f.Timestamp))
	}
	if len(f.Data) > 0 {
		out["data"] = f.Data
	}
	if f.Type == TypeBatch || len(f.Messages) > 0 {
		msgs := f.Messages
		if msgs == nil {
			msgs = []Frame{}
		}
		raw, err := json.Marshal(msgs)
		if err != nil {
			return nil, err
		}
		out["messages"] = raw
	}
	return json.Marshal(out)
}

func (f *Frame) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("%w: not an object", ErrMalformed)
	}

	*f = Frame{}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &f.Type); err != nil {
			return fmt.Errorf("%w: type: %v", ErrMalformed, err)
		}
	}
	if v, ok := raw["id"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &f.ID); err != nil {
			return fmt.Errorf("%w: id: %v", ErrMalformed, err)
		}
	}
	if v, ok := raw["timestamp"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &f.Timestamp); err != nil {
			return fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
	}
	if v, ok := raw["data"]; ok && !isNull(v) {
		f.Data = append(json.RawMessage(nil), v...)
	}
	if v, ok := raw["messages"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &f.Messages); err != nil {
			return fmt.Errorf("%w: messages: %v", ErrMalformed, err)
		}
	}
	for k, v := range raw {
		if reserved[k] {
			continue
		}
		if f.Payload == nil {
			f.Payload = make(map[string]json.RawMessage)
		}
		f.Payload[k] = v
	}
	return nil
}

// Parse decodes one inbound frame. Frames without a type are malformed.
func Parse(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Frame{}, err
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return f, nil
}

// Encode serializes f for the wire.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// EventTime returns the frame timestamp, falling back to data.timestamp
// for signal frames that carry it there.
func (f Frame) EventTime() int64 {
	if f.Timestamp > 0 {
		return f.Timestamp
	}
	if len(f.Data) == 0 {
		return 0
	}
	var d struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return 0
	}
	return d.Timestamp
}

// DecodeData unmarshals the data field into v.
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s frame without data", ErrMalformed, f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, f.Type, err)
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
