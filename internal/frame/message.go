package frame

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Message is an outbound item owned by the link pipeline until it is
// acknowledged. Ordinary messages carry an ID; signals queued while offline
// carry their encoded Data instead.
type Message struct {
	ID        int64
	Type      string
	Payload   map[string]json.RawMessage
	Data      json.RawMessage
	Timestamp int64 // ms since epoch, set on enqueue
	QueuedAt  int64 // ms since epoch, when the item entered its current queue
	Seq       uint64
}

// Frame renders m as a wire frame.
func (m Message) Frame() Frame {
	f := Frame{Type: m.Type, ID: m.ID, Data: m.Data, Payload: m.Payload}
	if len(m.Data) == 0 {
		f.Timestamp = m.Timestamp
	}
	return f
}

// Ordinary reports whether m is an application message subject to batching.
func (m Message) Ordinary() bool {
	return IsOrdinary(m.Type)
}

// PayloadOf encodes v as a JSON object and splits it into payload fields.
// A nil v yields an empty payload.
func PayloadOf(v any) (map[string]json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch p := v.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if isNull(raw) {
		return nil, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	for k := range out {
		if reserved[k] {
			return nil, fmt.Errorf("payload field %q is reserved", k)
		}
	}
	return out, nil
}

// SortBySeq orders msgs by enqueue sequence in place.
func SortBySeq(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
}
