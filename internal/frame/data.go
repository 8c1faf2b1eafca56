package frame

import "encoding/json"

// PresenceData is the data of a presence frame.
type PresenceData struct {
	UserID    string `json:"userId,omitempty"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// TypingData is the data of a typing frame.
type TypingData struct {
	UserID    string `json:"userId,omitempty"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp int64  `json:"timestamp"`
}

// ReadData is the data of a read-receipt frame.
type ReadData struct {
	UserID     string  `json:"userId,omitempty"`
	MessageIDs []int64 `json:"messageIds"`
	Timestamp  int64   `json:"timestamp"`
}

// DeliveryData is the data of a delivery-confirmation frame.
type DeliveryData struct {
	MessageID int64  `json:"messageId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// RecoveryData is the data of a recovery frame.
type RecoveryData struct {
	LastMessageID      int64   `json:"lastMessageId"`
	LastEventTimestamp int64   `json:"lastEventTimestamp"`
	MissedEvents       []int64 `json:"missedEvents"`
}

// NewPing builds a heartbeat probe.
func NewPing(ts int64) Frame {
	return Frame{Type: TypePing, Timestamp: ts}
}

// NewPong builds a heartbeat answer.
func NewPong(ts int64) Frame {
	return Frame{Type: TypePong, Timestamp: ts}
}

// NewBatch wraps msgs in one batch frame.
func NewBatch(msgs []Frame, ts int64) Frame {
	return Frame{Type: TypeBatch, Messages: msgs, Timestamp: ts}
}

// NewPresence builds a presence frame.
func NewPresence(d PresenceData) Frame {
	return withData(TypePresence, d)
}

// NewTyping builds a typing frame.
func NewTyping(d TypingData) Frame {
	return withData(TypeTyping, d)
}

// NewRead builds a read-receipt frame.
func NewRead(d ReadData) Frame {
	if d.MessageIDs == nil {
		d.MessageIDs = []int64{}
	}
	return withData(TypeRead, d)
}

// NewDelivery builds a delivery-confirmation frame.
func NewDelivery(d DeliveryData) Frame {
	return withData(TypeDelivery, d)
}

// NewRecovery builds a recovery frame.
func NewRecovery(d RecoveryData) Frame {
	if d.MissedEvents == nil {
		d.MissedEvents = []int64{}
	}
	return withData(TypeRecovery, d)
}

func withData(typ string, v any) Frame {
	// The data types above contain only strings, ints and bools.
	raw, _ := json.Marshal(v)
	return Frame{Type: typ, Data: raw}
}
