package link

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/rtlink/internal/status"
)

// Bus event kinds published by the client.
const (
	KindStatusChanged = status.KindStatusChanged
	KindMessage       = "link.message"
	KindDelivery      = "link.delivery"
	KindPresence      = "link.presence"
	KindTyping        = "link.typing"
	KindRead          = "link.read"
	KindRecovery      = "link.recovery"
	KindError         = "link.error"
)

// InboundMessage is an application message received from the server.
type InboundMessage struct {
	ID        int64                      `json:"id"`
	Type      string                     `json:"type"`
	Timestamp int64                      `json:"timestamp"`
	Payload   map[string]json.RawMessage `json:"payload,omitempty"`
}

// DeliveryEvent reports a delivery confirmation for an outbound message.
// Tracked is false when the id was not pending, for example after a restart.
type DeliveryEvent struct {
	MessageID    int64         `json:"messageId"`
	Status       string        `json:"status"`
	DeliveryTime time.Time     `json:"deliveryTime"`
	Latency      time.Duration `json:"latency"`
	Tracked      bool          `json:"tracked"`
}

type PresenceEvent struct {
	PeerID    string `json:"peerId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type TypingEvent struct {
	PeerID    string `json:"peerId"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp int64  `json:"timestamp"`
}

type ReadEvent struct {
	PeerID     string  `json:"peerId"`
	MessageIDs []int64 `json:"messageIds"`
	Timestamp  int64   `json:"timestamp"`
}

// RecoveryEvent reports a recovery handshake sent by the client, or a
// replay received from the server when Replayed > 0.
type RecoveryEvent struct {
	Success      bool    `json:"success"`
	MissedEvents []int64 `json:"missedEvents,omitempty"`
	Replayed     int     `json:"replayed,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type ErrorEvent struct {
	Kind  ErrorKind `json:"kind"`
	Op    string    `json:"op"`
	Error string    `json:"error"`
}
