package link

import (
	"time"

	"github.com/matheus3301/rtlink/internal/clock"
)

// Options configure a Client. Zero fields take the defaults below.
type Options struct {
	URL    string
	Token  string // sent as "Authorization: Bearer <token>" when set
	UserID string // local user id for presence/typing/read frames; the server fills it when empty

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 means unlimited

	BatchInterval time.Duration
	BatchSize     int

	TypingTimeout time.Duration // local auto-stop
	TypingTTL     time.Duration // peer entries expire after this

	OfflineBufferLimit int // 0 means unlimited

	Clock clock.Clock
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MaxMissedHeartbeats <= 0 {
		o.MaxMissedHeartbeats = 2
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = 100 * time.Millisecond
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 3 * time.Second
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}
