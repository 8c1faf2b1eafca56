// Package metrics counts link traffic and exposes it as a snapshot and as
// Prometheus metrics.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// ErrorKind classifies counted errors.
type ErrorKind string

const (
	ErrorProtocol   ErrorKind = "protocol"
	ErrorSend       ErrorKind = "send"
	ErrorHeartbeat  ErrorKind = "heartbeat"
	ErrorConnection ErrorKind = "connection"
	ErrorRecovery   ErrorKind = "recovery"
)

// Snapshot is a point-in-time copy of the counters with derived values.
type Snapshot struct {
	MessagesSent     int64               `json:"messagesSent"`
	MessagesReceived int64               `json:"messagesReceived"`
	Errors           int64               `json:"errors"`
	ErrorsByKind     map[ErrorKind]int64 `json:"errorsByKind"`
	Reconnections    int64               `json:"reconnections"`
	BatchesSent      int64               `json:"batchesSent"`
	TotalBatchSize   int64               `json:"totalBatchSize"`
	AverageBatchSize float64             `json:"averageBatchSize"`
	BytesTransferred int64               `json:"bytesTransferred"`
	AverageLatency   time.Duration       `json:"averageLatency"`
	LatencySamples   int64               `json:"latencySamples"`
	Connected        bool                `json:"connected"`
	Uptime           time.Duration       `json:"uptime"`
}

// Collector accumulates link counters. It is safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	messagesSent     int64
	messagesReceived int64
	errors           map[ErrorKind]int64
	reconnections    int64
	batchesSent      int64
	totalBatchSize   int64
	bytesTransferred int64
	latencySum       time.Duration
	latencyCount     int64

	connectedAt time.Time
}

// NewCollector creates a zeroed collector.
func NewCollector() *Collector {
	return &Collector{errors: make(map[ErrorKind]int64)}
}

// Sent counts messages written in one frame of n bytes. A batch frame
// counts each message it carries.
func (c *Collector) Sent(messages, n int) {
	c.mu.Lock()
	c.messagesSent += int64(messages)
	c.bytesTransferred += int64(n)
	c.mu.Unlock()
}

// Received counts messages read in one frame of n bytes.
func (c *Collector) Received(messages, n int) {
	c.mu.Lock()
	c.messagesReceived += int64(messages)
	c.bytesTransferred += int64(n)
	c.mu.Unlock()
}

// BatchSent counts one batch frame carrying size messages.
func (c *Collector) BatchSent(size int) {
	c.mu.Lock()
	c.batchesSent++
	c.totalBatchSize += int64(size)
	c.mu.Unlock()
}

// Error counts one error of the given kind.
func (c *Collector) Error(kind ErrorKind) {
	c.mu.Lock()
	c.errors[kind]++
	c.mu.Unlock()
}

// Reconnection counts one reconnect attempt.
func (c *Collector) Reconnection() {
	c.mu.Lock()
	c.reconnections++
	c.mu.Unlock()
}

// Latency records one delivery round trip.
func (c *Collector) Latency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.latencySum += d
	c.latencyCount++
	c.mu.Unlock()
}

// Connected marks the start of a connection.
func (c *Collector) Connected(at time.Time) {
	c.mu.Lock()
	c.connectedAt = at
	c.mu.Unlock()
}

// Disconnected clears the connection start time.
func (c *Collector) Disconnected() {
	c.mu.Lock()
	c.connectedAt = time.Time{}
	c.mu.Unlock()
}

// Reset zeroes every counter. The connection start time is kept.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesSent = 0
	c.messagesReceived = 0
	c.errors = make(map[ErrorKind]int64)
	c.reconnections = 0
	c.batchesSent = 0
	c.totalBatchSize = 0
	c.bytesTransferred = 0
	c.latencySum = 0
	c.latencyCount = 0
}

// Snapshot returns the counters as of now.
func (c *Collector) Snapshot(now time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		MessagesSent:     c.messagesSent,
		MessagesReceived: c.messagesReceived,
		ErrorsByKind:     make(map[ErrorKind]int64, len(c.errors)),
		Reconnections:    c.reconnections,
		BatchesSent:      c.batchesSent,
		TotalBatchSize:   c.totalBatchSize,
		BytesTransferred: c.bytesTransferred,
		LatencySamples:   c.latencyCount,
		Connected:        !c.connectedAt.IsZero(),
	}
	for k, v := range c.errors {
		s.ErrorsByKind[k] = v
		s.Errors += v
	}
	if c.batchesSent > 0 {
		s.AverageBatchSize = float64(c.totalBatchSize) / float64(c.batchesSent)
	}
	if c.latencyCount > 0 {
		s.AverageLatency = c.latencySum / time.Duration(c.latencyCount)
	}
	if s.Connected {
		s.Uptime = now.Sub(c.connectedAt)
	}
	return s
}

// Kinds returns the error kinds present in s in a stable order.
func (s Snapshot) Kinds() []ErrorKind {
	out := make([]ErrorKind, 0, len(s.ErrorsByKind))
	for k := range s.ErrorsByKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
