// Package link keeps one realtime JSON-frame channel open to a chat server.
//
// A Client is a single owning actor: every public method, socket callback
// and timer callback runs under one mutex, so queues and registries are
// never mutated concurrently. Blocking dials and socket closes run after the
// lock is released. Frame writes and recovery snapshot writes to the local
// store run under it, so the stored snapshot never lags the one in memory.
package link

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/matheus3301/rtlink/internal/bus"
	"github.com/matheus3301/rtlink/internal/clock"
	"github.com/matheus3301/rtlink/internal/frame"
	"github.com/matheus3301/rtlink/internal/metrics"
	"github.com/matheus3301/rtlink/internal/recovery"
	"github.com/matheus3301/rtlink/internal/registry"
	"github.com/matheus3301/rtlink/internal/status"
	"github.com/matheus3301/rtlink/internal/transport"
	"go.uber.org/zap"
)

// Client is the link connection manager, outbound pipeline and inbound
// dispatcher for one server.
type Client struct {
	opts     Options
	dialer   transport.Dialer
	clock    clock.Clock
	bus      *bus.Bus
	machine  *status.Machine
	metrics  *metrics.Collector
	recovery *recovery.Coordinator
	logger   *zap.Logger
	instance string

	mu       sync.Mutex
	deferred []func()

	conn       transport.Conn
	dialing    bool
	dialGen    uint64
	userClosed bool

	nextID  int64
	nextSeq uint64
	offline []frame.Message
	batch   []frame.Message

	pending  *registry.Pending
	presence *registry.Presence
	typing   *registry.Typing
	receipts *registry.Receipts

	flush      timerSlot
	heartbeat  timerSlot
	typingStop timerSlot
	reconnect  timerSlot

	missed      int
	backoff     *backoff.ExponentialBackOff
	attempts    int
	localTyping bool
}

// New creates a disconnected client. rec, col and logger may be nil.
func New(opts Options, dialer transport.Dialer, rec *recovery.Coordinator, col *metrics.Collector, b *bus.Bus, logger *zap.Logger) *Client {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = recovery.New(nil, logger)
	}
	if col == nil {
		col = metrics.NewCollector()
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     opts.ReconnectBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         opts.ReconnectMaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               opts.Clock,
	}
	bo.Reset()

	return &Client{
		opts:     opts,
		dialer:   dialer,
		clock:    opts.Clock,
		bus:      b,
		machine:  status.NewMachineWithClock(b, opts.Clock.Now),
		metrics:  col,
		recovery: rec,
		logger:   logger.Named("link"),
		instance: uuid.NewString(),
		pending:  registry.NewPending(),
		presence: registry.NewPresence(),
		typing:   registry.NewTyping(opts.TypingTTL),
		receipts: registry.NewReceipts(),
		backoff:  bo,
	}
}

// Connect dials the server and returns once the socket is open. A dial
// error or timeout leaves no socket behind and is returned as a connection
// *Error. Connect on an open client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.unlock()
		return nil
	}
	if c.dialing {
		c.unlock()
		return ErrConnectInProgress
	}
	c.userClosed = false
	c.cancel(&c.reconnect)
	gen := c.beginDial()
	c.unlock()

	return c.dial(ctx, gen, false)
}

// Reconnect schedules a reconnect attempt with backoff. It does nothing
// while a socket is open or a dial is in flight.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.unlock()
	if c.conn != nil || c.dialing || c.reconnect.state != slotIdle {
		return
	}
	c.userClosed = false
	c.setState(status.Reconnecting)
	c.scheduleReconnect()
}

// Disconnect cancels every timer, announces offline presence, moves queued
// and unacknowledged messages into the offline buffer and closes the socket.
// It returns after the socket is closed and is safe to call repeatedly.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()

	c.userClosed = true
	c.cancelAll()
	if c.dialing {
		c.dialing = false
		c.dialGen++
	}
	if c.conn != nil {
		conn := c.conn
		c.sendPresence(frame.StatusOffline)
		// The presence write may already have torn the socket down.
		if c.conn == conn {
			c.teardown()
			c.later(func() { _ = conn.Close("client disconnect") })
		}
		c.logger.Info("disconnected")
	}
	c.setState(status.Disconnected)
	return nil
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.unlock()
	return c.conn != nil
}

// State returns the connection state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

func (c *Client) beginDial() uint64 {
	c.dialing = true
	c.dialGen++
	c.setState(status.Connecting)
	return c.dialGen
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	h.Set("X-Rtlink-Instance", c.instance)
	return h
}

// dial runs without c.mu held. auto marks attempts made by the reconnect
// scheduler, whose failures schedule the next attempt.
func (c *Client) dial(ctx context.Context, gen uint64, auto bool) error {
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, err := c.dialer.Dial(dctx, c.opts.URL, c.header())
	cancel()

	c.mu.Lock()
	defer c.unlock()

	if gen != c.dialGen || c.userClosed {
		if conn != nil {
			c.later(func() { _ = conn.Close("connect aborted") })
		}
		return &Error{Kind: KindConnection, Op: "connect", Err: ErrConnectAborted}
	}
	c.dialing = false

	if err != nil {
		lerr := &Error{Kind: KindConnection, Op: "connect", Err: err}
		c.report(lerr)
		if auto {
			c.setState(status.Reconnecting)
			c.scheduleReconnect()
		} else {
			c.setState(status.Disconnected)
		}
		return lerr
	}

	c.open(conn)
	return nil
}

// open runs the connect sequence on a fresh socket. Any step may lose the
// socket again, so each one checks c.conn.
func (c *Client) open(conn transport.Conn) {
	c.conn = conn
	c.missed = 0
	c.attempts = 0
	c.backoff.Reset()
	c.setState(status.Connected)
	c.metrics.Connected(c.clock.Now())
	c.logger.Info("connected", zap.String("url", c.opts.URL))

	go c.readLoop(conn)

	c.startHeartbeat()
	c.sendRecovery()
	c.flushOffline()
	c.sendPresence(frame.StatusOnline)
}

// teardown detaches the socket and resets per-connection state. Pending and
// queued messages return to the offline buffer in enqueue order and pending
// ids are handed to the recovery coordinator.
func (c *Client) teardown() {
	c.conn = nil
	c.cancel(&c.flush)
	c.cancel(&c.heartbeat)
	c.cancel(&c.typingStop)
	c.localTyping = false
	c.missed = 0

	ids := c.pending.IDs()
	merged := make([]frame.Message, 0, c.pending.Len()+len(c.batch)+len(c.offline))
	merged = append(merged, c.pending.Drain()...)
	merged = append(merged, c.batch...)
	merged = append(merged, c.offline...)
	frame.SortBySeq(merged)
	c.offline = merged
	c.batch = nil

	c.presence.Clear()
	c.typing.Clear()
	c.receipts.Clear()

	c.recovery.Suspend(context.Background(), ids)
	c.metrics.Disconnected()
}

// connectionLost tears down a socket that failed underneath the client and
// schedules a reconnect unless the user asked to disconnect.
func (c *Client) connectionLost(reason string) {
	conn := c.conn
	if conn == nil {
		return
	}
	c.teardown()
	c.later(func() { _ = conn.Close(reason) })
	c.logger.Warn("connection lost", zap.String("reason", reason))
	if c.userClosed {
		c.setState(status.Disconnected)
		return
	}
	c.setState(status.Reconnecting)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if limit := c.opts.MaxReconnectAttempts; limit > 0 && c.attempts >= limit {
		c.logger.Error("giving up reconnecting", zap.Int("attempts", c.attempts))
		c.publish(KindError, ErrorEvent{Kind: KindConnection, Op: "reconnect", Error: "reconnect attempts exhausted"})
		c.setState(status.Disconnected)
		return
	}
	delay := c.backoff.NextBackOff()
	c.attempts++
	c.logger.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", c.attempts))
	c.arm(&c.reconnect, delay, c.reconnectNow)
}

func (c *Client) reconnectNow() {
	if c.conn != nil || c.dialing || c.userClosed {
		return
	}
	c.metrics.Reconnection()
	gen := c.beginDial()
	c.later(func() { _ = c.dial(context.Background(), gen, true) })
}

func (c *Client) readLoop(conn transport.Conn) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.readFailed(conn, err)
			return
		}
		c.receive(conn, data)
	}
}

func (c *Client) readFailed(conn transport.Conn, err error) {
	c.mu.Lock()
	defer c.unlock()
	if c.conn != conn {
		return
	}
	c.report(&Error{Kind: KindConnection, Op: "read", Err: err})
	c.connectionLost("read failed")
}

func (c *Client) setState(to status.State) {
	if c.machine.Current() == to {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Error("state transition rejected", zap.Error(err))
	}
}

// report counts, logs and publishes err.
func (c *Client) report(err *Error) {
	c.metrics.Error(metrics.ErrorKind(err.Kind))
	c.logger.Warn("link error", zap.String("kind", string(err.Kind)), zap.String("op", err.Op), zap.Error(err.Err))
	c.publish(KindError, ErrorEvent{Kind: err.Kind, Op: err.Op, Error: err.Err.Error()})
}

func (c *Client) publish(kind string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: c.clock.Now(), Payload: payload})
}

func (c *Client) nowMillis() int64 {
	return c.clock.Now().UnixMilli()
}

// writeFrame encodes and writes f. messages is the number of messages the
// frame carries. Caller must hold c.mu and handle the failure.
func (c *Client) writeFrame(f frame.Frame, messages int) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	data, err := frame.Encode(f)
	if err != nil {
		return &Error{Kind: KindProtocol, Op: "encode " + f.Type, Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, data); err != nil {
		lerr := &Error{Kind: KindSend, Op: "write " + f.Type, Err: err}
		c.report(lerr)
		return lerr
	}
	c.metrics.Sent(messages, len(data))
	return nil
}

// sendFailed handles a failed write: the socket is considered dead.
func (c *Client) sendFailed(err error) {
	var lerr *Error
	if errors.As(err, &lerr) && lerr.Kind == KindProtocol {
		return
	}
	c.connectionLost("write failed")
}

// Metrics returns the current counters.
func (c *Client) Metrics() metrics.Snapshot {
	return c.metrics.Snapshot(c.clock.Now())
}

// ResetMetrics zeroes the counters without touching the connection.
func (c *Client) ResetMetrics() {
	c.metrics.Reset()
}

// Status summarizes the client for the control API.
type Status struct {
	State          status.State  `json:"state"`
	StateSince     time.Time     `json:"stateSince"`
	Connected      bool          `json:"connected"`
	URL            string        `json:"url"`
	Buffered       int           `json:"buffered"`
	Queued         int           `json:"queued"`
	Pending        int           `json:"pending"`
	Attempts       int           `json:"reconnectAttempts"`
	LastMessageID  int64         `json:"lastMessageId"`
	LastEventTime  int64         `json:"lastEventTimestamp"`
	RecoveryQueued bool          `json:"recoveryPending"`
	PeersOnline    int           `json:"peersOnline"`
	PeersTyping    int           `json:"peersTyping"`
	Uptime         time.Duration `json:"uptime"`
}

// Status returns a summary of the connection and queues.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.unlock()
	id, ts := c.recovery.Position()
	_, snap := c.recovery.Snapshot()
	return Status{
		State:          c.machine.Current(),
		StateSince:     c.machine.Since(),
		Connected:      c.conn != nil,
		URL:            c.opts.URL,
		Buffered:       len(c.offline),
		Queued:         len(c.batch),
		Pending:        c.pending.Len(),
		Attempts:       c.attempts,
		LastMessageID:  id,
		LastEventTime:  ts,
		RecoveryQueued: snap,
		PeersOnline:    c.presence.Len(),
		PeersTyping:    len(c.typing.Active(c.clock.Now())),
		Uptime:         c.metrics.Snapshot(c.clock.Now()).Uptime,
	}
}
