package link

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/rtlink/internal/bus"
	"github.com/matheus3301/rtlink/internal/clock"
	"github.com/matheus3301/rtlink/internal/frame"
	"github.com/matheus3301/rtlink/internal/metrics"
	"github.com/matheus3301/rtlink/internal/recovery"
	"github.com/matheus3301/rtlink/internal/transport"
	"go.uber.org/zap"
)

var errRefused = errors.New("connection refused")

// fakeConn records writes. Read blocks until the connection is closed or
// dropped; tests feed inbound frames through Client.receive directly.
type fakeConn struct {
	mu         sync.Mutex
	writes     [][]byte
	failWrites bool
	closed     bool
	reason     string

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	<-f.done
	return nil, transport.ErrClosed
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if f.failWrites {
		return errors.New("broken pipe")
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close(reason string) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		f.reason = reason
	}
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
	return nil
}

// drop simulates the server going away.
func (f *fakeConn) drop() {
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeConn) setFailWrites(v bool) {
	f.mu.Lock()
	f.failWrites = v
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// sent decodes every frame written so far.
func (f *fakeConn) sent(t *testing.T) []frame.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]frame.Frame, 0, len(f.writes))
	for _, w := range f.writes {
		fr, err := frame.Parse(w)
		if err != nil {
			t.Fatalf("client wrote unparsable frame %s: %v", w, err)
		}
		out = append(out, fr)
	}
	return out
}

func (f *fakeConn) sentOfType(t *testing.T, typ string) []frame.Frame {
	t.Helper()
	var out []frame.Frame
	for _, fr := range f.sent(t) {
		if fr.Type == typ {
			out = append(out, fr)
		}
	}
	return out
}

type fakeDialer struct {
	mu             sync.Mutex
	conns          []*fakeConn
	headers        []http.Header
	fail           int
	failWritesNext bool
	block          bool
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.headers = append(d.headers, header)
	if d.block {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer d.mu.Unlock()
	if d.fail > 0 {
		d.fail--
		return nil, errRefused
	}
	c := newFakeConn()
	c.failWrites = d.failWritesNext
	d.failWritesNext = false
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(n int) {
	d.mu.Lock()
	d.fail = n
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.headers)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type harness struct {
	t       *testing.T
	clock   *clock.Fake
	dialer  *fakeDialer
	bus     *bus.Bus
	metrics *metrics.Collector
	client  *Client
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	opts := Options{URL: "ws://chat.test/ws", Token: "tok", UserID: "me", Clock: clk}
	if mutate != nil {
		mutate(&opts)
	}
	h := &harness{
		t:       t,
		clock:   clk,
		dialer:  &fakeDialer{},
		bus:     bus.New(),
		metrics: metrics.NewCollector(),
	}
	h.client = New(opts, h.dialer, recovery.New(nil, zap.NewNop()), h.metrics, h.bus, zap.NewNop())
	return h
}

func (h *harness) connect() *fakeConn {
	h.t.Helper()
	if err := h.client.Connect(context.Background()); err != nil {
		h.t.Fatalf("Connect() error = %v", err)
	}
	return h.dialer.last()
}

func (h *harness) send(typ string, payload any) int64 {
	h.t.Helper()
	id, err := h.client.Send(context.Background(), typ, payload)
	if err != nil {
		h.t.Fatalf("Send(%q) error = %v", typ, err)
	}
	return id
}

func (h *harness) inject(conn *fakeConn, raw string) {
	h.client.receive(conn, []byte(raw))
}

// waitReconnectArmed waits for the reader goroutine to notice a dropped
// socket and schedule the reconnect timer.
func (h *harness) waitReconnectArmed() {
	h.t.Helper()
	waitFor(h.t, "reconnect scheduled", func() bool {
		h.client.mu.Lock()
		defer h.client.mu.Unlock()
		return h.client.reconnect.state == slotScheduled
	})
}

func (h *harness) errorCount(kind metrics.ErrorKind) int64 {
	return h.client.Metrics().ErrorsByKind[kind]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func batchIDs(t *testing.T, f frame.Frame) []int64 {
	t.Helper()
	if f.Type != frame.TypeBatch {
		t.Fatalf("frame type = %q, want batch", f.Type)
	}
	ids := make([]int64, len(f.Messages))
	for i, m := range f.Messages {
		ids[i] = m.ID
	}
	return ids
}

func sequence(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
