package link

import (
	"testing"
	"time"

	"github.com/matheus3301/rtlink/internal/bus"
	"github.com/matheus3301/rtlink/internal/frame"
	"github.com/matheus3301/rtlink/internal/metrics"
)

// nextEvent returns the event already waiting on ch. Publishing is
// synchronous, so nothing is expected to arrive later.
func nextEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	default:
		t.Fatal("no event published")
		return bus.Event{}
	}
}

func TestTypingExpires(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()
	h.inject(conn, `{"type":"typing","data":{"userId":"u1","isTyping":true,"timestamp":1}}`)

	h.clock.Advance(5000 * time.Millisecond)
	if peers := h.client.TypingPeers(); len(peers) != 1 || peers[0].PeerID != "u1" {
		t.Fatalf("typing peers at 5000ms = %+v, want u1", peers)
	}
	h.clock.Advance(time.Millisecond)
	if peers := h.client.TypingPeers(); len(peers) != 0 {
		t.Errorf("typing peers at 5001ms = %+v, want none", peers)
	}
}

func TestTypingStopRemovesPeer(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()
	events, unsub := h.bus.Subscribe(KindTyping, 4)
	defer unsub()

	h.inject(conn, `{"type":"typing","data":{"userId":"u1","isTyping":true}}`)
	h.inject(conn, `{"type":"typing","data":{"userId":"u1","isTyping":false}}`)

	if peers := h.client.TypingPeers(); len(peers) != 0 {
		t.Errorf("typing peers = %+v, want none", peers)
	}
	nextEvent(t, events)
	if evt := nextEvent(t, events).Payload.(TypingEvent); evt.IsTyping || evt.PeerID != "u1" {
		t.Errorf("last typing event = %+v, want u1 stopped", evt)
	}
}

func TestReadReceiptMarksMessage(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()

	h.inject(conn, `{"type":"message","id":123,"timestamp":1,"text":"hi"}`)
	st := h.client.MessageReadStatus(123)
	if st.IsRead || !st.IsUnread {
		t.Fatalf("status = %+v, want unread", st)
	}

	acks := conn.sentOfType(t, frame.TypeDelivery)
	if len(acks) != 1 {
		t.Fatalf("delivery acks = %d, want 1", len(acks))
	}
	var ack frame.DeliveryData
	if err := acks[0].DecodeData(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.MessageID != 123 || ack.Status != frame.DeliveryDelivered {
		t.Errorf("ack = %+v, want 123 delivered", ack)
	}

	h.inject(conn, `{"type":"read","data":{"userId":"u1","messageIds":[123],"timestamp":2}}`)
	st = h.client.MessageReadStatus(123)
	if !st.IsRead || len(st.ReadBy) != 1 || st.ReadBy[0] != "u1" {
		t.Errorf("status = %+v, want read by u1", st)
	}
	if st.IsUnread || len(h.client.UnreadMessages()) != 0 {
		t.Error("message still unread after a receipt")
	}
}

func TestInboundMessagePublished(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()
	events, unsub := h.bus.Subscribe(KindMessage, 4)
	defer unsub()

	h.inject(conn, `{"type":"chat","id":9,"timestamp":77,"text":"yo"}`)

	msg := nextEvent(t, events).Payload.(InboundMessage)
	if msg.ID != 9 || msg.Type != "chat" || msg.Timestamp != 77 {
		t.Errorf("message = %+v, want chat 9 at 77", msg)
	}
	if string(msg.Payload["text"]) != `"yo"` {
		t.Errorf("payload text = %s, want \"yo\"", msg.Payload["text"])
	}
	if id, ts := h.client.Status().LastMessageID, h.client.Status().LastEventTime; id != 9 || ts != 77 {
		t.Errorf("position = %d/%d, want 9/77", id, ts)
	}
}

func TestPresenceRegistry(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()

	h.inject(conn, `{"type":"presence","data":{"userId":"u1","status":"online","timestamp":10}}`)
	h.inject(conn, `{"type":"presence","data":{"userId":"u2","status":"online","timestamp":11}}`)
	h.inject(conn, `{"type":"presence","data":{"userId":"u1","status":"offline","timestamp":12}}`)

	peers := h.client.ActivePeers()
	if len(peers) != 1 || peers[0].PeerID != "u2" || peers[0].LastSeen != 11 {
		t.Fatalf("active peers = %+v, want u2 seen at 11", peers)
	}
	if h.errorCount(metrics.ErrorProtocol) != 0 {
		t.Errorf("protocol errors = %d, want 0", h.errorCount(metrics.ErrorProtocol))
	}
}

func TestPresenceRejected(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing user", `{"type":"presence","data":{"status":"online"}}`},
		{"unknown status", `{"type":"presence","data":{"userId":"u1","status":"away"}}`},
		{"missing data", `{"type":"presence"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			conn := h.connect()
			h.inject(conn, tt.raw)
			if len(h.client.ActivePeers()) != 0 {
				t.Error("rejected presence reached the registry")
			}
			if h.errorCount(metrics.ErrorProtocol) != 1 {
				t.Errorf("protocol errors = %d, want 1", h.errorCount(metrics.ErrorProtocol))
			}
		})
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()
	errs, unsub := h.bus.Subscribe(KindError, 8)
	defer unsub()

	for _, raw := range []string{`not json`, `{"id":1}`, `[1,2]`, `{"type":"message","id":"x"}`} {
		h.inject(conn, raw)
	}

	if got := h.errorCount(metrics.ErrorProtocol); got != 4 {
		t.Errorf("protocol errors = %d, want 4", got)
	}
	if got := h.client.Metrics().MessagesReceived; got != 4 {
		t.Errorf("messages received = %d, want 4", got)
	}
	if evt := nextEvent(t, errs).Payload.(ErrorEvent); evt.Kind != KindProtocol {
		t.Errorf("error event kind = %s, want protocol", evt.Kind)
	}
	if !h.client.IsConnected() {
		t.Error("malformed frames closed the connection")
	}
}

func TestInboundBatch(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()

	h.inject(conn, `{"type":"batch","messages":[`+
		`{"type":"message","id":5,"timestamp":1},`+
		`{"type":"presence","data":{"userId":"u1","status":"online"}},`+
		`{"id":6}]}`)

	if got := h.client.UnreadMessages(); !equalIDs(got, []int64{5}) {
		t.Errorf("unread = %v, want [5]", got)
	}
	if len(h.client.ActivePeers()) != 1 {
		t.Error("presence inside batch not applied")
	}
	if len(conn.sentOfType(t, frame.TypeDelivery)) != 1 {
		t.Error("message inside batch not acknowledged")
	}
	if got := h.errorCount(metrics.ErrorProtocol); got != 1 {
		t.Errorf("protocol errors = %d, want 1 for the untyped member", got)
	}
	if got := h.client.Metrics().MessagesReceived; got != 3 {
		t.Errorf("messages received = %d, want 3", got)
	}
}

func TestDeliveryConfirmsPending(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()
	events, unsub := h.bus.Subscribe(KindDelivery, 4)
	defer unsub()

	h.send(frame.TypeMessage, nil)
	h.clock.Advance(100 * time.Millisecond)
	h.clock.Advance(250 * time.Millisecond)
	h.inject(conn, `{"type":"delivery","data":{"messageId":1,"status":"delivered","timestamp":5}}`)

	evt := nextEvent(t, events).Payload.(DeliveryEvent)
	if !evt.Tracked || evt.Latency != 250*time.Millisecond {
		t.Errorf("delivery = %+v, want tracked with 250ms latency", evt)
	}
	if len(h.client.PendingIDs()) != 0 {
		t.Error("confirmed message still pending")
	}
	m := h.client.Metrics()
	if m.LatencySamples != 1 || m.AverageLatency != 250*time.Millisecond {
		t.Errorf("latency = %v over %d samples, want 250ms over 1", m.AverageLatency, m.LatencySamples)
	}

	h.inject(conn, `{"type":"delivery","data":{"messageId":99,"status":"delivered"}}`)
	if evt := nextEvent(t, events).Payload.(DeliveryEvent); evt.Tracked {
		t.Errorf("unknown id reported as tracked: %+v", evt)
	}
	if got := h.client.Metrics().LatencySamples; got != 1 {
		t.Errorf("latency samples = %d, want 1", got)
	}
}

func TestRecoveryReplayDispatched(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect()
	events, unsub := h.bus.Subscribe(KindRecovery, 4)
	defer unsub()

	h.inject(conn, `{"type":"recovery","messages":[`+
		`{"type":"message","id":10,"timestamp":100},`+
		`{"type":"message","id":11,"timestamp":101}]}`)

	if evt := nextEvent(t, events).Payload.(RecoveryEvent); !evt.Success || evt.Replayed != 2 {
		t.Errorf("recovery event = %+v, want 2 replayed", evt)
	}
	if got := h.client.UnreadMessages(); !equalIDs(got, []int64{10, 11}) {
		t.Errorf("unread = %v, want [10 11]", got)
	}
	if got := h.client.Status().LastMessageID; got != 11 {
		t.Errorf("last message id = %d, want 11", got)
	}
}
