package link

import (
	"fmt"

	"github.com/matheus3301/rtlink/internal/frame"
	"github.com/matheus3301/rtlink/internal/registry"
	"github.com/matheus3301/rtlink/internal/transport"
	"go.uber.org/zap"
)

// receive handles one raw inbound frame from conn. Frames from a socket
// that is no longer current are ignored. Malformed frames are counted and
// dropped.
func (c *Client) receive(conn transport.Conn, data []byte) {
	c.mu.Lock()
	defer c.unlock()
	if c.conn != conn {
		return
	}

	f, err := frame.Parse(data)
	if err != nil {
		c.metrics.Received(1, len(data))
		c.report(&Error{Kind: KindProtocol, Op: "parse", Err: err})
		return
	}
	count := 1
	if f.Type == frame.TypeBatch {
		count = len(f.Messages)
	}
	c.metrics.Received(count, len(data))
	c.dispatch(f)
}

func (c *Client) dispatch(f frame.Frame) {
	if c.conn == nil {
		return
	}
	c.recovery.Observe(f.ID, f.EventTime())

	var err error
	switch f.Type {
	case frame.TypePing:
		c.handlePing()
	case frame.TypePong:
		c.handlePong()
	case frame.TypeBatch:
		c.dispatchAll(f.Messages)
	case frame.TypeRecovery:
		c.handleRecoveryReplay(f)
	case frame.TypePresence:
		err = c.handlePresence(f)
	case frame.TypeTyping:
		err = c.handleTyping(f)
	case frame.TypeRead:
		err = c.handleRead(f)
	case frame.TypeDelivery:
		err = c.handleDelivery(f)
	default:
		c.handleMessage(f)
	}
	if err != nil {
		c.report(&Error{Kind: KindProtocol, Op: "dispatch " + f.Type, Err: err})
	}
}

// dispatchAll routes the members of a batch or replay in order. A member
// without a type is dropped on its own.
func (c *Client) dispatchAll(frames []frame.Frame) {
	for _, m := range frames {
		if m.Type == "" {
			c.report(&Error{Kind: KindProtocol, Op: "dispatch batch", Err: fmt.Errorf("%w: member without type", frame.ErrMalformed)})
			continue
		}
		c.dispatch(m)
	}
}

func (c *Client) handleRecoveryReplay(f frame.Frame) {
	c.dispatchAll(f.Messages)
	c.logger.Info("recovery replay received", zap.Int("messages", len(f.Messages)))
	c.publish(KindRecovery, RecoveryEvent{Success: true, Replayed: len(f.Messages)})
}

func (c *Client) handlePresence(f frame.Frame) error {
	var d frame.PresenceData
	if err := f.DecodeData(&d); err != nil {
		return err
	}
	if d.UserID == "" {
		return fmt.Errorf("%w: presence without userId", frame.ErrMalformed)
	}
	ts := d.Timestamp
	if ts == 0 {
		ts = c.nowMillis()
	}
	switch d.Status {
	case frame.StatusOnline:
		c.presence.Upsert(registry.PresenceEntry{PeerID: d.UserID, Status: d.Status, LastSeen: ts})
	case frame.StatusOffline:
		c.presence.Remove(d.UserID)
	default:
		return fmt.Errorf("%w: presence status %q", frame.ErrMalformed, d.Status)
	}
	c.publish(KindPresence, PresenceEvent{PeerID: d.UserID, Status: d.Status, Timestamp: ts})
	return nil
}

func (c *Client) handleTyping(f frame.Frame) error {
	var d frame.TypingData
	if err := f.DecodeData(&d); err != nil {
		return err
	}
	if d.UserID == "" {
		return fmt.Errorf("%w: typing without userId", frame.ErrMalformed)
	}
	// TTL is measured on the local clock.
	if d.IsTyping {
		c.typing.Upsert(d.UserID, c.clock.Now())
	} else {
		c.typing.Remove(d.UserID)
	}
	c.publish(KindTyping, TypingEvent{PeerID: d.UserID, IsTyping: d.IsTyping, Timestamp: d.Timestamp})
	return nil
}

func (c *Client) handleRead(f frame.Frame) error {
	var d frame.ReadData
	if err := f.DecodeData(&d); err != nil {
		return err
	}
	c.receipts.ApplyPeer(d.UserID, d.MessageIDs)
	c.publish(KindRead, ReadEvent{PeerID: d.UserID, MessageIDs: d.MessageIDs, Timestamp: d.Timestamp})
	return nil
}

func (c *Client) handleDelivery(f frame.Frame) error {
	var d frame.DeliveryData
	if err := f.DecodeData(&d); err != nil {
		return err
	}
	if d.MessageID <= 0 {
		return fmt.Errorf("%w: delivery without messageId", frame.ErrMalformed)
	}
	now := c.clock.Now()
	evt := DeliveryEvent{MessageID: d.MessageID, Status: d.Status, DeliveryTime: now}
	if entry, ok := c.pending.Confirm(d.MessageID); ok {
		evt.Tracked = true
		evt.Latency = now.Sub(entry.SentAt)
		c.metrics.Latency(evt.Latency)
	}
	c.publish(KindDelivery, evt)
	return nil
}

// handleMessage takes an application message: it becomes unread, is
// acknowledged at once and is published to subscribers.
func (c *Client) handleMessage(f frame.Frame) {
	if f.ID > 0 {
		c.receipts.AddUnread(f.ID)
		_ = c.signal(frame.NewDelivery(frame.DeliveryData{
			MessageID: f.ID,
			Status:    frame.DeliveryDelivered,
			Timestamp: c.nowMillis(),
		}))
	}
	c.publish(KindMessage, InboundMessage{ID: f.ID, Type: f.Type, Timestamp: f.Timestamp, Payload: f.Payload})
}
