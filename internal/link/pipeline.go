package link

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/matheus3301/rtlink/internal/frame"
	"go.uber.org/zap"
)

// Send accepts a message for delivery and returns its id (0 for control
// and signal types, which carry none). It returns once the message is
// queued, not when it is delivered. Transport failures never surface here;
// a failed write puts the message back in the offline buffer.
//
// payload must encode to a JSON object or be nil. For ordinary types its
// fields are flattened into the frame; for other types it becomes data.
func (c *Client) Send(ctx context.Context, typ string, payload any) (int64, error) {
	if typ == "" {
		return 0, ErrEmptyType
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.unlock()

	if c.conn == nil && c.bufferFull() {
		return 0, ErrBufferFull
	}
	msg, err := c.newMessage(typ, payload)
	if err != nil {
		return 0, err
	}
	c.enqueue(msg)
	return msg.ID, nil
}

func (c *Client) newMessage(typ string, payload any) (frame.Message, error) {
	now := c.nowMillis()
	msg := frame.Message{Type: typ, Timestamp: now, QueuedAt: now}

	fields, err := frame.PayloadOf(payload)
	if err != nil {
		return frame.Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if frame.IsOrdinary(typ) {
		msg.Payload = fields
		c.nextID++
		msg.ID = c.nextID
	} else if fields != nil {
		data, err := json.Marshal(fields)
		if err != nil {
			return frame.Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		msg.Data = data
	}
	c.nextSeq++
	msg.Seq = c.nextSeq
	return msg, nil
}

func (c *Client) bufferFull() bool {
	return c.opts.OfflineBufferLimit > 0 && len(c.offline) >= c.opts.OfflineBufferLimit
}

// enqueue routes msg by connection state and type. Caller checks the
// offline limit.
func (c *Client) enqueue(msg frame.Message) {
	switch {
	case c.conn == nil:
		msg.QueuedAt = c.nowMillis()
		c.offline = append(c.offline, msg)
	case !msg.Ordinary():
		c.sendImmediate(msg)
	default:
		c.batch = append(c.batch, msg)
		if c.flush.state == slotIdle {
			c.arm(&c.flush, c.opts.BatchInterval, c.flushBatch)
		}
	}
}

// signal sends a presence/typing/read/delivery frame built by the client.
func (c *Client) signal(f frame.Frame) error {
	c.nextSeq++
	now := c.nowMillis()
	msg := frame.Message{Type: f.Type, Data: f.Data, Timestamp: now, QueuedAt: now, Seq: c.nextSeq}
	if c.conn == nil {
		if c.bufferFull() {
			return ErrBufferFull
		}
		c.offline = append(c.offline, msg)
		return nil
	}
	c.sendImmediate(msg)
	return nil
}

// sendImmediate writes msg outside the batch queue.
func (c *Client) sendImmediate(msg frame.Message) bool {
	if err := c.writeFrame(msg.Frame(), 1); err != nil {
		c.requeue(msg)
		c.sendFailed(err)
		return false
	}
	return true
}

func (c *Client) flushBatch() {
	if c.conn == nil || len(c.batch) == 0 {
		return
	}
	n := min(len(c.batch), c.opts.BatchSize)
	msgs := slices.Clone(c.batch[:n])
	c.batch = slices.Clone(c.batch[n:])
	if !c.sendBatch(msgs) {
		return
	}
	if len(c.batch) > 0 {
		c.arm(&c.flush, 0, c.flushBatch)
	}
}

// sendBatch writes msgs as one batch frame and tracks them as pending.
func (c *Client) sendBatch(msgs []frame.Message) bool {
	frames := make([]frame.Frame, len(msgs))
	for i, m := range msgs {
		frames[i] = m.Frame()
	}
	if err := c.writeFrame(frame.NewBatch(frames, c.nowMillis()), len(msgs)); err != nil {
		c.requeue(msgs...)
		c.sendFailed(err)
		return false
	}
	c.metrics.BatchSent(len(msgs))
	now := c.clock.Now()
	for _, m := range msgs {
		c.pending.Track(m, now)
	}
	c.logger.Debug("batch sent", zap.Int("size", len(msgs)), zap.Int64("first_id", msgs[0].ID))
	return true
}

// flushOffline drains the offline buffer in order. Runs of ordinary
// messages go out as batch frames; anything else is written on its own.
func (c *Client) flushOffline() {
	for len(c.offline) > 0 && c.conn != nil {
		if !c.offline[0].Ordinary() {
			msg := c.offline[0]
			c.offline = c.offline[1:]
			if !c.sendImmediate(msg) {
				return
			}
			continue
		}
		n := 0
		for n < len(c.offline) && n < c.opts.BatchSize && c.offline[n].Ordinary() {
			n++
		}
		msgs := slices.Clone(c.offline[:n])
		c.offline = c.offline[n:]
		if !c.sendBatch(msgs) {
			return
		}
	}
	if len(c.offline) == 0 {
		c.offline = nil
	}
}

// requeue returns messages whose write failed to the offline buffer in
// enqueue order. Heartbeats, presence and typing are state rather than
// events and are dropped instead.
func (c *Client) requeue(msgs ...frame.Message) {
	now := c.nowMillis()
	for _, m := range msgs {
		switch m.Type {
		case frame.TypePing, frame.TypePong, frame.TypePresence, frame.TypeTyping:
			continue
		}
		m.QueuedAt = now
		c.offline = append(c.offline, m)
	}
	frame.SortBySeq(c.offline)
}

// Buffered returns a copy of the offline buffer.
func (c *Client) Buffered() []frame.Message {
	c.mu.Lock()
	defer c.unlock()
	return slices.Clone(c.offline)
}

// Restore appends messages saved by a previous process to the offline
// buffer, keeping their order and ids. Later ids continue after the highest
// restored one.
func (c *Client) Restore(msgs []frame.Message) {
	c.mu.Lock()
	defer c.unlock()
	sorted := slices.Clone(msgs)
	frame.SortBySeq(sorted)
	for _, m := range sorted {
		c.nextSeq++
		m.Seq = c.nextSeq
		if m.ID > c.nextID {
			c.nextID = m.ID
		}
		c.offline = append(c.offline, m)
	}
	if len(sorted) > 0 {
		c.logger.Info("restored offline buffer", zap.Int("messages", len(sorted)))
	}
	if c.conn != nil {
		c.flushOffline()
	}
}

// PendingIDs returns the ids sent but not yet confirmed.
func (c *Client) PendingIDs() []int64 {
	c.mu.Lock()
	defer c.unlock()
	return c.pending.IDs()
}
