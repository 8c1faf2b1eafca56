package link

import (
	"context"
	"slices"

	"github.com/matheus3301/rtlink/internal/frame"
	"github.com/matheus3301/rtlink/internal/registry"
	"go.uber.org/zap"
)

// sendPresence announces the local user's presence. Only sent while
// connected.
func (c *Client) sendPresence(st string) {
	if c.conn == nil {
		return
	}
	_ = c.signal(frame.NewPresence(frame.PresenceData{
		UserID:    c.opts.UserID,
		Status:    st,
		Timestamp: c.nowMillis(),
	}))
}

// sendRecovery writes the recovery handshake when a snapshot is waiting.
// A failed handshake is not retried on this socket; the snapshot stays for
// the next one.
func (c *Client) sendRecovery() {
	if c.conn == nil {
		return
	}
	f, data, ok := c.recovery.Begin()
	if !ok {
		return
	}

	if err := c.writeFrame(f, 1); err != nil {
		c.recovery.Abort()
		c.report(&Error{Kind: KindRecoveryFailed, Op: "recovery", Err: err})
		c.publish(KindRecovery, RecoveryEvent{Success: false, MissedEvents: data.MissedEvents, Error: err.Error()})
		c.sendFailed(err)
		return
	}
	c.recovery.Complete(context.Background())
	c.logger.Info("recovery sent",
		zap.Int64("last_message_id", data.LastMessageID),
		zap.Int("missed_events", len(data.MissedEvents)))
	c.publish(KindRecovery, RecoveryEvent{Success: true, MissedEvents: data.MissedEvents})
}

// StartTyping announces that the local user is typing. Every call sends a
// frame and restarts the auto-stop timer. Typing is not buffered: it fails
// with ErrNotConnected while disconnected.
func (c *Client) StartTyping(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.localTyping = true
	_ = c.signal(frame.NewTyping(frame.TypingData{UserID: c.opts.UserID, IsTyping: true, Timestamp: c.nowMillis()}))
	if c.conn != nil {
		c.arm(&c.typingStop, c.opts.TypingTimeout, c.stopTyping)
	}
	return nil
}

// StopTyping cancels the auto-stop timer and announces the stop if the
// local user was typing.
func (c *Client) StopTyping(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	c.cancel(&c.typingStop)
	if !c.localTyping || c.conn == nil {
		return nil
	}
	c.stopTyping()
	return nil
}

func (c *Client) stopTyping() {
	c.localTyping = false
	if c.conn == nil {
		return
	}
	_ = c.signal(frame.NewTyping(frame.TypingData{UserID: c.opts.UserID, IsTyping: false, Timestamp: c.nowMillis()}))
}

// IsTyping reports whether the local user is marked as typing.
func (c *Client) IsTyping() bool {
	c.mu.Lock()
	defer c.unlock()
	return c.localTyping
}

// MarkMessagesAsRead reports ids as read. Ids already reported are skipped,
// so repeating a call sends nothing. The frame is buffered while
// disconnected; when the buffer is full nothing is marked and the call can
// be retried.
func (c *Client) MarkMessagesAsRead(ctx context.Context, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.unlock()
	fresh := c.receipts.Unmarked(ids)
	if len(fresh) == 0 {
		return nil
	}
	if err := c.signal(frame.NewRead(frame.ReadData{UserID: c.opts.UserID, MessageIDs: fresh, Timestamp: c.nowMillis()})); err != nil {
		return err
	}
	c.receipts.MarkLocal(fresh)
	return nil
}

// ActivePeers returns the peers currently online, ordered by id.
func (c *Client) ActivePeers() []registry.PresenceEntry {
	c.mu.Lock()
	defer c.unlock()
	return c.presence.Active()
}

// TypingPeers returns the peers that announced typing within the TTL.
func (c *Client) TypingPeers() []registry.TypingEntry {
	c.mu.Lock()
	defer c.unlock()
	return c.typing.Active(c.clock.Now())
}

// MessageReadStatus returns the read state of an inbound or outbound message.
func (c *Client) MessageReadStatus(id int64) registry.ReadStatus {
	c.mu.Lock()
	defer c.unlock()
	return c.receipts.Status(id)
}

// UnreadMessages returns the inbound message ids not yet read.
func (c *Client) UnreadMessages() []int64 {
	c.mu.Lock()
	defer c.unlock()
	return slices.Clone(c.receipts.Unread())
}
