package link

import (
	"github.com/matheus3301/rtlink/internal/frame"
	"go.uber.org/zap"
)

func (c *Client) startHeartbeat() {
	c.missed = 0
	c.arm(&c.heartbeat, c.opts.HeartbeatInterval, c.heartbeatTick)
}

// heartbeatTick sends one ping per interval. A pong resets the missed
// count; once MaxMissedHeartbeats pings went unanswered the socket is
// treated as dead.
func (c *Client) heartbeatTick() {
	if c.conn == nil {
		return
	}
	if c.missed >= c.opts.MaxMissedHeartbeats {
		c.report(&Error{Kind: KindHeartbeat, Op: "heartbeat", Err: ErrHeartbeatTimeout})
		c.connectionLost("heartbeat timeout")
		return
	}
	if err := c.writeFrame(frame.NewPing(c.nowMillis()), 1); err != nil {
		c.sendFailed(err)
		return
	}
	c.missed++
	c.logger.Debug("ping sent", zap.Int("missed", c.missed))
	c.arm(&c.heartbeat, c.opts.HeartbeatInterval, c.heartbeatTick)
}

func (c *Client) handlePong() {
	c.missed = 0
}

func (c *Client) handlePing() {
	if err := c.writeFrame(frame.NewPong(c.nowMillis()), 1); err != nil {
		c.sendFailed(err)
	}
}
