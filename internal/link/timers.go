package link

import (
	"time"

	"github.com/matheus3301/rtlink/internal/clock"
)

type slotState int

const (
	slotIdle slotState = iota
	slotScheduled
	slotFiring
)

func (s slotState) String() string {
	switch s {
	case slotScheduled:
		return "scheduled"
	case slotFiring:
		return "firing"
	default:
		return "idle"
	}
}

// timerSlot holds at most one scheduled callback. gen is bumped on every
// arm and cancel, so a callback that raced with a cancel sees a stale
// generation and does nothing.
type timerSlot struct {
	state slotState
	timer clock.Timer
	gen   uint64
}

// arm schedules fn to run under c.mu after d, replacing whatever the slot
// held. Caller must hold c.mu.
func (c *Client) arm(s *timerSlot, d time.Duration, fn func()) {
	c.cancel(s)
	gen := s.gen
	s.state = slotScheduled
	s.timer = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.unlock()
		if s.gen != gen || s.state != slotScheduled {
			return
		}
		s.state = slotFiring
		s.timer = nil
		fn()
		if s.gen == gen && s.state == slotFiring {
			s.state = slotIdle
		}
	})
}

// cancel stops the slot's timer. Caller must hold c.mu.
func (c *Client) cancel(s *timerSlot) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = slotIdle
}

func (c *Client) cancelAll() {
	c.cancel(&c.flush)
	c.cancel(&c.heartbeat)
	c.cancel(&c.typingStop)
	c.cancel(&c.reconnect)
}

// later queues fn to run after c.mu is released by unlock. Socket closes
// and dials go through here so no blocking I/O other than frame writes
// happens under the lock.
func (c *Client) later(fn func()) {
	c.deferred = append(c.deferred, fn)
}

// unlock releases c.mu and runs the work queued with later, in order.
func (c *Client) unlock() {
	work := c.deferred
	c.deferred = nil
	c.mu.Unlock()
	for _, fn := range work {
		fn()
	}
}
