package registry

import (
	"sort"
	"time"

	"github.com/matheus3301/rtlink/internal/frame"
)

// PendingEntry is a sent message awaiting a delivery confirmation.
type PendingEntry struct {
	Message frame.Message
	SentAt  time.Time
}

// Pending is the delivery tracker: outbound messages sent but not yet
// confirmed, keyed by message id.
type Pending struct {
	entries map[int64]PendingEntry
}

// NewPending creates an empty tracker.
func NewPending() *Pending {
	return &Pending{entries: make(map[int64]PendingEntry)}
}

// Track records m as sent at sentAt.
func (p *Pending) Track(m frame.Message, sentAt time.Time) {
	p.entries[m.ID] = PendingEntry{Message: m, SentAt: sentAt}
}

// Confirm removes and returns the entry for id.
func (p *Pending) Confirm(id int64) (PendingEntry, bool) {
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	return e, ok
}

// IDs returns the pending ids in ascending order.
func (p *Pending) IDs() []int64 {
	out := make([]int64, 0, len(p.entries))
	for id := range p.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Drain removes every entry and returns the messages in enqueue order.
func (p *Pending) Drain() []frame.Message {
	out := make([]frame.Message, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Message)
	}
	clear(p.entries)
	frame.SortBySeq(out)
	return out
}

func (p *Pending) Len() int { return len(p.entries) }
