// Package recovery tracks the last position seen on the link and builds the
// recovery handshake sent after a reconnect.
package recovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/matheus3301/rtlink/internal/frame"
	"go.uber.org/zap"
)

// Snapshot is the state retained between a disconnect and the next
// successful recovery handshake.
type Snapshot struct {
	LastMessageID      int64   `json:"lastMessageId"`
	LastEventTimestamp int64   `json:"lastEventTimestamp"`
	MissedEvents       []int64 `json:"missedEvents"`
	InProgress         bool    `json:"inProgress"`
}

// Store persists snapshots across process restarts.
type Store interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, s Snapshot) error
	ClearSnapshot(ctx context.Context) error
}

// Coordinator owns the recovery position and snapshot. It is not safe for
// concurrent use; the link client calls it under its own lock.
type Coordinator struct {
	store  Store
	logger *zap.Logger

	lastMessageID      int64
	lastEventTimestamp int64
	snapshot           *Snapshot
}

// New creates a coordinator. store may be nil, in which case snapshots live
// only in memory.
func New(store Store, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, logger: logger}
}

// Load restores a persisted snapshot, if any.
func (c *Coordinator) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	s, err := c.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load recovery snapshot: %w", err)
	}
	if s == nil {
		return nil
	}
	s.InProgress = false
	c.snapshot = s
	c.lastMessageID = s.LastMessageID
	c.lastEventTimestamp = s.LastEventTimestamp
	return nil
}

// Observe records the position of an inbound frame. Zero values leave the
// corresponding field untouched; non-zero values overwrite it.
func (c *Coordinator) Observe(id, ts int64) {
	if id > 0 {
		c.lastMessageID = id
	}
	if ts > 0 {
		c.lastEventTimestamp = ts
	}
}

// Position returns the last observed message id and event timestamp.
func (c *Coordinator) Position() (int64, int64) {
	return c.lastMessageID, c.lastEventTimestamp
}

// Suspend takes a snapshot at disconnect. pending ids join the missed set of
// any snapshot still waiting for its handshake.
func (c *Coordinator) Suspend(ctx context.Context, pending []int64) {
	missed := make(map[int64]struct{}, len(pending))
	if c.snapshot != nil {
		for _, id := range c.snapshot.MissedEvents {
			missed[id] = struct{}{}
		}
	}
	for _, id := range pending {
		missed[id] = struct{}{}
	}
	ids := make([]int64, 0, len(missed))
	for id := range missed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c.snapshot = &Snapshot{
		LastMessageID:      c.lastMessageID,
		LastEventTimestamp: c.lastEventTimestamp,
		MissedEvents:       ids,
	}
	c.persist(ctx)
}

// Begin returns the recovery frame for the pending snapshot, along with the
// data it carries, and marks the handshake in progress. ok is false when
// there is nothing to recover.
func (c *Coordinator) Begin() (frame.Frame, frame.RecoveryData, bool) {
	if c.snapshot == nil {
		return frame.Frame{}, frame.RecoveryData{}, false
	}
	c.snapshot.InProgress = true
	data := frame.RecoveryData{
		LastMessageID:      c.snapshot.LastMessageID,
		LastEventTimestamp: c.snapshot.LastEventTimestamp,
		MissedEvents:       append([]int64(nil), c.snapshot.MissedEvents...),
	}
	return frame.NewRecovery(data), data, true
}

// Complete discards the snapshot after a successful handshake.
func (c *Coordinator) Complete(ctx context.Context) {
	c.snapshot = nil
	if c.store == nil {
		return
	}
	if err := c.store.ClearSnapshot(ctx); err != nil {
		c.logger.Warn("failed to clear recovery snapshot", zap.Error(err))
	}
}

// Abort ends a failed handshake. The snapshot is kept for the next open.
func (c *Coordinator) Abort() {
	if c.snapshot != nil {
		c.snapshot.InProgress = false
	}
}

// Snapshot returns a copy of the pending snapshot.
func (c *Coordinator) Snapshot() (Snapshot, bool) {
	if c.snapshot == nil {
		return Snapshot{}, false
	}
	s := *c.snapshot
	s.MissedEvents = append([]int64(nil), c.snapshot.MissedEvents...)
	return s, true
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveSnapshot(ctx, *c.snapshot); err != nil {
		c.logger.Warn("failed to persist recovery snapshot", zap.Error(err))
	}
}
