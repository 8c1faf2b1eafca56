package recovery

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/matheus3301/rtlink/internal/frame"
)

type memStore struct {
	snap    *Snapshot
	saves   int
	clears  int
	saveErr error
}

func (m *memStore) LoadSnapshot(context.Context) (*Snapshot, error) {
	if m.snap == nil {
		return nil, nil
	}
	s := *m.snap
	return &s, nil
}

func (m *memStore) SaveSnapshot(_ context.Context, s Snapshot) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = &s
	return nil
}

func (m *memStore) ClearSnapshot(context.Context) error {
	m.clears++
	m.snap = nil
	return nil
}

func TestBeginWithoutSnapshot(t *testing.T) {
	c := New(nil, nil)
	if _, _, ok := c.Begin(); ok {
		t.Error("Begin() ok = true without a snapshot")
	}
}

func TestSuspendBeginComplete(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	c := New(st, nil)

	c.Observe(41, 1000)
	c.Observe(42, 0)
	c.Suspend(ctx, []int64{9, 7, 8})

	f, data, ok := c.Begin()
	if !ok {
		t.Fatal("Begin() ok = false after Suspend")
	}
	if f.Type != frame.TypeRecovery {
		t.Errorf("type = %q, want recovery", f.Type)
	}
	var d frame.RecoveryData
	if err := f.DecodeData(&d); err != nil {
		t.Fatal(err)
	}
	if d.LastMessageID != 42 || d.LastEventTimestamp != 1000 {
		t.Errorf("position = %d/%d, want 42/1000", d.LastMessageID, d.LastEventTimestamp)
	}
	if data.LastMessageID != d.LastMessageID || data.LastEventTimestamp != d.LastEventTimestamp || !slices.Equal(data.MissedEvents, d.MissedEvents) {
		t.Errorf("returned data = %+v, frame carries %+v", data, d)
	}
	want := []int64{7, 8, 9}
	if len(d.MissedEvents) != len(want) {
		t.Fatalf("missed = %v, want %v", d.MissedEvents, want)
	}
	for i := range want {
		if d.MissedEvents[i] != want[i] {
			t.Errorf("missed = %v, want %v", d.MissedEvents, want)
		}
	}

	snap, _ := c.Snapshot()
	if !snap.InProgress {
		t.Error("InProgress = false during handshake")
	}
	if st.saves != 1 {
		t.Errorf("saves = %d, want 1", st.saves)
	}

	c.Complete(ctx)
	if _, ok := c.Snapshot(); ok {
		t.Error("snapshot retained after Complete")
	}
	if st.snap != nil || st.clears != 1 {
		t.Errorf("store not cleared: snap=%v clears=%d", st.snap, st.clears)
	}
}

// TestAbortKeepsSnapshot verifies a failed handshake is not retried on the
// same connection but is offered again after the next disconnect, merged
// with whatever went missing in between.
func TestAbortKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	c := New(nil, nil)
	c.Suspend(ctx, []int64{1, 2})
	c.Begin()
	c.Abort()

	snap, ok := c.Snapshot()
	if !ok || snap.InProgress {
		t.Fatalf("snapshot = %+v, ok=%v, want kept and not in progress", snap, ok)
	}

	c.Suspend(ctx, []int64{2, 3})
	snap, _ = c.Snapshot()
	if len(snap.MissedEvents) != 3 {
		t.Errorf("missed = %v, want [1 2 3]", snap.MissedEvents)
	}
}

func TestLoadRestoresPosition(t *testing.T) {
	st := &memStore{snap: &Snapshot{LastMessageID: 5, LastEventTimestamp: 50, MissedEvents: []int64{4}, InProgress: true}}
	c := New(st, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	id, ts := c.Position()
	if id != 5 || ts != 50 {
		t.Errorf("position = %d/%d, want 5/50", id, ts)
	}
	snap, ok := c.Snapshot()
	if !ok || snap.InProgress {
		t.Errorf("snapshot = %+v, want loaded with InProgress=false", snap)
	}
}

func TestPersistFailureKeepsMemorySnapshot(t *testing.T) {
	st := &memStore{saveErr: errors.New("disk full")}
	c := New(st, nil)
	c.Suspend(context.Background(), []int64{1})
	if _, _, ok := c.Begin(); !ok {
		t.Error("Begin() ok = false after failed persist")
	}
}
