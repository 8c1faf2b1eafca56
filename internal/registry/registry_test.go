package registry

import (
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/rtlink/internal/frame"
)

func TestPresenceOfflineRemovesEntry(t *testing.T) {
	p := NewPresence()
	p.Upsert(PresenceEntry{PeerID: "u2", Status: "online", LastSeen: 2})
	p.Upsert(PresenceEntry{PeerID: "u1", Status: "online", LastSeen: 1})

	if !p.Remove("u2") {
		t.Error("Remove(u2) = false, want true")
	}
	if p.Remove("u2") {
		t.Error("second Remove(u2) = true, want false")
	}

	active := p.Active()
	if len(active) != 1 || active[0].PeerID != "u1" {
		t.Errorf("active = %+v, want [u1]", active)
	}
	if p.Len() != 1 {
		t.Errorf("len = %d, want 1; offline peer must not be retained", p.Len())
	}

	p.Clear()
	if p.Len() != 0 {
		t.Errorf("len after Clear = %d, want 0", p.Len())
	}
}

func TestPresenceActiveSorted(t *testing.T) {
	p := NewPresence()
	for _, id := range []string{"c", "a", "b"} {
		p.Upsert(PresenceEntry{PeerID: id, Status: "online"})
	}
	active := p.Active()
	if active[0].PeerID != "a" || active[1].PeerID != "b" || active[2].PeerID != "c" {
		t.Errorf("active order = %+v, want a,b,c", active)
	}
}

func TestTypingTTL(t *testing.T) {
	start := time.Unix(1000, 0)
	ty := NewTyping(5 * time.Second)
	ty.Upsert("u1", start)

	if got := ty.Active(start.Add(5 * time.Second)); len(got) != 1 {
		t.Errorf("active at +5s = %v, want [u1]", got)
	}
	if got := ty.Active(start.Add(5001 * time.Millisecond)); len(got) != 0 {
		t.Errorf("active at +5001ms = %v, want empty", got)
	}
	// A later refresh of the pruned peer starts a fresh entry.
	ty.Upsert("u1", start.Add(6*time.Second))
	if got := ty.Active(start.Add(6 * time.Second)); len(got) != 1 || !got[0].StartedAt.Equal(start.Add(6*time.Second)) {
		t.Errorf("active after refresh = %v", got)
	}
}

func TestTypingRestartRefreshes(t *testing.T) {
	start := time.Unix(1000, 0)
	ty := NewTyping(5 * time.Second)
	ty.Upsert("u1", start)
	ty.Upsert("u1", start.Add(4*time.Second))

	if got := ty.Active(start.Add(8 * time.Second)); len(got) != 1 {
		t.Error("refreshed peer should still be typing at +8s")
	}
	ty.Remove("u1")
	if got := ty.Active(start.Add(8 * time.Second)); len(got) != 0 {
		t.Errorf("removed peer still typing: %v", got)
	}
}

func TestTypingClear(t *testing.T) {
	start := time.Unix(1000, 0)
	ty := NewTyping(5 * time.Second)
	ty.Upsert("u1", start)
	ty.Upsert("u2", start)

	ty.Clear()
	if got := ty.Active(start); len(got) != 0 {
		t.Errorf("active after Clear = %v, want empty", got)
	}
}

func TestReceiptsPeerRead(t *testing.T) {
	r := NewReceipts()
	r.AddUnread(123)

	st := r.Status(123)
	if st.IsRead || !st.IsUnread {
		t.Errorf("status before read = %+v, want unread", st)
	}

	r.ApplyPeer("u1", []int64{123})
	st = r.Status(123)
	if !st.IsRead || st.IsUnread {
		t.Errorf("status after read = %+v, want read", st)
	}
	if len(st.ReadBy) != 1 || st.ReadBy[0] != "u1" {
		t.Errorf("readBy = %v, want [u1]", st.ReadBy)
	}
}

func TestReceiptsMarkLocalIdempotent(t *testing.T) {
	r := NewReceipts()
	r.AddUnread(1)
	r.AddUnread(2)

	fresh := r.MarkLocal([]int64{1, 1, 2})
	if len(fresh) != 2 || fresh[0] != 1 || fresh[1] != 2 {
		t.Errorf("first MarkLocal = %v, want [1 2]", fresh)
	}
	if fresh := r.MarkLocal([]int64{1, 2}); len(fresh) != 0 {
		t.Errorf("second MarkLocal = %v, want empty", fresh)
	}
	if u := r.Unread(); len(u) != 0 {
		t.Errorf("unread = %v, want empty", u)
	}

	// A redelivered message already marked read stays read.
	r.AddUnread(1)
	if r.Status(1).IsUnread {
		t.Error("locally read message became unread again")
	}
}

func TestReceiptsUnmarkedDoesNotCommit(t *testing.T) {
	r := NewReceipts()
	r.AddUnread(1)
	r.MarkLocal([]int64{2})

	got := r.Unmarked([]int64{3, 1, 2, 3})
	if !slices.Equal(got, []int64{3, 1}) {
		t.Errorf("Unmarked = %v, want [3 1]", got)
	}
	if !r.Status(1).IsUnread {
		t.Error("Unmarked removed 1 from unread")
	}
	if fresh := r.MarkLocal([]int64{3, 1}); !slices.Equal(fresh, []int64{3, 1}) {
		t.Errorf("MarkLocal after Unmarked = %v, want [3 1]", fresh)
	}
}

func TestReceiptsClear(t *testing.T) {
	r := NewReceipts()
	r.AddUnread(1)
	r.ApplyPeer("u1", []int64{2})
	r.MarkLocal([]int64{3})
	r.Clear()

	if r.Status(2).IsRead || len(r.Unread()) != 0 {
		t.Error("ledger not empty after Clear")
	}
	if fresh := r.MarkLocal([]int64{3}); len(fresh) != 1 {
		t.Errorf("MarkLocal after Clear = %v, want [3]", fresh)
	}
}

func TestPendingDrainKeepsEnqueueOrder(t *testing.T) {
	p := NewPending()
	now := time.Unix(0, 0)
	p.Track(frame.Message{ID: 3, Seq: 30}, now)
	p.Track(frame.Message{ID: 1, Seq: 10}, now)
	p.Track(frame.Message{ID: 2, Seq: 20}, now)

	if _, ok := p.Confirm(2); !ok {
		t.Error("Confirm(2) = false, want true")
	}
	if _, ok := p.Confirm(2); ok {
		t.Error("second Confirm(2) = true, want false")
	}

	ids := p.IDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("ids = %v, want [1 3]", ids)
	}

	msgs := p.Drain()
	if len(msgs) != 2 || msgs[0].ID != 1 || msgs[1].ID != 3 {
		t.Errorf("drained = %+v, want ids 1,3", msgs)
	}
	if p.Len() != 0 {
		t.Errorf("len after Drain = %d, want 0", p.Len())
	}
}
