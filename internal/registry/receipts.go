package registry

import "sort"

// ReadStatus describes the read state of one message.
type ReadStatus struct {
	IsRead   bool     `json:"isRead"`
	ReadBy   []string `json:"readBy"`
	IsUnread bool     `json:"isUnread"`
}

// Receipts is the read-receipt ledger: who read which message, which
// inbound messages are still unread locally, and which ids this client has
// already reported as read.
type Receipts struct {
	readBy map[int64]map[string]struct{}
	unread map[int64]struct{}
	marked map[int64]struct{}
}

// NewReceipts creates an empty ledger.
func NewReceipts() *Receipts {
	return &Receipts{
		readBy: make(map[int64]map[string]struct{}),
		unread: make(map[int64]struct{}),
		marked: make(map[int64]struct{}),
	}
}

// AddUnread records an inbound message as unread.
func (r *Receipts) AddUnread(id int64) {
	if _, ok := r.marked[id]; ok {
		return
	}
	r.unread[id] = struct{}{}
}

// Unmarked returns, in input order and without duplicates, the ids this
// client has not reported as read. The ledger is not changed.
func (r *Receipts) Unmarked(ids []int64) []int64 {
	var fresh []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := r.marked[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh
}

// MarkLocal records ids as read by this client and returns the ids not
// marked before, as Unmarked does.
func (r *Receipts) MarkLocal(ids []int64) []int64 {
	fresh := r.Unmarked(ids)
	for _, id := range fresh {
		r.marked[id] = struct{}{}
		delete(r.unread, id)
	}
	return fresh
}

// ApplyPeer records that peerID read ids. Each id leaves the unread set
// whoever read it.
func (r *Receipts) ApplyPeer(peerID string, ids []int64) {
	for _, id := range ids {
		set, ok := r.readBy[id]
		if !ok {
			set = make(map[string]struct{})
			r.readBy[id] = set
		}
		if peerID != "" {
			set[peerID] = struct{}{}
		}
		delete(r.unread, id)
	}
}

// Status returns the read status of message id.
func (r *Receipts) Status(id int64) ReadStatus {
	set := r.readBy[id]
	readBy := make([]string, 0, len(set))
	for p := range set {
		readBy = append(readBy, p)
	}
	sort.Strings(readBy)
	_, unread := r.unread[id]
	return ReadStatus{
		IsRead:   len(readBy) > 0,
		ReadBy:   readBy,
		IsUnread: unread,
	}
}

// Unread returns the unread inbound message ids in ascending order.
func (r *Receipts) Unread() []int64 {
	out := make([]int64, 0, len(r.unread))
	for id := range r.unread {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear empties the ledger.
func (r *Receipts) Clear() {
	clear(r.readBy)
	clear(r.unread)
	clear(r.marked)
}
