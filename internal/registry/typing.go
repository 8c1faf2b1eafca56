package registry

import (
	"sort"
	"time"
)

// TypingEntry is a peer currently composing.
type TypingEntry struct {
	PeerID    string    `json:"peerId"`
	StartedAt time.Time `json:"startedAt"`
}

// Typing tracks peers that announced typing. Entries older than the TTL are
// excluded at query time, so a peer that never sends a stop still ages out.
type Typing struct {
	ttl   time.Duration
	peers map[string]time.Time
}

// NewTyping creates a typing registry with the given TTL.
func NewTyping(ttl time.Duration) *Typing {
	return &Typing{ttl: ttl, peers: make(map[string]time.Time)}
}

// Upsert marks peerID as typing since at.
func (t *Typing) Upsert(peerID string, at time.Time) {
	t.peers[peerID] = at
}

// Remove forgets peerID.
func (t *Typing) Remove(peerID string) {
	delete(t.peers, peerID)
}

// Active returns peers whose typing started within the TTL of now, ordered
// by peer id. Expired entries are pruned.
func (t *Typing) Active(now time.Time) []TypingEntry {
	out := make([]TypingEntry, 0, len(t.peers))
	for id, at := range t.peers {
		if now.Sub(at) > t.ttl {
			delete(t.peers, id)
			continue
		}
		out = append(out, TypingEntry{PeerID: id, StartedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Clear removes every entry.
func (t *Typing) Clear() {
	clear(t.peers)
}
