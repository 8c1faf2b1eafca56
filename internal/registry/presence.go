// Package registry holds the per-peer and per-message state the link derives
// from inbound frames. The stores are not safe for concurrent use; the link
// client owns them under its own lock.
package registry

import "sort"

// PresenceEntry is the last known presence of one peer.
type PresenceEntry struct {
	PeerID   string `json:"peerId"`
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen"`
}

// Presence tracks online peers. Offline peers are removed, not flagged, so
// the stored set is exactly the active set.
type Presence struct {
	peers map[string]PresenceEntry
}

// NewPresence creates an empty presence registry.
func NewPresence() *Presence {
	return &Presence{peers: make(map[string]PresenceEntry)}
}

// Upsert records peer as online.
func (p *Presence) Upsert(e PresenceEntry) {
	p.peers[e.PeerID] = e
}

// Remove forgets peer. It reports whether the peer was present.
func (p *Presence) Remove(peerID string) bool {
	if _, ok := p.peers[peerID]; !ok {
		return false
	}
	delete(p.peers, peerID)
	return true
}

// Active returns every online peer ordered by peer id.
func (p *Presence) Active() []PresenceEntry {
	out := make([]PresenceEntry, 0, len(p.peers))
	for _, e := range p.peers {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (p *Presence) Len() int { return len(p.peers) }

// Clear removes every entry.
func (p *Presence) Clear() {
	clear(p.peers)
}
