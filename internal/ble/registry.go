package ble

// Peer is a discovered peripheral. ID is stable for the process lifetime;
// Name is empty when the peer never advertised one.
type Peer struct {
	ID   string
	Name string
	RSSI int
}

// PeerRegistry is the deduplicated, first-seen ordered set of peers found by
// the current scan. It is not safe for concurrent use; the Central's loop
// owns it.
type PeerRegistry struct {
	order []string
	peers map[string]Peer
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string]Peer)}
}

// Reset drops every entry.
func (r *PeerRegistry) Reset() {
	r.order = r.order[:0]
	clear(r.peers)
}

// Upsert inserts p or updates the existing entry in place. A sighting
// without a name keeps the previously advertised one. It returns the stored
// entry and whether it was new.
func (r *PeerRegistry) Upsert(p Peer) (Peer, bool) {
	prev, ok := r.peers[p.ID]
	if !ok {
		r.order = append(r.order, p.ID)
	} else if p.Name == "" {
		p.Name = prev.Name
	}
	r.peers[p.ID] = p
	return p, !ok
}

// Lookup returns the entry for id.
func (r *PeerRegistry) Lookup(id string) (Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// List returns a snapshot in first-seen order. Later discoveries do not
// affect a returned slice.
func (r *PeerRegistry) List() []Peer {
	out := make([]Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id])
	}
	return out
}

// Len returns the number of entries.
func (r *PeerRegistry) Len() int { return len(r.order) }
