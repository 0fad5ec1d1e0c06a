// Package decision tracks, per peer, which CIDs we currently owe them a
// block for: at most one Entry per peer, holding its current in-flight set
// of CIDs, deliberately simpler than a priority-ordered task queue with
// partner round-robin since nothing here schedules delivery order.
package decision

import (
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p-core/peer"
)

// Entry is the in-flight want-set for one peer.
type Entry struct {
	Peer peer.ID

	mu   sync.Mutex
	cids map[cid.Cid]struct{}
}

// Add inserts c into the entry's in-flight set.
func (e *Entry) Add(c cid.Cid) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cids[c] = struct{}{}
}

// Remove drops c from the in-flight set, used for cancellations.
func (e *Entry) Remove(c cid.Cid) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cids, c)
}

// Has reports whether c is currently in-flight for this peer.
func (e *Entry) Has(c cid.Cid) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cids[c]
	return ok
}

// CIDs returns a snapshot of the in-flight set.
func (e *Entry) CIDs() []cid.Cid {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]cid.Cid, 0, len(e.cids))
	for c := range e.cids {
		out = append(out, c)
	}
	return out
}

// Queue is the PeerRequestQueue: at most one Entry per peer.
type Queue struct {
	mu      sync.Mutex
	entries map[peer.ID]*Entry
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{entries: make(map[peer.ID]*Entry)}
}

// EntryFor returns the Entry for p, creating it if this is the first time
// p has appeared in a wantlist.
func (q *Queue) EntryFor(p peer.ID) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[p]
	if !ok {
		e = &Entry{Peer: p, cids: make(map[cid.Cid]struct{})}
		q.entries[p] = e
	}
	return e
}
