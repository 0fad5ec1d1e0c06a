package peerstore

import (
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p-core/peer"
)

// Peerstore is the node's ordered collection of known peers, indexed by
// PeerId. Readers may proceed concurrently; mutators take the exclusive
// lock. A generation counter is bumped on every insert/remove so that
// outstanding Cursors can detect they've been invalidated.
type Peerstore struct {
	mu         sync.RWMutex
	order      []peer.ID
	byID       map[peer.ID]*Peer
	replByID   map[peer.ID]*ReplicationPeer
	generation uint64
}

// New returns an empty Peerstore.
func New() *Peerstore {
	return &Peerstore{
		byID:     make(map[peer.ID]*Peer),
		replByID: make(map[peer.ID]*ReplicationPeer),
	}
}

// Put inserts p, or replaces the existing entry with the same ID.
func (ps *Peerstore) Put(p *Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, exists := ps.byID[p.ID()]; !exists {
		ps.order = append(ps.order, p.ID())
	}
	ps.byID[p.ID()] = p
	atomic.AddUint64(&ps.generation, 1)
}

// Get looks up a peer by ID.
func (ps *Peerstore) Get(id peer.ID) (*Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.byID[id]
	return p, ok
}

// Remove evicts a peer from the store.
func (ps *Peerstore) Remove(id peer.ID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, exists := ps.byID[id]; !exists {
		return
	}
	delete(ps.byID, id)
	delete(ps.replByID, id)
	for i, pid := range ps.order {
		if pid == id {
			ps.order = append(ps.order[:i], ps.order[i+1:]...)
			break
		}
	}
	atomic.AddUint64(&ps.generation, 1)
}

// Len returns the number of peers currently tracked.
func (ps *Peerstore) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.order)
}

// SetReplicationPeer registers (or clears, with nil) a replication
// relationship for id.
func (ps *Peerstore) SetReplicationPeer(id peer.ID, rp *ReplicationPeer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if rp == nil {
		delete(ps.replByID, id)
		return
	}
	ps.replByID[id] = rp
}

// ReplicationPeer returns the replication relationship for id, if any.
func (ps *Peerstore) ReplicationPeer(id peer.ID) (*ReplicationPeer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	rp, ok := ps.replByID[id]
	return rp, ok
}

// Cursor is a round-robin iterator over the Peerstore used by the
// maintenance loop. It tolerates concurrent mutation by revalidating its
// position against the store's generation counter on every Next call,
// restarting at head when stale instead of dereferencing a removed entry
// (see DESIGN.md's resolution of the open cursor-invalidation question).
type Cursor struct {
	ps         *Peerstore
	generation uint64
	index      int
}

// NewCursor returns a Cursor positioned before the first peer.
func (ps *Peerstore) NewCursor() *Cursor {
	return &Cursor{ps: ps, generation: atomic.LoadUint64(&ps.generation) - 1, index: 0}
}

// Next advances the cursor by one peer and returns it, or (nil, false) if
// the store is empty. The cursor wraps at the end of the peerstore.
func (c *Cursor) Next() (*Peer, bool) {
	c.ps.mu.RLock()
	defer c.ps.mu.RUnlock()

	if len(c.ps.order) == 0 {
		return nil, false
	}

	gen := atomic.LoadUint64(&c.ps.generation)
	if gen != c.generation {
		// The store changed since our last step: restart at head rather
		// than trust an index that may now point past the end or at an
		// unrelated peer.
		c.generation = gen
		c.index = 0
	}

	if c.index >= len(c.ps.order) {
		c.index = 0
	}

	id := c.ps.order[c.index]
	c.index++
	if c.index >= len(c.ps.order) {
		c.index = 0
	}

	p, ok := c.ps.byID[id]
	return p, ok
}
