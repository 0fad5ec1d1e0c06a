// Package peerstore implements the node's in-memory catalog of known peers,
// their addresses, and connection state. Addresses are go-multiaddr values
// kept in a per-peer list; libp2p's own address book is not used here.
package peerstore

import (
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/libp2p/go-libp2p-core/peer"
)

// ConnectionType is the lifecycle state of a peer's connection.
type ConnectionType int

const (
	NotConnected ConnectionType = iota
	Connecting
	Connected
	CannotConnect
)

func (t ConnectionType) String() string {
	switch t {
	case NotConnected:
		return "not-connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case CannotConnect:
		return "cannot-connect"
	default:
		return "unknown"
	}
}

// Session is the subset of session.Context the peerstore is allowed to hold
// a weak, lookup-only reference to. Peer never owns a Session: ownership
// stays with the ConnectionWorker, avoiding a Peer<->SessionContext
// ownership cycle.
type Session interface {
	LastCommEpoch() int64
}

// Peer is one entry in the Peerstore.
type Peer struct {
	mu sync.RWMutex

	id             peer.ID
	addrs          []ma.Multiaddr
	connType       ConnectionType
	session        Session
	isLocal        bool
	lastConnectEpoch int64
}

// NewPeer constructs a Peer in the NotConnected state.
func NewPeer(id peer.ID, addrs []ma.Multiaddr) *Peer {
	return &Peer{id: id, addrs: addrs, connType: NotConnected}
}

// ID returns the peer's immutable identifier.
func (p *Peer) ID() peer.ID { return p.id }

// Addrs returns a copy of the peer's known multiaddresses.
func (p *Peer) Addrs() []ma.Multiaddr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ma.Multiaddr, len(p.addrs))
	copy(out, p.addrs)
	return out
}

// AddAddrs appends newly learned multiaddresses.
func (p *Peer) AddAddrs(addrs ...ma.Multiaddr) {
	p.mu.Lock()
	p.addrs = append(p.addrs, addrs...)
	p.mu.Unlock()
}

// ConnectionType returns the peer's current connection state.
func (p *Peer) ConnectionType() ConnectionType {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connType
}

// SetConnectionType transitions the peer's connection state.
func (p *Peer) SetConnectionType(t ConnectionType) {
	p.mu.Lock()
	p.connType = t
	p.mu.Unlock()
}

// IsLocal reports whether this Peer entry represents the local node itself.
func (p *Peer) IsLocal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isLocal
}

// SetLocal marks this Peer entry as the local node.
func (p *Peer) SetLocal(local bool) {
	p.mu.Lock()
	p.isLocal = local
	p.mu.Unlock()
}

// Session returns the session last recorded with SetSession, or nil if none
// has been recorded. It is not cleared when the connection type changes.
func (p *Peer) Session() Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// SetSession records (or clears, with nil) the peer's active session. This
// is a weak back-reference only: the peerstore never closes it.
func (p *Peer) SetSession(s Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
}

// LastConnectEpoch returns the unix-seconds timestamp of the last successful
// connect attempt to this peer.
func (p *Peer) LastConnectEpoch() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastConnectEpoch
}

// TouchConnect records now() as the last successful connect time.
func (p *Peer) TouchConnect() {
	p.mu.Lock()
	p.lastConnectEpoch = time.Now().Unix()
	p.mu.Unlock()
}

// ReplicationRole distinguishes the direction of a replication relationship.
type ReplicationRole int

const (
	// RoleMirror receives our journal announcements and keeps a copy.
	RoleMirror ReplicationRole = iota
	// RoleUpstream is a peer whose journal we mirror.
	RoleUpstream
)

// ReplicationPeer is a Peer configured as a replication partner.
type ReplicationPeer struct {
	Peer *Peer
	Role ReplicationRole

	mu               sync.Mutex
	lastConnectEpoch int64
}

// LastConnectEpoch returns the last time a replication announcement to this
// peer succeeded.
func (rp *ReplicationPeer) LastConnectEpoch() int64 {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.lastConnectEpoch
}

// TouchConnect records now() as the last successful announcement time.
func (rp *ReplicationPeer) TouchConnect() {
	rp.mu.Lock()
	rp.lastConnectEpoch = time.Now().Unix()
	rp.mu.Unlock()
}
