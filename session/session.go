// Package session holds the per-connection state a ConnectionWorker owns
// for the lifetime of one accepted TCP connection.
package session

import (
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/myelnet/hopnode/stream"
)

// Context is the per-connection SessionContext state: the insecure stream,
// the currently-selected stream (after an optional secure upgrade),
// references to the datastore, and the remote peer identifier once the
// multistream/identify handshake resolves it.
//
// A Context is owned by exactly one ConnectionWorker; other components may
// only read snapshots of RemotePeer/LastCommEpoch.
type Context struct {
	// InsecureStream is the raw stream as accepted, before any upgrade.
	InsecureStream *stream.Stream

	mu             sync.RWMutex
	defaultStream  *stream.Stream
	remotePeer     peer.ID
	remotePeerSet  bool

	Datastore datastore.Batching
}

// New creates a Context around insecure, with DefaultStream initially equal
// to it (no secure upgrade has happened yet).
func New(insecure *stream.Stream, ds datastore.Batching) *Context {
	return &Context{
		InsecureStream: insecure,
		defaultStream:  insecure,
		Datastore:      ds,
	}
}

// DefaultStream returns the stream subsequent reads/writes should use. It is
// never nil once a Context has been constructed.
func (c *Context) DefaultStream() *stream.Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultStream
}

// UpgradeStream replaces DefaultStream, e.g. after a secure-channel upgrade
// negotiated on top of InsecureStream. Implementing the actual upgrade
// cryptography is out of scope; this is the hook a later secio/noise layer
// would call.
func (c *Context) UpgradeStream(s *stream.Stream) {
	c.mu.Lock()
	c.defaultStream = s
	c.mu.Unlock()
}

// RemotePeer returns the negotiated remote peer ID and whether it has been
// set yet (it is unknown until the identify/handshake exchange completes).
func (c *Context) RemotePeer() (peer.ID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remotePeer, c.remotePeerSet
}

// SetRemotePeer records the peer identity learned during negotiation.
func (c *Context) SetRemotePeer(id peer.ID) {
	c.mu.Lock()
	c.remotePeer = id
	c.remotePeerSet = true
	c.mu.Unlock()
}

// LastCommEpoch proxies DefaultStream's timestamp, the snapshot the
// maintenance loop is allowed to read.
func (c *Context) LastCommEpoch() int64 {
	return c.DefaultStream().LastCommEpoch()
}

// Close tears down the underlying streams. Safe to call once per the
// ConnectionWorker's single exit path.
func (c *Context) Close() error {
	def := c.DefaultStream()
	if def != nil && def != c.InsecureStream {
		_ = def.Close()
	}
	if c.InsecureStream != nil {
		return c.InsecureStream.Close()
	}
	return nil
}
