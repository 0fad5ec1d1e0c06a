// Package journal implements the sync side of replication announcement:
// telling a replication partner that our journal has moved forward so it
// can pull whatever it is missing.
//
// The shape follows the familiar open-stream/write-one-message/close
// pattern libp2p request protocols use, generalized from a richer
// voucher-style payload down to a single framed sync message over this
// module's own Stream codec.
package journal

import (
	"context"
	"fmt"
	"time"

	msgio "github.com/libp2p/go-msgio"

	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
)

// ProtocolID is the protocol identifier a journal-sync stream negotiates.
const ProtocolID = protocol.ID("/hopnode/journal/sync/1.0")

// Client announces journal progress to a peer.
type Client interface {
	Sync(ctx context.Context, p peer.ID) error
}

// NoopClient never syncs; it is the default when journal replication is
// disabled (replication.enabled=false).
type NoopClient struct{}

// Sync implements Client.
func (NoopClient) Sync(ctx context.Context, p peer.ID) error { return nil }

// HostClient opens a libp2p stream to the peer and writes the current
// journal offset.
type HostClient struct {
	h       host.Host
	offset  func() uint64
	timeout time.Duration
}

// NewHostClient returns a Client reporting offset() as the journal's
// current sequence number on every Sync call.
func NewHostClient(h host.Host, offset func() uint64) *HostClient {
	return &HostClient{h: h, offset: offset, timeout: 5 * time.Second}
}

// Sync opens a stream to p, writes a single frame carrying our journal
// offset, and closes. The remote handler decides what, if anything, to pull
// in response; this call only announces.
func (c *HostClient) Sync(ctx context.Context, p peer.ID) error {
	s, err := c.h.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return fmt.Errorf("journal sync: opening stream: %w", err)
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetWriteDeadline(deadline)
	}

	mw := msgio.NewVarintWriter(s)
	body := []byte(fmt.Sprintf("sync %d", c.offset()))
	if err := mw.WriteMsg(body); err != nil {
		return fmt.Errorf("journal sync: writing: %w", err)
	}
	return nil
}
