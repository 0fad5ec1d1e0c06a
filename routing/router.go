// Package routing provides the liveness check the MaintenanceTicker uses to
// decide whether an idle, previously-connected peer is still reachable.
//
// Built on the standard libp2p ping protocol rather than a request/response
// voucher exchange, since all this layer needs is a yes/no liveness signal.
package routing

import (
	"context"

	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	libp2pping "github.com/libp2p/go-libp2p/p2p/protocol/ping"
)

// Router is the maintenance loop's liveness-check collaborator: a thin
// wrapper around whatever transport the node uses to reach a peer it
// already has an open connection type for.
type Router interface {
	Ping(ctx context.Context, p peer.ID) error
}

// HostRouter pings over an existing libp2p host connection.
type HostRouter struct {
	h host.Host
}

// NewHostRouter returns a Router backed by h.
func NewHostRouter(h host.Host) *HostRouter {
	return &HostRouter{h: h}
}

// Ping opens (or reuses) a stream to p and waits for one round trip.
func (r *HostRouter) Ping(ctx context.Context, p peer.ID) error {
	res := libp2pping.Ping(ctx, r.h, p)
	select {
	case out := <-res:
		return out.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StubRouter is an in-memory Router for tests: it reports liveness for
// every peer in Alive and an error for everyone else.
type StubRouter struct {
	Alive map[peer.ID]bool
}

// NewStubRouter returns an empty StubRouter.
func NewStubRouter() *StubRouter {
	return &StubRouter{Alive: make(map[peer.ID]bool)}
}

// Ping implements Router.
func (s *StubRouter) Ping(ctx context.Context, p peer.ID) error {
	if s.Alive[p] {
		return nil
	}
	return errUnreachable
}

var errUnreachable = routerError("peer unreachable")

type routerError string

func (e routerError) Error() string { return string(e) }
