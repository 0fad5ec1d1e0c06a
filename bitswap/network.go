// Package bitswap implements the BitswapNetwork: the protocol header
// framing, outbound send, and inbound dispatch for the block-exchange
// sub-protocol, adapted to this module's own Stream/Session/Router plumbing
// instead of a libp2p network.Stream handler.
package bitswap

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"

	"github.com/myelnet/hopnode/bitswap/decision"
	"github.com/myelnet/hopnode/bitswap/message"
	"github.com/myelnet/hopnode/peerstore"
	"github.com/myelnet/hopnode/router"
	"github.com/myelnet/hopnode/session"
)

// ProtocolHeader is the literal 20-byte ASCII announce line every bitswap
// frame is prefixed with.
const ProtocolHeader = "/ipfs/bitswap/1.1.0\n"

// OutboundConnectRetries is the retry budget send_message uses to bring up
// a connection before giving up, distinct from maintenance's connect budget
// of 2.
const OutboundConnectRetries = 10

// ErrNotSent is returned by SendMessage on any failure path; callers that
// need the underlying cause should not rely on its value, only its
// presence.
var ErrNotSent = errors.New("bitswap: message not sent")

// Exchange is the local content store HandleMessage feeds into: every
// payload block arriving over the wire is handed to HasBlock,
// which both stores it and releases any local waiters for that CID.
type Exchange interface {
	HasBlock(ctx context.Context, b blocks.Block) error
}

// Connector brings a peer to Connected before an outbound send.
type Connector interface {
	Connect(ctx context.Context, p *peerstore.Peer) error
}

// Network is the BitswapNetwork.
type Network struct {
	exchange  Exchange
	connector Connector
	queue     *decision.Queue
	log       zerolog.Logger
}

// New returns a Network wired to the given local Exchange and Connector.
func New(exchange Exchange, connector Connector, log zerolog.Logger) *Network {
	return &Network{
		exchange:  exchange,
		connector: connector,
		queue:     decision.New(),
		log:       log,
	}
}

// Queue exposes the PeerRequestQueue so other components (an exchange
// engine deciding what to push next) can inspect in-flight wants.
func (n *Network) Queue() *decision.Queue { return n.queue }

// SendMessage implements the outbound bitswap path. It returns nil on
// success and ErrNotSent on any failure.
func (n *Network) SendMessage(ctx context.Context, p *peerstore.Peer, msg message.Message) error {
	if p.ConnectionType() != peerstore.Connected {
		if !n.connectWithRetry(ctx, p) {
			return ErrNotSent
		}
	}

	body := message.Encode(msg)
	buf := make([]byte, 0, len(ProtocolHeader)+len(body))
	buf = append(buf, ProtocolHeader...)
	buf = append(buf, body...)

	sess, _ := p.Session().(*session.Context)
	if sess == nil {
		return ErrNotSent
	}
	if _, err := sess.DefaultStream().Write(buf); err != nil {
		n.log.Debug().Err(err).Str("peer", p.ID().String()).Msg("bitswap send failed")
		return ErrNotSent
	}
	return nil
}

func (n *Network) connectWithRetry(ctx context.Context, p *peerstore.Peer) bool {
	for attempt := 0; attempt <= OutboundConnectRetries; attempt++ {
		if err := n.connector.Connect(ctx, p); err == nil {
			p.SetConnectionType(peerstore.Connected)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
	}
	return false
}

// HandleMessage implements router.Handler, registering Network as the
// ProtocolRouter's handler for the bitswap prefix.
func (n *Network) HandleMessage(sess *session.Context, buf []byte) router.Verdict {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		n.log.Debug().Msg("bitswap frame missing header newline")
		return router.Error
	}
	body := buf[idx+1:]

	m, err := message.Decode(body)
	if err != nil {
		n.log.Debug().Err(err).Msg("bitswap decode failed")
		return router.Error
	}

	for _, b := range m.Payload {
		if err := n.exchange.HasBlock(context.Background(), b); err != nil {
			n.log.Debug().Err(err).Str("cid", b.Cid().String()).Msg("HasBlock failed")
		}
	}

	if len(m.Wantlist) > 0 {
		remotePeer, ok := sess.RemotePeer()
		if !ok {
			n.log.Debug().Msg("bitswap wantlist received before remote peer id was set")
			return router.Error
		}
		entry := n.queue.EntryFor(remotePeer)
		for _, w := range m.Wantlist {
			if err := validCid(w.Cid); err != nil {
				return router.Error
			}
			if w.Cancel || w.Priority <= 0 {
				entry.Remove(w.Cid)
				continue
			}
			entry.Add(w.Cid)
		}
	}

	return router.Keep
}

func validCid(c cid.Cid) error {
	if c == cid.Undef {
		return fmt.Errorf("bitswap: undefined cid")
	}
	return nil
}
