// Package node assembles the connection-acceptance core (stream, session,
// peerstore, negotiator, router, acceptor) with the outbound-facing libp2p
// host used for replication connects, liveness pings, and journal syncs
// into one running daemon.
//
// The host is built with the familiar libp2p.New functional-option shape:
// a generated identity, a connection manager, NAT traversal, and a
// DHT-backed peer-routing option, trimmed of everything storage- or
// wallet-related that isn't this daemon's concern.
package node

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	badgerds "github.com/ipfs/go-ds-badger"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	"github.com/libp2p/go-libp2p"
	connmgr "github.com/libp2p/go-libp2p-connmgr"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	corepeer "github.com/libp2p/go-libp2p-core/peer"
	coreRouting "github.com/libp2p/go-libp2p-core/routing"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/myelnet/hopnode/acceptor"
	"github.com/myelnet/hopnode/bitswap"
	"github.com/myelnet/hopnode/exchange"
	"github.com/myelnet/hopnode/journal"
	"github.com/myelnet/hopnode/maintenance"
	"github.com/myelnet/hopnode/negotiate"
	"github.com/myelnet/hopnode/peerstore"
	"github.com/myelnet/hopnode/router"
	"github.com/myelnet/hopnode/routing"
	"github.com/myelnet/hopnode/session"
)

// Node is the assembled daemon: everything New returns is ready for Run.
type Node struct {
	cfg Config
	log zerolog.Logger

	host host.Host
	ds   *badgerds.Datastore
	bs   blockstore.Blockstore

	peerstore *peerstore.Peerstore
	router    *router.Router
	acceptor  *acceptor.Acceptor
	ticker    *maintenance.Ticker
	bitswap   *bitswap.Network
}

// New wires every component of the node's system overview together.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Node, error) {
	dsopts := badgerds.DefaultOptions
	dsopts.SyncWrites = false
	dsopts.Truncate = true

	ds, err := badgerds.NewDatastore(filepath.Join(cfg.RepoPath, "datastore"), &dsopts)
	if err != nil {
		return nil, fmt.Errorf("opening datastore: %w", err)
	}
	bs := blockstore.NewBlockstore(ds)

	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}

	var kadDHT *dht.IpfsDHT
	h, err := libp2p.New(
		ctx,
		libp2p.Identity(priv),
		libp2p.ConnectionManager(connmgr.NewConnManager(20, 60, 20*time.Second)),
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
		libp2p.Routing(func(h host.Host) (coreRouting.PeerRouting, error) {
			kadDHT, err = dht.New(ctx, h)
			return kadDHT, err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("constructing libp2p host: %w", err)
	}

	ps := peerstore.New()
	for _, addrStr := range cfg.BootstrapPeers {
		maddr, err := ma.NewMultiaddr(addrStr)
		if err != nil {
			log.Warn().Err(err).Str("addr", addrStr).Msg("skipping malformed bootstrap peer address")
			continue
		}
		info, err := corepeer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.Warn().Err(err).Str("addr", addrStr).Msg("bootstrap peer address missing /p2p peer id")
			continue
		}
		p := peerstore.NewPeer(info.ID, info.Addrs)
		ps.Put(p)
		ps.SetReplicationPeer(info.ID, &peerstore.ReplicationPeer{Peer: p, Role: peerstore.RoleUpstream})
	}

	exch := exchange.New(bs)

	connector := &hostConnector{h: h}
	bsNet := bitswap.New(exch, connector, log)

	r := router.New()
	r.Register(bitswap.ProtocolHeader[:len(bitswap.ProtocolHeader)-1], bsNet)

	neg := negotiate.New(r.Protocols(), negotiate.DefaultTimeout)
	onConnect := func(id corepeer.ID, sess *session.Context) {
		p, ok := ps.Get(id)
		if !ok {
			p = peerstore.NewPeer(id, nil)
			ps.Put(p)
		}
		p.SetSession(sess)
		p.SetConnectionType(peerstore.Connected)
		p.TouchConnect()
	}
	worker := acceptor.NewWorker(neg, r, h.ID(), acceptor.WorkerConfig{
		ReadTimeout:  cfg.ReadTimeout,
		IdleMaxTicks: cfg.IdleMaxTicks,
	}, onConnect, log)

	var journalClient journal.Client = journal.NoopClient{}
	if cfg.ReplicationEnabled {
		journalClient = journal.NewHostClient(h, func() uint64 { return 0 })
	}

	var rt routing.Router
	if kadDHT != nil {
		rt = routing.NewHostRouter(h)
	} else {
		rt = routing.NewStubRouter()
	}

	ticker := maintenance.New(ps, connector, rt, journalClient, maintenance.ReplicationConfig{
		Enabled:         cfg.ReplicationEnabled,
		AnnounceMinutes: cfg.ReplicationAnnounceMin,
		PingIdleSeconds: cfg.PingIdleSeconds,
	}, log)

	acc, err := acceptor.New(acceptor.Config{
		ListenAddr:    cfg.ListenAddr,
		ConnectionCap: cfg.ConnectionCap,
		PoolSize:      cfg.PoolSize,
		PollInterval:  cfg.AcceptPollSec,
	}, worker, ticker, ds, log)
	if err != nil {
		return nil, fmt.Errorf("binding acceptor: %w", err)
	}

	return &Node{
		cfg:       cfg,
		log:       log,
		host:      h,
		ds:        ds,
		bs:        bs,
		peerstore: ps,
		router:    r,
		acceptor:  acc,
		ticker:    ticker,
		bitswap:   bsNet,
	}, nil
}

// Run blocks serving inbound connections until ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info().Str("peer_id", n.host.ID().String()).Str("addr", n.acceptor.Addr().String()).Msg("hopnode starting")
	return n.acceptor.Run(ctx)
}

// Close releases the datastore and libp2p host.
func (n *Node) Close() error {
	_ = n.host.Close()
	return n.ds.Close()
}

// hostConnector bridges peerstore.Peer/maintenance.Connector and
// bitswap.Connector onto the libp2p host's Connect against a peer.AddrInfo.
type hostConnector struct {
	h host.Host
}

func (c *hostConnector) Connect(ctx context.Context, p *peerstore.Peer) error {
	addrs := p.Addrs()
	var maddrs []ma.Multiaddr
	maddrs = append(maddrs, addrs...)
	return c.h.Connect(ctx, corepeer.AddrInfo{ID: p.ID(), Addrs: maddrs})
}
