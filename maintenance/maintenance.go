// Package maintenance implements the MaintenanceTicker: on each idle
// accept-poll timeout, it advances a round-robin cursor over the peerstore
// and either issues a replication announcement or a liveness ping for the
// peer it lands on.
package maintenance

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/myelnet/hopnode/journal"
	"github.com/myelnet/hopnode/peerstore"
	"github.com/myelnet/hopnode/routing"
)

// DefaultPingIdleSeconds is the idle time after which a connected peer is
// pinged, applied when ReplicationConfig.PingIdleSeconds is unset.
const DefaultPingIdleSeconds = 180

// connectRetries is the retry budget for bringing a replication peer online
// before giving up for this tick, distinct from bitswap's outbound budget
// of 10.
const connectRetries = 2

// Connector attempts to establish a session with a peer.
type Connector interface {
	Connect(ctx context.Context, p *peerstore.Peer) error
}

// ReplicationConfig holds the Ticker's tuning options: replication
// announcement cadence plus the liveness-ping idle threshold.
type ReplicationConfig struct {
	Enabled         bool
	AnnounceMinutes int

	// PingIdleSeconds is the idle time after which a connected peer is
	// pinged. Zero means DefaultPingIdleSeconds.
	PingIdleSeconds int
}

// Ticker is the MaintenanceTicker.
type Ticker struct {
	ps        *peerstore.Peerstore
	cursor    *peerstore.Cursor
	connector Connector
	router    routing.Router
	journal   journal.Client
	repl      ReplicationConfig
	log       zerolog.Logger
}

// New returns a Ticker walking ps's peers.
func New(ps *peerstore.Peerstore, connector Connector, router routing.Router, jc journal.Client, repl ReplicationConfig, log zerolog.Logger) *Ticker {
	if repl.PingIdleSeconds <= 0 {
		repl.PingIdleSeconds = DefaultPingIdleSeconds
	}
	return &Ticker{
		ps:        ps,
		cursor:    ps.NewCursor(),
		connector: connector,
		router:    router,
		journal:   jc,
		repl:      repl,
		log:       log,
	}
}

// Tick advances the cursor by one peer and applies the maintenance logic.
// It is called inline on the Acceptor's timeout branch and must stay cheap:
// every I/O operation it performs uses a short, per-operation context
// timeout so it cannot starve accept latency.
func (t *Ticker) Tick(ctx context.Context) {
	p, ok := t.cursor.Next()
	if !ok || p == nil {
		return
	}
	if p.IsLocal() {
		return
	}

	rp, hasReplication := t.ps.ReplicationPeer(p.ID())
	if hasReplication && t.repl.Enabled {
		announceSecs := int64(t.repl.AnnounceMinutes) * 60
		elapsed := time.Now().Unix() - rp.LastConnectEpoch()
		if elapsed >= announceSecs {
			t.announce(ctx, p, rp)
			return
		}
	}

	t.maybePing(ctx, p)
}

func (t *Ticker) announce(ctx context.Context, p *peerstore.Peer, rp *peerstore.ReplicationPeer) {
	if p.ConnectionType() != peerstore.Connected {
		if !t.connectWithRetry(ctx, p, connectRetries) {
			t.log.Debug().Str("peer", p.ID().String()).Msg("could not connect to replication peer, skipping this cycle")
			return
		}
	}

	t.log.Debug().Str("peer", p.ID().String()).Msg("attempting a journal sync")
	syncCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := t.journal.Sync(syncCtx, p.ID()); err != nil {
		t.log.Debug().Err(err).Str("peer", p.ID().String()).Msg("journal sync failed")
		return
	}
	rp.TouchConnect()
	t.log.Debug().Str("peer", p.ID().String()).Msg("sync message sent, maintenance complete")
}

func (t *Ticker) connectWithRetry(ctx context.Context, p *peerstore.Peer, retries int) bool {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	for attempt := 0; attempt <= retries; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := t.connector.Connect(connectCtx, p)
		cancel()
		if err == nil {
			p.SetConnectionType(peerstore.Connected)
			p.TouchConnect()
			return true
		}
		if attempt < retries {
			time.Sleep(b.Duration())
		}
	}
	return false
}

func (t *Ticker) maybePing(ctx context.Context, p *peerstore.Peer) {
	sess := p.Session()
	if sess == nil {
		return
	}
	if time.Now().Unix()-sess.LastCommEpoch() <= int64(t.repl.PingIdleSeconds) {
		return
	}
	if p.ConnectionType() != peerstore.Connected {
		return
	}

	t.log.Debug().Str("peer", p.ID().String()).Msg("attempting ping")
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := t.router.Ping(pingCtx, p.ID()); err != nil {
		t.log.Debug().Err(err).Str("peer", p.ID().String()).Msg("ping failed")
		p.SetConnectionType(peerstore.NotConnected)
	}
}
