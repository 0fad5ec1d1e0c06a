package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/test"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/hopnode/peerstore"
	"github.com/myelnet/hopnode/routing"
)

type stubJournal struct {
	calls   int
	failNil error
}

func (s *stubJournal) Sync(ctx context.Context, p peer.ID) error {
	s.calls++
	return s.failNil
}

type stubConnector struct {
	shouldFail bool
	calls      int
}

func (c *stubConnector) Connect(ctx context.Context, p *peerstore.Peer) error {
	c.calls++
	if c.shouldFail {
		return context.DeadlineExceeded
	}
	p.SetConnectionType(peerstore.Connected)
	return nil
}

func randPeer(t *testing.T) *peerstore.Peer {
	t.Helper()
	id, err := test.RandPeerID()
	require.NoError(t, err)
	return peerstore.NewPeer(id, nil)
}

func TestTickSkipsLocalPeer(t *testing.T) {
	ps := peerstore.New()
	p := randPeer(t)
	p.SetLocal(true)
	ps.Put(p)

	conn := &stubConnector{}
	jc := &stubJournal{}
	tk := New(ps, conn, routing.NewStubRouter(), jc, ReplicationConfig{Enabled: true, AnnounceMinutes: 0}, zerolog.Nop())

	tk.Tick(context.Background())
	require.Equal(t, 0, conn.calls)
	require.Equal(t, 0, jc.calls)
}

func TestTickAnnouncesReplicationPeer(t *testing.T) {
	ps := peerstore.New()
	p := randPeer(t)
	ps.Put(p)
	rp := &peerstore.ReplicationPeer{Peer: p, Role: peerstore.RoleMirror}
	ps.SetReplicationPeer(p.ID(), rp)

	conn := &stubConnector{}
	jc := &stubJournal{}
	tk := New(ps, conn, routing.NewStubRouter(), jc, ReplicationConfig{Enabled: true, AnnounceMinutes: 0}, zerolog.Nop())

	tk.Tick(context.Background())
	require.Equal(t, 1, conn.calls)
	require.Equal(t, 1, jc.calls)
	require.Greater(t, rp.LastConnectEpoch(), int64(0))
}

func TestTickSkipsAnnounceWhenIntervalNotElapsed(t *testing.T) {
	ps := peerstore.New()
	p := randPeer(t)
	p.SetConnectionType(peerstore.Connected)
	ps.Put(p)
	rp := &peerstore.ReplicationPeer{Peer: p, Role: peerstore.RoleMirror}
	rp.TouchConnect()
	ps.SetReplicationPeer(p.ID(), rp)

	conn := &stubConnector{}
	jc := &stubJournal{}
	tk := New(ps, conn, routing.NewStubRouter(), jc, ReplicationConfig{Enabled: true, AnnounceMinutes: 60}, zerolog.Nop())

	tk.Tick(context.Background())
	require.Equal(t, 0, jc.calls)
}

type stubSession struct{ last int64 }

func (s stubSession) LastCommEpoch() int64 { return s.last }

func TestTickPingsIdleConnectedPeer(t *testing.T) {
	ps := peerstore.New()
	p := randPeer(t)
	p.SetConnectionType(peerstore.Connected)
	p.SetSession(stubSession{last: time.Now().Unix() - 1000})
	ps.Put(p)

	router := routing.NewStubRouter()
	// peer absent from Alive map => Ping fails => connection type flips.
	tk := New(ps, &stubConnector{}, router, &stubJournal{}, ReplicationConfig{}, zerolog.Nop())

	tk.Tick(context.Background())
	require.Equal(t, peerstore.NotConnected, p.ConnectionType())
}

func TestTickSkipsPingWhenRecentlyActive(t *testing.T) {
	ps := peerstore.New()
	p := randPeer(t)
	p.SetConnectionType(peerstore.Connected)
	p.SetSession(stubSession{last: time.Now().Unix()})
	ps.Put(p)

	router := routing.NewStubRouter()
	tk := New(ps, &stubConnector{}, router, &stubJournal{}, ReplicationConfig{}, zerolog.Nop())

	tk.Tick(context.Background())
	require.Equal(t, peerstore.Connected, p.ConnectionType())
}
