package acceptor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/test"
	msgio "github.com/libp2p/go-msgio"
	mss "github.com/multiformats/go-multistream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/hopnode/negotiate"
	"github.com/myelnet/hopnode/router"
	"github.com/myelnet/hopnode/session"
)

// dialAndNegotiate performs a real client-side multistream-select
// handshake against a listening Acceptor, announces a random peer id (the
// Worker's post-negotiation identity exchange expects one), and returns the
// open connection.
func dialAndNegotiate(t *testing.T, addr net.Addr, proto string) net.Conn {
	t.Helper()
	id, err := test.RandPeerID()
	require.NoError(t, err)
	return dialAndNegotiateAs(t, addr, proto, id)
}

// dialAndNegotiateAs is dialAndNegotiate with an explicit identity to
// announce, for tests that need to assert on the peer id the server side
// observes.
func dialAndNegotiateAs(t *testing.T, addr net.Addr, proto string, id peer.ID) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	selected, err := mss.SelectOneOf([]string{proto}, conn)
	require.NoError(t, err)
	require.Equal(t, proto, selected)

	mw := msgio.NewVarintWriter(conn)
	require.NoError(t, mw.WriteMsg([]byte(id)))

	return conn
}

func testWorker(t *testing.T, timeout time.Duration, onMessage func(sess *session.Context, body []byte) router.Verdict) *Worker {
	t.Helper()
	r := router.New()
	r.Register("/hopnode/echo/1.0", router.HandlerFunc(onMessage))
	neg := negotiate.New(r.Protocols(), timeout)
	localID, err := test.RandPeerID()
	require.NoError(t, err)
	return NewWorker(neg, r, localID, WorkerConfig{ReadTimeout: timeout}, nil, zerolog.Nop())
}

func TestAcceptorAcceptsAndNegotiates(t *testing.T) {
	var received []byte
	done := make(chan struct{}, 8)
	w := testWorker(t, time.Second, func(sess *session.Context, body []byte) router.Verdict {
		received = body
		done <- struct{}{}
		return router.Release
	})

	acc, err := New(Config{ListenAddr: "127.0.0.1:0", ConnectionCap: 4, PoolSize: 2}, w, nil, datastore.NewMapDatastore(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go acc.Run(ctx)

	conn := dialAndNegotiate(t, acc.Addr(), "/hopnode/echo/1.0")
	defer conn.Close()

	mw := msgio.NewVarintWriter(conn)
	require.NoError(t, mw.WriteMsg([]byte("/hopnode/echo/1.0\nping")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never dispatched")
	}
	require.Equal(t, "/hopnode/echo/1.0\nping", string(received))
}

func TestAcceptorRejectsOverCap(t *testing.T) {
	w := testWorker(t, 5*time.Second, func(sess *session.Context, body []byte) router.Verdict {
		return router.Release
	})

	acc, err := New(Config{ListenAddr: "127.0.0.1:0", ConnectionCap: 1, PoolSize: 2}, w, nil, datastore.NewMapDatastore(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go acc.Run(ctx)

	// c1 holds the single available lease for the duration of its (slow)
	// negotiation; it never sends a multistream header.
	c1, err := net.Dial("tcp", acc.Addr().String())
	require.NoError(t, err)
	defer c1.Close()

	require.Eventually(t, func() bool {
		return acc.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	c2, err := net.Dial("tcp", acc.Addr().String())
	require.NoError(t, err)
	defer c2.Close()

	// The cap is already held by c1; the acceptor accepts c2 and closes it
	// straight away, so a read on c2 fails shortly after connecting.
	c2.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = c2.Read(buf)
	require.Error(t, err)
}

func TestAcceptorShutsDownPromptly(t *testing.T) {
	w := testWorker(t, time.Second, func(sess *session.Context, body []byte) router.Verdict { return router.Release })
	acc, err := New(Config{ListenAddr: "127.0.0.1:0", ConnectionCap: 4, PoolSize: 2}, w, nil, datastore.NewMapDatastore(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- acc.Run(ctx) }()

	cancel()
	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("acceptor did not shut down within 3 seconds")
	}
}
