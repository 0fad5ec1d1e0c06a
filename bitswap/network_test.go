package bitswap

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p-core/test"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/hopnode/bitswap/message"
	"github.com/myelnet/hopnode/peerstore"
	"github.com/myelnet/hopnode/router"
	"github.com/myelnet/hopnode/session"
	"github.com/myelnet/hopnode/stream"
)

type stubExchange struct {
	got []blocks.Block
}

func (e *stubExchange) HasBlock(ctx context.Context, b blocks.Block) error {
	e.got = append(e.got, b)
	return nil
}

type noopConnector struct{ calls int }

func (c *noopConnector) Connect(ctx context.Context, p *peerstore.Peer) error {
	c.calls++
	p.SetConnectionType(peerstore.Connected)
	return nil
}

func TestHandleMessageAppliesPayloadAndWantlist(t *testing.T) {
	exch := &stubExchange{}
	n := New(exch, &noopConnector{}, zerolog.Nop())

	b := blocks.NewBlock([]byte("abc"))
	id, err := test.RandPeerID()
	require.NoError(t, err)

	msg := message.Message{
		Wantlist: []message.WantlistEntry{{Cid: b.Cid(), Priority: 1}},
		Payload:  []blocks.Block{b},
	}
	body := append([]byte(ProtocolHeader), message.Encode(msg)...)

	sess := &session.Context{}
	sess.SetRemotePeer(id)

	v := n.HandleMessage(sess, body)
	require.Equal(t, router.Keep, v)
	require.Len(t, exch.got, 1)
	require.True(t, exch.got[0].Cid().Equals(b.Cid()))

	entry := n.Queue().EntryFor(id)
	require.True(t, entry.Has(b.Cid()))
}

func TestHandleMessageRejectsMissingHeader(t *testing.T) {
	exch := &stubExchange{}
	n := New(exch, &noopConnector{}, zerolog.Nop())
	v := n.HandleMessage(&session.Context{}, []byte("no newline here"))
	require.Equal(t, router.Error, v)
}

func TestHandleMessageCancelRemovesEntry(t *testing.T) {
	exch := &stubExchange{}
	n := New(exch, &noopConnector{}, zerolog.Nop())

	id, err := test.RandPeerID()
	require.NoError(t, err)
	sess := &session.Context{}
	sess.SetRemotePeer(id)

	b := blocks.NewBlock([]byte("xyz"))
	n.Queue().EntryFor(id).Add(b.Cid())

	msg := message.Message{Wantlist: []message.WantlistEntry{{Cid: b.Cid(), Cancel: true}}}
	body := append([]byte(ProtocolHeader), message.Encode(msg)...)

	v := n.HandleMessage(sess, body)
	require.Equal(t, router.Keep, v)
	require.False(t, n.Queue().EntryFor(id).Has(b.Cid()))
}

func TestSendMessageWritesHeaderPrefix(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverCh <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	server := <-serverCh
	defer server.Close()

	clientStream := stream.New(client)
	sess := session.New(clientStream, datastore.NewMapDatastore())

	id, err := test.RandPeerID()
	require.NoError(t, err)
	p := peerstore.NewPeer(id, nil)
	p.SetSession(sess)
	p.SetConnectionType(peerstore.Connected)

	exch := &stubExchange{}
	n := New(exch, &noopConnector{}, zerolog.Nop())

	err = n.SendMessage(context.Background(), p, message.Message{})
	require.NoError(t, err)

	serverStream := stream.New(server)
	body, err := serverStream.Read(time.Second)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(body, []byte(ProtocolHeader)))
}
