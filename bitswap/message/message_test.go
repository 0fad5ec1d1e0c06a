package message

import (
	"testing"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	b1 := blocks.NewBlock([]byte("abc"))
	b2 := blocks.NewBlock([]byte("def"))

	c, err := cid.Parse(b1.Cid().String())
	require.NoError(t, err)

	m := Message{
		Wantlist: []WantlistEntry{
			{Cid: c, Priority: 1, Cancel: false},
			{Cid: b2.Cid(), Priority: 0, Cancel: true},
		},
		Payload: []blocks.Block{b1, b2},
	}

	encoded := Encode(m)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Len(t, decoded.Wantlist, 2)
	require.True(t, decoded.Wantlist[0].Cid.Equals(b1.Cid()))
	require.Equal(t, int32(1), decoded.Wantlist[0].Priority)
	require.False(t, decoded.Wantlist[0].Cancel)
	require.True(t, decoded.Wantlist[1].Cancel)

	require.Len(t, decoded.Payload, 2)
	require.True(t, decoded.Payload[0].Cid().Equals(b1.Cid()))
	require.Equal(t, b1.RawData(), decoded.Payload[0].RawData())
	require.True(t, decoded.Payload[1].Cid().Equals(b2.Cid()))
}

func TestRoundTripPreservesPriorityOnCancel(t *testing.T) {
	b := blocks.NewBlock([]byte("xyz"))
	m := Message{
		Wantlist: []WantlistEntry{
			{Cid: b.Cid(), Priority: 7, Cancel: true},
		},
	}

	decoded, err := Decode(Encode(m))
	require.NoError(t, err)

	require.Len(t, decoded.Wantlist, 1)
	require.True(t, decoded.Wantlist[0].Cancel)
	require.Equal(t, int32(7), decoded.Wantlist[0].Priority)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0xff})
	require.Error(t, err)
}

func TestDecodeEmptyMessage(t *testing.T) {
	m := Message{}
	decoded, err := Decode(Encode(m))
	require.NoError(t, err)
	require.Empty(t, decoded.Wantlist)
	require.Empty(t, decoded.Payload)
}
