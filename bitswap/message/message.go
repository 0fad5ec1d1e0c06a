// Package message implements the canonical binary encoding of a
// BitswapMessage: a wantlist of CIDs plus a payload of blocks.
//
// The wire shape mirrors the familiar bitswap message layout (a Wantlist of
// Entry{Block, Priority, Cancel} plus a repeated Block payload), hand-rolled
// here as a length-prefixed binary.Write/Read encoding instead of protobuf,
// since no wire schema beyond field identities is specified and this layer
// otherwise favors msgio-style framing over adding a protobuf dependency.
package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
)

// ErrTruncated is returned when the buffer ends before a declared field.
var ErrTruncated = errors.New("bitswap message: truncated")

// WantlistEntry is one entry in a BitswapMessage's wantlist.
type WantlistEntry struct {
	Cid      cid.Cid
	Priority int32
	Cancel   bool
}

// Message is a decoded BitswapMessage: a wantlist and a set of blocks being
// sent in response to (or in anticipation of) one.
type Message struct {
	Wantlist []WantlistEntry
	Payload  []blocks.Block
}

// Encode renders m into its canonical binary form: a varint entry count
// followed by each wantlist entry (varint CID length, CID bytes, big-endian
// int64 priority, one cancel byte), then a varint block count followed by
// each block (varint CID length, CID bytes, varint data length, raw data).
func Encode(m Message) []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(m.Wantlist)))
	for _, e := range m.Wantlist {
		cb := e.Cid.Bytes()
		writeUvarint(&buf, uint64(len(cb)))
		buf.Write(cb)
		binary.Write(&buf, binary.BigEndian, int64(e.Priority))
		if e.Cancel {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	writeUvarint(&buf, uint64(len(m.Payload)))
	for _, b := range m.Payload {
		cb := b.Cid().Bytes()
		writeUvarint(&buf, uint64(len(cb)))
		buf.Write(cb)
		data := b.RawData()
		writeUvarint(&buf, uint64(len(data)))
		buf.Write(data)
	}
	return buf.Bytes()
}

// Decode parses buf into a Message. It returns ErrTruncated or a CID decode
// error on any malformed input; the caller (BitswapNetwork.HandleMessage)
// treats any decode error as a failed inbound message.
func Decode(buf []byte) (Message, error) {
	r := bytes.NewReader(buf)
	var m Message

	wantCount, err := binary.ReadUvarint(r)
	if err != nil {
		return Message{}, ErrTruncated
	}
	for i := uint64(0); i < wantCount; i++ {
		cl, err := binary.ReadUvarint(r)
		if err != nil {
			return Message{}, ErrTruncated
		}
		cb := make([]byte, cl)
		if _, err := readFull(r, cb); err != nil {
			return Message{}, ErrTruncated
		}
		c, err := cid.Cast(cb)
		if err != nil {
			return Message{}, fmt.Errorf("bitswap message: decoding wantlist cid: %w", err)
		}
		var priorityAndCancel int64
		if err := binary.Read(r, binary.BigEndian, &priorityAndCancel); err != nil {
			return Message{}, ErrTruncated
		}
		cancelByte, err := r.ReadByte()
		if err != nil {
			return Message{}, ErrTruncated
		}
		m.Wantlist = append(m.Wantlist, WantlistEntry{
			Cid:      c,
			Priority: int32(priorityAndCancel),
			Cancel:   cancelByte == 1,
		})
	}

	blockCount, err := binary.ReadUvarint(r)
	if err != nil {
		return Message{}, ErrTruncated
	}
	for i := uint64(0); i < blockCount; i++ {
		cl, err := binary.ReadUvarint(r)
		if err != nil {
			return Message{}, ErrTruncated
		}
		cb := make([]byte, cl)
		if _, err := readFull(r, cb); err != nil {
			return Message{}, ErrTruncated
		}
		c, err := cid.Cast(cb)
		if err != nil {
			return Message{}, fmt.Errorf("bitswap message: decoding block cid: %w", err)
		}
		dl, err := binary.ReadUvarint(r)
		if err != nil {
			return Message{}, ErrTruncated
		}
		data := make([]byte, dl)
		if _, err := readFull(r, data); err != nil {
			return Message{}, ErrTruncated
		}
		b, err := blocks.NewBlockWithCid(data, c)
		if err != nil {
			return Message{}, fmt.Errorf("bitswap message: rebuilding block: %w", err)
		}
		m.Payload = append(m.Payload, b)
	}

	return m, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readFull(r *bytes.Reader, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) {
		m, err := r.Read(p[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
