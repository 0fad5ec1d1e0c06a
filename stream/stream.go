// Package stream wraps a single TCP connection with the non-blocking
// peek/read/write contract the connection-acceptance core is built around.
package stream

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	msgio "github.com/libp2p/go-msgio"
)

// Readiness describes the outcome of a non-blocking Peek.
type Readiness int

const (
	// Empty means nothing is available to read yet, without error.
	Empty Readiness = iota
	// Ready means a subsequent Read is expected to make progress.
	Ready
	// Errored means the underlying connection is broken.
	Errored
)

// peekDeadline bounds how long Peek blocks waiting to learn whether bytes
// are available. It must stay short: the worker loop calls Peek on every
// idle tick (see acceptor.Worker.Serve).
const peekDeadline = 50 * time.Millisecond

// Stream is a bidirectional byte channel over one TCP connection. It tracks
// the wall-clock time of the last successful read or write, which the
// maintenance loop uses to decide whether a peer is still live.
type Stream struct {
	conn net.Conn
	br   *bufio.Reader
	mr   msgio.ReadCloser
	mw   msgio.WriteCloser

	remoteIP   string
	remotePort int

	writeMu sync.Mutex

	mu            sync.Mutex
	lastCommEpoch int64
}

// New wraps conn, deriving the remote address for logging and
// ConnectionParams rendering.
func New(conn net.Conn) *Stream {
	s := &Stream{
		conn: conn,
		br:   bufio.NewReader(conn),
	}
	s.mr = msgio.NewVarintReader(s.br)
	s.mw = msgio.NewVarintWriter(conn)
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.remoteIP = tcpAddr.IP.String()
		s.remotePort = tcpAddr.Port
	}
	s.touch()
	return s
}

// Raw exposes the underlying byte stream directly, bypassing the
// length-prefixed framing Read/Write use. It exists for the multistream
// negotiation phase, which speaks its own newline-terminated line protocol
// before any framing convention applies.
func (s *Stream) Raw() io.ReadWriter {
	return rawReadWriter{s}
}

type rawReadWriter struct{ s *Stream }

func (r rawReadWriter) Read(p []byte) (int, error) {
	n, err := r.s.br.Read(p)
	if n > 0 {
		r.s.touch()
	}
	return n, err
}

func (r rawReadWriter) Write(p []byte) (int, error) {
	r.s.writeMu.Lock()
	defer r.s.writeMu.Unlock()
	n, err := r.s.conn.Write(p)
	if n > 0 {
		r.s.touch()
	}
	return n, err
}

// RemoteIP returns the textual rendering of the peer's address, or "" if it
// could not be determined; callers proceed anyway in that case.
func (s *Stream) RemoteIP() string { return s.remoteIP }

// RemotePort returns the peer's source port.
func (s *Stream) RemotePort() int { return s.remotePort }

// LastCommEpoch returns the unix-seconds timestamp of the last successful
// read or write on this stream.
func (s *Stream) LastCommEpoch() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommEpoch
}

func (s *Stream) touch() {
	s.mu.Lock()
	s.lastCommEpoch = time.Now().Unix()
	s.mu.Unlock()
}

// Peek reports whether a subsequent Read would make progress without
// blocking beyond peekDeadline. It never consumes bytes.
func (s *Stream) Peek() (Readiness, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(peekDeadline)); err != nil {
		return Errored, err
	}
	defer s.conn.SetReadDeadline(time.Time{})

	_, err := s.br.Peek(1)
	if err == nil {
		return Ready, nil
	}
	if isTimeout(err) {
		return Empty, nil
	}
	if errors.Is(err, io.EOF) {
		return Errored, io.EOF
	}
	return Errored, err
}

// Read blocks for up to timeout waiting for one complete length-prefixed
// frame and returns its body. Every successful read updates LastCommEpoch.
func (s *Stream) Read(timeout time.Duration) ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer s.conn.SetReadDeadline(time.Time{})

	msg, err := s.mr.ReadMsg()
	if err != nil {
		return nil, err
	}
	s.touch()
	out := make([]byte, len(msg))
	copy(out, msg)
	s.mr.ReleaseMsg(msg)
	return out, nil
}

// Write sends b as a single length-prefixed frame. Writes are atomic at the
// frame level: concurrent Write calls are serialized.
func (s *Stream) Write(b []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.mw.WriteMsg(b); err != nil {
		return 0, err
	}
	s.touch()
	return len(b), nil
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	_ = s.mw.Close()
	return s.conn.Close()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
