// Package negotiate performs the multistream capability handshake, built on
// the real multistream-select implementation
// (github.com/multiformats/go-multistream) rather than a hand-rolled wire
// format.
package negotiate

import (
	"fmt"
	"time"

	mss "github.com/multiformats/go-multistream"
	"github.com/myelnet/hopnode/session"
	"github.com/myelnet/hopnode/stream"
)

// DefaultTimeout bounds how long negotiation may take before it is treated
// as a failure.
const DefaultTimeout = 5 * time.Second

// Negotiator performs the initial capability handshake over a Stream. Its
// registered protocol set is shared with the ProtocolRouter so that
// negotiation and dispatch are driven from one source of truth.
type Negotiator struct {
	mux     *mss.MultistreamMuxer
	timeout time.Duration
}

// New returns a Negotiator that will offer protocols in the order given.
func New(protocols []string, timeout time.Duration) *Negotiator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	mux := mss.NewMultistreamMuxer()
	for _, p := range protocols {
		p := p
		mux.AddHandler(p, nil)
	}
	return &Negotiator{mux: mux, timeout: timeout}
}

// Result is the outcome of a successful negotiation.
type Result struct {
	// Protocol is the sub-protocol both sides settled on.
	Protocol string
}

// Negotiate runs the server side of the handshake on sess's insecure
// stream. On success it leaves sess.DefaultStream pointing at the stream to
// use for subsequent reads/writes (today always the insecure stream: secure
// channel upgrade is out of scope) and returns the selected protocol. On
// failure the caller must close sess and exit.
func (n *Negotiator) Negotiate(sess *session.Context) (Result, error) {
	s := sess.InsecureStream
	if s == nil {
		return Result{}, fmt.Errorf("negotiate: no insecure stream")
	}

	proto, _, err := n.mux.NegotiateTimeout(rawCloser{s}, n.timeout)
	if err != nil {
		return Result{}, fmt.Errorf("negotiate: %w", err)
	}

	sess.UpgradeStream(s)
	return Result{Protocol: proto}, nil
}

// rawCloser adapts stream.Stream's unframed byte stream to the
// io.ReadWriteCloser the multistream muxer speaks its newline-terminated
// announce lines over.
type rawCloser struct {
	s *stream.Stream
}

func (a rawCloser) Read(p []byte) (int, error)  { return a.s.Raw().Read(p) }
func (a rawCloser) Write(p []byte) (int, error) { return a.s.Raw().Write(p) }
func (a rawCloser) Close() error                { return a.s.Close() }
