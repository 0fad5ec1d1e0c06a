package acceptor

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/rs/zerolog"

	"github.com/myelnet/hopnode/negotiate"
	"github.com/myelnet/hopnode/router"
	"github.com/myelnet/hopnode/session"
	"github.com/myelnet/hopnode/stream"
)

// ConnCounter is an atomic, process-wide count of open inbound connections.
// Workers acquire a ConnLease on accept and release it exactly once on
// exit, guaranteeing a once-and-only-once decrement regardless of which
// exit path a worker takes.
type ConnCounter struct {
	n   int64
	cap int64
}

// NewConnCounter returns a counter capped at connectionCap concurrent
// leases.
func NewConnCounter(connectionCap int64) *ConnCounter {
	return &ConnCounter{cap: connectionCap}
}

// ConnLease represents one acquired slot in the counter.
type ConnLease struct {
	c        *ConnCounter
	released int32
}

// TryAcquire increments the counter and returns a lease, unless the cap has
// already been reached.
func (c *ConnCounter) TryAcquire() (*ConnLease, bool) {
	for {
		cur := atomic.LoadInt64(&c.n)
		if cur >= c.cap {
			return nil, false
		}
		if atomic.CompareAndSwapInt64(&c.n, cur, cur+1) {
			return &ConnLease{c: c}, true
		}
	}
}

// Release decrements the counter. Safe to call more than once; only the
// first call has effect, so a defer plus an explicit early-exit release
// never double-decrements.
func (l *ConnLease) Release() {
	if atomic.CompareAndSwapInt32(&l.released, 0, 1) {
		atomic.AddInt64(&l.c.n, -1)
	}
}

// Count returns the current number of leased connections.
func (c *ConnCounter) Count() int64 { return atomic.LoadInt64(&c.n) }

// DefaultIdleMaxTicks is the number of consecutive empty peeks before a
// ConnectionWorker gives up on a negotiated-but-silent connection.
const DefaultIdleMaxTicks = 30

// DefaultReadTimeout is the per-read timeout.
const DefaultReadTimeout = 5 * time.Second

// WorkerConfig bundles the per-connection tunables a Worker applies to every
// connection it serves.
type WorkerConfig struct {
	ReadTimeout  time.Duration
	IdleMaxTicks int
}

// Worker runs the per-connection state machine:
// Accepted -> Negotiating -> Serving -> (Released | Closed).
type Worker struct {
	negotiator *negotiate.Negotiator
	router     *router.Router
	localID    peer.ID

	readTimeout  time.Duration
	idleMaxTicks int

	// onConnect, when set, is invoked once a connection's remote peer id has
	// been learned, letting the caller (typically Node) register the peer
	// and its session into the Peerstore the MaintenanceTicker walks.
	onConnect func(id peer.ID, sess *session.Context)

	log zerolog.Logger
}

// NewWorker builds a Worker sharing a Negotiator and Router across
// connections (both are read-mostly and safe for concurrent use). localID is
// announced to the remote side during the post-negotiation identity
// exchange. onConnect may be nil.
func NewWorker(n *negotiate.Negotiator, r *router.Router, localID peer.ID, cfg WorkerConfig, onConnect func(peer.ID, *session.Context), log zerolog.Logger) *Worker {
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	idleMaxTicks := cfg.IdleMaxTicks
	if idleMaxTicks <= 0 {
		idleMaxTicks = DefaultIdleMaxTicks
	}
	return &Worker{
		negotiator:   n,
		router:       r,
		localID:      localID,
		readTimeout:  readTimeout,
		idleMaxTicks: idleMaxTicks,
		onConnect:    onConnect,
		log:          log,
	}
}

// Serve runs one connection to completion. The lease is released here on
// every exit path. The connection is closed here on every exit path except
// the Release verdict, where ownership of sess passes to whichever handler
// returned it. A panic inside Serve is recovered and logged, and the worker
// exits.
func (w *Worker) Serve(ctx context.Context, conn net.Conn, lease *ConnLease, ds datastore.Batching) {
	defer lease.Release()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("connection worker panicked, exiting")
		}
	}()

	log := w.log.With().Str("conn_id", uuid.New().String()).Logger()

	s := stream.New(conn)
	sess := session.New(s, ds)

	result, err := w.negotiator.Negotiate(sess)
	if err != nil {
		log.Debug().Err(err).Msg("multistream negotiation failed")
		_ = sess.Close()
		return
	}
	log.Debug().Str("protocol", result.Protocol).Str("remote", s.RemoteIP()).Msg("negotiated connection")

	if remote, err := w.exchangeIdentity(sess); err != nil {
		log.Debug().Err(err).Msg("identity exchange failed, continuing without remote peer id")
	} else {
		log = log.With().Str("peer", remote.String()).Logger()
		if w.onConnect != nil {
			w.onConnect(remote, sess)
		}
	}

	idle := 0
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("shutting down before read")
			_ = sess.Close()
			return
		default:
		}

		ready, err := sess.DefaultStream().Peek()
		if err != nil {
			log.Debug().Err(err).Msg("peek returned error, exiting loop")
			_ = sess.Close()
			return
		}
		if ready == stream.Empty {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				_ = sess.Close()
				return
			}
			idle++
			if idle >= w.idleMaxTicks {
				log.Debug().Int("tried", idle).Msg("tried that many times in the daemon loop, exiting")
				_ = sess.Close()
				return
			}
			continue
		}

		body, err := sess.DefaultStream().Read(w.readTimeout)
		if err != nil {
			log.Debug().Err(err).Msg("peek said there was something there, but there was not")
			_ = sess.Close()
			return
		}

		select {
		case <-ctx.Done():
			log.Debug().Msg("shutting down after read")
			_ = sess.Close()
			return
		default:
		}

		idle = 0
		verdict := w.router.Dispatch(sess, body)
		switch verdict {
		case router.Error:
			log.Debug().Msg("router returned error")
			_ = sess.Close()
			return
		case router.Release:
			log.Debug().Msg("router released the session; handler now owns it")
			return
		default:
			log.Debug().Msg("router returned keep, looping again")
		}
	}
}

// exchangeIdentity announces the local peer id on sess's default stream and
// reads back the remote's, recording it with SetRemotePeer on success. It
// writes before reading so both sides of a connection can run this
// concurrently without deadlocking on each other's write.
func (w *Worker) exchangeIdentity(sess *session.Context) (peer.ID, error) {
	if _, err := sess.DefaultStream().Write([]byte(w.localID)); err != nil {
		return "", err
	}
	body, err := sess.DefaultStream().Read(w.readTimeout)
	if err != nil {
		return "", err
	}
	remote, err := peer.IDFromBytes(body)
	if err != nil {
		return "", err
	}
	sess.SetRemotePeer(remote)
	return remote, nil
}
