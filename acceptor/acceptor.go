// Package acceptor implements the Acceptor: it binds a TCP socket, accepts
// new connections under a global cap, and hands each off to a bounded
// worker pool, invoking one step of the maintenance loop whenever the
// accept-readiness poll times out.
package acceptor

import (
	"context"
	"net"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/rs/zerolog"
)

// DefaultPollInterval bounds the maintenance latency when Config.PollInterval
// is unset.
const DefaultPollInterval = 2 * time.Second

// Maintainer is invoked once per idle accept-poll timeout. It must be cheap
// and non-blocking relative to the poll interval.
type Maintainer interface {
	Tick(ctx context.Context)
}

// Config bundles the tunables exposed for the Acceptor.
type Config struct {
	ListenAddr    string
	ConnectionCap int64
	PoolSize      int
	PollInterval  time.Duration
}

// Acceptor owns the listening socket and the WorkerPool.
type Acceptor struct {
	cfg          Config
	ln           *net.TCPListener
	pool         *WorkerPool
	counter      *ConnCounter
	worker       *Worker
	maintainer   Maintainer
	pollInterval time.Duration
	ds           datastore.Batching
	log          zerolog.Logger
}

// New binds the configured TCP address and prepares (but does not yet run)
// the accept loop.
func New(cfg Config, worker *Worker, maintainer Maintainer, ds datastore.Batching, log zerolog.Logger) (*Acceptor, error) {
	addr, err := net.ResolveTCPAddr("tcp4", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp4", addr)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.ListenAddr).Msg("failed to init listener")
		return nil, err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Acceptor{
		cfg:          cfg,
		ln:           ln,
		pool:         NewWorkerPool(cfg.PoolSize, cfg.PoolSize),
		counter:      NewConnCounter(cfg.ConnectionCap),
		worker:       worker,
		maintainer:   maintainer,
		pollInterval: pollInterval,
		ds:           ds,
		log:          log,
	}, nil
}

// Addr returns the bound listen address, useful for tests that bind an
// ephemeral port.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// ConnectionCount returns the current number of leased connections.
func (a *Acceptor) ConnectionCount() int64 { return a.counter.Count() }

// Run executes the accept loop until ctx is canceled. It returns once the
// listener is closed and all in-flight workers have drained.
func (a *Acceptor) Run(ctx context.Context) error {
	defer a.ln.Close()
	defer a.pool.Shutdown()

	for {
		select {
		case <-ctx.Done():
			a.log.Debug().Msg("acceptor shutting down")
			return nil
		default:
		}

		if err := a.ln.SetDeadline(time.Now().Add(a.pollInterval)); err != nil {
			return err
		}
		conn, err := a.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if a.maintainer != nil {
					a.maintainer.Tick(ctx)
				}
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			a.log.Debug().Err(err).Msg("accept error")
			continue
		}

		lease, ok := a.counter.TryAcquire()
		if !ok {
			a.log.Debug().Msg("connection cap reached, rejecting")
			_ = conn.Close()
			continue
		}

		submitted := a.pool.Submit(func() {
			a.worker.Serve(ctx, conn, lease, a.ds)
		})
		if !submitted {
			a.log.Debug().Msg("worker pool saturated, rejecting connection")
			lease.Release()
			_ = conn.Close()
		}
	}
}
