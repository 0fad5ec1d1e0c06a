// Package exchange implements the local block store the BitswapNetwork
// applies inbound payload blocks to: store the block and release any local
// waiters blocked on its CID.
package exchange

import (
	"context"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
)

// Exchange stores blocks received over bitswap and lets callers wait for a
// CID that hasn't arrived yet.
type Exchange struct {
	bs blockstore.Blockstore

	mu      sync.Mutex
	waiters map[string][]chan blocks.Block
}

// New wraps bs as an Exchange.
func New(bs blockstore.Blockstore) *Exchange {
	return &Exchange{bs: bs, waiters: make(map[string][]chan blocks.Block)}
}

// HasBlock stores b and releases any goroutines blocked in WaitFor on its
// CID.
func (e *Exchange) HasBlock(ctx context.Context, b blocks.Block) error {
	if err := e.bs.Put(b); err != nil {
		return err
	}

	e.mu.Lock()
	waiters := e.waiters[b.Cid().KeyString()]
	delete(e.waiters, b.Cid().KeyString())
	e.mu.Unlock()

	for _, w := range waiters {
		w <- b
		close(w)
	}
	return nil
}

// WaitFor blocks until b's CID is stored locally, ctx is canceled, or the
// block is already present.
func (e *Exchange) WaitFor(ctx context.Context, key string) (blocks.Block, error) {
	ch := make(chan blocks.Block, 1)
	e.mu.Lock()
	e.waiters[key] = append(e.waiters[key], ch)
	e.mu.Unlock()

	if c, err := cid.Cast([]byte(key)); err == nil {
		if b, err := e.bs.Get(c); err == nil {
			return b, nil
		}
	}

	select {
	case b := <-ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
