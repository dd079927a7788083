// Package memcas is an in-process storage.CAS, for tests and throwaway runs.
package memcas

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/passport/cidutil"
	"xdao.co/passport/storage"
	"xdao.co/passport/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "memory",
		Description: "In-memory CAS (lost on exit)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Open: func(map[string]string) (storage.CAS, func() error, error) {
			return New(), nil, nil
		},
	})
}

// CAS keeps blocks in a map.
type CAS struct {
	mu     sync.RWMutex
	blocks map[string][]byte
}

func New() *CAS {
	return &CAS{blocks: make(map[string][]byte)}
}

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.CIDv1RawSHA512CID(data)
	if err != nil {
		return cid.Undef, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blocks[id.KeyString()]; !ok {
		c.blocks[id.KeyString()] = append([]byte(nil), data...)
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	c.mu.RLock()
	b, ok := c.blocks[id.KeyString()]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (c *CAS) Has(_ context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocks[id.KeyString()]
	return ok
}

// Len returns the number of stored blocks.
func (c *CAS) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}
