package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// MultiCAS reads from Adapters in slice order and writes only to the first.
//
// The order is the retrieval strategy; callers MUST supply a fixed order.
type MultiCAS struct {
	Adapters []CAS
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, ErrNoBackends
	}
	return m.Adapters[0].Put(ctx, data)
}

func (m MultiCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return firstHit(ctx, id, m.Adapters)
}

func (m MultiCAS) Has(ctx context.Context, id cid.Cid) bool {
	for _, cas := range m.Adapters {
		if cas.Has(ctx, id) {
			return true
		}
	}
	return false
}

// firstHit returns the first successful read. A backend that reports
// anything other than ErrNotFound stops the search.
func firstHit(ctx context.Context, id cid.Cid, stores []CAS) ([]byte, error) {
	for _, cas := range stores {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := cas.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
