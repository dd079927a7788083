// Package storage defines the content-addressed block store that published
// passport packets live in, plus fallback and replication combinators.
package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// CAS is a content-addressable block store.
//
// Contract:
//   - Put MUST be idempotent and MUST return cidutil.CIDv1RawSHA512CID(data).
//   - Stored blocks MUST be immutable.
//   - Get MUST return ErrNotFound when the CID is absent and MUST verify the
//     bytes it returns against the CID.
type CAS interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
}
