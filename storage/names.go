package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/passport/cidutil"
)

// PutNamed stores data and checks that the resulting CID carries name.
// Passport packets whose name is Hash(bytes) publish through this.
func PutNamed(ctx context.Context, cas CAS, name, data []byte) (cid.Cid, error) {
	id, err := cas.Put(ctx, data)
	if err != nil {
		return cid.Undef, err
	}
	got, err := cidutil.NameFromCID(id)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	if !bytes.Equal(got, name) {
		return cid.Undef, ErrCIDMismatch
	}
	return id, nil
}

// GetNamed fetches the block whose passport name is name.
func GetNamed(ctx context.Context, cas CAS, name []byte) ([]byte, error) {
	id, err := cidutil.CIDFromName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return cas.Get(ctx, id)
}
