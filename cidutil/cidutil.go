// Package cidutil maps passport packet names to content identifiers.
//
// Every CID in this module is CIDv1 with the raw codec and a sha2-512
// multihash, so the digest inside a CID is exactly the passport name
// (pki.Hash) of the bytes it addresses.
package cidutil

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/passport/pki"
)

var ErrNotPassportCID = errors.New("cidutil: cid is not CIDv1 raw sha2-512")

// CIDv1RawSHA512CID returns the CID of data.
func CIDv1RawSHA512CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, pki.HashCode, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// CIDFromName returns the CID whose digest is name.
func CIDFromName(name []byte) (cid.Cid, error) {
	if len(name) != pki.HashSize {
		return cid.Undef, fmt.Errorf("%w: name must be %d bytes, got %d", ErrNotPassportCID, pki.HashSize, len(name))
	}
	mh, err := pki.Multihash(name)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// NameFromCID returns the passport name carried by id.
func NameFromCID(id cid.Cid) ([]byte, error) {
	if !id.Defined() || id.Version() != 1 || id.Type() != cid.Raw {
		return nil, ErrNotPassportCID
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return nil, err
	}
	if dec.Code != pki.HashCode || len(dec.Digest) != pki.HashSize {
		return nil, ErrNotPassportCID
	}
	return dec.Digest, nil
}

// Matches reports whether data hashes to id.
func Matches(id cid.Cid, data []byte) bool {
	got, err := CIDv1RawSHA512CID(data)
	return err == nil && got.Equals(id)
}
