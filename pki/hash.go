package pki

import (
	"github.com/multiformats/go-multihash"
)

// HashCode is the multihash function backing Hash.
const HashCode = multihash.SHA2_512

// HashSize is the length of a Hash digest in bytes.
const HashSize = 64

// Hash returns the SHA-512 digest of the concatenation of parts.
//
// Packet names are Hash outputs, so the raw digest (without the multihash
// prefix) is what callers compare against.
func Hash(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	mh, err := multihash.Sum(buf, HashCode, -1)
	if err != nil {
		// sha2-512 is a core multihash function; Sum cannot fail for it.
		panic("pki: sha2-512 multihash unavailable: " + err.Error())
	}
	dec, err := multihash.Decode(mh)
	if err != nil {
		panic("pki: decode multihash: " + err.Error())
	}
	return dec.Digest
}

// Multihash wraps a Hash digest in its multihash encoding.
func Multihash(digest []byte) (multihash.Multihash, error) {
	return multihash.Encode(digest, HashCode)
}
