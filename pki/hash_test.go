package pki

import (
	"bytes"
	"crypto/sha512"
	"testing"

	"github.com/multiformats/go-multihash"
)

func TestHashIsSHA512OfConcatenation(t *testing.T) {
	want := sha512.Sum512([]byte("alice71111"))
	got := Hash([]byte("alice7"), []byte("1111"))
	if !bytes.Equal(got, want[:]) {
		t.Fatalf("Hash mismatch")
	}
	if len(got) != HashSize {
		t.Fatalf("unexpected digest size %d", len(got))
	}
}

func TestMultihashWrapsDigest(t *testing.T) {
	digest := Hash([]byte("x"))
	mh, err := Multihash(digest)
	if err != nil {
		t.Fatalf("Multihash: %v", err)
	}
	dec, err := multihash.Decode(mh)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Code != multihash.SHA2_512 || !bytes.Equal(dec.Digest, digest) {
		t.Fatalf("unexpected multihash %+v", dec)
	}
}
