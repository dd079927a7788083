// Package testkit holds conformance checks shared by storage.CAS backends.
package testkit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/passport/cidutil"
	"xdao.co/passport/storage"
)

// NewCAS constructs a fresh, empty CAS for one subtest.
type NewCAS func(t *testing.T) storage.CAS

// RunCASConformance checks the storage.CAS contract against newCAS.
func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte("sealed session block")

		id, err := cas.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.CIDv1RawSHA512CID(want)
		if err != nil {
			t.Fatalf("CIDv1RawSHA512CID failed: %v", err)
		}
		if !id.Equals(wantID) {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}

		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same bytes")

		id1, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if !id1.Equals(id2) {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id, err := cidutil.CIDv1RawSHA512CID(b)
		if err != nil {
			t.Fatalf("CIDv1RawSHA512CID failed: %v", err)
		}

		if cas.Has(ctx, id) {
			t.Fatalf("Has returned true for missing CID")
		}
		if _, err := cas.Get(ctx, id); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if _, err := cas.Put(ctx, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !cas.Has(ctx, id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("NamedBlocks", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("tmid value")
		name, err := cidutil.NameFromCID(mustCID(t, b))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := storage.PutNamed(ctx, cas, name, b); err != nil {
			t.Fatalf("PutNamed: %v", err)
		}
		got, err := storage.GetNamed(ctx, cas, name)
		if err != nil || !bytes.Equal(got, b) {
			t.Fatalf("GetNamed = %q, %v", got, err)
		}
		if _, err := storage.PutNamed(ctx, cas, name, []byte("other")); !errors.Is(err, storage.ErrCIDMismatch) {
			t.Fatalf("PutNamed with wrong name: %v", err)
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		var undef cid.Cid
		if cas.Has(ctx, undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := cas.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})
}

func mustCID(t *testing.T, b []byte) cid.Cid {
	t.Helper()
	id, err := cidutil.CIDv1RawSHA512CID(b)
	if err != nil {
		t.Fatal(err)
	}
	return id
}
