package locator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	rec := Record{Name: []byte("mid-name"), Value: []byte("rid"), Signature: []byte("sig")}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, rec.Name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(rec) {
		t.Fatalf("Get = %+v, want %+v", got, rec)
	}
	if got.UpdatedAt.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("UpdatedAt = %v", got.UpdatedAt)
	}

	rec.Value = []byte("rid2")
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put (replace): %v", err)
	}
	got, err = s.Get(ctx, rec.Name)
	if err != nil || string(got.Value) != "rid2" {
		t.Fatalf("replaced value = %q, %v", got.Value, err)
	}
	if n, err := s.Len(ctx); err != nil || n != 1 {
		t.Fatalf("Len = %d, %v", n, err)
	}

	if err := s.Delete(ctx, rec.Name); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, rec.Name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if err := s.Delete(ctx, rec.Name); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestPutRejectsIncompleteRecords(t *testing.T) {
	s := openMemory(t)
	for _, rec := range []Record{
		{Value: []byte("v"), Signature: []byte("s")},
		{Name: []byte("n"), Signature: []byte("s")},
		{Name: []byte("n"), Value: []byte("v")},
	} {
		if err := s.Put(context.Background(), rec); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Put(%+v) = %v, want ErrInvalid", rec, err)
		}
	}
}

func TestOpenFilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "locator.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := Record{Name: []byte("n"), Value: []byte("v"), Signature: []byte("s")}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, rec.Name)
	if err != nil || !got.Equal(rec) {
		t.Fatalf("Get after reopen = %+v, %v", got, err)
	}
}
