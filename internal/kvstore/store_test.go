package kvstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetPutDelete(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := s.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("got %q, want %q", v, "v")
	}

	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	snap := s.NewSnapshot()
	defer snap.Close()

	if err := s.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, err := snap.Get([]byte("k"))
	if err != nil {
		t.Fatalf("snapshot Get: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("snapshot saw %q, want %q", v, "v1")
	}

	live, err := s.Get([]byte("k"))
	if err != nil {
		t.Fatalf("live Get: %v", err)
	}
	if string(live) != "v2" {
		t.Fatalf("live saw %q, want %q", live, "v2")
	}
}

func TestIteratePrefix(t *testing.T) {
	s := openTestStore(t)

	entries := map[string]string{
		string(WithPrefix(0x01, []byte("a"))): "1",
		string(WithPrefix(0x01, []byte("b"))): "2",
		string(WithPrefix(0x02, []byte("c"))): "3",
	}
	for k, v := range entries {
		if err := s.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	snap := s.NewSnapshot()
	defer snap.Close()

	var got []string
	err := snap.IteratePrefix([]byte{0x01}, func(key, value []byte) bool {
		got = append(got, string(value))
		return true
	})
	if err != nil {
		t.Fatalf("IteratePrefix: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries under prefix 0x01, want 2: %v", len(got), got)
	}
}

func TestWriteBatchAutoFlush(t *testing.T) {
	s := openTestStore(t)
	wb := s.NewWriteBatch(16)

	if err := wb.Put([]byte("key-aaaaaaaaaaaaaaaaaaaa"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := s.Get([]byte("key-aaaaaaaaaaaaaaaaaaaa")); err != nil {
		t.Fatalf("expected auto-flush to make write visible, got %v", err)
	}
}

func TestWriteBatchExplicitFlush(t *testing.T) {
	s := openTestStore(t)
	wb := s.NewWriteBatch(1 << 20)

	if err := wb.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wb.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := s.Get([]byte("k")); err != nil {
		t.Fatalf("expected flushed write to be visible, got %v", err)
	}
}
