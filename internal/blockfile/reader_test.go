package blockfile

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
)

var testMagic = [4]byte{0xfa, 0xbf, 0xb5, 0xda}

func writeFrame(t *testing.T, f *os.File, magic [4]byte, payload []byte) {
	t.Helper()
	if _, err := f.Write(magic[:]); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(payload)))
	if _, err := f.Write(size[:]); err != nil {
		t.Fatalf("write size: %v", err)
	}
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func TestDiscoverStopsAtFirstGap(t *testing.T) {
	dir := t.TempDir()
	for _, ordinal := range []int{0, 1, 3} {
		path := filepath.Join(dir, blkName(ordinal))
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	fs, err := Discover(dir, "")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(fs.Files) != 2 {
		t.Fatalf("expected discovery to stop at the gap after ordinal 1, got %d files", len(fs.Files))
	}
}

func blkName(ordinal int) string {
	return "blk" + pad5(ordinal) + ".dat"
}

func pad5(n int) string {
	s := ""
	for i := 0; i < 5; i++ {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}

func TestReaderFramesTwoBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blk00000.dat")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	writeFrame(t, f, testMagic, []byte("first-block-payload"))
	writeFrame(t, f, testMagic, []byte("second-block-payload"))
	f.Close()

	fs, err := Discover(dir, "")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	r := NewReader(fs, testMagic, Cursor{})

	frame1, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(frame1.Payload) != "first-block-payload" {
		t.Fatalf("got %q", frame1.Payload)
	}

	frame2, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(frame2.Payload) != "second-block-payload" {
		t.Fatalf("got %q", frame2.Payload)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of single-file set, got %v", err)
	}
}

func TestReaderResyncsPastCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blk00000.dat")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	writeFrame(t, f, testMagic, []byte("good-block-one"))
	// garbage that is not a valid frame header at all
	f.Write([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77})
	writeFrame(t, f, testMagic, []byte("good-block-two"))
	f.Close()

	fs, err := Discover(dir, "")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	r := NewReader(fs, testMagic, Cursor{})

	frame1, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(frame1.Payload) != "good-block-one" {
		t.Fatalf("got %q", frame1.Payload)
	}

	frame2, err := r.Next()
	if err != nil {
		t.Fatalf("Next after corruption: %v", err)
	}
	if string(frame2.Payload) != "good-block-two" {
		t.Fatalf("got %q, want resync to find good-block-two", frame2.Payload)
	}
}

func TestReaderGivesUpOnFileWithNoMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blk00000.dat")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// No valid magic anywhere in the file.
	f.Write(make([]byte, 256))
	f.Close()

	fs, err := Discover(dir, "")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	r := NewReader(fs, testMagic, Cursor{})

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF once the file is given up on, got %v", err)
	}
}

func TestMapFileFramesFrom(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blk00000.dat")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	writeFrame(t, f, testMagic, []byte("alpha"))
	writeFrame(t, f, testMagic, []byte("beta"))
	f.Close()

	m, err := MapFile(path)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	defer m.Close()

	var got []string
	_, err = m.FramesFrom(0, testMagic, func(offset uint64, payload []byte) bool {
		got = append(got, string(payload))
		return true
	})
	if err != io.EOF {
		t.Fatalf("expected io.EOF at end of mapping, got %v", err)
	}
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("got %v", got)
	}
}
