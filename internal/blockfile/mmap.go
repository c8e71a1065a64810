package blockfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

func openRO(path string) (*os.File, error) {
	return os.Open(path)
}

// MappedFile is a read-only memory-mapped view of one block file, used
// for the bulk-sync path where the whole file is already closed off.
// The tail-follow path uses Reader's buffered streaming instead, since
// the file may still be growing.
type MappedFile struct {
	data []byte
}

func MapFile(path string) (*MappedFile, error) {
	f, err := openRO(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return &MappedFile{data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("blockfile: mmap %s: %w", path, err)
	}
	return &MappedFile{data: data}, nil
}

func (m *MappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	return unix.Munmap(m.data)
}

// FramesFrom iterates every well-formed frame in the mapped file
// starting at byteOffset, calling fn with each frame's starting offset
// and payload slice (a view into the mapping — copy it to retain past
// the callback). It stops at the first corrupt frame and returns how
// far it got, leaving the caller to fall back to Reader's
// resynchronizing path from that point.
func (m *MappedFile) FramesFrom(byteOffset uint64, magic [4]byte, fn func(offset uint64, payload []byte) bool) (uint64, error) {
	off := byteOffset
	for {
		if off+8 > uint64(len(m.data)) {
			return off, io.EOF
		}
		header := m.data[off : off+8]
		if [4]byte{header[0], header[1], header[2], header[3]} != magic {
			return off, nil
		}
		size := binary.LittleEndian.Uint32(header[4:8])
		if size == 0 || size > 32<<20 {
			return off, nil
		}
		payloadStart := off + 8
		payloadEnd := payloadStart + uint64(size)
		if payloadEnd > uint64(len(m.data)) {
			return off, io.EOF
		}
		if !fn(off, m.data[payloadStart:payloadEnd]) {
			return payloadEnd, nil
		}
		off = payloadEnd
	}
}
