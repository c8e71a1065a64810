// Package blockfile discovers the append-only block files a full node
// writes, frames them into raw block payloads by magic bytes and
// length, and resynchronizes past corruption.
package blockfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/blockvault/walletd/internal/logging"
)

// maxConsecutiveFailures is how many unparseable frames in a row a file
// can produce before the reader gives up on it.
const maxConsecutiveFailures = 4

// Frame is one decoded block payload plus its location, which the
// chain-store/block-index layer needs to persist FileNum/FileOffset on
// the header record.
type Frame struct {
	FileOrdinal uint32
	Offset      uint64
	Payload     []byte
}

// Cursor identifies a resume point: the next frame to read starts at
// (FileOrdinal, Offset).
type Cursor struct {
	FileOrdinal uint32
	Offset      uint64
}

var ErrNoMagic = errors.New("blockfile: could not find another frame in file")

// FileSet enumerates the block files matching a fixed naming pattern in
// a directory, in ascending ordinal order, stopping at the first
// missing ordinal.
type FileSet struct {
	Dir      string
	Pattern  string // fmt-style pattern with one %05d-style verb
	Files    []FileInfo
}

type FileInfo struct {
	Ordinal uint32
	Path    string
	Size    int64
}

// Discover scans dir for files named by pattern ("blk%05d.dat" by
// default) starting at ordinal 0 and stopping at the first gap.
func Discover(dir, pattern string) (*FileSet, error) {
	if pattern == "" {
		pattern = "blk%05d.dat"
	}
	fs := &FileSet{Dir: dir, Pattern: pattern}
	for ordinal := uint32(0); ; ordinal++ {
		path := filepath.Join(dir, fmt.Sprintf(pattern, ordinal))
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return nil, err
		}
		fs.Files = append(fs.Files, FileInfo{Ordinal: ordinal, Path: path, Size: info.Size()})
	}
	return fs, nil
}

// Rescan re-reads file sizes for files already in the set and appends
// any newly-created ones, used by the tail-follow path when the node
// rolls to a new block file.
func (fs *FileSet) Rescan() error {
	fresh, err := Discover(fs.Dir, fs.Pattern)
	if err != nil {
		return err
	}
	fs.Files = fresh.Files
	sort.Slice(fs.Files, func(i, j int) bool { return fs.Files[i].Ordinal < fs.Files[j].Ordinal })
	return nil
}

func (fs *FileSet) ByOrdinal(ordinal uint32) (FileInfo, bool) {
	for _, f := range fs.Files {
		if f.Ordinal == ordinal {
			return f, true
		}
	}
	return FileInfo{}, false
}

// Reader streams frames from a FileSet starting at a Cursor, verifying
// the network magic on every frame header and resynchronizing past
// corrupt frames.
type Reader struct {
	fs    *FileSet
	magic [4]byte
	cur   Cursor
}

func NewReader(fs *FileSet, magic [4]byte, start Cursor) *Reader {
	return &Reader{fs: fs, magic: magic, cur: start}
}

func (r *Reader) Cursor() Cursor { return r.cur }

// Next returns the next frame in file order, advancing past files whose
// ordinal is exhausted or irredeemably corrupt. It returns io.EOF when
// the file set has no further data to offer right now (the caller
// should Rescan and retry on the tail-follow path).
func (r *Reader) Next() (*Frame, error) {
	for {
		info, ok := r.fs.ByOrdinal(r.cur.FileOrdinal)
		if !ok {
			return nil, io.EOF
		}

		// Only roll over to the next ordinal once it actually exists on
		// disk; otherwise this is the tail file and an apparent EOF just
		// means the node hasn't appended more data yet.
		_, nextExists := r.fs.ByOrdinal(r.cur.FileOrdinal + 1)

		if int64(r.cur.Offset) >= info.Size {
			if !nextExists {
				return nil, io.EOF
			}
			r.cur = Cursor{FileOrdinal: r.cur.FileOrdinal + 1, Offset: 0}
			continue
		}

		frame, nextOffset, err := r.readOneFromFile(info)
		if err == io.EOF {
			if !nextExists {
				return nil, io.EOF
			}
			r.cur = Cursor{FileOrdinal: r.cur.FileOrdinal + 1, Offset: 0}
			continue
		}
		if err != nil {
			return nil, err
		}
		r.cur.Offset = nextOffset
		frame.FileOrdinal = info.Ordinal
		return frame, nil
	}
}

// readOneFromFile reads exactly one frame starting at r.cur.Offset
// within info, resynchronizing past corrupt frames within that single
// file (never crossing a file boundary mid-resync).
func (r *Reader) readOneFromFile(info FileInfo) (*Frame, uint64, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	if _, err := f.Seek(int64(r.cur.Offset), io.SeekStart); err != nil {
		return nil, 0, err
	}
	br := bufio.NewReaderSize(f, 1<<20)

	offset := r.cur.Offset
	failures := 0

	for {
		frameStart := offset
		size, err := readMagicAndSize(br, r.magic)
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		if err == nil {
			payload := make([]byte, size)
			if _, ferr := io.ReadFull(br, payload); ferr != nil {
				err = ferr
			} else {
				return &Frame{Offset: frameStart, Payload: payload}, frameStart + 8 + uint64(size), nil
			}
		}

		failures++
		logging.L.Warn().
			Str("file", info.Path).
			Uint64("offset", frameStart).
			Err(err).
			Msg("failed to parse block frame")
		if failures >= maxConsecutiveFailures {
			logging.L.Error().
				Str("file", info.Path).
				Msg("giving up on file after repeated unparseable frames")
			return nil, 0, io.EOF
		}

		skipped, serr := scanForMagic(br, r.magic)
		if serr != nil {
			logging.L.Debug().Str("file", info.Path).Msg(ErrNoMagic.Error())
			return nil, 0, io.EOF
		}
		// The failed read consumed 8 bytes and scanForMagic consumed the
		// skipped bytes plus the matched magic, so only the size field is
		// left to read for the frame found at offset.
		offset = frameStart + 8 + skipped
		size, err = readSizeOnly(br)
		if err != nil {
			offset += 8
			continue
		}
		payload := make([]byte, size)
		if _, ferr := io.ReadFull(br, payload); ferr != nil {
			continue
		}
		return &Frame{Offset: offset, Payload: payload}, offset + 8 + uint64(size), nil
	}
}

// readMagicAndSize consumes magic(4) ∥ size(4 LE) and validates the
// magic, returning the declared payload size.
func readMagicAndSize(br *bufio.Reader, magic [4]byte) (uint32, error) {
	var header [8]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return 0, err
	}
	if [4]byte{header[0], header[1], header[2], header[3]} != magic {
		return 0, fmt.Errorf("blockfile: bad magic %x", header[:4])
	}
	return readSizeBytes(header[4:8])
}

// readSizeOnly consumes a bare size(4 LE) field, used right after
// scanForMagic has already consumed the matching magic bytes.
func readSizeOnly(br *bufio.Reader) (uint32, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(br, sizeBuf[:]); err != nil {
		return 0, err
	}
	return readSizeBytes(sizeBuf[:])
}

func readSizeBytes(b []byte) (uint32, error) {
	size := binary.LittleEndian.Uint32(b)
	if size == 0 || size > 32<<20 {
		return 0, fmt.Errorf("blockfile: implausible frame size %d", size)
	}
	return size, nil
}

// scanForMagic advances br byte-by-byte looking for the next occurrence
// of magic. It consumes the matched magic bytes and returns the number
// of bytes skipped before the match (not counting the magic itself).
func scanForMagic(br *bufio.Reader, magic [4]byte) (uint64, error) {
	var window [4]byte
	if _, err := io.ReadFull(br, window[:]); err != nil {
		return 0, err
	}
	var skipped uint64
	for {
		if window == magic {
			return skipped, nil
		}
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		window[0], window[1], window[2], window[3] = window[1], window[2], window[3], b
		skipped++
	}
}
