// Package sync implements the initial-sync/catch-up state machine that
// brings the header chain, raw-block store, and applied index up to
// the tip of what's on disk in the block files, then hands off to live
// polling for new blocks.
package sync

import (
	"encoding/binary"
	"errors"

	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/kvstore"
)

// Cursors is the persisted sync-state row.
type Cursors struct {
	TopHeaderHeight    uint32
	TopRawBlockHeight  uint32
	AppliedToHeight    uint32
	TopScannedBlockHash chainmodel.Hash
}

const cursorsLen = 4 + 4 + 4 + 32

func (c Cursors) serialize() []byte {
	buf := make([]byte, cursorsLen)
	binary.BigEndian.PutUint32(buf[0:4], c.TopHeaderHeight)
	binary.BigEndian.PutUint32(buf[4:8], c.TopRawBlockHeight)
	binary.BigEndian.PutUint32(buf[8:12], c.AppliedToHeight)
	copy(buf[12:12+32], c.TopScannedBlockHash[:])
	return buf
}

func deserializeCursors(data []byte) (Cursors, bool) {
	if len(data) != cursorsLen {
		return Cursors{}, false
	}
	var c Cursors
	c.TopHeaderHeight = binary.BigEndian.Uint32(data[0:4])
	c.TopRawBlockHeight = binary.BigEndian.Uint32(data[4:8])
	c.AppliedToHeight = binary.BigEndian.Uint32(data[8:12])
	copy(c.TopScannedBlockHash[:], data[12:12+32])
	return c, true
}

// LoadCursors reads the persisted SDBI row. ok is false when no cursors
// have ever been written.
func LoadCursors(kv *kvstore.Store) (Cursors, bool, error) {
	data, err := kv.Get(kvstore.SDBIKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Cursors{}, false, nil
		}
		return Cursors{}, false, err
	}
	c, ok := deserializeCursors(data)
	return c, ok, nil
}

func saveCursors(wb *kvstore.WriteBatch, c Cursors) error {
	if err := wb.Put(kvstore.SDBIKey, c.serialize()); err != nil {
		return err
	}
	return wb.Flush()
}
