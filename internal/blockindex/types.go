// Package blockindex handles batched application of parsed blocks to
// the key-value store (script-history, stored-tx, stored-txout rows),
// idempotent reapply, and block undo on reorg.
package blockindex

import (
	"encoding/binary"

	"github.com/blockvault/walletd/internal/chainmodel"
)

// StoredBlockHeader is the per-block bookkeeping row keyed by BlockKey:
// where the raw block lives on disk, how many tx it has, and whether
// it has been applied to the index yet.
type StoredBlockHeader struct {
	FileOrdinal uint32
	FileOffset  uint64
	NumTx       uint32
	Applied     bool
}

func (h StoredBlockHeader) Serialize() []byte {
	buf := make([]byte, 0, 17)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], h.FileOrdinal)
	buf = append(buf, u32[:]...)
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], h.FileOffset)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint32(u32[:], h.NumTx)
	buf = append(buf, u32[:]...)
	if h.Applied {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func DeserializeStoredBlockHeader(data []byte) (StoredBlockHeader, error) {
	if len(data) != 17 {
		return StoredBlockHeader{}, ErrCorruptRow
	}
	return StoredBlockHeader{
		FileOrdinal: binary.BigEndian.Uint32(data[0:4]),
		FileOffset:  binary.BigEndian.Uint64(data[4:12]),
		NumTx:       binary.BigEndian.Uint32(data[12:16]),
		Applied:     data[16] != 0,
	}, nil
}

// StoredTx is the raw transaction plus its hash; its block is given by
// the TxKey the row is stored under.
type StoredTx struct {
	TxHash chainmodel.Hash
	Raw    []byte
}

func (t StoredTx) Serialize() []byte {
	buf := make([]byte, 0, 32+len(t.Raw))
	buf = append(buf, t.TxHash[:]...)
	buf = append(buf, t.Raw...)
	return buf
}

func DeserializeStoredTx(data []byte) (StoredTx, error) {
	if len(data) < 32 {
		return StoredTx{}, ErrCorruptRow
	}
	var t StoredTx
	copy(t.TxHash[:], data[:32])
	t.Raw = append([]byte(nil), data[32:]...)
	return t, nil
}

// StoredTxOut is one output plus its spend state. SpentByTxKey is the
// zero value when unspent; otherwise it must point at a tx that
// actually references the output.
type StoredTxOut struct {
	Value        int64
	PkScript     []byte
	SpentByTxKey chainmodel.TxKey
	IsSpent      bool
}

func (o StoredTxOut) Serialize() []byte {
	buf := make([]byte, 0, 8+2+len(o.PkScript)+6+1)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(o.Value))
	buf = append(buf, v[:]...)
	var scriptLen [2]byte
	binary.BigEndian.PutUint16(scriptLen[:], uint16(len(o.PkScript)))
	buf = append(buf, scriptLen[:]...)
	buf = append(buf, o.PkScript...)
	buf = append(buf, o.SpentByTxKey.Bytes()...)
	if o.IsSpent {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func DeserializeStoredTxOut(data []byte) (StoredTxOut, error) {
	if len(data) < 8+2 {
		return StoredTxOut{}, ErrCorruptRow
	}
	value := int64(binary.BigEndian.Uint64(data[0:8]))
	scriptLen := binary.BigEndian.Uint16(data[8:10])
	off := 10
	if len(data) < off+int(scriptLen)+6+1 {
		return StoredTxOut{}, ErrCorruptRow
	}
	pkScript := append([]byte(nil), data[off:off+int(scriptLen)]...)
	off += int(scriptLen)
	var txKey chainmodel.TxKey
	copy(txKey[:], data[off:off+6])
	off += 6
	isSpent := data[off] != 0
	return StoredTxOut{
		Value:        value,
		PkScript:     pkScript,
		SpentByTxKey: txKey,
		IsSpent:      isSpent,
	}, nil
}

// UndoRecord records everything applyBlockToDB changed, so
// undoBlockFromDB can reverse it exactly.
type UndoRecord struct {
	// StxOutsRemovedByBlock are outputs this block marked spent; undo
	// clears their spent pointer and re-credits the owning SSH.
	StxOutsRemovedByBlock []UndoSpend
	// OutPointsAddedByBlock are outputs this block created; undo
	// deletes their SSH tx-io entries and decrements totals.
	OutPointsAddedByBlock []chainmodel.TxOutKey
}

type UndoSpend struct {
	TxOutKey     chainmodel.TxOutKey
	PrevSpentKey chainmodel.TxKey
}
