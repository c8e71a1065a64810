package blockindex

import (
	"encoding/binary"

	"github.com/blockvault/walletd/internal/chainmodel"
)

// StoredScriptHistory holds the running totals for one tracked script.
// The per-height detail lives in sharded StoredSubHistory rows so a
// high-activity script's full history is never materialized at once.
type StoredScriptHistory struct {
	TotalUnspent  int64
	TotalReceived int64
	TxioCount     uint32
}

func (h StoredScriptHistory) Serialize() []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.TotalUnspent))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.TotalReceived))
	binary.BigEndian.PutUint32(buf[16:20], h.TxioCount)
	return buf
}

func DeserializeStoredScriptHistory(data []byte) (StoredScriptHistory, error) {
	if len(data) != 20 {
		return StoredScriptHistory{}, ErrCorruptRow
	}
	return StoredScriptHistory{
		TotalUnspent:  int64(binary.BigEndian.Uint64(data[0:8])),
		TotalReceived: int64(binary.BigEndian.Uint64(data[8:16])),
		TxioCount:     binary.BigEndian.Uint32(data[16:20]),
	}, nil
}

// TxioFlags are the per-entry booleans tracked alongside each tx-io
// pair.
type TxioFlags uint8

const (
	TxioCoinbase    TxioFlags = 1 << 0
	TxioFromSelf    TxioFlags = 1 << 1
	TxioMainBranch  TxioFlags = 1 << 2
)

// TxioPair is one output (always present) and, once spent, the input
// that spent it.
type TxioPair struct {
	OutKey  chainmodel.TxOutKey
	InKey   chainmodel.TxKey // zero value until spent
	HasIn   bool
	Value   int64
	Flags   TxioFlags
}

func (p TxioPair) Serialize() []byte {
	buf := make([]byte, 0, 8+6+1+8+1)
	buf = append(buf, p.OutKey.Bytes()...)
	buf = append(buf, p.InKey.Bytes()...)
	if p.HasIn {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(p.Value))
	buf = append(buf, v[:]...)
	buf = append(buf, byte(p.Flags))
	return buf
}

func DeserializeTxioPair(data []byte) (TxioPair, error) {
	if len(data) != 8+6+1+8+1 {
		return TxioPair{}, ErrCorruptRow
	}
	var p TxioPair
	copy(p.OutKey[:], data[0:8])
	copy(p.InKey[:], data[8:14])
	p.HasIn = data[14] != 0
	p.Value = int64(binary.BigEndian.Uint64(data[15:23]))
	p.Flags = TxioFlags(data[23])
	return p, nil
}

// StoredSubHistory is one shard of a script's history, keyed by a
// sub-key (here: the 3-byte block height, giving one shard per block a
// script appears in).
type StoredSubHistory struct {
	Txios []TxioPair
}

func (h StoredSubHistory) Serialize() []byte {
	buf := make([]byte, 0, len(h.Txios)*24)
	for _, p := range h.Txios {
		buf = append(buf, p.Serialize()...)
	}
	return buf
}

func DeserializeStoredSubHistory(data []byte) (StoredSubHistory, error) {
	const entrySize = 24
	if len(data)%entrySize != 0 {
		return StoredSubHistory{}, ErrCorruptRow
	}
	var h StoredSubHistory
	for off := 0; off < len(data); off += entrySize {
		p, err := DeserializeTxioPair(data[off : off+entrySize])
		if err != nil {
			return StoredSubHistory{}, err
		}
		h.Txios = append(h.Txios, p)
	}
	return h, nil
}

// SubKeyForHeight derives the sub-history shard key for a given block
// height: one shard per height keeps undo cheap (a block's own shard
// can be dropped wholesale) at the cost of more, smaller rows.
func SubKeyForHeight(height uint32) [3]byte {
	return [3]byte{byte(height >> 16), byte(height >> 8), byte(height)}
}

func scriptHistoryKey(script chainmodel.ScriptKey) []byte {
	return append([]byte{}, script.Bytes()...)
}

func scriptSubHistoryKey(script chainmodel.ScriptKey, subKey [3]byte) []byte {
	out := make([]byte, 0, len(script)+3)
	out = append(out, script.Bytes()...)
	out = append(out, subKey[:]...)
	return out
}
