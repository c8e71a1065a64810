// Package chainmodel holds the compact on-disk key types shared by every
// component that touches the key-value store: chain store, block-index
// writer, address filter, mempool, and wallet group. Keys are fixed-size
// byte arrays that sort in chain order, using a big-endian prefix-key
// layout throughout.
package chainmodel

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is a 32-byte block or transaction identifier, compared byte-wise.
type Hash = chainhash.Hash

// ScriptKey is the canonical byte string identifying an output script.
type ScriptKey string

func NewScriptKey(pkScript []byte) ScriptKey {
	return ScriptKey(pkScript)
}

func (s ScriptKey) Bytes() []byte { return []byte(s) }
func (s ScriptKey) String() string {
	return hex.EncodeToString([]byte(s))
}

// BlockKey is the 4-byte (height, dup-id) pair used to order block-scoped
// rows: height occupies the top 3 bytes, dup-id the low byte.
type BlockKey [4]byte

func NewBlockKey(height uint32, dupID uint8) BlockKey {
	if height > 0xFFFFFF {
		panic("chainmodel: height exceeds 24 bits")
	}
	var k BlockKey
	k[0] = byte(height >> 16)
	k[1] = byte(height >> 8)
	k[2] = byte(height)
	k[3] = dupID
	return k
}

func (k BlockKey) Height() uint32 {
	return uint32(k[0])<<16 | uint32(k[1])<<8 | uint32(k[2])
}

func (k BlockKey) DupID() uint8 { return k[3] }

func (k BlockKey) Bytes() []byte { return k[:] }

// TxKey is the 6-byte (height, dup-id, tx-index) key used for stored
// transactions and for the transaction side of SSH tx-io pairs.
type TxKey [6]byte

func NewTxKey(bk BlockKey, txIndex uint16) TxKey {
	var k TxKey
	copy(k[:4], bk[:])
	binary.BigEndian.PutUint16(k[4:], txIndex)
	return k
}

func (k TxKey) BlockKey() BlockKey {
	var bk BlockKey
	copy(bk[:], k[:4])
	return bk
}

func (k TxKey) TxIndex() uint16 {
	return binary.BigEndian.Uint16(k[4:])
}

func (k TxKey) Bytes() []byte { return k[:] }

func (k TxKey) Less(o TxKey) bool { return bytes.Compare(k[:], o[:]) < 0 }

// TxOutKey is the 8-byte key identifying one output: tx-key ∥ output-index.
type TxOutKey [8]byte

func NewTxOutKey(tk TxKey, outIndex uint16) TxOutKey {
	var k TxOutKey
	copy(k[:6], tk[:])
	binary.BigEndian.PutUint16(k[6:], outIndex)
	return k
}

func (k TxOutKey) TxKey() TxKey {
	var tk TxKey
	copy(tk[:], k[:6])
	return tk
}

func (k TxOutKey) OutIndex() uint16 {
	return binary.BigEndian.Uint16(k[6:])
}

func (k TxOutKey) Bytes() []byte { return k[:] }

func (k TxOutKey) Less(o TxOutKey) bool { return bytes.Compare(k[:], o[:]) < 0 }
