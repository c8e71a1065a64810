// Package chainstore implements an in-memory header graph keyed by
// hash, a best-chain computation, reorg detection, and a persisted
// header table with height→duplicate-id disambiguation.
package chainstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
)

// ErrCorruptHeader is returned when a persisted header row is shorter
// than the fixed 85-byte bare-header layout.
var ErrCorruptHeader = errors.New("chainstore: corrupt header row")

// Header is one seen block header plus everything chainstore derives
// about it. It is mutated only to set Height/DupID/FileNum/Offset/Size
// and IsMainBranch — never its wire fields.
type Header struct {
	Wire wire.BlockHeader

	Hash chainmodel.Hash

	Height       uint32
	DupID        uint8
	FileNum      uint32
	FileOffset   uint64
	Size         uint32
	NumTx        uint32
	IsMainBranch bool
}

func (h *Header) PrevHash() chainmodel.Hash { return h.Wire.PrevBlock }

// Work returns this header's contribution to cumulative chain work,
// using the standard difficulty-to-work conversion. This is not a
// consensus validity check — chainstore never validates proof-of-work,
// it only orders chains by it.
func (h *Header) Work() *big.Int {
	return blockchain.CalcWork(h.Wire.Bits)
}

// SerializeBare encodes the header the way it is persisted: 80 raw wire
// bytes followed by height(4) and dup-id(1).
func (h *Header) SerializeBare() ([]byte, error) {
	var buf bytes.Buffer
	if err := h.Wire.Serialize(&buf); err != nil {
		return nil, err
	}
	var heightBuf [4]byte
	binary.BigEndian.PutUint32(heightBuf[:], h.Height)
	buf.Write(heightBuf[:])
	buf.WriteByte(h.DupID)
	return buf.Bytes(), nil
}

func DeserializeBare(hash chainmodel.Hash, data []byte) (*Header, error) {
	if len(data) < 85 {
		return nil, ErrCorruptHeader
	}
	var wh wire.BlockHeader
	if err := wh.Deserialize(bytes.NewReader(data[:80])); err != nil {
		return nil, err
	}
	h := &Header{
		Wire:   wh,
		Hash:   hash,
		Height: binary.BigEndian.Uint32(data[80:84]),
		DupID:  data[84],
	}
	return h, nil
}
