package kvstore

// Table prefixes, one byte each, covering every persisted table this
// store holds.
const (
	PrefixHeaderByHash   byte = 0x01 // hash(32) -> bare header + height + dup-id
	PrefixHeightToDup    byte = 0x02 // height(3) -> dup-id(1) [valid dup at that height]
	PrefixStoredTx       byte = 0x03 // tx-key(6) -> StoredTx
	PrefixStoredTxOut    byte = 0x04 // txout-key(8) -> StoredTxOut
	PrefixStoredBlockHdr byte = 0x05 // block-key(4) -> StoredBlockHeader
	PrefixSDBI           byte = 0x06 // fixed key -> sync-state row
	PrefixScriptHistory  byte = 0x07 // script-key -> StoredScriptHistory
	PrefixScriptSubHist  byte = 0x08 // script-key ∥ sub-key -> StoredSubHistory
	PrefixSpentTxOut     byte = 0x09 // STXO archive: txout-key -> archived StoredTxOut
	PrefixMissingBlocks  byte = 0x0A // block hash -> empty, pending re-fetch
	PrefixUndoRecord     byte = 0x0B // block-key(4) -> serialized UndoRecord
	PrefixTxHashToKey    byte = 0x0C // tx hash(32) -> tx-key(6), resolves spends by txid
)

// AllTablePrefixes lists every prefix above, used to wipe the whole
// store on a forced rebuild.
var AllTablePrefixes = []byte{
	PrefixHeaderByHash,
	PrefixHeightToDup,
	PrefixStoredTx,
	PrefixStoredTxOut,
	PrefixStoredBlockHdr,
	PrefixSDBI,
	PrefixScriptHistory,
	PrefixScriptSubHist,
	PrefixSpentTxOut,
	PrefixMissingBlocks,
	PrefixUndoRecord,
	PrefixTxHashToKey,
}

// SDBIKey is the single fixed row holding the sync cursors: top header
// height, top raw-block height, applied-to height, and top scanned
// block hash.
var SDBIKey = []byte{PrefixSDBI}

func WithPrefix(prefix byte, rest ...[]byte) []byte {
	n := 1
	for _, r := range rest {
		n += len(r)
	}
	out := make([]byte, 0, n)
	out = append(out, prefix)
	for _, r := range rest {
		out = append(out, r...)
	}
	return out
}
