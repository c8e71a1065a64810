package blockindex

import (
	"bytes"
	"sync"

	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/chainstore"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/logging"
	"github.com/btcsuite/btcd/wire"
)

// Index is the central write engine: it owns the single long-lived
// write batch every mutating operation funnels through.
type Index struct {
	mu sync.Mutex

	kv    *kvstore.Store
	wb    *kvstore.WriteBatch
	chain *chainstore.ChainStore

	filter ScriptFilter

	appliedToHeight uint32
}

func New(kv *kvstore.Store, wb *kvstore.WriteBatch, chain *chainstore.ChainStore, filter ScriptFilter) *Index {
	if filter == nil {
		filter = AlwaysTracks{}
	}
	return &Index{kv: kv, wb: wb, chain: chain, filter: filter}
}

func (idx *Index) AppliedToHeight() uint32 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.appliedToHeight
}

// GetTxOut resolves a confirmed output's pkScript/value by txid/index,
// for wiring mempool's resolvePrevOut against confirmed spends.
func (idx *Index) GetTxOut(hash chainmodel.Hash, index uint32) ([]byte, int64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	txKey, ok, err := idx.lookupTxKey(hash)
	if err != nil || !ok {
		return nil, 0, false
	}
	out, err := idx.getStoredTxOut(chainmodel.NewTxOutKey(txKey, uint16(index)))
	if err != nil {
		return nil, 0, false
	}
	return out.PkScript, out.Value, true
}

// PruneSpentOutputs archives every StoredTxOut below belowHeight that is
// already marked spent into the compact PrefixSpentTxOut table, then
// drops the full row (script + spend pointer) from PrefixStoredTxOut.
// Pruning only ever touches already-spent, already-applied history, so
// it never needs to consult the undo log. Safe to call repeatedly; rows
// archived on a prior call are simply absent from the scan.
func (idx *Index) PruneSpentOutputs(belowHeight uint32) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	snap := idx.kv.NewSnapshot()
	defer snap.Close()

	type doomed struct {
		key chainmodel.TxOutKey
		out StoredTxOut
	}
	var toArchive []doomed

	err := snap.IteratePrefix([]byte{kvstore.PrefixStoredTxOut}, func(key, value []byte) bool {
		if len(key) != 1+len(chainmodel.TxOutKey{}) {
			return true
		}
		var tok chainmodel.TxOutKey
		copy(tok[:], key[1:])
		if tok.TxKey().BlockKey().Height() >= belowHeight {
			return true
		}
		out, decErr := DeserializeStoredTxOut(value)
		if decErr != nil || !out.IsSpent {
			return true
		}
		toArchive = append(toArchive, doomed{key: tok, out: out})
		return true
	})
	if err != nil {
		return 0, err
	}

	for _, d := range toArchive {
		archived := StoredTxOut{Value: d.out.Value, SpentByTxKey: d.out.SpentByTxKey, IsSpent: true}
		if err := idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixSpentTxOut, d.key.Bytes()), archived.Serialize()); err != nil {
			return 0, err
		}
		if err := idx.wb.Delete(kvstore.WithPrefix(kvstore.PrefixStoredTxOut, d.key.Bytes())); err != nil {
			return 0, err
		}
	}
	if err := idx.wb.Flush(); err != nil {
		return 0, err
	}
	return len(toArchive), nil
}

// HasRawBlock reports whether a StoredBlockHeader row exists for
// height/dup, i.e. whether AddRawBlock has already ingested that
// block. Used by the initial-sync driver's findFirstUnappliedBlock
// walk.
func (idx *Index) HasRawBlock(height uint32, dup uint8) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bk := chainmodel.NewBlockKey(height, dup)
	_, err := idx.getStoredBlockHeader(bk)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetAppliedToHeight seeds the in-memory applied-height counter from a
// persisted cursor at sync startup, before any ApplyBlockToDB call.
func (idx *Index) SetAppliedToHeight(height uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.appliedToHeight = height
}

// AddRawBlock parses payload as a full block, records its on-disk
// location and writes StoredBlockHeader/StoredTx/StoredTxOut rows. It
// does not apply the block to the SSH index — that is ApplyBlockToDB's
// job. Missing or corrupt tx data is tolerated if the header is
// already known: the block's hash is recorded for later re-fetch
// instead of failing the whole ingest.
func (idx *Index) AddRawBlock(payload []byte, fileOrdinal uint32, fileOffset uint64) (chainmodel.Hash, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var msgBlock wire.MsgBlock
	if err := msgBlock.Deserialize(bytes.NewReader(payload)); err != nil {
		var wh wire.BlockHeader
		if herr := wh.Deserialize(bytes.NewReader(payload)); herr == nil {
			badHash := chainmodel.Hash(wh.BlockHash())
			if _, known := idx.chain.HeaderByHash(badHash); known {
				logging.L.Warn().Err(err).Str("block", badHash.String()).Msg("failed to deserialize raw block, recording as missing")
				if perr := idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixMissingBlocks, badHash[:]), []byte{}); perr != nil {
					return badHash, perr
				}
				if ferr := idx.wb.Flush(); ferr != nil {
					return badHash, ferr
				}
				return badHash, err
			}
		}
		logging.L.Warn().Err(err).Msg("failed to deserialize raw block")
		return chainmodel.Hash{}, err
	}

	blockHash := chainmodel.Hash(msgBlock.BlockHash())

	hdr, ok := idx.chain.HeaderByHash(blockHash)
	if !ok {
		h := &chainstore.Header{Wire: msgBlock.Header}
		added, err := idx.chain.AddBlock(blockHash, h)
		if err != nil {
			return blockHash, err
		}
		hdr = added
	}
	hdr.FileNum = fileOrdinal
	hdr.FileOffset = fileOffset
	hdr.Size = uint32(len(payload))
	hdr.NumTx = uint32(len(msgBlock.Transactions))

	bk := chainmodel.NewBlockKey(hdr.Height, hdr.DupID)

	for txIndex, tx := range msgBlock.Transactions {
		txKey := chainmodel.NewTxKey(bk, uint16(txIndex))
		var raw bytes.Buffer
		if err := tx.Serialize(&raw); err != nil {
			return blockHash, err
		}
		txHash := chainmodel.Hash(tx.TxHash())
		st := StoredTx{TxHash: txHash, Raw: raw.Bytes()}
		if err := idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixStoredTx, txKey.Bytes()), st.Serialize()); err != nil {
			return blockHash, err
		}
		if err := idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixTxHashToKey, txHash[:]), txKey.Bytes()); err != nil {
			return blockHash, err
		}

		for outIdx, out := range tx.TxOut {
			outKey := chainmodel.NewTxOutKey(txKey, uint16(outIdx))
			sto := StoredTxOut{Value: out.Value, PkScript: out.PkScript}
			if err := idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixStoredTxOut, outKey.Bytes()), sto.Serialize()); err != nil {
				return blockHash, err
			}
		}
	}

	sbh := StoredBlockHeader{FileOrdinal: fileOrdinal, FileOffset: fileOffset, NumTx: hdr.NumTx}
	if err := idx.putStoredBlockHeader(bk, sbh); err != nil {
		return blockHash, err
	}

	return blockHash, idx.wb.Flush()
}

// ApplyBlockToDB applies the block at (height, dup) to the SSH index.
// It is idempotent: if the stored block is already marked applied,
// this is a no-op.
func (idx *Index) ApplyBlockToDB(height uint32, dup uint8) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	bk := chainmodel.NewBlockKey(height, dup)
	sbh, err := idx.getStoredBlockHeader(bk)
	if err != nil {
		return err
	}
	if sbh.Applied {
		return nil
	}

	undo := &UndoRecord{}

	for txIndex := uint16(0); txIndex < uint16(sbh.NumTx); txIndex++ {
		txKey := chainmodel.NewTxKey(bk, txIndex)
		st, err := idx.getStoredTx(txKey)
		if err != nil {
			return err
		}

		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(st.Raw)); err != nil {
			logging.L.Warn().Err(err).Str("tx", st.TxHash.String()).Msg("skipping corrupt stored tx during apply")
			continue
		}

		isCoinbase := txIndex == 0
		if !isCoinbase {
			for _, in := range tx.TxIn {
				prevHash := chainmodel.Hash(in.PreviousOutPoint.Hash)
				prevTxKey, ok, err := idx.lookupTxKey(prevHash)
				if err != nil {
					return err
				}
				if !ok {
					continue // prevout outside our index; nothing to mark
				}
				prevOutKey := chainmodel.NewTxOutKey(prevTxKey, uint16(in.PreviousOutPoint.Index))
				prevOut, err := idx.getStoredTxOut(prevOutKey)
				if err != nil {
					continue
				}

				spend := UndoSpend{TxOutKey: prevOutKey, PrevSpentKey: prevOut.SpentByTxKey}
				prevOut.SpentByTxKey = txKey
				prevOut.IsSpent = true
				if err := idx.putStoredTxOut(prevOutKey, prevOut); err != nil {
					return err
				}
				undo.StxOutsRemovedByBlock = append(undo.StxOutsRemovedByBlock, spend)

				if idx.filter.Tracks(prevOut.PkScript) {
					if err := idx.markTxioSpent(prevOut.PkScript, prevOutKey, txKey, prevOut.Value); err != nil {
						return err
					}
				}
			}
		}

		for outIdx, out := range tx.TxOut {
			if !idx.filter.Tracks(out.PkScript) {
				continue
			}
			outKey := chainmodel.NewTxOutKey(txKey, uint16(outIdx))
			if err := idx.creditTxio(out.PkScript, outKey, out.Value, isCoinbase); err != nil {
				return err
			}
			undo.OutPointsAddedByBlock = append(undo.OutPointsAddedByBlock, outKey)
		}
	}

	if err := idx.putUndoRecord(bk, undo); err != nil {
		return err
	}

	sbh.Applied = true
	if err := idx.putStoredBlockHeader(bk, sbh); err != nil {
		return err
	}

	if height > idx.appliedToHeight || (height == idx.appliedToHeight+1) {
		idx.appliedToHeight = height
	}

	return idx.wb.Flush()
}

// UndoBlockFromDB reverses ApplyBlockToDB using the block's persisted
// UndoRecord: restores every output this block spent and removes every
// SSH entry this block created.
func (idx *Index) UndoBlockFromDB(height uint32, dup uint8) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	bk := chainmodel.NewBlockKey(height, dup)
	undo, err := idx.getUndoRecord(bk)
	if err != nil {
		return err
	}

	for _, spend := range undo.StxOutsRemovedByBlock {
		out, err := idx.getStoredTxOut(spend.TxOutKey)
		if err != nil {
			logging.L.Error().Err(err).Msg("undo: prevout vanished, index is inconsistent")
			return ErrUndoMissingPrevOut
		}
		out.SpentByTxKey = spend.PrevSpentKey
		out.IsSpent = spend.PrevSpentKey != (chainmodel.TxKey{})
		if err := idx.putStoredTxOut(spend.TxOutKey, out); err != nil {
			return err
		}
		if idx.filter.Tracks(out.PkScript) {
			if err := idx.unmarkTxioSpent(out.PkScript, spend.TxOutKey, out.Value); err != nil {
				return err
			}
		}
	}

	for _, outKey := range undo.OutPointsAddedByBlock {
		out, err := idx.getStoredTxOut(outKey)
		if err != nil {
			continue
		}
		if idx.filter.Tracks(out.PkScript) {
			if err := idx.removeTxio(out.PkScript, outKey, out.Value); err != nil {
				return err
			}
		}
	}

	sbh, err := idx.getStoredBlockHeader(bk)
	if err != nil {
		return err
	}
	sbh.Applied = false
	if err := idx.putStoredBlockHeader(bk, sbh); err != nil {
		return err
	}
	if err := idx.deleteUndoRecord(bk); err != nil {
		return err
	}

	if height > 0 {
		idx.appliedToHeight = height - 1
	} else {
		idx.appliedToHeight = 0
	}

	return idx.wb.Flush()
}

// SubHistoryRange returns every tx-io pair recorded for script at a
// height within [start, end], read directly off the per-height shards.
// Iterating the script's own sub-history prefix touches only heights
// that actually wrote a row, rather than probing every height in the
// range.
func (idx *Index) SubHistoryRange(script chainmodel.ScriptKey, start, end uint32) ([]TxioPair, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	snap := idx.kv.NewSnapshot()
	defer snap.Close()

	var out []TxioPair
	prefix := kvstore.WithPrefix(kvstore.PrefixScriptSubHist, script.Bytes())
	err := snap.IteratePrefix(prefix, func(key, value []byte) bool {
		if len(key) < 3 {
			return true
		}
		suffix := key[len(key)-3:]
		height := uint32(suffix[0])<<16 | uint32(suffix[1])<<8 | uint32(suffix[2])
		if height < start || height > end {
			return true
		}
		sub, derr := DeserializeStoredSubHistory(value)
		if derr != nil {
			logging.L.Err(derr).Str("script", script.String()).Msg("skipping corrupt sub-history row")
			return true
		}
		out = append(out, sub.Txios...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScriptActivityCounts returns the number of tx-io events script had at
// each height it appears at, the per-height summary
// HistoryPager.MapHistory accumulates to rebuild page boundaries.
// Len(shard.Txios) at a given height's sub-key is exactly that height's
// event count.
func (idx *Index) ScriptActivityCounts(script chainmodel.ScriptKey) (map[uint32]int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	snap := idx.kv.NewSnapshot()
	defer snap.Close()

	counts := make(map[uint32]int)
	prefix := kvstore.WithPrefix(kvstore.PrefixScriptSubHist, script.Bytes())
	err := snap.IteratePrefix(prefix, func(key, value []byte) bool {
		if len(key) < 3 {
			return true
		}
		suffix := key[len(key)-3:]
		height := uint32(suffix[0])<<16 | uint32(suffix[1])<<8 | uint32(suffix[2])
		sub, derr := DeserializeStoredSubHistory(value)
		if derr != nil {
			logging.L.Err(derr).Str("script", script.String()).Msg("skipping corrupt sub-history row")
			return true
		}
		counts[height] = len(sub.Txios)
		return true
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// MinedTxSummary collects the hashes confirmed and the previous
// outpoints spent across [from, to] on the current main chain, used
// to reconcile the mempool against a newly applied range. It reads
// StoredTx rows AddRawBlock already wrote, so it costs no extra
// block parsing.
func (idx *Index) MinedTxSummary(from, to uint32) (mined []chainmodel.Hash, spent map[chainmodel.Hash][]uint32, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	spent = make(map[chainmodel.Hash][]uint32)

	for height := from; height <= to; height++ {
		hdr, ok := idx.chain.MainBranchAt(height)
		if !ok {
			continue
		}
		bk := chainmodel.NewBlockKey(height, hdr.DupID)
		sbh, err := idx.getStoredBlockHeader(bk)
		if err != nil {
			continue
		}
		for txIndex := uint16(0); txIndex < uint16(sbh.NumTx); txIndex++ {
			txKey := chainmodel.NewTxKey(bk, txIndex)
			st, err := idx.getStoredTx(txKey)
			if err != nil {
				continue
			}
			mined = append(mined, st.TxHash)
			if txIndex == 0 {
				continue // coinbase spends nothing real
			}
			var tx wire.MsgTx
			if err := tx.Deserialize(bytes.NewReader(st.Raw)); err != nil {
				continue
			}
			for _, in := range tx.TxIn {
				prevHash := chainmodel.Hash(in.PreviousOutPoint.Hash)
				spent[prevHash] = append(spent[prevHash], in.PreviousOutPoint.Index)
			}
		}
	}
	return mined, spent, nil
}

// RescanScripts backfills SSH/sub-history rows for scripts that were
// only just registered, by replaying already-ingested blocks in
// [from, to] and crediting/marking-spent exactly as ApplyBlockToDB
// would have, restricted to this script set. It reads the
// StoredTx/StoredTxOut rows AddRawBlock writes unconditionally for
// every block, so no block re-parsing from disk is needed and the main
// scanner's filter is never touched.
func (idx *Index) RescanScripts(scripts [][]byte, from, to uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	targets := make(map[chainmodel.ScriptKey]struct{}, len(scripts))
	for _, s := range scripts {
		targets[chainmodel.NewScriptKey(s)] = struct{}{}
	}

	for height := from; height <= to; height++ {
		hdr, ok := idx.chain.MainBranchAt(height)
		if !ok {
			continue
		}
		bk := chainmodel.NewBlockKey(height, hdr.DupID)
		sbh, err := idx.getStoredBlockHeader(bk)
		if err != nil {
			continue
		}
		if !sbh.Applied {
			continue
		}

		for txIndex := uint16(0); txIndex < uint16(sbh.NumTx); txIndex++ {
			txKey := chainmodel.NewTxKey(bk, txIndex)
			st, err := idx.getStoredTx(txKey)
			if err != nil {
				continue
			}
			var tx wire.MsgTx
			if err := tx.Deserialize(bytes.NewReader(st.Raw)); err != nil {
				continue
			}
			isCoinbase := txIndex == 0

			for outIdx, out := range tx.TxOut {
				script := chainmodel.NewScriptKey(out.PkScript)
				if _, want := targets[script]; !want {
					continue
				}
				outKey := chainmodel.NewTxOutKey(txKey, uint16(outIdx))
				stored, err := idx.getStoredTxOut(outKey)
				if err != nil {
					continue
				}
				if err := idx.creditTxio(out.PkScript, outKey, out.Value, isCoinbase); err != nil {
					return err
				}
				if stored.IsSpent {
					if err := idx.markTxioSpent(out.PkScript, outKey, stored.SpentByTxKey, out.Value); err != nil {
						return err
					}
				}
			}
		}
	}
	return idx.wb.Flush()
}

// Reorganize walks from the old top to the branch point undoing
// blocks, then from the branch point to the new top applying them.
func (idx *Index) Reorganize(state *chainstore.ReorganizationState) error {
	if state == nil {
		return nil
	}

	for cur := state.PrevTop; cur != nil && cur != state.ReorgBranchPoint; {
		if err := idx.UndoBlockFromDB(cur.Height, cur.DupID); err != nil {
			return err
		}
		parent, ok := idx.chain.HeaderByHash(cur.PrevHash())
		if !ok {
			break
		}
		cur = parent
	}

	var path []*chainstore.Header
	for cur := state.NewTop; cur != nil && cur != state.ReorgBranchPoint; {
		path = append(path, cur)
		parent, ok := idx.chain.HeaderByHash(cur.PrevHash())
		if !ok {
			break
		}
		cur = parent
	}
	for i := len(path) - 1; i >= 0; i-- {
		if err := idx.ApplyBlockToDB(path[i].Height, path[i].DupID); err != nil {
			return err
		}
	}
	return nil
}
