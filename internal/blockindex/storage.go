package blockindex

import (
	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/kvstore"
)

func (idx *Index) getStoredBlockHeader(bk chainmodel.BlockKey) (StoredBlockHeader, error) {
	data, err := idx.kv.Get(kvstore.WithPrefix(kvstore.PrefixStoredBlockHdr, bk.Bytes()))
	if err != nil {
		return StoredBlockHeader{}, err
	}
	return DeserializeStoredBlockHeader(data)
}

func (idx *Index) putStoredBlockHeader(bk chainmodel.BlockKey, sbh StoredBlockHeader) error {
	return idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixStoredBlockHdr, bk.Bytes()), sbh.Serialize())
}

func (idx *Index) getStoredTx(tk chainmodel.TxKey) (StoredTx, error) {
	data, err := idx.kv.Get(kvstore.WithPrefix(kvstore.PrefixStoredTx, tk.Bytes()))
	if err != nil {
		return StoredTx{}, err
	}
	return DeserializeStoredTx(data)
}

func (idx *Index) getStoredTxOut(tok chainmodel.TxOutKey) (StoredTxOut, error) {
	data, err := idx.kv.Get(kvstore.WithPrefix(kvstore.PrefixStoredTxOut, tok.Bytes()))
	if err != nil {
		return StoredTxOut{}, err
	}
	return DeserializeStoredTxOut(data)
}

func (idx *Index) putStoredTxOut(tok chainmodel.TxOutKey, out StoredTxOut) error {
	return idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixStoredTxOut, tok.Bytes()), out.Serialize())
}

func (idx *Index) lookupTxKey(hash chainmodel.Hash) (chainmodel.TxKey, bool, error) {
	data, err := idx.kv.Get(kvstore.WithPrefix(kvstore.PrefixTxHashToKey, hash[:]))
	if err == kvstore.ErrNotFound {
		return chainmodel.TxKey{}, false, nil
	}
	if err != nil {
		return chainmodel.TxKey{}, false, err
	}
	var tk chainmodel.TxKey
	copy(tk[:], data)
	return tk, true, nil
}

func (idx *Index) getUndoRecord(bk chainmodel.BlockKey) (*UndoRecord, error) {
	data, err := idx.kv.Get(kvstore.WithPrefix(kvstore.PrefixUndoRecord, bk.Bytes()))
	if err != nil {
		return nil, err
	}
	return deserializeUndoRecord(data)
}

func (idx *Index) putUndoRecord(bk chainmodel.BlockKey, undo *UndoRecord) error {
	return idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixUndoRecord, bk.Bytes()), serializeUndoRecord(undo))
}

func (idx *Index) deleteUndoRecord(bk chainmodel.BlockKey) error {
	return idx.wb.Delete(kvstore.WithPrefix(kvstore.PrefixUndoRecord, bk.Bytes()))
}

func serializeUndoRecord(u *UndoRecord) []byte {
	buf := make([]byte, 0, 4+len(u.StxOutsRemovedByBlock)*14+4+len(u.OutPointsAddedByBlock)*8)
	putUint32 := func(n uint32) {
		buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	putUint32(uint32(len(u.StxOutsRemovedByBlock)))
	for _, s := range u.StxOutsRemovedByBlock {
		buf = append(buf, s.TxOutKey.Bytes()...)
		buf = append(buf, s.PrevSpentKey.Bytes()...)
	}
	putUint32(uint32(len(u.OutPointsAddedByBlock)))
	for _, o := range u.OutPointsAddedByBlock {
		buf = append(buf, o.Bytes()...)
	}
	return buf
}

func deserializeUndoRecord(data []byte) (*UndoRecord, error) {
	readUint32 := func(b []byte) uint32 {
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	if len(data) < 4 {
		return nil, ErrCorruptRow
	}
	u := &UndoRecord{}
	off := 0
	n := readUint32(data[off : off+4])
	off += 4
	for i := uint32(0); i < n; i++ {
		if off+14 > len(data) {
			return nil, ErrCorruptRow
		}
		var s UndoSpend
		copy(s.TxOutKey[:], data[off:off+8])
		copy(s.PrevSpentKey[:], data[off+8:off+14])
		off += 14
		u.StxOutsRemovedByBlock = append(u.StxOutsRemovedByBlock, s)
	}
	if off+4 > len(data) {
		return nil, ErrCorruptRow
	}
	m := readUint32(data[off : off+4])
	off += 4
	for i := uint32(0); i < m; i++ {
		if off+8 > len(data) {
			return nil, ErrCorruptRow
		}
		var k chainmodel.TxOutKey
		copy(k[:], data[off:off+8])
		off += 8
		u.OutPointsAddedByBlock = append(u.OutPointsAddedByBlock, k)
	}
	return u, nil
}

// --- SSH mutation helpers ---

func (idx *Index) getScriptHistory(script chainmodel.ScriptKey) (StoredScriptHistory, error) {
	data, err := idx.kv.Get(kvstore.WithPrefix(kvstore.PrefixScriptHistory, scriptHistoryKey(script)))
	if err == kvstore.ErrNotFound {
		return StoredScriptHistory{}, nil
	}
	if err != nil {
		return StoredScriptHistory{}, err
	}
	return DeserializeStoredScriptHistory(data)
}

func (idx *Index) putScriptHistory(script chainmodel.ScriptKey, h StoredScriptHistory) error {
	return idx.wb.Put(kvstore.WithPrefix(kvstore.PrefixScriptHistory, scriptHistoryKey(script)), h.Serialize())
}

func (idx *Index) getSubHistory(script chainmodel.ScriptKey, subKey [3]byte) (StoredSubHistory, error) {
	data, err := idx.kv.Get(kvstore.WithPrefix(kvstore.PrefixScriptSubHist, scriptSubHistoryKey(script, subKey)))
	if err == kvstore.ErrNotFound {
		return StoredSubHistory{}, nil
	}
	if err != nil {
		return StoredSubHistory{}, err
	}
	return DeserializeStoredSubHistory(data)
}

func (idx *Index) putSubHistory(script chainmodel.ScriptKey, subKey [3]byte, h StoredSubHistory) error {
	key := kvstore.WithPrefix(kvstore.PrefixScriptSubHist, scriptSubHistoryKey(script, subKey))
	if len(h.Txios) == 0 {
		return idx.wb.Delete(key)
	}
	return idx.wb.Put(key, h.Serialize())
}

// creditTxio records a newly-seen output against a script's history:
// a fresh tx-io pair plus a totals credit.
func (idx *Index) creditTxio(pkScript []byte, outKey chainmodel.TxOutKey, value int64, isCoinbase bool) error {
	script := chainmodel.NewScriptKey(pkScript)
	subKey := SubKeyForHeight(outKey.TxKey().BlockKey().Height())

	sub, err := idx.getSubHistory(script, subKey)
	if err != nil {
		return err
	}
	flags := TxioMainBranch
	if isCoinbase {
		flags |= TxioCoinbase
	}
	sub.Txios = append(sub.Txios, TxioPair{OutKey: outKey, Value: value, Flags: flags})
	if err := idx.putSubHistory(script, subKey, sub); err != nil {
		return err
	}

	ssh, err := idx.getScriptHistory(script)
	if err != nil {
		return err
	}
	ssh.TotalUnspent += value
	ssh.TotalReceived += value
	ssh.TxioCount++
	return idx.putScriptHistory(script, ssh)
}

// markTxioSpent records that outKey was consumed by inKey: the tx-io
// pair gains its input side and the owning script's unspent total
// drops, but TotalReceived/TxioCount are untouched (they were set at
// credit time).
func (idx *Index) markTxioSpent(pkScript []byte, outKey chainmodel.TxOutKey, inKey chainmodel.TxKey, value int64) error {
	script := chainmodel.NewScriptKey(pkScript)
	subKey := SubKeyForHeight(outKey.TxKey().BlockKey().Height())

	sub, err := idx.getSubHistory(script, subKey)
	if err != nil {
		return err
	}
	for i := range sub.Txios {
		if sub.Txios[i].OutKey == outKey {
			sub.Txios[i].InKey = inKey
			sub.Txios[i].HasIn = true
			break
		}
	}
	if err := idx.putSubHistory(script, subKey, sub); err != nil {
		return err
	}

	ssh, err := idx.getScriptHistory(script)
	if err != nil {
		return err
	}
	ssh.TotalUnspent -= value
	return idx.putScriptHistory(script, ssh)
}

// unmarkTxioSpent is markTxioSpent's inverse, used by undo.
func (idx *Index) unmarkTxioSpent(pkScript []byte, outKey chainmodel.TxOutKey, value int64) error {
	script := chainmodel.NewScriptKey(pkScript)
	subKey := SubKeyForHeight(outKey.TxKey().BlockKey().Height())

	sub, err := idx.getSubHistory(script, subKey)
	if err != nil {
		return err
	}
	for i := range sub.Txios {
		if sub.Txios[i].OutKey == outKey {
			sub.Txios[i].InKey = chainmodel.TxKey{}
			sub.Txios[i].HasIn = false
			break
		}
	}
	if err := idx.putSubHistory(script, subKey, sub); err != nil {
		return err
	}

	ssh, err := idx.getScriptHistory(script)
	if err != nil {
		return err
	}
	ssh.TotalUnspent += value
	return idx.putScriptHistory(script, ssh)
}

// removeTxio deletes a tx-io pair created by a block being undone.
func (idx *Index) removeTxio(pkScript []byte, outKey chainmodel.TxOutKey, value int64) error {
	script := chainmodel.NewScriptKey(pkScript)
	subKey := SubKeyForHeight(outKey.TxKey().BlockKey().Height())

	sub, err := idx.getSubHistory(script, subKey)
	if err != nil {
		return err
	}
	wasSpent := false
	filtered := sub.Txios[:0]
	for _, p := range sub.Txios {
		if p.OutKey == outKey {
			wasSpent = p.HasIn
			continue
		}
		filtered = append(filtered, p)
	}
	sub.Txios = filtered
	if err := idx.putSubHistory(script, subKey, sub); err != nil {
		return err
	}

	ssh, err := idx.getScriptHistory(script)
	if err != nil {
		return err
	}
	ssh.TotalReceived -= value
	ssh.TxioCount--
	if !wasSpent {
		ssh.TotalUnspent -= value
	}
	return idx.putScriptHistory(script, ssh)
}
