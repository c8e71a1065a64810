// Package mempool implements the zero-conf (unconfirmed) transaction
// store: derived per-script tx-io maps, RBF detection by input overlap,
// and the invalidation rules triggered by new blocks and reorgs.
package mempool

import (
	"sync"
	"time"

	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/btcsuite/btcd/wire"
)

// Entry is one unconfirmed transaction.
type Entry struct {
	TxHash    chainmodel.Hash
	Raw       *wire.MsgTx
	ArrivedAt time.Time
	IsRBF     bool
}

// Pool holds the live zero-conf set plus the derived per-script tx-io
// map. All mutation happens under mu; a NotificationPacket is produced
// from a consistent snapshot so consumers never see a torn update.
type Pool struct {
	mu sync.RWMutex

	byHash map[chainmodel.Hash]*Entry

	// spentBy maps a previous outpoint (an outpointKey of hash and
	// index) to the zero-conf tx hash that spends it, used for RBF
	// detection by input overlap.
	spentBy map[outpointKey]chainmodel.Hash

	// perScript maps a script key to the set of zero-conf tx hashes
	// that touch it, either as an output destination or as a spend of
	// one of its outputs.
	perScript map[chainmodel.ScriptKey]map[chainmodel.Hash]struct{}

	// resolvePrevOut looks up a previously confirmed or zero-conf
	// output's script and value, used to verify inputs and drive
	// per-script indexing. Supplied by the viewer, which has access to
	// the confirmed index.
	resolvePrevOut func(hash chainmodel.Hash, index uint32) (pkScript []byte, value int64, ok bool)
}

type outpointKey struct {
	hash  chainmodel.Hash
	index uint32
}

func New(resolvePrevOut func(hash chainmodel.Hash, index uint32) (pkScript []byte, value int64, ok bool)) *Pool {
	return &Pool{
		byHash:         make(map[chainmodel.Hash]*Entry),
		spentBy:        make(map[outpointKey]chainmodel.Hash),
		perScript:      make(map[chainmodel.ScriptKey]map[chainmodel.Hash]struct{}),
		resolvePrevOut: resolvePrevOut,
	}
}

// NotificationPacket is the payload produced on tx arrival.
type NotificationPacket struct {
	TxioMap      map[chainmodel.ScriptKey][]chainmodel.Hash
	NewZcKeys    []chainmodel.Hash
	PurgePacket  []chainmodel.Hash // zc hashes invalidated by this arrival (RBF losers)
}

// AddTx detects RBF by input overlap and returns the resulting
// notification. Inputs are not checked against known outputs: a tx whose
// inputs do not all resolve is still accepted, and is indexed under its
// outputs' scripts and the scripts of whichever inputs do resolve.
func (p *Pool) AddTx(tx *wire.MsgTx) (*NotificationPacket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	txHash := chainmodel.Hash(tx.TxHash())
	if _, exists := p.byHash[txHash]; exists {
		return &NotificationPacket{}, nil
	}

	var conflicts []chainmodel.Hash
	touchedScripts := make(map[chainmodel.ScriptKey]struct{})

	for _, in := range tx.TxIn {
		ok := outpointKey{hash: chainmodel.Hash(in.PreviousOutPoint.Hash), index: in.PreviousOutPoint.Index}
		if spender, conflicted := p.spentBy[ok]; conflicted && spender != txHash {
			conflicts = append(conflicts, spender)
		}
		if pkScript, _, found := p.resolvePrevOut(chainmodel.Hash(in.PreviousOutPoint.Hash), in.PreviousOutPoint.Index); found {
			touchedScripts[chainmodel.NewScriptKey(pkScript)] = struct{}{}
		}
	}

	isRBF := len(conflicts) > 0
	for _, loser := range conflicts {
		p.removeLocked(loser)
	}

	entry := &Entry{TxHash: txHash, Raw: tx, ArrivedAt: time.Now(), IsRBF: isRBF}
	p.byHash[txHash] = entry

	for _, in := range tx.TxIn {
		ok := outpointKey{hash: chainmodel.Hash(in.PreviousOutPoint.Hash), index: in.PreviousOutPoint.Index}
		p.spentBy[ok] = txHash
	}
	for _, out := range tx.TxOut {
		touchedScripts[chainmodel.NewScriptKey(out.PkScript)] = struct{}{}
	}
	for script := range touchedScripts {
		set, ok := p.perScript[script]
		if !ok {
			set = make(map[chainmodel.Hash]struct{})
			p.perScript[script] = set
		}
		set[txHash] = struct{}{}
	}

	txioMap := make(map[chainmodel.ScriptKey][]chainmodel.Hash, len(touchedScripts))
	for script := range touchedScripts {
		txioMap[script] = hashSetToSlice(p.perScript[script])
	}

	return &NotificationPacket{
		TxioMap:     txioMap,
		NewZcKeys:   []chainmodel.Hash{txHash},
		PurgePacket: conflicts,
	}, nil
}

func (p *Pool) removeLocked(hash chainmodel.Hash) {
	entry, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	for _, in := range entry.Raw.TxIn {
		delete(p.spentBy, outpointKey{hash: chainmodel.Hash(in.PreviousOutPoint.Hash), index: in.PreviousOutPoint.Index})
	}
	for _, out := range entry.Raw.TxOut {
		script := chainmodel.NewScriptKey(out.PkScript)
		if set, ok := p.perScript[script]; ok {
			delete(set, hash)
			if len(set) == 0 {
				delete(p.perScript, script)
			}
		}
	}
}

// OnNewBlock reconciles the pool against a newly applied block's tx
// set: confirmed tx are removed with their old→new key mapping
// recorded, and any zc tx double-spent by the block is invalidated.
func (p *Pool) OnNewBlock(minedHashes []chainmodel.Hash, spentOutpoints map[chainmodel.Hash][]uint32) (minedTxioKeys map[chainmodel.Hash]chainmodel.Hash, invalidatedZcKeys []chainmodel.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	minedTxioKeys = make(map[chainmodel.Hash]chainmodel.Hash)
	for _, h := range minedHashes {
		if _, ok := p.byHash[h]; ok {
			minedTxioKeys[h] = h
			p.removeLocked(h)
		}
	}

	for prevHash, indexes := range spentOutpoints {
		for _, idx := range indexes {
			ok := outpointKey{hash: prevHash, index: idx}
			if zcHash, conflicted := p.spentBy[ok]; conflicted {
				if _, stillPresent := p.byHash[zcHash]; stillPresent {
					invalidatedZcKeys = append(invalidatedZcKeys, zcHash)
					p.removeLocked(zcHash)
				}
			}
		}
	}
	return minedTxioKeys, invalidatedZcKeys
}

// OnReorg re-verifies every zc tx's inputs; any that no longer resolves
// is invalidated.
func (p *Pool) OnReorg() (invalidatedZcKeys []chainmodel.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for hash, entry := range p.byHash {
		for _, in := range entry.Raw.TxIn {
			if _, _, ok := p.resolvePrevOut(chainmodel.Hash(in.PreviousOutPoint.Hash), in.PreviousOutPoint.Index); !ok {
				invalidatedZcKeys = append(invalidatedZcKeys, hash)
				break
			}
		}
	}
	for _, hash := range invalidatedZcKeys {
		p.removeLocked(hash)
	}
	return invalidatedZcKeys
}

// UnspentZC describes one zero-conf output paying a tracked script that
// has not itself been spent within the mempool.
type UnspentZC struct {
	TxHash chainmodel.Hash
	Index  uint32
	Value  int64
}

// GetUnspentZCForScrAddr returns every zero-conf output paying script
// whose txid is not itself consumed by another pool entry.
func (p *Pool) GetUnspentZCForScrAddr(pkScript []byte) []UnspentZC {
	p.mu.RLock()
	defer p.mu.RUnlock()

	script := chainmodel.NewScriptKey(pkScript)
	hashes := p.perScript[script]
	var out []UnspentZC
	for hash := range hashes {
		entry, ok := p.byHash[hash]
		if !ok {
			continue
		}
		for idx, txOut := range entry.Raw.TxOut {
			if chainmodel.NewScriptKey(txOut.PkScript) != script {
				continue
			}
			spentKey := outpointKey{hash: hash, index: uint32(idx)}
			if _, spent := p.spentBy[spentKey]; spent {
				continue
			}
			out = append(out, UnspentZC{TxHash: hash, Index: uint32(idx), Value: txOut.Value})
		}
	}
	return out
}

func hashSetToSlice(set map[chainmodel.Hash]struct{}) []chainmodel.Hash {
	out := make([]chainmodel.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}
