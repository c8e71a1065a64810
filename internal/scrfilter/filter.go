// Package scrfilter holds the set of scripts currently of interest,
// batch (re)registration with a per-batch rescan callback, and the
// side-rescan mechanism that narrows block-index effects to tracked
// scripts in BARE mode.
package scrfilter

import (
	"sync"

	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/logging"
	"github.com/btcsuite/btcutil/gcs"
	"github.com/btcsuite/btcutil/gcs/builder"
)

// RegistrationBatch is one (re)registration request.
type RegistrationBatch struct {
	Scripts        [][]byte
	WalletID       string
	IsNew          bool
	RegisteredAt   uint32 // height at registration time, start of any rescan
	OnComplete     func(refresh bool)
}

// Filter is the set of scripts the block-index writer mutates SSH rows
// for in BARE mode. Scripts map to the set of wallet-ids that asked for
// them, so unregistering one wallet doesn't drop a script another
// wallet still needs.
type Filter struct {
	mu sync.RWMutex

	scripts map[chainmodel.ScriptKey]map[string]struct{}

	kv *kvstore.Store
	wb *kvstore.WriteBatch
}

func New(kv *kvstore.Store, wb *kvstore.WriteBatch) *Filter {
	return &Filter{
		scripts: make(map[chainmodel.ScriptKey]map[string]struct{}),
		kv:      kv,
		wb:      wb,
	}
}

func (f *Filter) Tracks(pkScript []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.scripts[chainmodel.NewScriptKey(pkScript)]
	return ok
}

// Register merges batch.Scripts into the filter. Duplicates already
// tracked for this wallet are dropped; if every script in the batch was
// already present, needsRescan is false and OnComplete(false) is called
// at once.
// Otherwise — unless IsNew — the caller is expected to run a side-scan
// over [RegisteredAt..top] via Copy() before invoking OnComplete(true).
func (f *Filter) Register(batch RegistrationBatch) (needsRescan bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	anyNew := false
	for _, raw := range batch.Scripts {
		key := chainmodel.NewScriptKey(raw)
		wallets, ok := f.scripts[key]
		if !ok {
			wallets = make(map[string]struct{})
			f.scripts[key] = wallets
			anyNew = true
		}
		if _, already := wallets[batch.WalletID]; !already {
			wallets[batch.WalletID] = struct{}{}
			anyNew = true
		}
	}

	needsRescan = anyNew && !batch.IsNew
	if batch.OnComplete != nil {
		if !needsRescan {
			batch.OnComplete(false)
		}
		// Callers that need a rescan invoke OnComplete(true) themselves
		// once the side-scan (driven externally, e.g. by the viewer)
		// completes — Register only reports whether one is needed.
	}
	return needsRescan
}

// Unregister drops walletID's interest in scripts; a script is removed
// from the live filter only once no wallet references it.
func (f *Filter) Unregister(walletID string, scripts [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, raw := range scripts {
		key := chainmodel.NewScriptKey(raw)
		wallets, ok := f.scripts[key]
		if !ok {
			continue
		}
		delete(wallets, walletID)
		if len(wallets) == 0 {
			delete(f.scripts, key)
		}
	}
}

// Copy returns an isolated snapshot of the current script set, used by
// side-rescans so they don't disturb the main scanner's view while it
// runs.
func (f *Filter) Copy() *Filter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	dup := &Filter{scripts: make(map[chainmodel.ScriptKey]map[string]struct{}), kv: f.kv, wb: f.wb}
	for k, wallets := range f.scripts {
		w := make(map[string]struct{}, len(wallets))
		for id := range wallets {
			w[id] = struct{}{}
		}
		dup.scripts[k] = w
	}
	return dup
}

// Clear drops every tracked script and wallet registration, used on a
// forced rebuild where the whole index starts over from nothing.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = make(map[chainmodel.ScriptKey]map[string]struct{})
}

// Scripts returns every currently tracked script, in no particular
// order.
func (f *Filter) Scripts() [][]byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([][]byte, 0, len(f.scripts))
	for k := range f.scripts {
		out = append(out, k.Bytes())
	}
	return out
}

// WipeScrAddrsSSH deletes every SSH row (history and sub-history) under
// each script, used when a wallet unregisters and wants the index space
// reclaimed.
func (f *Filter) WipeScrAddrsSSH(scripts [][]byte) error {
	for _, raw := range scripts {
		key := chainmodel.NewScriptKey(raw)
		if err := f.wb.Delete(kvstore.WithPrefix(kvstore.PrefixScriptHistory, key.Bytes())); err != nil {
			return err
		}
		snap := f.kv.NewSnapshot()
		var subKeys [][]byte
		prefix := kvstore.WithPrefix(kvstore.PrefixScriptSubHist, key.Bytes())
		err := snap.IteratePrefix(prefix, func(k, _ []byte) bool {
			subKeys = append(subKeys, append([]byte(nil), k...))
			return true
		})
		snap.Close()
		if err != nil {
			return err
		}
		for _, sk := range subKeys {
			if err := f.wb.Delete(sk); err != nil {
				return err
			}
		}
	}
	return f.wb.Flush()
}

// BuildGCSFilter builds a compact golomb-coded set over every currently
// tracked script for the given block, so a light client can be handed a
// small filter instead of the raw tracked-script list.
func (f *Filter) BuildGCSFilter(blockHash chainmodel.Hash) ([]byte, error) {
	f.mu.RLock()
	scripts := make([][]byte, 0, len(f.scripts))
	for k := range f.scripts {
		scripts = append(scripts, k.Bytes())
	}
	f.mu.RUnlock()

	if len(scripts) == 0 {
		return nil, nil
	}

	key := builder.DeriveKey(&blockHash)
	filter, err := gcs.BuildGCSFilter(builder.DefaultP, builder.DefaultM, key, scripts)
	if err != nil {
		logging.L.Err(err).Str("block", blockHash.String()).Msg("failed to build tracked-script GCS filter")
		return nil, err
	}
	return filter.NBytes()
}
