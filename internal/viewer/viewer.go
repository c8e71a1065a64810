// Package viewer implements the top-level façade that coordinates the
// chain store, key-value store, address filter, and mempool, and fans
// notifications out to registered wallet groups.
package viewer

import (
	"sync"
	"sync/atomic"

	"github.com/blockvault/walletd/internal/blockindex"
	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/chainstore"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/logging"
	"github.com/blockvault/walletd/internal/mempool"
	"github.com/blockvault/walletd/internal/scrfilter"
	"github.com/blockvault/walletd/internal/wallet"
	"github.com/btcsuite/btcd/wire"
)

// GroupName identifies one of the viewer's fixed wallet groups: two
// groups by default, "wallets" and "lockboxes".
type GroupName string

const (
	GroupWallets   GroupName = "wallets"
	GroupLockboxes GroupName = "lockboxes"
)

// Kind is one of the notification kinds the dispatcher maps to a scan
// action.
type Kind int

const (
	KindInit Kind = iota
	KindNewBlockExtend
	KindNewBlockReorg
	KindZeroConf
	KindRefresh
)

// Notification is the event the viewer dispatches into scanWallets.
type Notification struct {
	Kind         Kind
	CurrentTop   uint32
	PrevTop      uint32
	BranchPoint  uint32
	NewZcKeys    []chainmodel.Hash
	InvalidZcKeys []chainmodel.Hash
	MinedTxioKeys map[chainmodel.Hash]chainmodel.Hash
	LedgerMap    map[chainmodel.ScriptKey][]wallet.LedgerEntry
}

// Viewer is the façade coordinating every collaborator in the daemon.
type Viewer struct {
	mu sync.Mutex

	Chain  *chainstore.ChainStore
	KV     *kvstore.Store
	Filter *scrfilter.Filter
	Pool   *mempool.Pool
	Index  *blockindex.Index

	groups map[GroupName]*wallet.Group

	updateID uint64

	notify chan Notification
}

func New(chain *chainstore.ChainStore, kv *kvstore.Store, filter *scrfilter.Filter, pool *mempool.Pool, index *blockindex.Index) *Viewer {
	v := &Viewer{
		Chain:  chain,
		KV:     kv,
		Filter: filter,
		Pool:   pool,
		Index:  index,
		groups: map[GroupName]*wallet.Group{
			GroupWallets:   wallet.NewGroup(string(GroupWallets), wallet.SortDescending),
			GroupLockboxes: wallet.NewGroup(string(GroupLockboxes), wallet.SortDescending),
		},
		notify: make(chan Notification, 64),
	}
	for _, g := range v.groups {
		g.TxioSource = func(start, end uint32) map[chainmodel.ScriptKey][]wallet.LedgerEntry {
			return v.confirmedTxioForRange(g, start, end)
		}
	}
	return v
}

func (v *Viewer) Group(name GroupName) *wallet.Group {
	return v.groups[name]
}

// RegisterWallet adds a wallet to the named group.
func (v *Viewer) RegisterWallet(group GroupName, w *wallet.Wallet) {
	g, ok := v.groups[group]
	if !ok {
		return
	}
	g.AddWallet(w)
}

// UnregisterWallet removes a wallet and releases the filter's interest
// in scripts only that wallet held.
func (v *Viewer) UnregisterWallet(group GroupName, walletID string) {
	g, ok := v.groups[group]
	if !ok {
		return
	}
	w, ok := g.Wallet(walletID)
	if !ok {
		return
	}
	scripts := w.Scripts()
	raw := make([][]byte, len(scripts))
	for i, s := range scripts {
		raw[i] = s.Bytes()
	}
	v.Filter.Unregister(walletID, raw)
	g.RemoveWallet(walletID)
}

// RegisterAddresses registers new scripts for an already-registered
// wallet. If registration requires a side-rescan (is_new is false and
// new scripts are added), it is launched in the background over
// [birthHeight..top] against an isolated filter copy, and a
// KindRefresh notification fires once it completes. The boolean return
// reports whether a rescan was needed at all.
func (v *Viewer) RegisterAddresses(group GroupName, walletID string, scripts [][]byte, isNew bool, birthHeight uint32) bool {
	g, ok := v.groups[group]
	if !ok {
		return false
	}
	w, ok := g.Wallet(walletID)
	if !ok {
		return false
	}
	w.AddScripts(scripts)

	needsRescan := v.Filter.Register(scrfilter.RegistrationBatch{
		Scripts:      scripts,
		WalletID:     walletID,
		IsNew:        isNew,
		RegisteredAt: birthHeight,
	})
	if needsRescan {
		go v.runSideRescan(scripts, birthHeight)
	}
	return needsRescan
}

// runSideRescan replays [from..top] against an isolated snapshot of the
// filter, so a wallet importing pre-existing addresses gets its
// historical balance without disturbing the live scanner, then
// refreshes every group once the backfill lands.
func (v *Viewer) runSideRescan(scripts [][]byte, from uint32) {
	if v.Index == nil {
		return
	}
	snapshot := v.Filter.Copy()
	var tracked [][]byte
	for _, raw := range scripts {
		if snapshot.Tracks(raw) {
			tracked = append(tracked, raw)
		}
	}
	if len(tracked) == 0 {
		return
	}

	top := uint32(0)
	if head := v.Chain.Top(); head != nil {
		top = head.Height
	}
	if from > top {
		return
	}

	if err := v.Index.RescanScripts(tracked, from, top); err != nil {
		logging.L.Err(err).Msg("side-rescan failed")
		return
	}
	v.ScanWallets(Notification{Kind: KindRefresh, CurrentTop: top})
}

// Notifications exposes the fan-out channel for consumers (e.g. the
// REST/gRPC surfaces) to subscribe to.
func (v *Viewer) Notifications() <-chan Notification {
	return v.notify
}

// scanPlan is the (startBlock, endBlock, prevTopBlock, reorg, refresh)
// tuple the dispatch table derives per notification kind.
type scanPlan struct {
	startBlock uint32
	endBlock   uint32
	prevTop    uint32
	reorg      bool
	refresh    bool
}

func (v *Viewer) planFor(n Notification) scanPlan {
	switch n.Kind {
	case KindInit:
		return scanPlan{startBlock: 0, endBlock: n.CurrentTop, prevTop: 0, refresh: true}
	case KindNewBlockExtend:
		return scanPlan{startBlock: n.PrevTop, endBlock: n.CurrentTop, prevTop: n.PrevTop + 1}
	case KindNewBlockReorg:
		return scanPlan{startBlock: n.BranchPoint, endBlock: n.CurrentTop, prevTop: n.PrevTop + 1, reorg: true}
	case KindZeroConf:
		return scanPlan{startBlock: n.CurrentTop, endBlock: n.CurrentTop, prevTop: n.CurrentTop}
	case KindRefresh:
		return scanPlan{startBlock: n.CurrentTop, endBlock: n.CurrentTop, prevTop: n.CurrentTop, refresh: true}
	default:
		return scanPlan{}
	}
}

// ScanWallets is the viewer's hot path. Dispatch across groups is
// single-threaded: notifications delivered to wallets are strictly
// ordered per viewer.
func (v *Viewer) ScanWallets(n Notification) {
	v.mu.Lock()
	defer v.mu.Unlock()

	plan := v.planFor(n)

	action := wallet.ScanActionRefresh
	switch n.Kind {
	case KindInit:
		action = wallet.ScanActionInit
	case KindNewBlockExtend, KindNewBlockReorg:
		action = wallet.ScanActionNewBlock
	case KindZeroConf:
		action = wallet.ScanActionZeroConf
	}

	data := wallet.ScanData{
		PrevTopBlockHeight: plan.prevTop,
		StartBlock:         plan.startBlock,
		EndBlock:           plan.endBlock,
		Reorg:              plan.reorg,
		Action:             action,
		NewZcKeys:          n.NewZcKeys,
		InvalidatedZcKeys:  n.InvalidZcKeys,
		MinedTxioKeys:      n.MinedTxioKeys,
	}

	for _, name := range []GroupName{GroupWallets, GroupLockboxes} {
		g := v.groups[name]

		g.Pager.MapHistory(v.groupSummaries(g))
		if lower := v.pageBottom(g); lower < data.StartBlock {
			data.StartBlock = lower
		}

		txio := n.LedgerMap
		if n.Kind != KindZeroConf {
			txio = v.confirmedTxioForRange(g, data.StartBlock, data.EndBlock)
		}

		updateID := atomic.AddUint64(&v.updateID, 1)
		merged := g.ScanWallets(data, txio, updateID)

		if n.Kind == KindZeroConf && n.LedgerMap != nil {
			for _, entry := range merged {
				n.LedgerMap[entry.Script] = append(n.LedgerMap[entry.Script], entry)
			}
		}
	}

	logging.L.Debug().
		Int("kind", int(n.Kind)).
		Uint32("start", plan.startBlock).
		Uint32("end", plan.endBlock).
		Bool("reorg", plan.reorg).
		Msg("scanWallets dispatch complete")

	select {
	case v.notify <- n:
	default:
		logging.L.Warn().Msg("notification channel full, dropping oldest")
		<-v.notify
		v.notify <- n
	}
}

// groupSummaries reads every wallet's per-script activity counts from
// the block index, the bottom-up per-height summary MapHistory uses to
// rebuild page boundaries.
func (v *Viewer) groupSummaries(g *wallet.Group) []wallet.SSHSummary {
	if v.Index == nil {
		return nil
	}
	var out []wallet.SSHSummary
	for _, w := range g.Wallets() {
		for _, script := range w.Scripts() {
			counts, err := v.Index.ScriptActivityCounts(script)
			if err != nil {
				logging.L.Err(err).Str("script", script.String()).Msg("failed to read script activity counts")
				continue
			}
			if len(counts) > 0 {
				out = append(out, wallet.SSHSummary(counts))
			}
		}
	}
	return out
}

// confirmedTxioForRange is the real tx-io source, read from the block
// index's persisted sub-history. This is what both ScanWallets and
// Group.GetHistoryPage actually read.
func (v *Viewer) confirmedTxioForRange(g *wallet.Group, start, end uint32) map[chainmodel.ScriptKey][]wallet.LedgerEntry {
	txio := make(map[chainmodel.ScriptKey][]wallet.LedgerEntry)
	if v.Index == nil {
		return txio
	}
	seen := make(map[chainmodel.ScriptKey]bool)
	for _, w := range g.Wallets() {
		for _, script := range w.Scripts() {
			if seen[script] {
				continue
			}
			seen[script] = true

			pairs, err := v.Index.SubHistoryRange(script, start, end)
			if err != nil {
				logging.L.Err(err).Str("script", script.String()).Msg("failed to read tx-io range")
				continue
			}
			for _, p := range pairs {
				txio[script] = append(txio[script], wallet.LedgerEntry{
					TxKey:  p.OutKey.TxKey(),
					Script: script,
					Value:  p.Value,
					Height: p.OutKey.TxKey().BlockKey().Height(),
				})
				if p.HasIn {
					txio[script] = append(txio[script], wallet.LedgerEntry{
						TxKey:  p.InKey,
						Script: script,
						Value:  -p.Value,
						Height: p.InKey.BlockKey().Height(),
					})
				}
			}
		}
	}
	return txio
}

// SubmitTx adds a raw transaction to the zero-conf pool and dispatches
// the matching KindZeroConf scan.
func (v *Viewer) SubmitTx(tx *wire.MsgTx) error {
	packet, err := v.Pool.AddTx(tx)
	if err != nil {
		return err
	}

	top := uint32(0)
	if head := v.Chain.Top(); head != nil {
		top = head.Height
	}
	v.ScanWallets(Notification{
		Kind:          KindZeroConf,
		CurrentTop:    top,
		NewZcKeys:     packet.NewZcKeys,
		InvalidZcKeys: packet.PurgePacket,
	})
	return nil
}

// HandleChainUpdate reconciles the mempool against a newly organized
// chain tip and dispatches the matching notification, driven by the
// live new-block loop once the chain store and block index have been
// brought up to date.
func (v *Viewer) HandleChainUpdate(state *chainstore.ReorganizationState, mined []chainmodel.Hash, spent map[chainmodel.Hash][]uint32) {
	if state == nil {
		return
	}

	var invalidated []chainmodel.Hash
	if !state.PrevTopStillValid {
		invalidated = append(invalidated, v.Pool.OnReorg()...)
	}
	minedKeys, doubleSpent := v.Pool.OnNewBlock(mined, spent)
	invalidated = append(invalidated, doubleSpent...)

	n := Notification{
		CurrentTop:    state.NewTop.Height,
		MinedTxioKeys: minedKeys,
		InvalidZcKeys: invalidated,
	}
	if state.PrevTop != nil {
		n.PrevTop = state.PrevTop.Height
	}
	if state.PrevTopStillValid {
		n.Kind = KindNewBlockExtend
	} else {
		n.Kind = KindNewBlockReorg
		if state.ReorgBranchPoint != nil {
			n.BranchPoint = state.ReorgBranchPoint.Height
		}
	}
	v.ScanWallets(n)
}

func (v *Viewer) pageBottom(g *wallet.Group) uint32 {
	if g.Pager.PageCount() == 0 {
		return 0
	}
	start, _, ok := g.Pager.PageRange(0)
	if !ok {
		return 0
	}
	return start
}
