// Package wallet implements per-wallet script sets, a paged ledger
// cache shared by a wallet group, and the scan routine that turns
// applied blocks and zero-conf activity into ledger entries.
package wallet

import (
	"sort"
	"sync"

	"github.com/blockvault/walletd/internal/chainmodel"
)

// LedgerEntry is one line of a wallet's transaction history.
type LedgerEntry struct {
	TxKey  chainmodel.TxKey
	Script chainmodel.ScriptKey
	Value  int64
	Height uint32
}

// SSHSummary maps block height to the number of tx-io events a script
// had at that height, the input HistoryPager.mapHistory bottom-up
// accumulates to build pages.
type SSHSummary map[uint32]int

// Wallet owns a script set and a per-script history sub-cache.
type Wallet struct {
	ID         string
	mu         sync.RWMutex
	scripts    map[chainmodel.ScriptKey]struct{}
	subCache   map[chainmodel.ScriptKey][]LedgerEntry
	uiFilter   bool
	registered bool
	validZcKeys map[chainmodel.Hash]struct{}
}

func New(id string) *Wallet {
	return &Wallet{
		ID:          id,
		scripts:     make(map[chainmodel.ScriptKey]struct{}),
		subCache:    make(map[chainmodel.ScriptKey][]LedgerEntry),
		validZcKeys: make(map[chainmodel.Hash]struct{}),
		registered:  true,
	}
}

func (w *Wallet) AddScripts(scripts [][]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range scripts {
		w.scripts[chainmodel.NewScriptKey(s)] = struct{}{}
	}
}

func (w *Wallet) HasScript(script chainmodel.ScriptKey) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.scripts[script]
	return ok
}

func (w *Wallet) Scripts() []chainmodel.ScriptKey {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]chainmodel.ScriptKey, 0, len(w.scripts))
	for s := range w.scripts {
		out = append(out, s)
	}
	return out
}

func (w *Wallet) SetUIFilter(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.uiFilter = on
}

func (w *Wallet) UIFilter() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.uiFilter
}

// UpdateWalletLedgersFromTxio folds a range's tx-io pairs into this
// wallet's ledger, producing the LedgerEntry rows the pager merges.
func (w *Wallet) UpdateWalletLedgersFromTxio(txio map[chainmodel.ScriptKey][]LedgerEntry, start, end uint32) []LedgerEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []LedgerEntry
	for script, entries := range txio {
		if _, ok := w.scripts[script]; !ok {
			continue
		}
		var scriptOut []LedgerEntry
		for _, e := range entries {
			if e.Height < start || e.Height > end {
				continue
			}
			scriptOut = append(scriptOut, e)
		}
		out = append(out, scriptOut...)
		w.subCache[script] = append(w.subCache[script], scriptOut...)
	}
	return out
}

// ScanAction mirrors the viewer's notification dispatch, carried down
// into ScanData so ScanWallet knows why it's running.
type ScanAction int

const (
	ScanActionInit ScanAction = iota
	ScanActionNewBlock
	ScanActionZeroConf
	ScanActionRefresh
)

// ScanData is the per-scan payload ScanWallet needs to bring a
// wallet's zero-conf key set and ledger up to date.
type ScanData struct {
	PrevTopBlockHeight uint32
	StartBlock         uint32
	EndBlock           uint32
	Reorg              bool
	Action             ScanAction
	ZcMap              map[chainmodel.ScriptKey][]chainmodel.Hash
	NewZcKeys          []chainmodel.Hash
	InvalidatedZcKeys  []chainmodel.Hash
	MinedTxioKeys      map[chainmodel.Hash]chainmodel.Hash
}

// ScanWallet updates the wallet's zc-key set and returns any newly
// valid ledger entries for [StartBlock..EndBlock].
func (w *Wallet) ScanWallet(data ScanData, txioRange map[chainmodel.ScriptKey][]LedgerEntry) []LedgerEntry {
	w.mu.Lock()
	for _, invalid := range data.InvalidatedZcKeys {
		delete(w.validZcKeys, invalid)
	}
	for _, fresh := range data.NewZcKeys {
		w.validZcKeys[fresh] = struct{}{}
	}
	for oldKey := range data.MinedTxioKeys {
		delete(w.validZcKeys, oldKey)
	}
	w.mu.Unlock()

	return w.UpdateWalletLedgersFromTxio(txioRange, data.StartBlock, data.EndBlock)
}

// Page is one block-range bucket of a wallet group's ledger.
type Page struct {
	ID         int
	StartBlock uint32
	EndBlock   uint32
	Ledgers    []LedgerEntry
}

// SortOrder controls the group-level merge order.
type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

// PageTarget is the approximate number of tx-events each page
// accumulates before a new page starts.
const PageTarget = 500

// HistoryPager maps page-id to block range; each page's merged ledger
// is cached by the owning Group.
type HistoryPager struct {
	mu        sync.Mutex
	pages     []Page
	updateID  uint64
	sortOrder SortOrder
}

func NewHistoryPager(order SortOrder) *HistoryPager {
	return &HistoryPager{sortOrder: order}
}

// MapHistory rebuilds the page boundaries from a combined per-height
// tx-count summary across every wallet in the group, accumulating
// bottom-up (oldest height first) so each page holds roughly
// PageTarget events.
func (p *HistoryPager) MapHistory(summaries []SSHSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	totals := make(map[uint32]int)
	for _, s := range summaries {
		for height, count := range s {
			totals[height] += count
		}
	}
	heights := make([]uint32, 0, len(totals))
	for h := range totals {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	var pages []Page
	pageID := 0
	var cur Page
	curCount := 0
	cur.StartBlock = 0
	if len(heights) > 0 {
		cur.StartBlock = heights[0]
	}
	for _, h := range heights {
		if curCount == 0 {
			cur.StartBlock = h
		}
		cur.EndBlock = h
		curCount += totals[h]
		if curCount >= PageTarget {
			cur.ID = pageID
			pages = append(pages, cur)
			pageID++
			cur = Page{}
			curCount = 0
		}
	}
	if curCount > 0 {
		cur.ID = pageID
		pages = append(pages, cur)
	}
	p.pages = pages
}

func (p *HistoryPager) PageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

// PageRange returns the block range for a page-id, used by
// Group.GetHistoryPage.
func (p *HistoryPager) PageRange(pageID int) (start, end uint32, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pg := range p.pages {
		if pg.ID == pageID {
			return pg.StartBlock, pg.EndBlock, true
		}
	}
	return 0, 0, false
}

// GetTxio is a deliberately unused abstraction: it always returns an
// empty map. Per-wallet code re-derives its own tx-io instead of going
// through this closure.
func (p *HistoryPager) GetTxio(start, end uint32) map[chainmodel.ScriptKey][]LedgerEntry {
	return map[chainmodel.ScriptKey][]LedgerEntry{}
}

// Group is an ordered collection of wallets sharing one HistoryPager.
type Group struct {
	mu      sync.RWMutex
	Name    string
	wallets map[string]*Wallet
	order   []string
	Pager   *HistoryPager

	// TxioSource supplies the real confirmed tx-io data GetHistoryPage
	// merges for a page's block range, wired in by the viewer against
	// the persisted block-index history. Nil until the owning viewer
	// sets it.
	TxioSource func(start, end uint32) map[chainmodel.ScriptKey][]LedgerEntry

	lastUIFilterChange uint64
	cachedUpdateID     uint64
	cachedPages        map[int][]LedgerEntry
}

func NewGroup(name string, order SortOrder) *Group {
	return &Group{
		Name:        name,
		wallets:     make(map[string]*Wallet),
		Pager:       NewHistoryPager(order),
		cachedPages: make(map[int][]LedgerEntry),
	}
}

func (g *Group) AddWallet(w *Wallet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.wallets[w.ID]; !exists {
		g.order = append(g.order, w.ID)
	}
	g.wallets[w.ID] = w
}

func (g *Group) RemoveWallet(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.wallets, id)
	for i, existing := range g.order {
		if existing == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.lastUIFilterChange++
}

func (g *Group) Wallet(id string) (*Wallet, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.wallets[id]
	return w, ok
}

func (g *Group) Wallets() []*Wallet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Wallet, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.wallets[id])
	}
	return out
}

// GetHistoryPage returns pageID's merged, sorted ledger. If the
// ui-filter set changed since the last call, updateID is treated as
// stale so the cache misses.
func (g *Group) GetHistoryPage(pageID int, updateID uint64, rebuild bool) []LedgerEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastUIFilterChange != g.cachedUpdateID {
		rebuild = true
	}

	if !rebuild {
		if cached, ok := g.cachedPages[pageID]; ok && updateID == g.cachedUpdateID {
			return cached
		}
	}

	start, end, ok := g.Pager.PageRange(pageID)
	if !ok {
		return nil
	}

	var txio map[chainmodel.ScriptKey][]LedgerEntry
	if g.TxioSource != nil {
		txio = g.TxioSource(start, end)
	}
	var merged []LedgerEntry
	for _, id := range g.order {
		w := g.wallets[id]
		merged = append(merged, w.UpdateWalletLedgersFromTxio(txio, start, end)...)
	}

	switch g.Pager.sortOrder {
	case SortDescending:
		sort.Slice(merged, func(i, j int) bool { return merged[i].Height > merged[j].Height })
	default:
		sort.Slice(merged, func(i, j int) bool { return merged[i].Height < merged[j].Height })
	}

	g.cachedPages[pageID] = merged
	g.cachedUpdateID = updateID
	return merged
}

// ScanWallets fans a scan across every wallet in the group, merging
// their new ledger entries in the group's sort order.
func (g *Group) ScanWallets(data ScanData, txio map[chainmodel.ScriptKey][]LedgerEntry, updateID uint64) []LedgerEntry {
	g.mu.RLock()
	order := append([]string(nil), g.order...)
	g.mu.RUnlock()

	var merged []LedgerEntry
	for _, id := range order {
		g.mu.RLock()
		w, ok := g.wallets[id]
		g.mu.RUnlock()
		if !ok {
			continue
		}
		merged = append(merged, w.ScanWallet(data, txio)...)
	}
	return merged
}
