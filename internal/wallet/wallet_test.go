package wallet

import (
	"testing"

	"github.com/blockvault/walletd/internal/chainmodel"
)

func TestAddScriptsAndHasScript(t *testing.T) {
	w := New("w1")
	script := []byte{0xaa, 0xbb}
	w.AddScripts([][]byte{script})
	if !w.HasScript(chainmodel.NewScriptKey(script)) {
		t.Fatalf("expected script to be tracked")
	}
}

func TestUpdateWalletLedgersFromTxioFiltersByScriptAndRange(t *testing.T) {
	w := New("w1")
	tracked := []byte{0x01}
	w.AddScripts([][]byte{tracked})

	txio := map[chainmodel.ScriptKey][]LedgerEntry{
		chainmodel.NewScriptKey(tracked): {
			{Height: 10, Value: 100},
			{Height: 20, Value: 200},
			{Height: 30, Value: 300},
		},
		chainmodel.NewScriptKey([]byte{0x02}): {
			{Height: 15, Value: 999},
		},
	}

	entries := w.UpdateWalletLedgersFromTxio(txio, 10, 20)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in [10,20], got %d", len(entries))
	}
	for _, e := range entries {
		if e.Height < 10 || e.Height > 20 {
			t.Fatalf("entry out of range: %+v", e)
		}
	}
}

func TestUpdateWalletLedgersFromTxioKeepsSubCachePerScript(t *testing.T) {
	w := New("w1")
	scriptA := []byte{0x01}
	scriptB := []byte{0x02}
	w.AddScripts([][]byte{scriptA, scriptB})

	keyA := chainmodel.NewScriptKey(scriptA)
	keyB := chainmodel.NewScriptKey(scriptB)
	txio := map[chainmodel.ScriptKey][]LedgerEntry{
		keyA: {{Height: 10, Value: 100}},
		keyB: {{Height: 12, Value: 200}, {Height: 14, Value: 300}},
	}

	entries := w.UpdateWalletLedgersFromTxio(txio, 0, 100)
	if len(entries) != 3 {
		t.Fatalf("expected 3 merged entries, got %d", len(entries))
	}

	cacheA := w.subCache[keyA]
	if len(cacheA) != 1 || cacheA[0].Value != 100 {
		t.Fatalf("expected scriptA's subCache to hold only its own entry, got %+v", cacheA)
	}
	cacheB := w.subCache[keyB]
	if len(cacheB) != 2 {
		t.Fatalf("expected scriptB's subCache to hold only its own 2 entries, got %+v", cacheB)
	}
	for _, e := range cacheB {
		if e.Value == 100 {
			t.Fatalf("scriptB's subCache leaked scriptA's entry: %+v", cacheB)
		}
	}

	// A second call must not unbounded-grow the cache with duplicates of
	// the other script's entries either.
	w.UpdateWalletLedgersFromTxio(txio, 0, 100)
	if len(w.subCache[keyA]) != 2 {
		t.Fatalf("expected scriptA's subCache to have exactly 2 entries after a repeat call, got %d", len(w.subCache[keyA]))
	}
	for _, e := range w.subCache[keyA] {
		if e.Value != 100 {
			t.Fatalf("scriptA's subCache picked up a value it never owned: %+v", w.subCache[keyA])
		}
	}
}

func TestScanWalletTracksValidZcKeys(t *testing.T) {
	w := New("w1")
	fresh := chainmodel.Hash{0x01}
	invalid := chainmodel.Hash{0x02}
	w.validZcKeys[invalid] = struct{}{}

	w.ScanWallet(ScanData{
		Action:            ScanActionZeroConf,
		NewZcKeys:         []chainmodel.Hash{fresh},
		InvalidatedZcKeys: []chainmodel.Hash{invalid},
	}, nil)

	if _, ok := w.validZcKeys[fresh]; !ok {
		t.Fatalf("expected fresh zc key to be tracked as valid")
	}
	if _, ok := w.validZcKeys[invalid]; ok {
		t.Fatalf("expected invalidated zc key to be dropped")
	}
}

func TestMapHistoryBuildsPagesByTarget(t *testing.T) {
	p := NewHistoryPager(SortAscending)
	summary := SSHSummary{
		100: PageTarget,
		200: PageTarget,
		300: 1,
	}
	p.MapHistory([]SSHSummary{summary})

	if p.PageCount() != 3 {
		t.Fatalf("expected 3 pages, got %d", p.PageCount())
	}
	start, end, ok := p.PageRange(0)
	if !ok || start != 100 || end != 100 {
		t.Fatalf("expected page 0 to cover height 100 only, got [%d,%d] ok=%v", start, end, ok)
	}
	_, end2, ok := p.PageRange(2)
	if !ok || end2 != 300 {
		t.Fatalf("expected final page to end at 300, got %d ok=%v", end2, ok)
	}
}

func TestGetHistoryPageWithoutTxioSourceIsEmpty(t *testing.T) {
	g := NewGroup("grp", SortDescending)
	w := New("w1")
	tracked := []byte{0x07}
	w.AddScripts([][]byte{tracked})
	g.AddWallet(w)
	g.Pager.pages = []Page{{ID: 0, StartBlock: 0, EndBlock: 100}}

	page := g.GetHistoryPage(0, 1, true)
	if page != nil {
		t.Fatalf("expected empty page since the group has no TxioSource, got %v", page)
	}
}

func TestRemoveWalletInvalidatesPageCache(t *testing.T) {
	g := NewGroup("grp", SortAscending)
	w := New("w1")
	g.AddWallet(w)
	g.Pager.pages = []Page{{ID: 0, StartBlock: 0, EndBlock: 10}}

	first := g.GetHistoryPage(0, 1, false)
	_ = first
	before := g.lastUIFilterChange

	g.RemoveWallet("w1")
	if g.lastUIFilterChange == before {
		t.Fatalf("expected removing a wallet to bump the ui-filter generation")
	}

	if _, ok := g.Wallet("w1"); ok {
		t.Fatalf("expected wallet to be gone from the group")
	}
}
