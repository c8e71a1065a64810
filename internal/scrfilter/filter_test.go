package scrfilter

import (
	"path/filepath"
	"testing"

	"github.com/blockvault/walletd/internal/kvstore"
)

func newTestFilter(t *testing.T) *Filter {
	t.Helper()
	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv, kv.NewWriteBatch(1<<20))
}

func TestRegisterNewScriptsSkipRescan(t *testing.T) {
	f := newTestFilter(t)
	needsRescan := f.Register(RegistrationBatch{
		Scripts:  [][]byte{{0x01, 0x02}},
		WalletID: "w1",
		IsNew:    true,
	})
	if needsRescan {
		t.Fatalf("new scripts should never need a rescan")
	}
	if !f.Tracks([]byte{0x01, 0x02}) {
		t.Fatalf("expected script to be tracked after registration")
	}
}

func TestRegisterExistingScriptsTriggerRescan(t *testing.T) {
	f := newTestFilter(t)
	needsRescan := f.Register(RegistrationBatch{
		Scripts:  [][]byte{{0xaa}},
		WalletID: "w1",
		IsNew:    false,
	})
	if !needsRescan {
		t.Fatalf("a not-new registration of a never-seen script should need a rescan")
	}
}

func TestRegisterDuplicateIsIdempotent(t *testing.T) {
	f := newTestFilter(t)
	f.Register(RegistrationBatch{Scripts: [][]byte{{0x01}}, WalletID: "w1", IsNew: true})
	needsRescan := f.Register(RegistrationBatch{Scripts: [][]byte{{0x01}}, WalletID: "w1", IsNew: false})
	if needsRescan {
		t.Fatalf("re-registering an already-tracked script should short-circuit to no rescan")
	}
}

func TestUnregisterDropsScriptOnlyWhenNoWalletLeft(t *testing.T) {
	f := newTestFilter(t)
	f.Register(RegistrationBatch{Scripts: [][]byte{{0x01}}, WalletID: "w1", IsNew: true})
	f.Register(RegistrationBatch{Scripts: [][]byte{{0x01}}, WalletID: "w2", IsNew: true})

	f.Unregister("w1", [][]byte{{0x01}})
	if !f.Tracks([]byte{0x01}) {
		t.Fatalf("expected script still tracked while w2 holds it")
	}

	f.Unregister("w2", [][]byte{{0x01}})
	if f.Tracks([]byte{0x01}) {
		t.Fatalf("expected script untracked once no wallet references it")
	}
}

func TestCopyIsIsolated(t *testing.T) {
	f := newTestFilter(t)
	f.Register(RegistrationBatch{Scripts: [][]byte{{0x01}}, WalletID: "w1", IsNew: true})

	snapshot := f.Copy()
	f.Register(RegistrationBatch{Scripts: [][]byte{{0x02}}, WalletID: "w1", IsNew: true})

	if snapshot.Tracks([]byte{0x02}) {
		t.Fatalf("copy should not observe registrations made after it was taken")
	}
	if !f.Tracks([]byte{0x02}) {
		t.Fatalf("live filter should observe its own registration")
	}
}
