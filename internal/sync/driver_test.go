package sync

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blockvault/walletd/internal/blockfile"
	"github.com/blockvault/walletd/internal/blockindex"
	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/chainstore"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/scrfilter"
	"github.com/btcsuite/btcd/wire"
)

func discoverForTest(dir string) (*blockfile.FileSet, error) {
	return blockfile.Discover(dir, "")
}

var testMagic = [4]byte{0xfa, 0xbf, 0xb5, 0xda}

func writeFrame(t *testing.T, f *os.File, payload []byte) {
	t.Helper()
	if _, err := f.Write(testMagic[:]); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(payload)))
	if _, err := f.Write(size[:]); err != nil {
		t.Fatalf("write size: %v", err)
	}
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func serializeBlock(t *testing.T, header wire.BlockHeader, txs ...*wire.MsgTx) []byte {
	t.Helper()
	block := wire.MsgBlock{Header: header, Transactions: txs}
	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		t.Fatalf("Serialize block: %v", err)
	}
	return buf.Bytes()
}

func coinbaseTx(value int64, pkScript []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x01},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: pkScript})
	return tx
}

func genesisHeader() wire.BlockHeader {
	return wire.BlockHeader{Version: 1, Timestamp: time.Unix(1231006505, 0), Bits: 0x1d00ffff}
}

func newTestDriver(t *testing.T, blockDir string, genesisHash chainmodel.Hash) *Driver {
	t.Helper()
	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	wb := kv.NewWriteBatch(1 << 20)

	cs := chainstore.New(kv, wb, genesisHash)
	idx := blockindex.New(kv, wb, cs, blockindex.AlwaysTracks{})

	return New(kv, wb, cs, idx, nil, blockDir, "", testMagic, false)
}

func TestRunSyncsGenesisOnlyChain(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "blk00000.dat"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	genesisWire := genesisHeader()
	genesisHash := chainmodel.Hash(genesisWire.BlockHash())
	payload := serializeBlock(t, genesisWire, coinbaseTx(50, []byte{0x01}))
	writeFrame(t, f, payload)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d := newTestDriver(t, dir, genesisHash)

	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.State() != StateReady {
		t.Fatalf("expected driver to reach StateReady")
	}

	top := d.chain.Top()
	if top == nil || top.Hash != genesisHash {
		t.Fatalf("expected chain tip to be the genesis block")
	}
	if d.index.AppliedToHeight() != 0 {
		t.Fatalf("expected applied height 0, got %d", d.index.AppliedToHeight())
	}
}

func TestPollForNewBlocksAppliesNewlyAppearedBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blk00000.dat")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	genesisWire := genesisHeader()
	genesisHash := chainmodel.Hash(genesisWire.BlockHash())
	writeFrame(t, f, serializeBlock(t, genesisWire, coinbaseTx(50, []byte{0x01})))
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d := newTestDriver(t, dir, genesisHash)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state, err := d.PollForNewBlocks(); err != nil || state != nil {
		t.Fatalf("expected no tip change on an unchanged block dir, got state=%+v err=%v", state, err)
	}

	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	nextWire := wire.BlockHeader{Version: 1, PrevBlock: genesisHash, Timestamp: time.Unix(1231006506, 0), Bits: 0x1d00ffff}
	writeFrame(t, f, serializeBlock(t, nextWire, coinbaseTx(50, []byte{0x02})))
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	state, err := d.PollForNewBlocks()
	if err != nil {
		t.Fatalf("PollForNewBlocks: %v", err)
	}
	if state == nil {
		t.Fatalf("expected the new block to move the tip")
	}
	if d.index.AppliedToHeight() != 1 {
		t.Fatalf("expected applied height 1, got %d", d.index.AppliedToHeight())
	}
}

func TestForceRebuildWipesExistingRowsAndFilterRegistrations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blk00000.dat")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	script := []byte{0x51}
	genesisWire := genesisHeader()
	genesisHash := chainmodel.Hash(genesisWire.BlockHash())
	writeFrame(t, f, serializeBlock(t, genesisWire, coinbaseTx(50, script)))
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	wb := kv.NewWriteBatch(1 << 20)
	cs := chainstore.New(kv, wb, genesisHash)
	filter := scrfilter.New(kv, wb)
	idx := blockindex.New(kv, wb, cs, filter)

	first := New(kv, wb, cs, idx, filter, dir, "", testMagic, false)
	if err := first.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The first run has no persisted cursors and so clears the filter
	// itself; the script is registered once that run is done.
	filter.Register(scrfilter.RegistrationBatch{Scripts: [][]byte{script}, WalletID: "w1", IsNew: true})
	txHash := coinbaseTx(50, script).TxHash()
	if _, _, ok := idx.GetTxOut(chainmodel.Hash(txHash), 0); !ok {
		t.Fatalf("expected the coinbase output to be indexed before rebuild")
	}
	if !filter.Tracks(script) {
		t.Fatalf("expected the script to be tracked before rebuild")
	}
	// The rebuild re-ingests the block file, so the tx-out row comes back;
	// a row that no block re-creates shows whether the old rows were wiped.
	stale := kvstore.WithPrefix(kvstore.PrefixMissingBlocks, []byte{0x01})
	if err := kv.Put(stale, []byte{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	second := New(kv, wb, cs, idx, filter, dir, "", testMagic, true)
	if err := second.Run(); err != nil {
		t.Fatalf("Run with forceRebuild: %v", err)
	}

	if filter.Tracks(script) {
		t.Fatalf("expected forced rebuild to clear the tracked-script registration set")
	}
	if _, err := kv.Get(stale); err != kvstore.ErrNotFound {
		t.Fatalf("expected forced rebuild to wipe the previously stored rows, got err=%v", err)
	}
	if _, _, ok := idx.GetTxOut(chainmodel.Hash(txHash), 0); !ok {
		t.Fatalf("expected the rebuild to re-index the coinbase output")
	}
}

func TestFindFirstUnappliedBlockReturnsZeroCursorWhenChainIsEmpty(t *testing.T) {
	dir := t.TempDir()
	d := newTestDriver(t, dir, chainmodel.Hash{0xaa})

	fs, err := discoverForTest(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	cursor, err := d.findFirstUnappliedBlock(fs)
	if err != nil {
		t.Fatalf("findFirstUnappliedBlock: %v", err)
	}
	if cursor.FileOrdinal != 0 || cursor.Offset != 0 {
		t.Fatalf("expected zero cursor on an empty chain, got %+v", cursor)
	}
}
