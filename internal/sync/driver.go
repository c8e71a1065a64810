package sync

import (
	"bytes"
	"errors"
	"io"

	"github.com/blockvault/walletd/internal/blockfile"
	"github.com/blockvault/walletd/internal/blockindex"
	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/chainstore"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/logging"
	"github.com/blockvault/walletd/internal/scrfilter"
	"github.com/btcsuite/btcd/wire"
)

// State is the driver's running-state flag.
type State int

const (
	StateStarting State = iota
	StateReady
)

// Driver runs the initial-sync / catch-up state machine that brings
// the header chain, raw-block store, and applied index up to date,
// then hands off to PollForNewBlocks for live operation.
type Driver struct {
	kv     *kvstore.Store
	wb     *kvstore.WriteBatch
	chain  *chainstore.ChainStore
	index  *blockindex.Index
	filter *scrfilter.Filter

	magic       [4]byte
	blockDir    string
	filePattern string

	forceRebuild bool

	state State
}

// filter may be nil when the index runs in SUPER mode, where there is
// no tracked-script registration set to clear on a forced rebuild.
func New(kv *kvstore.Store, wb *kvstore.WriteBatch, chain *chainstore.ChainStore, index *blockindex.Index, filter *scrfilter.Filter, blockDir, filePattern string, magic [4]byte, forceRebuild bool) *Driver {
	return &Driver{
		kv:           kv,
		wb:           wb,
		chain:        chain,
		index:        index,
		filter:       filter,
		magic:        magic,
		blockDir:     blockDir,
		filePattern:  filePattern,
		forceRebuild: forceRebuild,
	}
}

func (d *Driver) State() State { return d.state }

// Run discovers the block directory, rebuilds the header graph and raw
// block store, reconciles any reorg that happened while the daemon was
// down, applies every block up to the current tip, and leaves the
// driver in StateReady on success.
func (d *Driver) Run() error {
	d.state = StateStarting

	fs, err := blockfile.Discover(d.blockDir, d.filePattern)
	if err != nil {
		return err
	}
	logging.L.Info().Int("files", len(fs.Files)).Msg("discovered block files")

	cursors, haveCursors, err := LoadCursors(d.kv)
	if err != nil {
		return err
	}

	if d.forceRebuild || !haveCursors {
		logging.L.Warn().Bool("force_rebuild", d.forceRebuild).Bool("have_cursors", haveCursors).Msg("wiping databases for fresh sync")
		if err := d.kv.WipeAllTables(); err != nil {
			return err
		}
		if d.filter != nil {
			d.filter.Clear()
		}
		cursors = Cursors{}
	}

	if err := d.readHeaders(fs); err != nil {
		return err
	}

	if _, err := d.chain.ForceOrganize(); err != nil {
		return err
	}

	scanFrom, err := d.ingestRawBlocks(fs)
	if err != nil {
		return err
	}

	if haveCursors {
		var zero chainmodel.Hash
		if cursors.TopScannedBlockHash != zero {
			if _, onMain := d.mainBranchContains(cursors.TopScannedBlockHash); !onMain {
				branchPoint, err := d.undoToBranchPoint(cursors.TopScannedBlockHash)
				if err != nil {
					return err
				}
				if branchPoint+1 > scanFrom {
					scanFrom = branchPoint + 1
				}
			}
		}
	}

	top := uint32(0)
	var topHash chainmodel.Hash
	if head := d.chain.Top(); head != nil {
		top = head.Height
		topHash = head.Hash
	}
	if err := d.applyRange(scanFrom, top); err != nil {
		return err
	}

	d.state = StateReady
	return saveCursors(d.wb, Cursors{
		TopHeaderHeight:     top,
		TopRawBlockHeight:   top,
		AppliedToHeight:     d.index.AppliedToHeight(),
		TopScannedBlockHash: topHash,
	})
}

// PollForNewBlocks re-discovers the block directory, ingests any
// headers/raw blocks that have appeared since the last call, and
// re-organizes the chain. It returns the ReorganizationState the
// resulting Organize call produced (nil if the tip didn't move), so
// the caller can reconcile the mempool and dispatch the matching
// viewer notification.
func (d *Driver) PollForNewBlocks() (*chainstore.ReorganizationState, error) {
	fs, err := blockfile.Discover(d.blockDir, d.filePattern)
	if err != nil {
		return nil, err
	}
	if err := d.readHeaders(fs); err != nil {
		return nil, err
	}

	// Organize first, the same order Run follows for its initial
	// ForceOrganize: ingestRawBlocks below reads the chain's current
	// height to decide how far it needs to scan, so the tip must already
	// reflect any headers readHeaders just added.
	state, err := d.chain.Organize()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}

	if _, err := d.ingestRawBlocks(fs); err != nil {
		return nil, err
	}
	if err := d.index.Reorganize(state); err != nil {
		return nil, err
	}

	top := state.NewTop.Height
	if err := saveCursors(d.wb, Cursors{
		TopHeaderHeight:     top,
		TopRawBlockHeight:   top,
		AppliedToHeight:     d.index.AppliedToHeight(),
		TopScannedBlockHash: state.NewTop.Hash,
	}); err != nil {
		return nil, err
	}
	return state, nil
}

// readHeaders reads every header from the block files, feeding each
// into the chain store. AddBlock is idempotent on an already-known
// hash, so always starting from ordinal 0 is safe even when a prior
// run got partway through; it costs a re-scan, not correctness. A
// corrupt header table is recovered by restarting from ordinal 0 once.
func (d *Driver) readHeaders(fs *blockfile.FileSet) error {
	start := blockfile.Cursor{}
	reader := blockfile.NewReader(fs, d.magic, start)

	attempted := false
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		header, err := parseHeaderFromBlockPayload(frame.Payload)
		if err != nil {
			logging.L.Error().Err(err).Msg("corrupt header, restarting header scan from ordinal 0")
			if attempted {
				return err
			}
			attempted = true
			reader = blockfile.NewReader(fs, d.magic, blockfile.Cursor{})
			continue
		}
		header.FileNum = frame.FileOrdinal
		header.FileOffset = frame.Offset

		hash := chainmodel.Hash(header.Wire.BlockHash())
		if _, err := d.chain.AddBlock(hash, header); err != nil && !errors.Is(err, chainstore.ErrUnknownParent) {
			return err
		}
	}
}

func parseHeaderFromBlockPayload(payload []byte) (*chainstore.Header, error) {
	var wh wire.BlockHeader
	if err := wh.Deserialize(bytes.NewReader(payload)); err != nil {
		return nil, err
	}
	return &chainstore.Header{Wire: wh}, nil
}

// ingestRawBlocks locates the first blk-file offset whose block is not
// yet in the raw-blocks table, via findFirstUnappliedBlock, then reads
// every block from there forward into the store.
func (d *Driver) ingestRawBlocks(fs *blockfile.FileSet) (scanFrom uint32, err error) {
	start, err := d.findFirstUnappliedBlock(fs)
	if err != nil {
		return 0, err
	}

	reader := blockfile.NewReader(fs, d.magic, start)
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if _, err := d.index.AddRawBlock(frame.Payload, frame.FileOrdinal, frame.Offset); err != nil {
			logging.L.Warn().Err(err).Msg("failed to ingest raw block, continuing")
			continue
		}
	}
	return d.index.AppliedToHeight(), nil
}

// findFirstUnappliedBlock walks heights exponentially outward from 0
// until it finds one HasRawBlock reports as missing, then binary-searches
// back to the exact boundary, rather than trusting a plain
// applied-height cursor: a partially applied prior run can leave gaps
// such a cursor would miss.
func (d *Driver) findFirstUnappliedBlock(fs *blockfile.FileSet) (blockfile.Cursor, error) {
	top := uint32(0)
	if head := d.chain.Top(); head != nil {
		top = head.Height
	}
	if top == 0 {
		return blockfile.Cursor{}, nil
	}

	has := func(height uint32) (bool, error) {
		hdr, ok := d.chain.MainBranchAt(height)
		if !ok {
			return false, nil
		}
		return d.index.HasRawBlock(height, hdr.DupID)
	}

	var probe uint32 = 1
	lastKnownPresent := uint32(0)
	firstKnownAbsent := top + 1
	for probe <= top {
		ok, err := has(probe)
		if err != nil {
			return blockfile.Cursor{}, err
		}
		if ok {
			lastKnownPresent = probe
			probe *= 2
			continue
		}
		firstKnownAbsent = probe
		break
	}

	lo, hi := lastKnownPresent, firstKnownAbsent
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		ok, err := has(mid)
		if err != nil {
			return blockfile.Cursor{}, err
		}
		if ok {
			lo = mid
		} else {
			hi = mid
		}
	}

	firstMissingHeight := hi
	if firstMissingHeight > top {
		return blockfile.Cursor{}, nil
	}
	hdr, ok := d.chain.MainBranchAt(firstMissingHeight)
	if !ok {
		return blockfile.Cursor{}, nil
	}
	return blockfile.Cursor{FileOrdinal: hdr.FileNum, Offset: hdr.FileOffset}, nil
}

func (d *Driver) mainBranchContains(hash chainmodel.Hash) (*chainstore.Header, bool) {
	h, ok := d.chain.HeaderByHash(hash)
	if !ok {
		return nil, false
	}
	main, ok := d.chain.MainBranchAt(h.Height)
	if !ok || main.Hash != hash {
		return h, false
	}
	return h, true
}

// undoToBranchPoint undoes blocks from the persisted scanned tip back
// to the branch point with the current main chain.
func (d *Driver) undoToBranchPoint(scannedHash chainmodel.Hash) (branchPoint uint32, err error) {
	branch, err := d.chain.FindReorgPointFromBlock(scannedHash)
	if err != nil {
		return 0, err
	}

	h, ok := d.chain.HeaderByHash(scannedHash)
	if !ok {
		return branch.Height, nil
	}
	for cur := h; cur.Height > branch.Height; {
		if err := d.index.UndoBlockFromDB(cur.Height, cur.DupID); err != nil {
			return 0, err
		}
		parent, ok := d.chain.HeaderByHash(cur.PrevHash())
		if !ok {
			break
		}
		cur = parent
	}
	return branch.Height, nil
}

// applyRange applies every block in [from..to] to the index, in chain
// order from the branch point to the tip.
func (d *Driver) applyRange(from, to uint32) error {
	for height := from; height <= to; height++ {
		hdr, ok := d.chain.MainBranchAt(height)
		if !ok {
			continue
		}
		if err := d.index.ApplyBlockToDB(height, hdr.DupID); err != nil {
			return err
		}
	}
	return nil
}
