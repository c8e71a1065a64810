package chainstore

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/logging"
)

// ErrUnknownParent is returned by AddBlock when a header's previous
// hash has never been seen — the caller is expected to hold it back
// until the parent arrives.
var ErrUnknownParent = errors.New("chainstore: unknown parent")

// ErrGenesisMismatch is the fatal condition where the best chain's root
// does not match the configured genesis hash.
var ErrGenesisMismatch = errors.New("chainstore: best chain does not reach configured genesis")

// ReorganizationState describes the result of an Organize call that
// changed the best tip.
type ReorganizationState struct {
	NewTop            *Header
	PrevTop           *Header
	PrevTopStillValid bool
	ReorgBranchPoint  *Header
}

// ChainStore holds the in-memory header graph and mirrors the current
// best chain into the height→dup-id table. Exactly one writer touches
// it at a time; readers take the mutex for the duration of their
// lookup.
type ChainStore struct {
	mu sync.RWMutex

	genesis chainmodel.Hash

	byHash map[chainmodel.Hash]*Header

	// byHeight holds every header seen at a height, in first-seen
	// order; DupID is its index in this slice.
	byHeight map[uint32][]*Header

	top *Header

	kv *kvstore.Store
	wb *kvstore.WriteBatch
}

func New(kv *kvstore.Store, wb *kvstore.WriteBatch, genesis chainmodel.Hash) *ChainStore {
	return &ChainStore{
		genesis:  genesis,
		byHash:   make(map[chainmodel.Hash]*Header),
		byHeight: make(map[uint32][]*Header),
		kv:       kv,
		wb:       wb,
	}
}

// Top returns the current best-chain tip, or nil before the first
// Organize call.
func (cs *ChainStore) Top() *Header {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.top
}

func (cs *ChainStore) HeaderByHash(hash chainmodel.Hash) (*Header, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	h, ok := cs.byHash[hash]
	return h, ok
}

// AddBlock registers a header in the graph. It is idempotent: adding
// the same hash twice is a no-op returning the existing Header. The
// genesis header is accepted with no parent lookup; every other header
// requires its previous hash to already be known.
func (cs *ChainStore) AddBlock(wireHash chainmodel.Hash, h *Header) (*Header, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if existing, ok := cs.byHash[wireHash]; ok {
		return existing, nil
	}

	h.Hash = wireHash

	var zero chainmodel.Hash
	if h.PrevHash() == zero {
		h.Height = 0
	} else {
		parent, ok := cs.byHash[h.PrevHash()]
		if !ok {
			return nil, ErrUnknownParent
		}
		h.Height = parent.Height + 1
	}

	h.DupID = uint8(len(cs.byHeight[h.Height]))
	cs.byHeight[h.Height] = append(cs.byHeight[h.Height], h)
	cs.byHash[wireHash] = h

	if err := cs.persistHeader(h); err != nil {
		return nil, err
	}

	return h, nil
}

func (cs *ChainStore) persistHeader(h *Header) error {
	raw, err := h.SerializeBare()
	if err != nil {
		return err
	}
	key := kvstore.WithPrefix(kvstore.PrefixHeaderByHash, h.Hash[:])
	return cs.wb.Put(key, raw)
}

// Organize recomputes the best chain by cumulative work across every
// known tip and, if the winner differs from the current top, produces
// a ReorganizationState describing the switch. It does not mutate
// persisted state beyond the height→dup-id mirror of the new best
// chain.
func (cs *ChainStore) Organize() (*ReorganizationState, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	best := cs.findBestTip()
	if best == nil {
		return nil, nil
	}

	prevTop := cs.top
	if prevTop != nil && prevTop.Hash == best.Hash {
		return nil, nil
	}

	branch := cs.commonAncestorLocked(prevTop, best)

	if err := cs.switchToChainLocked(best); err != nil {
		return nil, err
	}

	state := &ReorganizationState{
		NewTop:            best,
		PrevTop:           prevTop,
		PrevTopStillValid: prevTop != nil && branch == prevTop,
		ReorgBranchPoint:  branch,
	}
	cs.top = best
	return state, nil
}

// ForceOrganize behaves like Organize but treats a best chain that
// fails to trace back to the configured genesis as fatal: the daemon
// cannot proceed without a valid genesis.
func (cs *ChainStore) ForceOrganize() (*ReorganizationState, error) {
	state, err := cs.Organize()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	if !cs.chainReachesGenesisLocked(state.NewTop) {
		logging.L.Fatal().
			Str("tip", state.NewTop.Hash.String()).
			Str("genesis", cs.genesis.String()).
			Msg("best chain does not trace back to configured genesis")
		return nil, ErrGenesisMismatch
	}
	return state, nil
}

func (cs *ChainStore) chainReachesGenesisLocked(tip *Header) bool {
	cur := tip
	for cur.Height > 0 {
		parent, ok := cs.byHash[cur.PrevHash()]
		if !ok {
			return false
		}
		cur = parent
	}
	return cur.Hash == cs.genesis
}

// findBestTip walks every header in the graph and returns the one with
// the greatest cumulative work. Among equal-work tips at the same height
// the lowest dup-id (first seen) wins; between equal-work tips at
// different heights the winner follows map iteration order and is not
// fixed.
func (cs *ChainStore) findBestTip() *Header {
	var best *Header
	var bestWork *big.Int

	isTip := func(h *Header) bool {
		for _, sibling := range cs.byHeight[h.Height+1] {
			if sibling.PrevHash() == h.Hash {
				return false
			}
		}
		return true
	}

	for _, headers := range cs.byHeight {
		for _, h := range headers {
			if !isTip(h) {
				continue
			}
			w := cs.cumulativeWorkLocked(h)
			if bestWork == nil || w.Cmp(bestWork) > 0 {
				best, bestWork = h, w
			}
		}
	}
	return best
}

func (cs *ChainStore) cumulativeWorkLocked(tip *Header) *big.Int {
	total := big.NewInt(0)
	cur := tip
	for {
		total.Add(total, cur.Work())
		if cur.Height == 0 {
			break
		}
		parent, ok := cs.byHash[cur.PrevHash()]
		if !ok {
			break
		}
		cur = parent
	}
	return total
}

// commonAncestorLocked finds the highest header both a and b's chains
// pass through. If a is nil (first Organize call), the ancestor is b's
// own genesis-side root.
func (cs *ChainStore) commonAncestorLocked(a, b *Header) *Header {
	if a == nil {
		cur := b
		for cur.Height > 0 {
			parent, ok := cs.byHash[cur.PrevHash()]
			if !ok {
				break
			}
			cur = parent
		}
		return cur
	}

	seen := make(map[chainmodel.Hash]bool)
	for cur := a; ; {
		seen[cur.Hash] = true
		if cur.Height == 0 {
			break
		}
		parent, ok := cs.byHash[cur.PrevHash()]
		if !ok {
			break
		}
		cur = parent
	}

	for cur := b; ; {
		if seen[cur.Hash] {
			return cur
		}
		if cur.Height == 0 {
			return cur
		}
		parent, ok := cs.byHash[cur.PrevHash()]
		if !ok {
			return cur
		}
		cur = parent
	}
}

// switchToChainLocked rewrites the persisted height→dup-id mirror so it
// reflects best's ancestry, marking every header on best's chain as
// main-branch and everything it displaces as not.
func (cs *ChainStore) switchToChainLocked(best *Header) error {
	if cs.top != nil {
		for cur := cs.top; ; {
			cur.IsMainBranch = false
			if cur.Height == 0 {
				break
			}
			parent, ok := cs.byHash[cur.PrevHash()]
			if !ok {
				break
			}
			cur = parent
		}
	}

	for cur := best; ; {
		cur.IsMainBranch = true
		key := kvstore.WithPrefix(kvstore.PrefixHeightToDup, heightBytes(cur.Height))
		if err := cs.wb.Put(key, []byte{cur.DupID}); err != nil {
			return err
		}
		if cur.Height == 0 {
			break
		}
		parent, ok := cs.byHash[cur.PrevHash()]
		if !ok {
			break
		}
		cur = parent
	}
	return nil
}

// FindReorgPointFromBlock returns the header on the current main chain
// that is the closest common ancestor with the given (possibly
// off-chain) block hash, used by the block-index writer to know how
// far back to unwind before reapplying.
func (cs *ChainStore) FindReorgPointFromBlock(hash chainmodel.Hash) (*Header, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	h, ok := cs.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("chainstore: unknown block %s", hash)
	}
	return cs.commonAncestorLocked(cs.top, h), nil
}

// MainBranchAt returns the header that sits on the current best chain
// at the given height, or false if the chain has not reached it.
func (cs *ChainStore) MainBranchAt(height uint32) (*Header, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	for _, h := range cs.byHeight[height] {
		if h.IsMainBranch {
			return h, true
		}
	}
	return nil, false
}

func heightBytes(height uint32) []byte {
	var b [3]byte
	b[0] = byte(height >> 16)
	b[1] = byte(height >> 8)
	b[2] = byte(height)
	return b[:]
}

// LoadPersisted reads every row of the persisted header table into a
// map keyed by hash, skipping rows that fail to decode. It does not link
// headers to their parents or build a ChainStore from them, and the
// genesis argument is not used.
func LoadPersisted(kv *kvstore.Store, genesis chainmodel.Hash) (map[chainmodel.Hash]*Header, error) {
	snap := kv.NewSnapshot()
	defer snap.Close()

	pending := make(map[chainmodel.Hash]*Header)
	prefix := []byte{kvstore.PrefixHeaderByHash}
	err := snap.IteratePrefix(prefix, func(key, value []byte) bool {
		if len(key) != 33 {
			return true
		}
		var hash chainmodel.Hash
		copy(hash[:], key[1:])
		h, derr := DeserializeBare(hash, value)
		if derr != nil {
			logging.L.Err(derr).Str("hash", hash.String()).Msg("skipping corrupt header row")
			return true
		}
		pending[hash] = h
		return true
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}
