// Package kvstore is the embedded key-value store collaborator: ordered
// keys, a single long-lived write handle, short-lived read snapshots,
// point lookups, and prefix iteration. It is a thin wrapper over pebble.
package kvstore

import (
	"errors"

	"github.com/blockvault/walletd/internal/logging"
	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get and the typed table accessors when a
// key is absent. It is never fatal.
var ErrNotFound = errors.New("kvstore: not found")

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	opts := (&pebble.Options{}).EnsureDefaults()
	opts.BytesPerSync = 1 << 20
	opts.MaxConcurrentCompactions = func() int { return 4 }

	db, err := pebble.Open(path, opts)
	if err != nil {
		logging.L.Err(err).Str("path", path).Msg("failed to open kvstore")
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get performs a point lookup against the live database (not a snapshot).
func (s *Store) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

// Put writes a single key outside of any batch. Callers on the hot write
// path should prefer Batch for anything touching more than one key.
func (s *Store) Put(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// DeleteRange removes every key in [lowerBound, upperBound) outside of
// any batch, used to wipe a whole table prefix at once on a forced
// rebuild.
func (s *Store) DeleteRange(lowerBound, upperBound []byte) error {
	return s.db.DeleteRange(lowerBound, upperBound, pebble.NoSync)
}

// WipeAllTables range-deletes every row under every known table prefix,
// leaving an empty store. Used when a forced rebuild starts indexing
// from ordinal 0 again and any previously persisted rows would
// otherwise linger alongside the freshly rebuilt ones.
func (s *Store) WipeAllTables() error {
	for _, prefix := range AllTablePrefixes {
		lower := []byte{prefix}
		upper := prefixUpperBound(lower)
		if upper == nil {
			upper = []byte{0xFF, 0xFF, 0xFF, 0xFF}
		}
		if err := s.db.DeleteRange(lower, upper, pebble.NoSync); err != nil {
			return err
		}
	}
	return nil
}

// NewSnapshot opens a short-lived, consistent read transaction. Callers
// must call Close when done; it never blocks writers.
func (s *Store) NewSnapshot() *Snapshot {
	return &Snapshot{snap: s.db.NewSnapshot()}
}

type Snapshot struct {
	snap *pebble.Snapshot
}

func (r *Snapshot) Close() error { return r.snap.Close() }

func (r *Snapshot) Get(key []byte) ([]byte, error) {
	v, closer, err := r.snap.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

// Iterate walks every key in [lowerBound, upperBound) in order, calling fn
// with borrowed key/value slices (copy them to retain past the callback).
// It stops early if fn returns false.
func (r *Snapshot) Iterate(lowerBound, upperBound []byte, fn func(key, value []byte) bool) error {
	it, err := r.snap.NewIter(&pebble.IterOptions{LowerBound: lowerBound, UpperBound: upperBound})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// IterateReverse walks the same range from the end backward, used for
// "highest entry" lookups like the top header or newest ledger page.
func (r *Snapshot) IterateReverse(lowerBound, upperBound []byte, fn func(key, value []byte) bool) error {
	it, err := r.snap.NewIter(&pebble.IterOptions{LowerBound: lowerBound, UpperBound: upperBound})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Last(); it.Valid(); it.Prev() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// IteratePrefix is a convenience over Iterate for the common case of a
// fixed key prefix.
func (r *Snapshot) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	return r.Iterate(prefix, prefixUpperBound(prefix), fn)
}

func prefixUpperBound(prefix []byte) []byte {
	ub := append([]byte(nil), prefix...)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] != 0xFF {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil // prefix is all 0xFF, unbounded above
}
