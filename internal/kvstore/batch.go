package kvstore

import (
	"sync"

	"github.com/blockvault/walletd/internal/logging"
	"github.com/cockroachdb/pebble"
)

// WriteBatch is the single long-lived write handle every write path
// (apply, undo, raw-block insert, header persist, SSH wipe) funnels
// through, flushed when it crosses config.UpdateBytesThresh.
type WriteBatch struct {
	db        *pebble.DB
	mu        sync.Mutex
	batch     *pebble.Batch
	threshold int
}

func (s *Store) NewWriteBatch(thresholdBytes int) *WriteBatch {
	return &WriteBatch{
		db:        s.db,
		batch:     s.db.NewBatch(),
		threshold: thresholdBytes,
	}
}

func (w *WriteBatch) Put(key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.batch.Set(key, value, nil); err != nil {
		return err
	}
	return w.flushIfOverThreshold()
}

func (w *WriteBatch) Delete(key []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.batch.Delete(key, nil); err != nil {
		return err
	}
	return w.flushIfOverThreshold()
}

// flushIfOverThreshold must be called with mu held.
func (w *WriteBatch) flushIfOverThreshold() error {
	if w.threshold <= 0 || w.batch.Len() < w.threshold {
		return nil
	}
	return w.commitLocked()
}

// Flush forces a commit of whatever is pending, regardless of size. Used
// at the end of a block-index operation so partial batches are never
// left dangling across apply/undo calls.
func (w *WriteBatch) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.batch.Empty() {
		return nil
	}
	return w.commitLocked()
}

func (w *WriteBatch) commitLocked() error {
	if err := w.batch.Commit(pebble.NoSync); err != nil {
		logging.L.Err(err).Msg("failed to commit write batch")
		return err
	}
	if err := w.batch.Close(); err != nil {
		logging.L.Err(err).Msg("failed to close write batch")
		return err
	}
	w.batch = w.db.NewBatch()
	return nil
}
