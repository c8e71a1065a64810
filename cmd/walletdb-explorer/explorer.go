package main

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/blockvault/walletd/internal/kvstore"
)

// DatabaseExplorer provides methods to explore the pebble database
// walletd writes its kvstore tables to (internal/kvstore/prefixes.go).
type DatabaseExplorer struct {
	db *pebble.DB
}

func NewDatabaseExplorer(dbPath string) (*DatabaseExplorer, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DatabaseExplorer{db: db}, nil
}

func (de *DatabaseExplorer) Close() error {
	return de.db.Close()
}

var keyTypeNames = map[byte]string{
	kvstore.PrefixHeaderByHash:   "header-by-hash",
	kvstore.PrefixHeightToDup:    "height-to-dup",
	kvstore.PrefixStoredTx:       "stored-tx",
	kvstore.PrefixStoredTxOut:    "stored-txout",
	kvstore.PrefixStoredBlockHdr: "stored-block-header",
	kvstore.PrefixSDBI:           "sdbi",
	kvstore.PrefixScriptHistory:  "script-history",
	kvstore.PrefixScriptSubHist:  "script-sub-history",
	kvstore.PrefixSpentTxOut:     "spent-txout",
	kvstore.PrefixMissingBlocks:  "missing-blocks",
	kvstore.PrefixUndoRecord:     "undo-record",
	kvstore.PrefixTxHashToKey:    "tx-hash-to-key",
}

var nameToPrefix = func() map[string]byte {
	m := make(map[string]byte, len(keyTypeNames))
	for prefix, name := range keyTypeNames {
		m[name] = prefix
	}
	return m
}()

// heightRangeable lists the prefixes whose row key starts with a 3-byte
// big-endian block height (chainmodel.BlockKey's layout), so a
// start/end height bound can be applied directly to the iterator.
var heightRangeable = map[byte]bool{
	kvstore.PrefixStoredBlockHdr: true,
	kvstore.PrefixUndoRecord:     true,
}

// CountKeysByType counts keys under one table prefix, optionally
// bounded to [startHeight, endHeight] for height-keyed tables.
func (de *DatabaseExplorer) CountKeysByType(keyType string, startHeight, endHeight uint32) (int, error) {
	prefix, ok := nameToPrefix[keyType]
	if !ok {
		return 0, fmt.Errorf("unsupported key type: %s", keyType)
	}

	lower, upper := de.boundsFor(prefix, startHeight, endHeight)
	iter, err := de.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterator error: %w", err)
	}
	return count, nil
}

func (de *DatabaseExplorer) boundsFor(prefix byte, startHeight, endHeight uint32) ([]byte, []byte) {
	if !heightRangeable[prefix] {
		return []byte{prefix}, []byte{prefix + 1}
	}
	lower := kvstore.WithPrefix(prefix, heightBytes(startHeight))
	// endHeight is inclusive and the upper bound exclusive, so the bound
	// is the packed end height followed by 0xFF: keys at endHeight whose
	// next byte is below 0xFF sort before it.
	upper := kvstore.WithPrefix(prefix, heightBytes(endHeight), []byte{0xFF})
	return lower, upper
}

func heightBytes(height uint32) []byte {
	return []byte{byte(height >> 16), byte(height >> 8), byte(height)}
}

// ListAllKeyTypes returns a count of keys by table prefix byte.
func (de *DatabaseExplorer) ListAllKeyTypes() (map[byte]int, error) {
	counts := make(map[byte]int)

	iter, err := de.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) > 0 {
			counts[key[0]]++
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return counts, nil
}

func (de *DatabaseExplorer) PrintKeyTypeSummary() error {
	counts, err := de.ListAllKeyTypes()
	if err != nil {
		return err
	}

	fmt.Println("Database Key Type Summary:")
	fmt.Println("=========================")

	total := 0
	for prefix, count := range counts {
		name := keyTypeNames[prefix]
		if name == "" {
			name = fmt.Sprintf("unknown(0x%02X)", prefix)
		}
		fmt.Printf("%-25s: %d keys\n", name, count)
		total += count
	}
	fmt.Printf("%-25s: %d keys\n", "TOTAL", total)
	return nil
}

// GetHeightRange scans stored block headers for the min/max height.
func (de *DatabaseExplorer) GetHeightRange() (uint32, uint32, error) {
	var minHeight, maxHeight uint32
	var found bool

	iter, err := de.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{kvstore.PrefixStoredBlockHdr},
		UpperBound: []byte{kvstore.PrefixStoredBlockHdr + 1},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < 4 {
			continue
		}
		height := uint32(key[1])<<16 | uint32(key[2])<<8 | uint32(key[3])
		if !found {
			minHeight, maxHeight, found = height, height, true
			continue
		}
		if height < minHeight {
			minHeight = height
		}
		if height > maxHeight {
			maxHeight = height
		}
	}
	if err := iter.Error(); err != nil {
		return 0, 0, fmt.Errorf("iterator error: %w", err)
	}
	if !found {
		return 0, 0, fmt.Errorf("no stored block headers found in database")
	}
	return minHeight, maxHeight, nil
}

func (de *DatabaseExplorer) GetDatabaseStats() (*pebble.Metrics, error) {
	return de.db.Metrics(), nil
}

func (de *DatabaseExplorer) PrintDatabaseInfo() error {
	fmt.Println("walletd Database Information")
	fmt.Println("============================")

	minHeight, maxHeight, err := de.GetHeightRange()
	if err != nil {
		fmt.Printf("Error getting height range: %v\n", err)
	} else {
		fmt.Printf("Height Range: %d - %d (%d blocks)\n", minHeight, maxHeight, maxHeight-minHeight+1)
	}

	fmt.Println()
	if err := de.PrintKeyTypeSummary(); err != nil {
		return fmt.Errorf("failed to print key type summary: %w", err)
	}

	fmt.Println()
	metrics, err := de.GetDatabaseStats()
	if err != nil {
		fmt.Printf("Error getting database metrics: %v\n", err)
	} else {
		fmt.Println("Database Metrics:")
		fmt.Printf("  Range Key Sets: %d\n", metrics.Keys.RangeKeySetsCount)
		fmt.Printf("  Tombstones: %d\n", metrics.Keys.TombstoneCount)
		fmt.Printf("  Memtable Size: %d bytes\n", metrics.MemTable.Size)
		fmt.Printf("  Block Cache Size: %d bytes\n", metrics.BlockCache.Size)
		fmt.Printf("  WAL Files: %d\n", metrics.WAL.Files)
		fmt.Printf("  WAL Size: %d bytes\n", metrics.WAL.Size)
	}
	return nil
}
