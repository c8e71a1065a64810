package config

import (
	"encoding/hex"
	"runtime"

	"github.com/blockvault/walletd/internal/logging"
)

const (
	ConfigFileName       string = "walletd.toml"
	DefaultBaseDirectory string = "~/.blockvault"
)

// DBType selects how much of the chain gets indexed into
// script-history: BARE indexes only registered addresses, SUPER
// indexes every script seen.
type DBType string

const (
	DBTypeBare  DBType = "BARE"
	DBTypeSuper DBType = "SUPER"
)

// PruneType selects the STXO pruning policy. Only NONE is implemented.
type PruneType string

const PruneTypeNone PruneType = "NONE"

type chain int

const (
	Unknown chain = iota
	Mainnet
	Testnet
)

var (
	LogLevel     = "info"
	LogToConsole = true

	BaseDirectory = ""
	BlockFilesDir = ""
	DBPath        = ""
	LogsPath      = ""

	HTTPHost = "127.0.0.1:8000"
	GRPCHost = ""

	Chain = Unknown
	DB    = DBTypeBare
	Prune = PruneTypeNone

	// UpdateBytesThresh caps the size of a pending apply/undo write-batch
	// before it is flushed to the key-value store.
	UpdateBytesThresh = 32 << 20

	MaxCPUCores = runtime.NumCPU() - 2
)

// Magic bytes framing block files on disk.
var (
	MainnetMagic = [4]byte{0xf9, 0xbe, 0xb4, 0xd9}
	TestnetMagic = [4]byte{0x0b, 0x11, 0x09, 0x07}
)

// GenesisHash values are stored internal-byte-order (reversed from the
// familiar display hex), matching chainhash.Hash throughout this codebase.
var (
	MainnetGenesisHash = mustDisplayHash("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	TestnetGenesisHash = mustDisplayHash("000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943"[:64])
)

func mustDisplayHash(displayHex string) [32]byte {
	b, err := hex.DecodeString(displayHex)
	if err != nil || len(b) != 32 {
		panic("bad genesis hash constant")
	}
	var h [32]byte
	for i, j := 0, len(b)-1; i < len(b); i, j = i+1, j-1 {
		h[i] = b[j]
	}
	return h
}

func SetDirectories() {
	BaseDirectory = ResolvePath(BaseDirectory)

	DBPath = BaseDirectory + "/data"
	LogsPath = BaseDirectory + "/logs"
	if BlockFilesDir == "" {
		BlockFilesDir = BaseDirectory + "/blocks"
	}
}

func GenesisHash() [32]byte {
	switch Chain {
	case Mainnet:
		return MainnetGenesisHash
	case Testnet:
		return TestnetGenesisHash
	default:
		logging.L.Panic().Msg("chain not defined")
		return [32]byte{}
	}
}

func Magic() [4]byte {
	switch Chain {
	case Mainnet:
		return MainnetMagic
	case Testnet:
		return TestnetMagic
	default:
		logging.L.Panic().Msg("chain not defined")
		return [4]byte{}
	}
}

func ChainToString() string {
	switch Chain {
	case Mainnet:
		return "main"
	case Testnet:
		return "test"
	default:
		logging.L.Panic().Msg("chain not defined")
		return ""
	}
}
