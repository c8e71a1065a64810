package main

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/blockvault/walletd/internal/config"
	"github.com/blockvault/walletd/internal/logging"
)

var (
	Version = "0.0.0"

	datadir    string
	configFile string
	dbPath     string

	startHeight uint32
	endHeight   uint32
	keyType     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(
		&datadir,
		"datadir",
		config.DefaultBaseDirectory,
		"Set the base directory for walletd. Default directory is ~/.blockvault",
	)
	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Path to config file (default: datadir/walletd.toml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&dbPath,
		"db",
		"",
		"Path to the pebble database directory (default: datadir/data)",
	)

	countCmd.Flags().Uint32Var(
		&startHeight,
		"start-height",
		0,
		"Start height for key counting (required for height-keyed tables)",
	)
	countCmd.Flags().Uint32Var(
		&endHeight,
		"end-height",
		0,
		"End height for key counting (required for height-keyed tables)",
	)
	countCmd.Flags().StringVar(
		&keyType,
		"key-type",
		"stored-block-header",
		"Type of keys to count: header-by-hash, height-to-dup, stored-tx, stored-txout, "+
			"stored-block-header, sdbi, script-history, script-sub-history, spent-txout, "+
			"missing-blocks, undo-record, tx-hash-to-key",
	)
}

var rootCmd = &cobra.Command{
	Use:   "walletdb-explorer",
	Short: "walletd database explorer",
	Long: `walletdb-explorer provides tools to explore and analyze the pebble
database walletd uses for its block index, script filter, and sync state.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.BaseDirectory = datadir
		config.SetDirectories()

		logging.L.Info().Msgf("base directory %s", config.BaseDirectory)

		if configFile == "" {
			configFile = path.Join(config.BaseDirectory, config.ConfigFileName)
		}
		config.LoadConfigs(configFile)

		if dbPath == "" {
			dbPath = config.DBPath
		}
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count keys in the database",
	Long: `Count keys under one table prefix. For height-keyed tables
(stored-block-header, undo-record) you must specify both start-height
and end-height; other key types ignore the height bounds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Opening database at: %s\n", dbPath)
		fmt.Printf("Counting %s keys", keyType)

		explorer, err := NewDatabaseExplorer(dbPath)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer explorer.Close()

		heightKeyed := map[string]bool{"stored-block-header": true, "undo-record": true}
		if heightKeyed[keyType] {
			if startHeight == 0 || endHeight == 0 {
				return fmt.Errorf("start-height and end-height are required for key type: %s", keyType)
			}
			if startHeight > endHeight {
				return fmt.Errorf("start-height must be less than or equal to end-height")
			}
			fmt.Printf(" from height %d to %d\n", startHeight, endHeight)
		} else {
			fmt.Println()
		}

		count, err := explorer.CountKeysByType(keyType, startHeight, endHeight)
		if err != nil {
			return fmt.Errorf("error counting keys: %w", err)
		}

		fmt.Printf("Found %d %s keys", count, keyType)
		if heightKeyed[keyType] {
			fmt.Printf(" in height range %d-%d", startHeight, endHeight)
		}
		fmt.Println()
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database information",
	Long: `Show comprehensive database information including:
- Height range (min/max blocks, from stored block headers)
- Key type counts by table prefix
- Database metrics (memtable size, cache size, WAL info, etc.)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Opening database at: %s\n", dbPath)

		explorer, err := NewDatabaseExplorer(dbPath)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer explorer.Close()

		if err := explorer.PrintDatabaseInfo(); err != nil {
			return fmt.Errorf("error printing database info: %w", err)
		}
		return nil
	},
}

var listKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List all key types in the database",
	Long:  `List all table prefixes present in the database with their counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Opening database at: %s\n", dbPath)

		explorer, err := NewDatabaseExplorer(dbPath)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer explorer.Close()

		if err := explorer.PrintKeyTypeSummary(); err != nil {
			return fmt.Errorf("error printing key type summary: %w", err)
		}
		return nil
	},
}

func main() {
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listKeysCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
