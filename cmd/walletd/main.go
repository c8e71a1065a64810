package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"time"

	"github.com/blockvault/walletd/internal/blockindex"
	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/chainstore"
	"github.com/blockvault/walletd/internal/config"
	"github.com/blockvault/walletd/internal/grpcapi"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/logging"
	"github.com/blockvault/walletd/internal/mempool"
	"github.com/blockvault/walletd/internal/restapi"
	"github.com/blockvault/walletd/internal/scrfilter"
	"github.com/blockvault/walletd/internal/sync"
	"github.com/blockvault/walletd/internal/viewer"
)

var (
	displayVersion bool
	forceRebuild   bool
	Version        = "0.0.0"
)

// newBlockPollInterval is how often the daemon checks the block
// directory for newly appeared files once the initial sync completes.
const newBlockPollInterval = 10 * time.Second

func init() {
	flag.StringVar(
		&config.BaseDirectory,
		"datadir",
		config.DefaultBaseDirectory,
		"Set the base directory for walletd. Default directory is ~/.blockvault",
	)
	flag.BoolVar(
		&displayVersion,
		"version",
		false,
		"show version of walletd",
	)
	flag.BoolVar(
		&forceRebuild,
		"rebuild",
		false,
		"wipe persisted sync cursors and rebuild the index from block file ordinal 0",
	)
	flag.Parse()

	if displayVersion {
		return
	}

	config.SetDirectories()

	if err := os.Mkdir(config.BaseDirectory, 0750); err != nil && !errors.Is(err, os.ErrExist) {
		logging.L.Fatal().Err(err).Msg("error creating base directory")
	}

	logging.L.Info().Msgf("base directory %s", config.BaseDirectory)
	config.LoadConfigs(path.Join(config.BaseDirectory, config.ConfigFileName))

	if err := os.MkdirAll(config.DBPath, 0750); err != nil {
		logging.L.Fatal().Err(err).Msg("error creating db path")
	}

	if config.LogsPath != "" {
		if err := logging.SetLogOutput(config.LogsPath, "walletd.log"); err != nil {
			logging.L.Warn().Err(err).Msg("failed to initialize file logging")
			defer logging.Close()
		}
	}
}

func main() {
	if displayVersion {
		fmt.Println("walletd version:", Version) // using fmt because loggers are not initialised
		os.Exit(0)
	}
	defer logging.L.Info().Msg("program shut down")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	logging.L.Info().Msg("program started")

	kv, err := kvstore.Open(config.DBPath)
	if err != nil {
		logging.L.Fatal().Err(err).Msg("failed opening kvstore")
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logging.L.Err(err).Msg("kvstore close failed")
		}
	}()

	wb := kv.NewWriteBatch(config.UpdateBytesThresh)

	genesis := chainmodel.Hash(config.GenesisHash())
	chain := chainstore.New(kv, wb, genesis)
	filter := scrfilter.New(kv, wb)

	var scriptFilter blockindex.ScriptFilter = filter
	if config.DB == config.DBTypeSuper {
		scriptFilter = blockindex.AlwaysTracks{}
	}
	index := blockindex.New(kv, wb, chain, scriptFilter)

	pool := mempool.New(func(hash chainmodel.Hash, i uint32) ([]byte, int64, bool) {
		return index.GetTxOut(hash, i)
	})

	view := viewer.New(chain, kv, filter, pool, index)

	var rebuildFilter *scrfilter.Filter
	if config.DB != config.DBTypeSuper {
		rebuildFilter = filter
	}
	driver := sync.New(kv, wb, chain, index, rebuildFilter, config.BlockFilesDir, "", config.Magic(), forceRebuild)

	errChan := make(chan error, 1)

	go func() {
		go restapi.RunServer(config.HTTPHost, restapi.NewHandler(view))

		if config.GRPCHost != "" {
			go grpcapi.Run(config.GRPCHost, view)
		}
	}()

	go func() {
		if err := driver.Run(); err != nil {
			logging.L.Err(err).Msg("initial sync failed")
			errChan <- err
			return
		}
		logging.L.Info().Msg("initial sync complete, driver ready")

		top := uint32(0)
		if head := chain.Top(); head != nil {
			top = head.Height
		}
		view.ScanWallets(viewer.Notification{Kind: viewer.KindInit, CurrentTop: top})

		// Hand off into live operation: poll for new blocks on a fixed
		// interval, feeding every tip change into the mempool and the
		// viewer's scan dispatch.
		ticker := time.NewTicker(newBlockPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			state, err := driver.PollForNewBlocks()
			if err != nil {
				logging.L.Err(err).Msg("poll for new blocks failed")
				continue
			}
			if state == nil {
				continue
			}

			mined, spent, err := index.MinedTxSummary(state.ReorgBranchPoint.Height+1, state.NewTop.Height)
			if err != nil {
				logging.L.Err(err).Msg("failed to summarize newly applied blocks for the mempool")
				continue
			}
			view.HandleChainUpdate(state, mined, spent)
		}
	}()

	for {
		select {
		case <-interrupt:
			logging.L.Info().Msg("program interrupted")
			return
		case err := <-errChan:
			logging.L.Err(err).Msg("program failed")
			return
		}
	}
}
