package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/chainindexor/core/examples/erc20"
	"github.com/chainindexor/core/examples/gravatar"
	"github.com/chainindexor/core/internal/chainmanager"
	"github.com/chainindexor/core/internal/commit"
	commoncomp "github.com/chainindexor/core/internal/common"
	"github.com/chainindexor/core/internal/config"
	internaldb "github.com/chainindexor/core/internal/db"
	"github.com/chainindexor/core/internal/decoder"
	"github.com/chainindexor/core/internal/fetcher"
	"github.com/chainindexor/core/internal/logger"
	"github.com/chainindexor/core/internal/metrics"
	"github.com/chainindexor/core/internal/migrations"
	"github.com/chainindexor/core/internal/rpc"
	"github.com/chainindexor/core/internal/runtime"
	"github.com/chainindexor/core/internal/store"
	sqlitestorage "github.com/chainindexor/core/internal/storage"
	"github.com/chainindexor/core/pkg/api"
	pkgconfig "github.com/chainindexor/core/pkg/config"
	"github.com/chainindexor/core/pkg/events"
	pkgstorage "github.com/chainindexor/core/pkg/storage"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         ChainIndexor v%s               ║
║   Blockchain Event Indexing Framework     ║
╚═══════════════════════════════════════════╝
`
	batchMin = 1
	batchMax = 500
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "ChainIndexor - multi-chain blockchain event indexing framework",
	Long: `ChainIndexor indexes events from multiple chains into a single
globally-ordered, CRUD-folding entity store, driven by per-contract
loader/handler pairs and committed transactionally to SQLite.`,
	Version: version,
	RunE:    runIndexer,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the chains and contracts configured in the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		for _, chain := range cfg.Chains {
			fmt.Printf("chain %d (%s):\n", chain.ChainID, chain.RPCURL)
			for _, c := range chain.Contracts {
				fmt.Printf("  - %s (%s)\n", c.Address, c.ContractType)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(listCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(commoncomp.ComponentRuntime, cfg.Logging)

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("opening database...")
	sqlDB, err := sqlitestorage.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlDB.Close()

	log.Info("running database migrations...")
	if err := migrations.RunMigrations(log, sqlDB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	dbMaintenance := internaldb.NewMaintenanceCoordinator(
		cfg.DB.Path,
		sqlDB,
		cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(commoncomp.ComponentMaintenance, cfg.Logging),
	)
	if err := dbMaintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance coordinator: %w", err)
	}
	defer dbMaintenance.Stop()

	stg := sqlitestorage.New(sqlDB, log)

	registry := decoder.NewRegistry()
	if err := registerContracts(registry, cfg.Chains); err != nil {
		return fmt.Errorf("failed to register contracts: %w", err)
	}
	if err := reregisterDynamicContracts(ctx, registry, stg); err != nil {
		return fmt.Errorf("failed to reload dynamic contract registry: %w", err)
	}

	chainIDs := make([]uint64, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		chainIDs = append(chainIDs, chainCfg.ChainID)
	}

	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, stg, registry, chainIDs, logger.NewComponentLoggerFromConfig(commoncomp.ComponentAPI, cfg.Logging))
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server stopped with error: %v", err)
			}
		}()
	}

	manager := chainmanager.New(registry, logger.NewComponentLoggerFromConfig(commoncomp.ComponentChainManager, cfg.Logging))

	for _, chainCfg := range cfg.Chains {
		f, err := newChainFetcher(ctx, chainCfg, registry, stg, log, cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to start fetcher for chain %d: %w", chainCfg.ChainID, err)
		}
		manager.RegisterFetcher(f)
		go func(f *fetcher.Fetcher) {
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				log.Errorw("fetcher stopped with error", "chain_id", f.ChainID(), "error", err)
			}
		}(f)
	}

	rt := runtime.New(stg, log)
	rt.OnRegisterDynamicContract(manager.RegisterDynamicContract)
	gravatar.Register(rt)
	erc20.Register(rt)

	commitEngine := commit.New(stg, logger.NewComponentLoggerFromConfig(commoncomp.ComponentCommit, cfg.Logging), cfg.CommitMaxRetries)

	log.Info("starting indexer loop...")
	if err := driveLoop(ctx, manager, rt, commitEngine, log); err != nil && ctx.Err() == nil {
		return fmt.Errorf("indexer loop failed: %w", err)
	}

	log.Info("chainindexor stopped successfully")
	return nil
}

// driveLoop repeatedly forms a batch via the chain manager, runs it
// through the loader/handler runtime against a fresh store, and commits
// the result, advancing one checkpoint per chain touched in the batch.
func driveLoop(ctx context.Context, manager *chainmanager.Manager, rt *runtime.Runtime, commitEngine *commit.Engine, log *logger.Logger) error {
	st := store.New(log)

	for {
		batch, err := manager.MakeBatch(ctx, batchMin, batchMax)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}

		if err := rt.ProcessBatch(ctx, st, batch); err != nil {
			return fmt.Errorf("process batch: %w", err)
		}

		if err := commitEngine.Commit(ctx, st, chainRanges(batch)); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}
}

// chainRanges reduces a batch to the per-chain block range it covers,
// in order of each chain's first appearance in the batch, for the
// commit engine to advance one checkpoint per chain touched.
func chainRanges(batch []*events.DecodedEvent) []commit.ChainRange {
	bounds := make(map[uint64]*commit.ChainRange)
	order := make([]uint64, 0)

	for _, ev := range batch {
		r, ok := bounds[ev.ChainID]
		if !ok {
			r = &commit.ChainRange{ChainID: ev.ChainID, FromBlock: ev.BlockNumber, ToBlock: ev.BlockNumber}
			bounds[ev.ChainID] = r
			order = append(order, ev.ChainID)
			continue
		}
		if ev.BlockNumber < r.FromBlock {
			r.FromBlock = ev.BlockNumber
		}
		if ev.BlockNumber > r.ToBlock {
			r.ToBlock = ev.BlockNumber
		}
	}

	ranges := make([]commit.ChainRange, 0, len(order))
	for _, chainID := range order {
		ranges = append(ranges, *bounds[chainID])
	}
	return ranges
}

func registerContracts(registry *decoder.Registry, chains []pkgconfig.ChainConfig) error {
	for _, chain := range chains {
		for _, contract := range chain.Contracts {
			contractABI, err := decoder.LoadABI(contract.ABIPath)
			if err != nil {
				return err
			}

			eventNames := contract.Events
			if len(eventNames) == 0 {
				eventNames = make([]string, 0, len(contractABI.Events))
				for name := range contractABI.Events {
					eventNames = append(eventNames, name)
				}
			}

			addr := common.HexToAddress(contract.Address)
			if err := registry.RegisterContract(chain.ChainID, addr, contract.ContractType, contractABI, eventNames); err != nil {
				return err
			}
		}
	}
	return nil
}

// reregisterDynamicContracts replays every previously-persisted dynamic
// contract registration into the decoder registry on startup, so a
// restart resumes decoding addresses that were registered at runtime in
// a prior process.
func reregisterDynamicContracts(ctx context.Context, registry *decoder.Registry, stg pkgstorage.Storage) error {
	var regs []struct {
		chainID uint64
		address common.Address
		ctype   string
	}
	err := stg.WithTx(ctx, func(tx pkgstorage.Tx) error {
		all, err := tx.AllDynamicContracts(ctx)
		if err != nil {
			return err
		}
		for _, r := range all {
			regs = append(regs, struct {
				chainID uint64
				address common.Address
				ctype   string
			}{chainID: r.ChainID, address: common.HexToAddress(r.ContractAddress), ctype: r.ContractType})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range regs {
		if err := registry.RegisterContractByType(r.chainID, r.address, r.ctype); err != nil {
			return err
		}
	}
	return nil
}

func newChainFetcher(ctx context.Context, chainCfg pkgconfig.ChainConfig, registry *decoder.Registry, stg pkgstorage.Storage, log *logger.Logger, loggingCfg *pkgconfig.LoggingConfig) (*fetcher.Fetcher, error) {
	ethClient, err := rpc.NewClient(ctx, chainCfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", chainCfg.RPCURL, err)
	}
	provider := rpc.NewRetryingClient(ethClient, chainCfg.Retry)

	resumeFrom, err := latestCheckpoint(ctx, stg, chainCfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	fcfg := fetcher.Config{
		ChainID:          chainCfg.ChainID,
		StartBlock:       chainCfg.StartBlock,
		MaxBlockInterval: chainCfg.MaxBlockInterval,
		MaxQueueSize:     chainCfg.MaxQueueSize,
		Finality:         chainCfg.Finality,
	}
	flog := logger.NewComponentLoggerFromConfig(commoncomp.ComponentFetcher, loggingCfg)
	return fetcher.New(fcfg, resumeFrom, flog, provider, registry), nil
}

// latestCheckpoint returns the next block to resume a chain's fetcher
// from: one past its last durably committed block, or zero if no
// checkpoint exists yet.
func latestCheckpoint(ctx context.Context, stg pkgstorage.Storage, chainID uint64) (uint64, error) {
	var resumeFrom uint64
	err := stg.WithTx(ctx, func(tx pkgstorage.Tx) error {
		block, ok, err := tx.LatestProcessedBlock(ctx, chainID)
		if err != nil {
			return err
		}
		if ok {
			resumeFrom = block + 1
		}
		return nil
	})
	return resumeFrom, err
}
