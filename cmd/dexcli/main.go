package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dexcore/internal/chain"
	"dexcore/internal/config"
	"dexcore/internal/directory"
	"dexcore/internal/model"
	"dexcore/internal/registry"
	"dexcore/internal/storage"
	"dexcore/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "dexcli",
		Short:        "Concentrated-liquidity DEX client",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "Discover pools for the token x fee matrix",
		RunE:  runPools,
	}
	addChainFlags(poolsCmd)
	poolsCmd.Flags().String("out", "", "optional output JSONL path")
	poolsCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for pool upserts")

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap",
		RunE:  runQuote,
	}
	addChainFlags(quoteCmd)
	quoteCmd.Flags().String("in", "", "input token symbol or address")
	quoteCmd.Flags().String("token-out", "", "output token symbol or address")
	quoteCmd.Flags().String("amount", "", "input amount (decimal)")

	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Quote and execute a swap",
		RunE:  runSwap,
	}
	addChainFlags(swapCmd)
	swapCmd.Flags().String("in", "", "input token symbol or address")
	swapCmd.Flags().String("token-out", "", "output token symbol or address")
	swapCmd.Flags().String("amount", "", "input amount (decimal)")
	swapCmd.Flags().Float64("slippage", 0.5, "slippage tolerance percent")
	swapCmd.Flags().String("recipient", "", "recipient address, defaults to the signer")
	swapCmd.Flags().String("private-key", "", "hex private key for signing")

	positionsCmd := &cobra.Command{
		Use:   "positions",
		Short: "List liquidity positions with derived economics",
		RunE:  runPositions,
	}
	addChainFlags(positionsCmd)
	positionsCmd.Flags().String("owner", "", "position owner address")

	createPoolCmd := &cobra.Command{
		Use:   "create-pool",
		Short: "Create and initialize a pool if it does not exist",
		RunE:  runCreatePool,
	}
	addChainFlags(createPoolCmd)
	createPoolCmd.Flags().String("token-a", "", "first token address")
	createPoolCmd.Flags().String("token-b", "", "second token address")
	createPoolCmd.Flags().Uint32("fee", 3000, "fee tier")
	createPoolCmd.Flags().Float64("price", 0, "initial token1-per-token0 price")
	createPoolCmd.Flags().String("private-key", "", "hex private key for signing")

	root.AddCommand(poolsCmd, quoteCmd, swapCmd, positionsCmd, createPoolCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "chain RPC URL")
	cmd.Flags().String("factory", "", "pool factory address")
	cmd.Flags().String("quoter", "", "quoter contract address")
	cmd.Flags().String("swap-router", "", "swap router address")
	cmd.Flags().String("legacy-router", "", "legacy router address")
	cmd.Flags().String("position-manager", "", "position manager address")
	cmd.Flags().String("wrapped-native", "", "wrapped native token address")
	cmd.Flags().String("native-symbol", "ETH", "native asset symbol")
	cmd.Flags().String("token-list", "", "token list JSON path")
	cmd.Flags().Duration("cache-ttl", 30*time.Second, "pool state cache TTL")
	cmd.Flags().Int64("max-inflight", 16, "max in-flight RPC requests")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// app bundles the handles every command needs. Capabilities are passed down
// explicitly; nothing global.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	client   *chain.Client
	registry *registry.Registry
	writer   chain.Writer
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !registry.ValidAddress(cfg.WrappedNative) {
		return nil, fmt.Errorf("wrapped-native address is required")
	}

	tokens, err := config.LoadTokenList(cfg.TokenList)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(tokens, registry.DefaultFeeTiers(), cfg.NativeSymbol, cfg.WrappedNative)
	if err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL, cfg.MaxInflight)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, client: client, registry: reg}
	if cfg.PrivateKey != "" {
		keyed, err := chain.NewKeyedWriter(client, cfg.PrivateKey)
		if err != nil {
			client.Close()
			return nil, err
		}
		a.writer = keyed
		logger.Info("signer configured", zap.String("from", keyed.From().Hex()))
	}
	return a, nil
}

func (a *app) close() {
	a.client.Close()
	a.logger.Sync()
}

func (a *app) newDirectory(ctx context.Context) (*directory.Directory, error) {
	if !registry.ValidAddress(a.cfg.Factory) {
		return nil, fmt.Errorf("factory address is required")
	}
	chainID, err := a.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return directory.New(directory.Config{
		Factory:          common.HexToAddress(a.cfg.Factory),
		ChainID:          chainID.Uint64(),
		TTL:              a.cfg.CacheTTL,
		ExistBatchSize:   a.cfg.ExistBatchSize,
		ExistBatchPause:  a.cfg.ExistBatchPause,
		DetailBatchSize:  a.cfg.DetailBatchSize,
		DetailBatchPause: a.cfg.DetailBatchPause,
		WaitTimeout:      a.cfg.WaitTimeout,
	}, a.client, a.writer, a.registry, a.logger), nil
}

func runPools(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	dir, err := a.newDirectory(ctx)
	if err != nil {
		return err
	}
	chainID, err := a.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	pools, err := dir.AllPools(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("discovery finished", zap.Int("pools", len(pools)))

	encoder := json.NewEncoder(os.Stdout)
	for _, pool := range pools {
		if err := encoder.Encode(pool); err != nil {
			return err
		}
	}

	records := poolRecords(chainID.Uint64(), pools)
	if a.cfg.Out != "" {
		sink := storage.NewJsonlStorage(a.cfg.Out)
		if err := sink.PutPoolBatch(records); err != nil {
			return fmt.Errorf("write pools: %w", err)
		}
		a.logger.Info("pools written", zap.String("out", a.cfg.Out))
	}
	if a.cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, a.cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.UpsertPools(ctx, records); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
		a.logger.Info("pools upserted", zap.Int("count", len(records)))
	}
	return nil
}

func poolRecords(chainID uint64, pools []model.PoolState) []model.PoolRecord {
	now := time.Now().UTC().Format(time.RFC3339)
	records := make([]model.PoolRecord, 0, len(pools))
	for _, pool := range pools {
		records = append(records, model.PoolRecord{
			ChainID:      chainID,
			Address:      pool.Address,
			Token0:       pool.Token0,
			Token1:       pool.Token1,
			Fee:          pool.Fee,
			TickSpacing:  pool.TickSpacing,
			Tick:         pool.Tick,
			SqrtPriceX96: pool.SqrtPriceX96,
			Price:        pool.Price,
			Liquidity:    pool.Liquidity,
			DiscoveredAt: now,
		})
	}
	return records
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
