package directory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dexcore/internal/chain"
	"dexcore/internal/contracts"
	"dexcore/internal/model"
	"dexcore/internal/registry"
	"dexcore/internal/ticks"
)

// Config holds directory settings. Zero values fall back to the reference
// behavior: 30s cache TTL, existence batches of 50 with a 200ms pause,
// detail batches of 5 with a 1s pause, 120s transaction waits.
type Config struct {
	Factory          common.Address
	ChainID          uint64
	TTL              time.Duration
	ExistBatchSize   int
	ExistBatchPause  time.Duration
	DetailBatchSize  int
	DetailBatchPause time.Duration
	WaitTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.ExistBatchSize <= 0 {
		c.ExistBatchSize = 50
	}
	if c.ExistBatchPause <= 0 {
		c.ExistBatchPause = 200 * time.Millisecond
	}
	if c.DetailBatchSize <= 0 {
		c.DetailBatchSize = 5
	}
	if c.DetailBatchPause <= 0 {
		c.DetailBatchPause = time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 120 * time.Second
	}
}

// cacheEntry snapshots one pool lookup. A nil state records a confirmed
// "does not exist" answer. Readers check insertedAt against the TTL; they
// never rely on eager deletion.
type cacheEntry struct {
	state      *model.PoolState
	insertedAt time.Time
}

// Directory discovers pools for the token-pair x fee matrix, caches their
// state under a TTL, and drives pool creation.
type Directory struct {
	cfg      Config
	reader   chain.Reader
	writer   chain.Writer
	registry *registry.Registry
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// New builds a Directory. The writer may be nil for read-only use; creation
// calls then fail with a capability error.
func New(cfg Config, reader chain.Reader, writer chain.Writer, reg *registry.Registry, logger *zap.Logger) *Directory {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		cfg:      cfg,
		reader:   reader,
		writer:   writer,
		registry: reg,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// poolKey canonicalizes an unordered token pair plus fee into a cache key.
func poolKey(tokenA, tokenB string, fee uint32) string {
	a := registry.Canonical(tokenA)
	b := registry.Canonical(tokenB)
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s:%d", a, b, fee)
}

func (d *Directory) validatePair(tokenA, tokenB string, fee uint32) error {
	if !registry.ValidAddress(tokenA) {
		return fmt.Errorf("token %q is not a valid address", tokenA)
	}
	if !registry.ValidAddress(tokenB) {
		return fmt.Errorf("token %q is not a valid address", tokenB)
	}
	if _, ok := d.registry.TierForFee(fee); !ok {
		return fmt.Errorf("unsupported fee tier %d", fee)
	}
	return nil
}

// lookupPool queries the factory and propagates transport failures.
func (d *Directory) lookupPool(ctx context.Context, tokenA, tokenB string, fee uint32) (common.Address, error) {
	factoryABI, err := contracts.FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := contracts.Call(ctx, d.reader, d.cfg.Factory, factoryABI, "getPool",
		common.HexToAddress(tokenA),
		common.HexToAddress(tokenB),
		new(big.Int).SetUint64(uint64(fee)),
	)
	if err != nil {
		return common.Address{}, err
	}
	return contracts.AsAddress(values[0])
}

// GetPoolAddress resolves a pool address through the factory. Transport
// failures collapse to the zero address so callers can treat "couldn't
// check" like "does not exist"; nothing is cached in that case.
func (d *Directory) GetPoolAddress(ctx context.Context, tokenA, tokenB string, fee uint32) (common.Address, error) {
	if err := d.validatePair(tokenA, tokenB, fee); err != nil {
		return common.Address{}, err
	}
	addr, err := d.lookupPool(ctx, tokenA, tokenB, fee)
	if err != nil {
		d.logger.Warn("pool lookup failed",
			zap.String("token_a", tokenA),
			zap.String("token_b", tokenB),
			zap.Uint32("fee", fee),
			zap.Error(err),
		)
		return common.Address{}, nil
	}
	return addr, nil
}

// PoolExists reports whether a pool for the pair and fee exists.
func (d *Directory) PoolExists(ctx context.Context, tokenA, tokenB string, fee uint32) (bool, common.Address, error) {
	addr, err := d.GetPoolAddress(ctx, tokenA, tokenB, fee)
	if err != nil {
		return false, common.Address{}, err
	}
	return addr != (common.Address{}), addr, nil
}

func (d *Directory) cached(key string) (*model.PoolState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.cache[key]
	if !ok {
		return nil, false
	}
	if d.now().Sub(entry.insertedAt) >= d.cfg.TTL {
		delete(d.cache, key)
		return nil, false
	}
	if entry.state == nil {
		return nil, true
	}
	copied := *entry.state
	return &copied, true
}

func (d *Directory) store(key string, state *model.PoolState) {
	d.mu.Lock()
	d.cache[key] = cacheEntry{state: state, insertedAt: d.now()}
	d.mu.Unlock()
}

func (d *Directory) invalidate(key string) {
	d.mu.Lock()
	delete(d.cache, key)
	d.mu.Unlock()
}

// GetPoolDetails returns the pool state for a pair and fee, or nil when the
// pool does not exist. Results, including confirmed negatives, are cached
// under the TTL. Transient read failures return nil without caching, so the
// next call retries.
func (d *Directory) GetPoolDetails(ctx context.Context, tokenA, tokenB string, fee uint32) (*model.PoolState, error) {
	if err := d.validatePair(tokenA, tokenB, fee); err != nil {
		return nil, err
	}

	key := poolKey(tokenA, tokenB, fee)
	if state, ok := d.cached(key); ok {
		return state, nil
	}

	addr, err := d.lookupPool(ctx, tokenA, tokenB, fee)
	if err != nil {
		d.logger.Warn("pool discovery failed", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	if addr == (common.Address{}) {
		d.store(key, nil)
		return nil, nil
	}

	state, err := d.fetchState(ctx, addr)
	if err != nil {
		d.logger.Warn("pool state fetch failed", zap.String("pool", addr.Hex()), zap.Error(err))
		return nil, nil
	}

	d.store(key, state)
	copied := *state
	return &copied, nil
}

// fetchState reads the pool's live state field by field and decodes the
// positional tuples at the boundary.
func (d *Directory) fetchState(ctx context.Context, pool common.Address) (*model.PoolState, error) {
	poolABI, err := contracts.PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := contracts.Call(ctx, d.reader, pool, poolABI, "slot0")
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("slot0: short return tuple")
	}
	sqrtPrice, err := contracts.AsBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("slot0 sqrt price: %w", err)
	}
	tickBig, err := contracts.AsBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("slot0 tick: %w", err)
	}
	tick, err := contracts.Int24FromBig(tickBig)
	if err != nil {
		return nil, fmt.Errorf("slot0 tick: %w", err)
	}

	values, err = contracts.Call(ctx, d.reader, pool, poolABI, "liquidity")
	if err != nil {
		return nil, err
	}
	liquidity, err := contracts.AsBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("liquidity: %w", err)
	}

	values, err = contracts.Call(ctx, d.reader, pool, poolABI, "token0")
	if err != nil {
		return nil, err
	}
	token0, err := contracts.AsAddress(values[0])
	if err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}

	values, err = contracts.Call(ctx, d.reader, pool, poolABI, "token1")
	if err != nil {
		return nil, err
	}
	token1, err := contracts.AsAddress(values[0])
	if err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}

	values, err = contracts.Call(ctx, d.reader, pool, poolABI, "fee")
	if err != nil {
		return nil, err
	}
	feeBig, err := contracts.AsBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}

	values, err = contracts.Call(ctx, d.reader, pool, poolABI, "tickSpacing")
	if err != nil {
		return nil, err
	}
	spacingBig, err := contracts.AsBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("tick spacing: %w", err)
	}
	tickSpacing, err := contracts.Int24FromBig(spacingBig)
	if err != nil {
		return nil, fmt.Errorf("tick spacing: %w", err)
	}

	rawPrice, err := ticks.PriceFromSqrtPriceX96(sqrtPrice)
	if err != nil {
		return nil, fmt.Errorf("decode price: %w", err)
	}

	dec0, dec1 := uint8(18), uint8(18)
	if token, ok := d.registry.ByAddress(token0.Hex()); ok {
		dec0 = token.Decimals
	}
	if token, ok := d.registry.ByAddress(token1.Hex()); ok {
		dec1 = token.Decimals
	}

	return &model.PoolState{
		Address:      strings.ToLower(pool.Hex()),
		Token0:       strings.ToLower(token0.Hex()),
		Token1:       strings.ToLower(token1.Hex()),
		Fee:          uint32(feeBig.Uint64()),
		Tick:         tick,
		SqrtPriceX96: sqrtPrice.String(),
		Price:        ticks.AdjustDecimals(rawPrice, dec0, dec1),
		Liquidity:    liquidity.String(),
		TickSpacing:  tickSpacing,
	}, nil
}

// pairKeys enumerates the upper-triangular token x token x fee matrix.
func (d *Directory) pairKeys() []pairKey {
	tokens := d.registry.Tokens()
	tiers := d.registry.FeeTiers()

	sorted := make([]model.Token, len(tokens))
	copy(sorted, tokens)
	sort.Slice(sorted, func(i, j int) bool {
		return registry.Canonical(sorted[i].Address) < registry.Canonical(sorted[j].Address)
	})

	var keys []pairKey
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			for _, tier := range tiers {
				keys = append(keys, pairKey{
					tokenA: sorted[i].Address,
					tokenB: sorted[j].Address,
					fee:    tier.Fee,
				})
			}
		}
	}
	return keys
}

type pairKey struct {
	tokenA string
	tokenB string
	fee    uint32
}
