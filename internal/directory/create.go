package directory

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dexcore/internal/contracts"
	"dexcore/internal/registry"
	"dexcore/internal/ticks"
)

var (
	ErrPoolExists   = errors.New("pool already exists")
	ErrNoWriter     = errors.New("write capability not configured")
	ErrZeroPoolAddr = errors.New("factory returned zero pool address")
)

// CreatePool deploys a new pool through the factory and initializes it at
// the given human-readable starting price. Fails fast when the pool already
// exists. A zero resulting address is fatal and never retried.
func (d *Directory) CreatePool(ctx context.Context, tokenA, tokenB string, fee uint32, initialPrice float64) (common.Address, error) {
	if err := d.validatePair(tokenA, tokenB, fee); err != nil {
		return common.Address{}, err
	}
	if d.writer == nil {
		return common.Address{}, ErrNoWriter
	}

	sqrtPrice, err := d.startingSqrtPrice(tokenA, tokenB, initialPrice)
	if err != nil {
		return common.Address{}, err
	}

	exists, _, err := d.PoolExists(ctx, tokenA, tokenB, fee)
	if err != nil {
		return common.Address{}, err
	}
	if exists {
		return common.Address{}, fmt.Errorf("%s/%s fee %d: %w", tokenA, tokenB, fee, ErrPoolExists)
	}

	factoryABI, err := contracts.FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	data, err := factoryABI.Pack("createPool",
		common.HexToAddress(tokenA),
		common.HexToAddress(tokenB),
		new(big.Int).SetUint64(uint64(fee)),
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack createPool: %w", err)
	}

	txHash, err := d.writer.Submit(ctx, d.cfg.Factory, data, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("create pool: %w", err)
	}
	if err := d.waitChecked(ctx, txHash, "create pool"); err != nil {
		return common.Address{}, err
	}

	addr, err := d.lookupPool(ctx, tokenA, tokenB, fee)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve created pool: %w", err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, ErrZeroPoolAddr
	}

	d.invalidate(poolKey(tokenA, tokenB, fee))

	if err := d.initializePool(ctx, addr, sqrtPrice); err != nil {
		return common.Address{}, err
	}

	d.logger.Info("pool created",
		zap.String("pool", addr.Hex()),
		zap.String("token_a", tokenA),
		zap.String("token_b", tokenB),
		zap.Uint32("fee", fee),
	)
	return addr, nil
}

// CreatePoolIfNeeded resolves an existing pool, initializes an
// existing-but-uninitialized one, or falls through to CreatePool. The state
// read is the initialization probe: if it fails, the pool needs initialize.
func (d *Directory) CreatePoolIfNeeded(ctx context.Context, tokenA, tokenB string, fee uint32, initialPrice float64) (common.Address, error) {
	if err := d.validatePair(tokenA, tokenB, fee); err != nil {
		return common.Address{}, err
	}

	addr, err := d.lookupPool(ctx, tokenA, tokenB, fee)
	if err != nil {
		return common.Address{}, fmt.Errorf("pool lookup: %w", err)
	}
	if addr == (common.Address{}) {
		return d.CreatePool(ctx, tokenA, tokenB, fee, initialPrice)
	}

	if _, err := d.fetchState(ctx, addr); err != nil {
		if d.writer == nil {
			return common.Address{}, ErrNoWriter
		}
		sqrtPrice, perr := d.startingSqrtPrice(tokenA, tokenB, initialPrice)
		if perr != nil {
			return common.Address{}, perr
		}
		d.logger.Info("pool exists but is uninitialized",
			zap.String("pool", addr.Hex()),
			zap.NamedError("probe", err),
		)
		if err := d.initializePool(ctx, addr, sqrtPrice); err != nil {
			return common.Address{}, err
		}
		d.invalidate(poolKey(tokenA, tokenB, fee))
	}

	return addr, nil
}

// startingSqrtPrice converts a human-readable price into the raw Q96 value
// the pool initializer expects, undoing the decimal display adjustment.
func (d *Directory) startingSqrtPrice(tokenA, tokenB string, price float64) (*big.Int, error) {
	dec0, dec1 := uint8(18), uint8(18)
	a := canonicalOrder(tokenA, tokenB)
	if token, ok := d.registry.ByAddress(a[0]); ok {
		dec0 = token.Decimals
	}
	if token, ok := d.registry.ByAddress(a[1]); ok {
		dec1 = token.Decimals
	}
	raw := ticks.AdjustDecimals(price, dec1, dec0)
	sqrtPrice, err := ticks.SqrtPriceX96FromPrice(raw)
	if err != nil {
		return nil, fmt.Errorf("starting price: %w", err)
	}
	return sqrtPrice, nil
}

func (d *Directory) initializePool(ctx context.Context, pool common.Address, sqrtPrice *big.Int) error {
	poolABI, err := contracts.PoolABI()
	if err != nil {
		return fmt.Errorf("parse pool abi: %w", err)
	}
	data, err := poolABI.Pack("initialize", sqrtPrice)
	if err != nil {
		return fmt.Errorf("pack initialize: %w", err)
	}
	txHash, err := d.writer.Submit(ctx, pool, data, nil)
	if err != nil {
		return fmt.Errorf("initialize pool: %w", err)
	}
	return d.waitChecked(ctx, txHash, "initialize pool")
}

// waitChecked waits for a transaction under the configured timeout and
// fails when the receipt reports a revert. No automatic retry.
func (d *Directory) waitChecked(ctx context.Context, txHash common.Hash, step string) error {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.WaitTimeout)
	defer cancel()

	receipt, err := d.reader.WaitMined(waitCtx, txHash)
	if err != nil {
		return fmt.Errorf("%s: wait for transaction %s: %w", step, txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s: transaction %s reverted", step, txHash.Hex())
	}
	return nil
}

// canonicalOrder returns the pair in token0/token1 order, matching how the
// factory sorts addresses.
func canonicalOrder(tokenA, tokenB string) [2]string {
	a := [2]string{registry.Canonical(tokenA), registry.Canonical(tokenB)}
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	return a
}
