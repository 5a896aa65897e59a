package quote

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dexcore/internal/contracts"
	"dexcore/internal/model"
	"dexcore/internal/registry"
)

// SwapParams describes a swap execution request.
type SwapParams struct {
	TokenIn     string
	TokenOut    string
	AmountIn    string
	SlippagePct float64
	Owner       common.Address
	Recipient   common.Address // defaults to Owner
	Deadline    time.Duration  // defaults to 20 minutes
}

// exactInputSingleParams mirrors the swap router's tuple argument.
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ExecuteSwap re-derives a fresh quote, bounds it with the slippage
// tolerance, wraps the native asset when needed, tops up the router
// allowance only if the current one is insufficient, and submits the swap
// with a legacy-router fallback. Approval, wrap, and swap are separate
// transactions; re-running after a partial failure is safe because each
// step checks current on-chain state first.
func (e *Engine) ExecuteSwap(ctx context.Context, params SwapParams) (common.Hash, error) {
	if e.writer == nil {
		return common.Hash{}, ErrNoWriter
	}

	in, err := e.registry.Resolve(params.TokenIn)
	if err != nil {
		return common.Hash{}, fmt.Errorf("input token: %w", err)
	}
	out, err := e.registry.Resolve(params.TokenOut)
	if err != nil {
		return common.Hash{}, fmt.Errorf("output token: %w", err)
	}
	if registry.Canonical(in.Address) == registry.Canonical(out.Address) {
		return common.Hash{}, ErrIdenticalTokens
	}

	slippage := params.SlippagePct
	if slippage <= 0 {
		slippage = e.cfg.SlippagePct
	}
	recipient := params.Recipient
	if recipient == (common.Address{}) {
		recipient = params.Owner
	}
	deadlineIn := params.Deadline
	if deadlineIn <= 0 {
		deadlineIn = 20 * time.Minute
	}

	quote, err := e.GetQuote(ctx, params.TokenIn, params.TokenOut, params.AmountIn)
	if err != nil {
		return common.Hash{}, err
	}

	amountDec, err := decimal.NewFromString(params.AmountIn)
	if err != nil {
		return common.Hash{}, fmt.Errorf("amount %q: %w", params.AmountIn, err)
	}
	rawIn := amountDec.Shift(int32(in.Decimals)).BigInt()

	outDec, err := decimal.NewFromString(quote.AmountOut)
	if err != nil {
		return common.Hash{}, fmt.Errorf("quoted amount %q: %w", quote.AmountOut, err)
	}
	minOutRaw := minimumReceived(outDec, slippage).Shift(int32(out.Decimals)).BigInt()

	if e.registry.IsNative(params.TokenIn) {
		if err := e.wrapNative(ctx, rawIn); err != nil {
			return common.Hash{}, err
		}
	}

	if err := e.ensureAllowance(ctx, in, params.Owner, e.cfg.SwapRouter, rawIn); err != nil {
		return common.Hash{}, err
	}

	deadline := big.NewInt(time.Now().Add(deadlineIn).Unix())

	txHash, primaryErr := e.submitRouterSwap(ctx, in, out, recipient, rawIn, minOutRaw, deadline)
	if primaryErr == nil {
		if err := e.waitChecked(ctx, txHash, "swap"); err != nil {
			return common.Hash{}, err
		}
		return txHash, nil
	}
	e.logger.Warn("primary swap failed, trying legacy router", zap.Error(primaryErr))

	txHash, fallbackErr := e.submitLegacySwap(ctx, in, out, recipient, rawIn, minOutRaw, deadline)
	if fallbackErr != nil {
		return common.Hash{}, fmt.Errorf("swap failed: primary: %w; fallback: %w", primaryErr, fallbackErr)
	}
	if err := e.waitChecked(ctx, txHash, "fallback swap"); err != nil {
		return common.Hash{}, err
	}
	return txHash, nil
}

// wrapNative deposits the input amount into the wrapped-native contract.
func (e *Engine) wrapNative(ctx context.Context, amount *big.Int) error {
	wrappedABI, err := contracts.WrappedNativeABI()
	if err != nil {
		return fmt.Errorf("parse wrapped native abi: %w", err)
	}
	data, err := wrappedABI.Pack("deposit")
	if err != nil {
		return fmt.Errorf("pack deposit: %w", err)
	}
	txHash, err := e.writer.Submit(ctx, e.cfg.WrappedNative, data, amount)
	if err != nil {
		return fmt.Errorf("wrap: %w", err)
	}
	return e.waitChecked(ctx, txHash, "wrap")
}

// ensureAllowance reads the current allowance and submits one exact-amount
// approval only when it is insufficient. Never approves unconditionally.
func (e *Engine) ensureAllowance(ctx context.Context, token model.Token, owner, spender common.Address, required *big.Int) error {
	erc20ABI, err := contracts.ERC20ABI()
	if err != nil {
		return fmt.Errorf("parse erc20 abi: %w", err)
	}
	tokenAddr := common.HexToAddress(token.Address)

	values, err := contracts.Call(ctx, e.reader, tokenAddr, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	current, err := contracts.AsBigInt(values[0])
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(required) >= 0 {
		return nil
	}

	data, err := erc20ABI.Pack("approve", spender, required)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	txHash, err := e.writer.Submit(ctx, tokenAddr, data, nil)
	if err != nil {
		return fmt.Errorf("approval: %w", err)
	}
	return e.waitChecked(ctx, txHash, "approval")
}

func (e *Engine) submitRouterSwap(ctx context.Context, in, out model.Token, recipient common.Address, amountIn, minOut, deadline *big.Int) (common.Hash, error) {
	routerABI, err := contracts.SwapRouterABI()
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse swap router abi: %w", err)
	}
	data, err := routerABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           common.HexToAddress(in.Address),
		TokenOut:          common.HexToAddress(out.Address),
		Fee:               new(big.Int).SetUint64(uint64(e.cfg.DefaultFee)),
		Recipient:         recipient,
		Deadline:          deadline,
		AmountIn:          amountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack exactInputSingle: %w", err)
	}
	return e.writer.Submit(ctx, e.cfg.SwapRouter, data, nil)
}

func (e *Engine) submitLegacySwap(ctx context.Context, in, out model.Token, recipient common.Address, amountIn, minOut, deadline *big.Int) (common.Hash, error) {
	routerABI, err := contracts.LegacyRouterABI()
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse router abi: %w", err)
	}
	data, err := routerABI.Pack("swapExactTokensForTokens",
		amountIn, minOut, e.swapPath(in, out), recipient, deadline)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack swapExactTokensForTokens: %w", err)
	}
	return e.writer.Submit(ctx, e.cfg.LegacyRouter, data, nil)
}

// waitChecked waits for a transaction under the configured timeout and
// fails when the receipt reports a revert. No automatic retry; the caller
// decides whether to re-run the flow.
func (e *Engine) waitChecked(ctx context.Context, txHash common.Hash, step string) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.WaitTimeout)
	defer cancel()

	receipt, err := e.reader.WaitMined(waitCtx, txHash)
	if err != nil {
		return fmt.Errorf("%s: wait for transaction %s: %w", step, txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s: transaction %s reverted", step, txHash.Hex())
	}
	return nil
}
