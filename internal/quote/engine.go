package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dexcore/internal/chain"
	"dexcore/internal/contracts"
	"dexcore/internal/model"
	"dexcore/internal/registry"
)

// PlaceholderPriceImpact is reported on successful quotes. It is NOT derived
// from the pool's liquidity curve; treat it as an approximate display value.
const PlaceholderPriceImpact = 0.5

var (
	ErrNoWriter        = errors.New("write capability not configured")
	ErrIdenticalTokens = errors.New("input and output tokens are identical")
)

// Config holds quote engine settings.
type Config struct {
	Quoter        common.Address
	SwapRouter    common.Address
	LegacyRouter  common.Address
	WrappedNative common.Address
	DefaultFee    uint32
	SlippagePct   float64
	WaitTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultFee == 0 {
		c.DefaultFee = 3000
	}
	if c.SlippagePct <= 0 {
		c.SlippagePct = 0.5
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 120 * time.Second
	}
}

// Engine produces swap quotes through an ordered strategy chain and turns
// confirmed quotes into slippage-bounded transactions.
type Engine struct {
	cfg      Config
	reader   chain.Reader
	writer   chain.Writer
	registry *registry.Registry
	logger   *zap.Logger
}

// New builds an Engine. The writer may be nil for quote-only use.
func New(cfg Config, reader chain.Reader, writer chain.Writer, reg *registry.Registry, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, reader: reader, writer: writer, registry: reg, logger: logger}
}

// strategy is one quoting mechanism. The chain is data: strategies are
// tried in order and the first success wins.
type strategy struct {
	name  string
	quote func(ctx context.Context, tokenIn, tokenOut model.Token, amountIn *big.Int) (*big.Int, error)
}

func (e *Engine) strategies() []strategy {
	return []strategy{
		{name: "quoter", quote: e.quoterQuote},
		{name: "legacy-router", quote: e.legacyRouterQuote},
	}
}

// GetQuote estimates the output of swapping amountIn of tokenIn for
// tokenOut. Tokens may be symbols or addresses; the native asset aliases to
// its wrapped form. Identical resolved tokens short-circuit with a
// zero-impact quote and no network calls.
func (e *Engine) GetQuote(ctx context.Context, tokenIn, tokenOut, amountIn string) (*model.SwapQuote, error) {
	in, err := e.registry.Resolve(tokenIn)
	if err != nil {
		return nil, fmt.Errorf("input token: %w", err)
	}
	out, err := e.registry.Resolve(tokenOut)
	if err != nil {
		return nil, fmt.Errorf("output token: %w", err)
	}

	amount, err := decimal.NewFromString(amountIn)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", amountIn, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount %q must not be negative", amountIn)
	}

	if registry.Canonical(in.Address) == registry.Canonical(out.Address) {
		return &model.SwapQuote{
			AmountOut:       amount.String(),
			PriceImpact:     0,
			MinimumReceived: amount.String(),
			Source:          "identity",
		}, nil
	}

	if !registry.ValidAddress(in.Address) {
		return nil, fmt.Errorf("input address %q is not a valid address", in.Address)
	}
	if !registry.ValidAddress(out.Address) {
		return nil, fmt.Errorf("output address %q is not a valid address", out.Address)
	}

	rawIn := amount.Shift(int32(in.Decimals)).BigInt()

	var failures []error
	for _, s := range e.strategies() {
		rawOut, err := s.quote(ctx, in, out, rawIn)
		if err != nil {
			e.logger.Debug("quote strategy failed", zap.String("strategy", s.name), zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		return e.buildQuote(out, rawOut, s.name), nil
	}
	return nil, fmt.Errorf("quote %s -> %s: all strategies failed: %w", in.Symbol, out.Symbol, errors.Join(failures...))
}

func (e *Engine) buildQuote(out model.Token, rawOut *big.Int, source string) *model.SwapQuote {
	outDec := decimal.NewFromBigInt(rawOut, -int32(out.Decimals))
	return &model.SwapQuote{
		AmountOut:       outDec.String(),
		PriceImpact:     PlaceholderPriceImpact,
		MinimumReceived: minimumReceived(outDec, e.cfg.SlippagePct).String(),
		Source:          source,
	}
}

// minimumReceived applies a slippage tolerance: out * (1 - pct/100).
func minimumReceived(out decimal.Decimal, slippagePct float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slippagePct).Div(decimal.NewFromInt(100)))
	return out.Mul(factor)
}

// quoterQuote asks the dedicated quoting contract for a single-hop
// exact-input estimate at the default fee tier.
func (e *Engine) quoterQuote(ctx context.Context, tokenIn, tokenOut model.Token, amountIn *big.Int) (*big.Int, error) {
	quoterABI, err := contracts.QuoterABI()
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}
	values, err := contracts.Call(ctx, e.reader, e.cfg.Quoter, quoterABI, "quoteExactInputSingle",
		common.HexToAddress(tokenIn.Address),
		common.HexToAddress(tokenOut.Address),
		new(big.Int).SetUint64(uint64(e.cfg.DefaultFee)),
		amountIn,
		big.NewInt(0),
	)
	if err != nil {
		return nil, err
	}
	return contracts.AsBigInt(values[0])
}

// legacyRouterQuote falls back to a constant-product router's getAmountsOut
// over a two-hop-capable path.
func (e *Engine) legacyRouterQuote(ctx context.Context, tokenIn, tokenOut model.Token, amountIn *big.Int) (*big.Int, error) {
	routerABI, err := contracts.LegacyRouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	path := e.swapPath(tokenIn, tokenOut)
	values, err := contracts.Call(ctx, e.reader, e.cfg.LegacyRouter, routerABI, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, err := contracts.AsBigIntSlice(values[0])
	if err != nil {
		return nil, err
	}
	if len(amounts) < 2 {
		return nil, fmt.Errorf("getAmountsOut: short amounts array")
	}
	return amounts[len(amounts)-1], nil
}

// swapPath routes through the wrapped native asset unless one side already
// is it.
func (e *Engine) swapPath(tokenIn, tokenOut model.Token) []common.Address {
	in := common.HexToAddress(tokenIn.Address)
	out := common.HexToAddress(tokenOut.Address)
	if in == e.cfg.WrappedNative || out == e.cfg.WrappedNative {
		return []common.Address{in, out}
	}
	return []common.Address{in, e.cfg.WrappedNative, out}
}
