package quote

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"dexcore/internal/contracts"
	"dexcore/internal/model"
	"dexcore/internal/registry"
)

var (
	quoterAddr       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	swapRouterAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	legacyRouterAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	wethAddr         = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	usdcAddr         = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	ownerAddr        = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

// fakeReader scripts quoter, router, and ERC20 responses by target address.
type fakeReader struct {
	mu         sync.Mutex
	calls      int
	quoterErr  error
	quoterOut  *big.Int
	routerErr  error
	routerOut  *big.Int
	allowances map[common.Address]*big.Int
}

func (f *fakeReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeReader) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	switch to {
	case quoterAddr:
		if f.quoterErr != nil {
			return nil, f.quoterErr
		}
		quoterABI, err := contracts.QuoterABI()
		if err != nil {
			return nil, err
		}
		return quoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(f.quoterOut)
	case legacyRouterAddr:
		if f.routerErr != nil {
			return nil, f.routerErr
		}
		routerABI, err := contracts.LegacyRouterABI()
		if err != nil {
			return nil, err
		}
		args, err := routerABI.Methods["getAmountsOut"].Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		amountIn := args[0].(*big.Int)
		path := args[1].([]common.Address)
		amounts := make([]*big.Int, len(path))
		amounts[0] = amountIn
		for i := 1; i < len(path); i++ {
			amounts[i] = f.routerOut
		}
		return routerABI.Methods["getAmountsOut"].Outputs.Pack(amounts)
	default:
		erc20ABI, err := contracts.ERC20ABI()
		if err != nil {
			return nil, err
		}
		if bytes.Equal(data[:4], erc20ABI.Methods["allowance"].ID) {
			allowance := big.NewInt(0)
			if a, ok := f.allowances[to]; ok {
				allowance = a
			}
			return erc20ABI.Methods["allowance"].Outputs.Pack(allowance)
		}
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeReader) WaitMined(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

type submission struct {
	to    common.Address
	data  []byte
	value *big.Int
}

type fakeWriter struct {
	mu      sync.Mutex
	subs    []submission
	failFor map[common.Address]bool
}

func (w *fakeWriter) Submit(_ context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if w.failFor[to] {
		return common.Hash{}, errors.New("execution reverted")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, submission{to: to, data: data, value: value})
	return common.BigToHash(big.NewInt(int64(len(w.subs)))), nil
}

func (w *fakeWriter) to(addr common.Address) []submission {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []submission
	for _, s := range w.subs {
		if s.to == addr {
			out = append(out, s)
		}
	}
	return out
}

func testEngine(t *testing.T, reader *fakeReader, writer *fakeWriter) *Engine {
	t.Helper()
	tokens := []model.Token{
		{Address: wethAddr.Hex(), Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
		{Address: usdcAddr.Hex(), Symbol: "USDC", Name: "USD Coin", Decimals: 6},
	}
	reg, err := registry.New(tokens, registry.DefaultFeeTiers(), "ETH", wethAddr.Hex())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	cfg := Config{
		Quoter:        quoterAddr,
		SwapRouter:    swapRouterAddr,
		LegacyRouter:  legacyRouterAddr,
		WrappedNative: wethAddr,
		SlippagePct:   0.5,
		WaitTimeout:   time.Second,
	}
	if writer == nil {
		return New(cfg, reader, nil, reg, nil)
	}
	return New(cfg, reader, writer, reg, nil)
}

func TestGetQuoteIdentity(t *testing.T) {
	reader := &fakeReader{}
	e := testEngine(t, reader, nil)

	quote, err := e.GetQuote(context.Background(), "USDC", "USDC", "10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.AmountOut != "10" || quote.PriceImpact != 0 {
		t.Fatalf("identity quote = %+v", quote)
	}
	if reader.callCount() != 0 {
		t.Fatalf("identity quote must make zero network calls, made %d", reader.callCount())
	}
}

func TestGetQuoteNativeAliasesWrapped(t *testing.T) {
	reader := &fakeReader{}
	e := testEngine(t, reader, nil)

	quote, err := e.GetQuote(context.Background(), "ETH", "WETH", "2.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.AmountOut != "2.5" || reader.callCount() != 0 {
		t.Fatalf("native/wrapped must short-circuit, quote=%+v calls=%d", quote, reader.callCount())
	}
}

func TestGetQuoteValidation(t *testing.T) {
	reader := &fakeReader{}
	e := testEngine(t, reader, nil)

	if _, err := e.GetQuote(context.Background(), "0x123", "USDC", "1"); err == nil {
		t.Fatalf("expected validation error for malformed address")
	}
	if _, err := e.GetQuote(context.Background(), "WETH", "USDC", "abc"); err == nil {
		t.Fatalf("expected validation error for malformed amount")
	}
	if _, err := e.GetQuote(context.Background(), "WETH", "USDC", "-1"); err == nil {
		t.Fatalf("expected validation error for negative amount")
	}
	if reader.callCount() != 0 {
		t.Fatalf("validation must fail before any network call")
	}
}

func TestGetQuotePrimary(t *testing.T) {
	// 1 WETH in, quoter answers 2000 USDC (6 decimals raw).
	reader := &fakeReader{quoterOut: big.NewInt(2_000_000_000)}
	e := testEngine(t, reader, nil)

	quote, err := e.GetQuote(context.Background(), "WETH", "USDC", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.AmountOut != "2000" {
		t.Fatalf("amount out = %s, want 2000", quote.AmountOut)
	}
	if quote.Source != "quoter" {
		t.Fatalf("source = %s, want quoter", quote.Source)
	}
	if quote.PriceImpact != PlaceholderPriceImpact {
		t.Fatalf("price impact = %v, want placeholder", quote.PriceImpact)
	}
	// 0.5% slippage: 2000 * 0.995 = 1990
	if quote.MinimumReceived != "1990" {
		t.Fatalf("minimum received = %s, want 1990", quote.MinimumReceived)
	}
}

func TestGetQuoteFallsBackToLegacyRouter(t *testing.T) {
	reader := &fakeReader{
		quoterErr: errors.New("execution reverted"),
		routerOut: big.NewInt(1_500_000_000),
	}
	e := testEngine(t, reader, nil)

	quote, err := e.GetQuote(context.Background(), "WETH", "USDC", "1")
	if err != nil {
		t.Fatalf("fallback must not surface the primary failure: %v", err)
	}
	if quote.AmountOut != "1500" {
		t.Fatalf("amount out = %s, want 1500", quote.AmountOut)
	}
	if quote.Source != "legacy-router" {
		t.Fatalf("source = %s, want legacy-router", quote.Source)
	}
}

func TestGetQuoteCompositeFailure(t *testing.T) {
	reader := &fakeReader{
		quoterErr: errors.New("quoter down"),
		routerErr: errors.New("router down"),
	}
	e := testEngine(t, reader, nil)

	_, err := e.GetQuote(context.Background(), "WETH", "USDC", "1")
	if err == nil {
		t.Fatalf("expected composite failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "quoter") || !strings.Contains(msg, "legacy-router") {
		t.Fatalf("composite error must name both strategies: %s", msg)
	}
}

func TestExecuteSwapSkipsApprovalWhenSufficient(t *testing.T) {
	reader := &fakeReader{
		quoterOut:  big.NewInt(2_000_000_000),
		allowances: map[common.Address]*big.Int{wethAddr: new(big.Int).Lsh(big.NewInt(1), 200)},
	}
	writer := &fakeWriter{}
	e := testEngine(t, reader, writer)

	_, err := e.ExecuteSwap(context.Background(), SwapParams{
		TokenIn:  "WETH",
		TokenOut: "USDC",
		AmountIn: "1",
		Owner:    ownerAddr,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approvals := writer.to(wethAddr); len(approvals) != 0 {
		t.Fatalf("sufficient allowance must produce zero approvals, got %d", len(approvals))
	}
	if swaps := writer.to(swapRouterAddr); len(swaps) != 1 {
		t.Fatalf("expected one swap submission, got %d", len(swaps))
	}
}

func TestExecuteSwapApprovesExactAmount(t *testing.T) {
	reader := &fakeReader{
		quoterOut:  big.NewInt(2_000_000_000),
		allowances: map[common.Address]*big.Int{},
	}
	writer := &fakeWriter{}
	e := testEngine(t, reader, writer)

	_, err := e.ExecuteSwap(context.Background(), SwapParams{
		TokenIn:  "WETH",
		TokenOut: "USDC",
		AmountIn: "1",
		Owner:    ownerAddr,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	approvals := writer.to(wethAddr)
	if len(approvals) != 1 {
		t.Fatalf("expected exactly one approval, got %d", len(approvals))
	}
	erc20ABI, err := contracts.ERC20ABI()
	if err != nil {
		t.Fatalf("parse erc20 abi: %v", err)
	}
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(approvals[0].data[4:])
	if err != nil {
		t.Fatalf("decode approve: %v", err)
	}
	wantAmount := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if args[0].(common.Address) != swapRouterAddr {
		t.Fatalf("approval spender = %s, want swap router", args[0].(common.Address).Hex())
	}
	if args[1].(*big.Int).Cmp(wantAmount) != 0 {
		t.Fatalf("approval amount = %s, want %s", args[1].(*big.Int), wantAmount)
	}
}

func TestExecuteSwapFallsBackOnPrimaryFailure(t *testing.T) {
	reader := &fakeReader{
		quoterOut:  big.NewInt(2_000_000_000),
		allowances: map[common.Address]*big.Int{wethAddr: new(big.Int).Lsh(big.NewInt(1), 200)},
	}
	writer := &fakeWriter{failFor: map[common.Address]bool{swapRouterAddr: true}}
	e := testEngine(t, reader, writer)

	_, err := e.ExecuteSwap(context.Background(), SwapParams{
		TokenIn:  "WETH",
		TokenOut: "USDC",
		AmountIn: "1",
		Owner:    ownerAddr,
	})
	if err != nil {
		t.Fatalf("fallback must recover from primary failure: %v", err)
	}
	if legacy := writer.to(legacyRouterAddr); len(legacy) != 1 {
		t.Fatalf("expected one legacy router submission, got %d", len(legacy))
	}
}

func TestExecuteSwapWrapsNativeInput(t *testing.T) {
	reader := &fakeReader{
		quoterOut:  big.NewInt(2_000_000_000),
		allowances: map[common.Address]*big.Int{wethAddr: new(big.Int).Lsh(big.NewInt(1), 200)},
	}
	writer := &fakeWriter{}
	e := testEngine(t, reader, writer)

	_, err := e.ExecuteSwap(context.Background(), SwapParams{
		TokenIn:  "ETH",
		TokenOut: "USDC",
		AmountIn: "1",
		Owner:    ownerAddr,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deposits := writer.to(wethAddr)
	if len(deposits) != 1 {
		t.Fatalf("expected one wrap submission, got %d", len(deposits))
	}
	wantValue := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if deposits[0].value == nil || deposits[0].value.Cmp(wantValue) != 0 {
		t.Fatalf("wrap value = %v, want %s", deposits[0].value, wantValue)
	}
}

func TestExecuteSwapRequiresWriter(t *testing.T) {
	reader := &fakeReader{quoterOut: big.NewInt(1)}
	e := testEngine(t, reader, nil)

	if _, err := e.ExecuteSwap(context.Background(), SwapParams{
		TokenIn:  "WETH",
		TokenOut: "USDC",
		AmountIn: "1",
		Owner:    ownerAddr,
	}); !errors.Is(err, ErrNoWriter) {
		t.Fatalf("expected ErrNoWriter, got %v", err)
	}
}

func TestMinimumReceived(t *testing.T) {
	got := minimumReceived(decimal.NewFromInt(100), 1)
	if got.String() != "99" {
		t.Fatalf("minimum received = %s, want 99", got.String())
	}
	got = minimumReceived(decimal.RequireFromString("0.5"), 0.5)
	if got.String() != "0.4975" {
		t.Fatalf("minimum received = %s, want 0.4975", got.String())
	}
}
