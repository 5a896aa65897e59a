package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dexcore/internal/contracts"
	"dexcore/internal/model"
	"dexcore/internal/registry"
)

type poolFixture struct {
	token0       common.Address
	token1       common.Address
	fee          uint32
	tick         int32
	sqrtPriceX96 *big.Int
	liquidity    *big.Int
	tickSpacing  int32
}

// fakeChain is a scripted Reader: it decodes factory and pool calls and
// answers from in-memory fixtures.
type fakeChain struct {
	mu         sync.Mutex
	factory    common.Address
	pools      map[string]common.Address
	states     map[common.Address]poolFixture
	failState  map[common.Address]bool
	getPoolErr error
	calls      int
}

func newFakeChain(factory common.Address) *fakeChain {
	return &fakeChain{
		factory:   factory,
		pools:     make(map[string]common.Address),
		states:    make(map[common.Address]poolFixture),
		failState: make(map[common.Address]bool),
	}
}

func (f *fakeChain) addPool(addr common.Address, fix poolFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[poolKey(fix.token0.Hex(), fix.token1.Hex(), fix.fee)] = addr
	f.states[addr] = fix
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChain) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	factoryABI, err := contracts.FactoryABI()
	if err != nil {
		return nil, err
	}
	poolABI, err := contracts.PoolABI()
	if err != nil {
		return nil, err
	}

	selector := data[:4]
	if to == f.factory && bytes.Equal(selector, factoryABI.Methods["getPool"].ID) {
		if f.getPoolErr != nil {
			return nil, f.getPoolErr
		}
		args, err := factoryABI.Methods["getPool"].Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		tokenA := args[0].(common.Address)
		tokenB := args[1].(common.Address)
		fee := uint32(args[2].(*big.Int).Uint64())

		f.mu.Lock()
		addr := f.pools[poolKey(tokenA.Hex(), tokenB.Hex(), fee)]
		f.mu.Unlock()
		return factoryABI.Methods["getPool"].Outputs.Pack(addr)
	}

	f.mu.Lock()
	fix, ok := f.states[to]
	failed := f.failState[to]
	f.mu.Unlock()
	if !ok || failed {
		return nil, fmt.Errorf("execution reverted")
	}

	switch {
	case bytes.Equal(selector, poolABI.Methods["slot0"].ID):
		return poolABI.Methods["slot0"].Outputs.Pack(
			fix.sqrtPriceX96, big.NewInt(int64(fix.tick)),
			uint16(0), uint16(1), uint16(1), uint8(0), true,
		)
	case bytes.Equal(selector, poolABI.Methods["liquidity"].ID):
		return poolABI.Methods["liquidity"].Outputs.Pack(fix.liquidity)
	case bytes.Equal(selector, poolABI.Methods["token0"].ID):
		return poolABI.Methods["token0"].Outputs.Pack(fix.token0)
	case bytes.Equal(selector, poolABI.Methods["token1"].ID):
		return poolABI.Methods["token1"].Outputs.Pack(fix.token1)
	case bytes.Equal(selector, poolABI.Methods["fee"].ID):
		return poolABI.Methods["fee"].Outputs.Pack(new(big.Int).SetUint64(uint64(fix.fee)))
	case bytes.Equal(selector, poolABI.Methods["tickSpacing"].ID):
		return poolABI.Methods["tickSpacing"].Outputs.Pack(big.NewInt(int64(fix.tickSpacing)))
	}
	return nil, fmt.Errorf("unexpected call %x", selector)
}

func (f *fakeChain) WaitMined(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

// fakeWriter records submissions and optionally applies an on-chain effect.
type fakeWriter struct {
	mu          sync.Mutex
	submissions []common.Address
	afterSubmit func(to common.Address, data []byte)
}

func (w *fakeWriter) Submit(_ context.Context, to common.Address, data []byte, _ *big.Int) (common.Hash, error) {
	w.mu.Lock()
	w.submissions = append(w.submissions, to)
	n := len(w.submissions)
	w.mu.Unlock()
	if w.afterSubmit != nil {
		w.afterSubmit(to, data)
	}
	return common.BigToHash(big.NewInt(int64(n))), nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.submissions)
}

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	tokenAddrs  = []common.Address{
		common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		common.HexToAddress("0x00000000000000000000000000000000000000a2"),
		common.HexToAddress("0x00000000000000000000000000000000000000a3"),
	}
)

func testRegistry(t *testing.T, n int) *registry.Registry {
	t.Helper()
	tokens := make([]model.Token, 0, n)
	for i := 0; i < n; i++ {
		tokens = append(tokens, model.Token{
			Address:  tokenAddrs[i].Hex(),
			Symbol:   fmt.Sprintf("TK%d", i),
			Decimals: 18,
		})
	}
	tiers := []model.FeeTier{{Fee: 3000, TickSpacing: 60, Label: "0.3%"}}
	reg, err := registry.New(tokens, tiers, "ETH", tokenAddrs[0].Hex())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func fixtureFor(a, b common.Address, poolByte byte) (common.Address, poolFixture) {
	t0, t1 := a, b
	if registry.Canonical(t0.Hex()) > registry.Canonical(t1.Hex()) {
		t0, t1 = t1, t0
	}
	addr := common.BytesToAddress([]byte{0xcc, poolByte})
	return addr, poolFixture{
		token0:       t0,
		token1:       t1,
		fee:          3000,
		tick:         100,
		sqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
		liquidity:    big.NewInt(1_000_000),
		tickSpacing:  60,
	}
}

func newTestDirectory(fc *fakeChain, fw *fakeWriter, reg *registry.Registry) *Directory {
	cfg := Config{
		Factory:          factoryAddr,
		TTL:              30 * time.Second,
		ExistBatchSize:   50,
		ExistBatchPause:  time.Millisecond,
		DetailBatchSize:  5,
		DetailBatchPause: time.Millisecond,
		WaitTimeout:      time.Second,
	}
	if fw == nil {
		return New(cfg, fc, nil, reg, nil)
	}
	return New(cfg, fc, fw, reg, nil)
}

func TestGetPoolDetailsCachesUnderTTL(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	addr, fix := fixtureFor(tokenAddrs[0], tokenAddrs[1], 1)
	fc.addPool(addr, fix)

	d := newTestDirectory(fc, nil, reg)
	base := time.Unix(1700000000, 0)
	now := base
	d.now = func() time.Time { return now }

	state, err := d.GetPoolDetails(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state == nil {
		t.Fatalf("expected pool state")
	}
	if state.Tick != 100 || state.Liquidity != "1000000" {
		t.Fatalf("unexpected state: %+v", state)
	}
	firstCalls := fc.callCount()

	// Just inside the TTL: served from cache, zero new network calls.
	now = base.Add(30*time.Second - time.Millisecond)
	state2, err := d.GetPoolDetails(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state2 == nil || fc.callCount() != firstCalls {
		t.Fatalf("expected cached result, calls %d -> %d", firstCalls, fc.callCount())
	}

	// Just past the TTL: stale entry is ignored and re-fetched.
	now = base.Add(30*time.Second + time.Millisecond)
	if _, err := d.GetPoolDetails(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.callCount() == firstCalls {
		t.Fatalf("expected a fresh fetch after TTL expiry")
	}
}

func TestGetPoolDetailsCachesNegative(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	d := newTestDirectory(fc, nil, reg)

	state, err := d.GetPoolDetails(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000)
	if err != nil || state != nil {
		t.Fatalf("expected nil state, got %+v err %v", state, err)
	}
	calls := fc.callCount()

	state, err = d.GetPoolDetails(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000)
	if err != nil || state != nil {
		t.Fatalf("expected nil state, got %+v err %v", state, err)
	}
	if fc.callCount() != calls {
		t.Fatalf("negative result must be served from cache")
	}
}

func TestTransportFailureNotCached(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	fc.getPoolErr = errors.New("connection refused")
	d := newTestDirectory(fc, nil, reg)

	if state, err := d.GetPoolDetails(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000); err != nil || state != nil {
		t.Fatalf("transport failure must collapse to none, got %+v err %v", state, err)
	}
	calls := fc.callCount()

	if _, err := d.GetPoolDetails(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.callCount() == calls {
		t.Fatalf("transient failures must not be cached")
	}
}

func TestGetPoolDetailsValidation(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	d := newTestDirectory(fc, nil, reg)

	if _, err := d.GetPoolDetails(context.Background(), "0x123", tokenAddrs[1].Hex(), 3000); err == nil {
		t.Fatalf("expected validation error for malformed address")
	}
	if _, err := d.GetPoolDetails(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 1234); err == nil {
		t.Fatalf("expected validation error for unsupported fee")
	}
	if fc.callCount() != 0 {
		t.Fatalf("validation errors must fail before any network call")
	}
}

func TestAllPoolsPartialFailure(t *testing.T) {
	reg := testRegistry(t, 3)
	fc := newFakeChain(factoryAddr)

	// Three pairs, one fee tier: all three pools exist.
	var addrs []common.Address
	pairs := [][2]int{{0, 1}, {0, 2}, {1, 2}}
	for i, pair := range pairs {
		addr, fix := fixtureFor(tokenAddrs[pair[0]], tokenAddrs[pair[1]], byte(i+1))
		fc.addPool(addr, fix)
		addrs = append(addrs, addr)
	}
	// Pool #2's detail fetch always fails.
	fc.failState[addrs[1]] = true

	d := newTestDirectory(fc, nil, reg)
	states, err := d.AllPools(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 pool states, got %d", len(states))
	}
	for _, state := range states {
		if state.Address == registry.Canonical(addrs[1].Hex()) {
			t.Fatalf("failed pool must be dropped from results")
		}
	}
}

func TestCreatePoolAlreadyExists(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	addr, fix := fixtureFor(tokenAddrs[0], tokenAddrs[1], 1)
	fc.addPool(addr, fix)

	fw := &fakeWriter{}
	d := newTestDirectory(fc, fw, reg)

	if _, err := d.CreatePool(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000, 1.0); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
	if fw.count() != 0 {
		t.Fatalf("no transaction may be submitted for an existing pool")
	}
}

func TestCreatePoolZeroAddressFatal(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	fw := &fakeWriter{} // create submission has no on-chain effect

	d := newTestDirectory(fc, fw, reg)
	if _, err := d.CreatePool(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000, 1.0); !errors.Is(err, ErrZeroPoolAddr) {
		t.Fatalf("expected ErrZeroPoolAddr, got %v", err)
	}
}

func TestCreatePoolHappyPath(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	poolAddr, fix := fixtureFor(tokenAddrs[0], tokenAddrs[1], 1)

	fw := &fakeWriter{}
	fw.afterSubmit = func(to common.Address, _ []byte) {
		if to == factoryAddr {
			fc.addPool(poolAddr, fix)
		}
	}

	d := newTestDirectory(fc, fw, reg)
	got, err := d.CreatePool(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != poolAddr {
		t.Fatalf("pool address %s, want %s", got.Hex(), poolAddr.Hex())
	}
	// One create transaction plus one initialize transaction.
	if fw.count() != 2 {
		t.Fatalf("expected 2 submissions, got %d", fw.count())
	}
	if fw.submissions[1] != poolAddr {
		t.Fatalf("initialize must target the new pool")
	}
}

func TestCreatePoolIfNeededShortCircuits(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	addr, fix := fixtureFor(tokenAddrs[0], tokenAddrs[1], 1)
	fc.addPool(addr, fix)

	fw := &fakeWriter{}
	d := newTestDirectory(fc, fw, reg)

	got, err := d.CreatePoolIfNeeded(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != addr {
		t.Fatalf("address %s, want %s", got.Hex(), addr.Hex())
	}
	if fw.count() != 0 {
		t.Fatalf("initialized pool must short-circuit, got %d submissions", fw.count())
	}
}

func TestCreatePoolIfNeededInitializesUninitialized(t *testing.T) {
	reg := testRegistry(t, 2)
	fc := newFakeChain(factoryAddr)
	addr, fix := fixtureFor(tokenAddrs[0], tokenAddrs[1], 1)
	fc.addPool(addr, fix)
	fc.failState[addr] = true // state probe fails: pool needs initialize

	fw := &fakeWriter{}
	d := newTestDirectory(fc, fw, reg)

	got, err := d.CreatePoolIfNeeded(context.Background(), tokenAddrs[0].Hex(), tokenAddrs[1].Hex(), 3000, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != addr {
		t.Fatalf("address %s, want %s", got.Hex(), addr.Hex())
	}
	if fw.count() != 1 || fw.submissions[0] != addr {
		t.Fatalf("expected exactly one initialize submission to the pool")
	}
}
