package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader is the read capability the core consumes: contract state queries
// and receipt waits. Implementations are injected, never constructed by the
// packages that use them.
type Reader interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Writer is the write capability: submit a state-changing call and return
// its transaction hash. Signing lives behind this interface; the core never
// touches keys directly.
type Writer interface {
	Submit(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error)
}
