package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/semaphore"
)

const receiptPollInterval = 2 * time.Second

// Client wraps go-ethereum RPC and implements the Reader capability. An
// optional semaphore bounds in-flight RPCs as a rate-limiting guard against
// the endpoint.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	inflight  *semaphore.Weighted
}

// NewClient creates a new chain client from the RPC URL. maxInflight <= 0
// disables the in-flight bound.
func NewClient(ctx context.Context, rpcURL string, maxInflight int64) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	client := &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}
	if maxInflight > 0 {
		client.inflight = semaphore.NewWeighted(maxInflight)
	}
	return client, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// Eth exposes the underlying ethclient for callers that need it directly.
func (c *Client) Eth() *ethclient.Client {
	return c.ethClient
}

// Call performs an eth_call against a contract.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if c.inflight != nil {
		if err := c.inflight.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.inflight.Release(1)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	return c.ethClient.CallContract(ctx, msg, nil)
}

// WaitMined polls for the transaction receipt until it appears or the
// context ends. The caller bounds the wait with a context deadline.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.ethClient.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
