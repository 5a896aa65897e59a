package model

// PoolState is a snapshot of a pool's mutable on-chain state. The chain owns
// the authoritative state; this is a cache value with an expiry managed by the
// pool directory. Wide integers are serialized as strings to avoid precision
// loss.
type PoolState struct {
	Address      string  `json:"address"`
	Token0       string  `json:"token0"`
	Token1       string  `json:"token1"`
	Fee          uint32  `json:"fee"`
	Tick         int32   `json:"tick"`
	SqrtPriceX96 string  `json:"sqrt_price_x96"`
	Price        float64 `json:"price"`
	Liquidity    string  `json:"liquidity"`
	TickSpacing  int32   `json:"tick_spacing"`
}

// PoolRecord is a discovered-pool row for storage sinks.
type PoolRecord struct {
	ChainID      uint64  `json:"chain_id"`
	Address      string  `json:"address"`
	Token0       string  `json:"token0"`
	Token1       string  `json:"token1"`
	Fee          uint32  `json:"fee"`
	TickSpacing  int32   `json:"tick_spacing"`
	Tick         int32   `json:"tick"`
	SqrtPriceX96 string  `json:"sqrt_price_x96"`
	Price        float64 `json:"price"`
	Liquidity    string  `json:"liquidity"`
	DiscoveredAt string  `json:"discovered_at"`
}
