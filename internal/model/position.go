package model

// Position is a raw on-chain liquidity position record. The chain owns it;
// the client only reads snapshots.
type Position struct {
	TokenID     string `json:"token_id"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         uint32 `json:"fee"`
	TickLower   int32  `json:"tick_lower"`
	TickUpper   int32  `json:"tick_upper"`
	Liquidity   string `json:"liquidity"`
	TokensOwed0 string `json:"tokens_owed0"`
	TokensOwed1 string `json:"tokens_owed1"`
}

// PositionDetails is a Position plus display economics derived from current
// pool state. Fully recomputed on every call, never cached. APR and pool
// share are estimation heuristics, not on-chain-verified values.
type PositionDetails struct {
	Position

	InRange          bool    `json:"in_range"`
	HasUnclaimedFees bool    `json:"has_unclaimed_fees"`
	Amount0          string  `json:"amount0"`
	Amount1          string  `json:"amount1"`
	PriceLower       float64 `json:"price_lower"`
	PriceUpper       float64 `json:"price_upper"`
	CurrentPrice     float64 `json:"current_price"`
	PriceBarPercent  float64 `json:"price_bar_percent"`
	SharePercent     float64 `json:"share_percent"`
	EstimatedAPR     float64 `json:"estimated_apr"`
	Estimated        bool    `json:"estimated"`
}
