package config

import (
	"encoding/json"
	"fmt"
	"os"

	"dexcore/internal/model"
)

// LoadTokenList reads a JSON token list. An empty path falls back to the
// built-in mainnet list.
func LoadTokenList(path string) ([]model.Token, error) {
	if path == "" {
		return DefaultTokens(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token list: %w", err)
	}
	var tokens []model.Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse token list: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("token list %s is empty", path)
	}
	return tokens, nil
}

// DefaultTokens is the built-in Ethereum mainnet token list.
func DefaultTokens() []model.Token {
	return []model.Token{
		{Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
		{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		{Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18},
		{Address: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", Symbol: "WBTC", Name: "Wrapped BTC", Decimals: 8},
	}
}
