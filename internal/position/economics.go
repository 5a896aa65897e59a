package position

import (
	"fmt"
	"math"
	"math/big"

	"go.uber.org/zap"

	"dexcore/internal/model"
	"dexcore/internal/registry"
	"dexcore/internal/ticks"
)

// Deriver turns raw position records plus a pool snapshot into display
// economics. Pure computation; it never touches the network.
type Deriver struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func NewDeriver(reg *registry.Registry, logger *zap.Logger) *Deriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deriver{registry: reg, logger: logger}
}

// Derive recomputes all derived fields from scratch. APR and pool share are
// estimation heuristics and are flagged Estimated in the result; they must
// not be presented as on-chain-verified values.
func (d *Deriver) Derive(pos model.Position, pool model.PoolState) (model.PositionDetails, error) {
	if pos.TickLower >= pos.TickUpper {
		return model.PositionDetails{}, fmt.Errorf("position %s: tick range [%d, %d) is empty", pos.TokenID, pos.TickLower, pos.TickUpper)
	}

	liquidity, ok := new(big.Int).SetString(pos.Liquidity, 10)
	if !ok {
		return model.PositionDetails{}, fmt.Errorf("position %s: liquidity %q is not a decimal integer", pos.TokenID, pos.Liquidity)
	}
	sqrtPrice, ok := new(big.Int).SetString(pool.SqrtPriceX96, 10)
	if !ok {
		return model.PositionDetails{}, fmt.Errorf("pool %s: sqrt price %q is not a decimal integer", pool.Address, pool.SqrtPriceX96)
	}

	dec0, dec1 := d.pairDecimals(pos.Token0, pos.Token1)

	priceLower, priceUpper, err := ticks.PriceRangeFromTicks(pos.TickLower, pos.TickUpper, dec0, dec1)
	if err != nil {
		return model.PositionDetails{}, fmt.Errorf("position %s: %w", pos.TokenID, err)
	}

	// Upper bound exclusive: sitting exactly on tickUpper earns nothing.
	inRange := pool.Tick >= pos.TickLower && pool.Tick < pos.TickUpper

	amount0, amount1, err := amountsAtPrice(liquidity, sqrtPrice, pos.TickLower, pos.TickUpper, dec0, dec1)
	if err != nil {
		return model.PositionDetails{}, fmt.Errorf("position %s: %w", pos.TokenID, err)
	}

	details := model.PositionDetails{
		Position:         pos,
		InRange:          inRange,
		HasUnclaimedFees: positiveAmount(pos.TokensOwed0) || positiveAmount(pos.TokensOwed1),
		Amount0:          amount0,
		Amount1:          amount1,
		PriceLower:       priceLower,
		PriceUpper:       priceUpper,
		CurrentPrice:     pool.Price,
		PriceBarPercent:  priceBarPercent(pool.Price, priceLower, priceUpper, inRange),
		SharePercent:     sharePercent(liquidity, pool.Liquidity),
		Estimated:        true,
	}
	details.EstimatedAPR = estimatedAPR(pos.Fee, inRange)
	return details, nil
}

func (d *Deriver) pairDecimals(token0, token1 string) (uint8, uint8) {
	dec0, dec1 := uint8(18), uint8(18)
	if token, ok := d.registry.ByAddress(token0); ok {
		dec0 = token.Decimals
	}
	if token, ok := d.registry.ByAddress(token1); ok {
		dec1 = token.Decimals
	}
	return dec0, dec1
}

// priceBarPercent places the current price on the range bar. In range it
// interpolates linearly and clamps to [0,100]; out of range it pins to the
// nearest edge.
func priceBarPercent(current, lower, upper float64, inRange bool) float64 {
	if !inRange {
		if current < lower {
			return 0
		}
		return 100
	}
	span := upper - lower
	if span <= 0 {
		return 50
	}
	pct := (current - lower) / span * 100
	return math.Max(0, math.Min(100, pct))
}

// sharePercent is the position's fraction of the pool's active liquidity.
func sharePercent(liquidity *big.Int, poolLiquidity string) float64 {
	poolLiq, ok := new(big.Int).SetString(poolLiquidity, 10)
	if !ok || poolLiq.Sign() <= 0 {
		return 0
	}
	share := new(big.Float).Quo(new(big.Float).SetInt(liquidity), new(big.Float).SetInt(poolLiq))
	pct, _ := new(big.Float).Mul(share, big.NewFloat(100)).Float64()
	return math.Max(0, math.Min(100, pct))
}

// estimatedAPR is a display heuristic: fee rate annualized under the
// assumption that in-range liquidity turns over once per day. Out-of-range
// positions earn nothing.
func estimatedAPR(fee uint32, inRange bool) float64 {
	if !inRange {
		return 0
	}
	feeRate := float64(fee) / 1_000_000
	return feeRate * 365 * 100
}

// amountsAtPrice computes the token amounts backing the position at the
// current sqrt price, using the concentrated-liquidity range formulas with
// the price clamped into [lower, upper].
func amountsAtPrice(liquidity, sqrtPriceX96 *big.Int, tickLower, tickUpper int32, dec0, dec1 uint8) (string, string, error) {
	sqrtLowerX96, err := ticks.SqrtPriceX96FromTick(tickLower)
	if err != nil {
		return "", "", err
	}
	sqrtUpperX96, err := ticks.SqrtPriceX96FromTick(tickUpper)
	if err != nil {
		return "", "", err
	}

	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	sa := new(big.Float).Quo(new(big.Float).SetInt(sqrtLowerX96), q96)
	sb := new(big.Float).Quo(new(big.Float).SetInt(sqrtUpperX96), q96)
	sp := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96)
	if sp.Cmp(sa) < 0 {
		sp = sa
	}
	if sp.Cmp(sb) > 0 {
		sp = sb
	}

	liq := new(big.Float).SetInt(liquidity)

	// amount0 = L * (sb - sp) / (sp * sb)
	amount0 := new(big.Float).Quo(
		new(big.Float).Mul(liq, new(big.Float).Sub(sb, sp)),
		new(big.Float).Mul(sp, sb),
	)
	// amount1 = L * (sp - sa)
	amount1 := new(big.Float).Mul(liq, new(big.Float).Sub(sp, sa))

	return humanAmount(amount0, dec0), humanAmount(amount1, dec1), nil
}

func humanAmount(raw *big.Float, decimals uint8) string {
	scale := new(big.Float).SetFloat64(math.Pow(10, float64(decimals)))
	value, _ := new(big.Float).Quo(raw, scale).Float64()
	if value < 0 {
		value = 0
	}
	return fmt.Sprintf("%g", value)
}

func positiveAmount(s string) bool {
	v, ok := new(big.Int).SetString(s, 10)
	return ok && v.Sign() > 0
}
