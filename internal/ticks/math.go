package ticks

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

// Tick bounds of the AMM's logarithmic price grid.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	ErrInvalidPrice     = errors.New("price must be positive and finite")
	ErrInvalidSqrtPrice = errors.New("sqrt price must be positive")
	ErrTickOutOfRange   = errors.New("tick outside valid range")
)

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// PriceFromSqrtPriceX96 decodes a Q96 fixed-point square-root price into a
// decimal price ratio (token1 per token0, smallest-unit terms). The square
// and the fixed-point shift use full-precision integer arithmetic; only the
// final conversion to float64 may lose precision.
func PriceFromSqrtPriceX96(sqrtPriceX96 *big.Int) (float64, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return 0, fmt.Errorf("decode sqrt price: %w", ErrInvalidSqrtPrice)
	}
	num := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	denom := new(big.Int).Lsh(big.NewInt(1), 192)
	price, _ := new(big.Rat).SetFrac(num, denom).Float64()
	return price, nil
}

// SqrtPriceX96FromPrice encodes a decimal price ratio as a Q96 fixed-point
// square root. Not a bit-exact inverse of PriceFromSqrtPriceX96; round-trip
// error stays within a few parts-per-million for realistic magnitudes.
func SqrtPriceX96FromPrice(price float64) (*big.Int, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil, fmt.Errorf("encode price %v: %w", price, ErrInvalidPrice)
	}
	sqrt := new(big.Float).SetPrec(256).Sqrt(big.NewFloat(price))
	sqrt.Mul(sqrt, new(big.Float).SetPrec(256).SetInt(q96))
	out, _ := sqrt.Int(nil)
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("encode price %v: underflow: %w", price, ErrInvalidPrice)
	}
	return out, nil
}

// TickFromSqrtPriceX96 returns the tick index for a sqrt price:
// floor(log(price) / log(1.0001)).
func TickFromSqrtPriceX96(sqrtPriceX96 *big.Int) (int32, error) {
	price, err := PriceFromSqrtPriceX96(sqrtPriceX96)
	if err != nil {
		return 0, err
	}
	if price == 0 {
		return 0, fmt.Errorf("tick from sqrt price: %w", ErrInvalidSqrtPrice)
	}
	tick := math.Floor(math.Log(price) / math.Log(1.0001))
	if tick < float64(MinTick) || tick > float64(MaxTick) {
		return 0, fmt.Errorf("tick %0.f: %w", tick, ErrTickOutOfRange)
	}
	return int32(tick), nil
}

// SqrtPriceX96FromTick returns the Q96 sqrt price at a tick index.
func SqrtPriceX96FromTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("tick %d: %w", tick, ErrTickOutOfRange)
	}
	// 1.0001^(tick/2) stays well inside float64 range across the full
	// valid tick span; the Q96 shift happens in big.Float.
	sqrt := new(big.Float).SetPrec(256).SetFloat64(math.Pow(1.0001, float64(tick)/2))
	sqrt.Mul(sqrt, new(big.Float).SetPrec(256).SetInt(q96))
	out, _ := sqrt.Int(nil)
	return out, nil
}

// PriceAtTick returns the raw (smallest-unit) price at a tick index.
func PriceAtTick(tick int32) (float64, error) {
	if tick < MinTick || tick > MaxTick {
		return 0, fmt.Errorf("tick %d: %w", tick, ErrTickOutOfRange)
	}
	return math.Pow(1.0001, float64(tick)), nil
}

// AdjustDecimals converts a raw smallest-unit price ratio into a
// human-readable one: raw * 10^(decimals0 - decimals1). Never apply this to
// values fed back into contract calls.
func AdjustDecimals(raw float64, decimals0, decimals1 uint8) float64 {
	return raw * math.Pow10(int(decimals0)-int(decimals1))
}

// NearestUsableTick rounds a tick to the closest multiple of spacing,
// clamped so the result stays inside the valid aligned range.
func NearestUsableTick(tick, spacing int32) (int32, error) {
	if spacing <= 0 {
		return 0, fmt.Errorf("tick spacing %d: %w", spacing, ErrTickOutOfRange)
	}
	rounded := int32(math.Round(float64(tick)/float64(spacing))) * spacing
	minUsable := (MinTick / spacing) * spacing
	maxUsable := (MaxTick / spacing) * spacing
	if rounded < minUsable {
		rounded = minUsable
	}
	if rounded > maxUsable {
		rounded = maxUsable
	}
	return rounded, nil
}

// PriceRangeFromTicks returns the human-readable price bounds of a tick range.
func PriceRangeFromTicks(tickLower, tickUpper int32, decimals0, decimals1 uint8) (float64, float64, error) {
	lower, err := PriceAtTick(tickLower)
	if err != nil {
		return 0, 0, fmt.Errorf("lower bound: %w", err)
	}
	upper, err := PriceAtTick(tickUpper)
	if err != nil {
		return 0, 0, fmt.Errorf("upper bound: %w", err)
	}
	return AdjustDecimals(lower, decimals0, decimals1), AdjustDecimals(upper, decimals0, decimals1), nil
}
