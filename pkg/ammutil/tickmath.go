// Package ammutil carries the concentrated-liquidity tick/price math the
// Proxy chain client needs to decide whether a position has drifted out of
// its active range, adapted from the Algebra/Uniswap-V3 style AMM state
// the underlying DEX exposes.
package ammutil

import (
	"fmt"
	"math/big"
)

const precision = 256

// Q96 is the fixed-point scale Uniswap-V3-family pools encode sqrtPrice in.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

func bigFloat(x float64) *big.Float {
	return new(big.Float).SetPrec(precision).SetFloat64(x)
}

// powBigFloat computes base^exp for an integer exponent of either sign via
// exponentiation by squaring, avoiding the precision loss of repeated
// float64 multiplication for the large tick ranges these pools allow.
func powBigFloat(base *big.Float, exp int) *big.Float {
	neg := exp < 0
	if neg {
		exp = -exp
	}
	result := new(big.Float).SetPrec(precision).SetInt64(1)
	b := new(big.Float).SetPrec(precision).Copy(base)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, b)
		}
		b.Mul(b, b)
		exp >>= 1
	}
	if neg {
		one := new(big.Float).SetPrec(precision).SetInt64(1)
		result.Quo(one, result)
	}
	return result
}

// TickToSqrtPriceX96 returns sqrt(1.0001^tick) * 2^96.
func TickToSqrtPriceX96(tick int) *big.Int {
	ratio := powBigFloat(bigFloat(1.0001), tick)
	sqrtRatio := new(big.Float).SetPrec(precision).Sqrt(ratio)
	q96f := new(big.Float).SetPrec(precision).SetInt(Q96)
	scaled := new(big.Float).SetPrec(precision).Mul(sqrtRatio, q96f)
	out, _ := scaled.Int(nil)
	return out
}

// SqrtPriceToPrice converts a Q96 sqrt price into the human-readable price
// of token1 per token0: (sqrtPriceX96 / 2^96)^2.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	sqrtF := new(big.Float).SetPrec(precision).SetInt(sqrtPriceX96)
	q96f := new(big.Float).SetPrec(precision).SetInt(Q96)
	ratio := new(big.Float).SetPrec(precision).Quo(sqrtF, q96f)
	price := new(big.Float).SetPrec(precision).Mul(ratio, ratio)
	return price
}

// CalculateTickBounds centers a position of the given width (in multiples
// of tickSpacing) around currentTick, whose center is currentTick truncated
// toward zero to a multiple of tickSpacing.
func CalculateTickBounds(currentTick int32, rangeWidth, tickSpacing int) (tickLower, tickUpper int32, err error) {
	if rangeWidth <= 0 || rangeWidth%2 != 0 {
		return 0, 0, fmt.Errorf("rangeWidth must be a positive even number, got %d", rangeWidth)
	}
	if tickSpacing <= 0 {
		return 0, 0, fmt.Errorf("tickSpacing must be positive, got %d", tickSpacing)
	}

	centerSpacing := int32(tickSpacing) * (currentTick / int32(tickSpacing))
	half := int32(rangeWidth/2) * int32(tickSpacing)
	tickLower = centerSpacing - half
	tickUpper = centerSpacing + half
	if tickLower >= tickUpper {
		return 0, 0, fmt.Errorf("computed degenerate range [%d, %d]", tickLower, tickUpper)
	}
	return tickLower, tickUpper, nil
}

// ComputeAmounts computes the amounts of token0/token1 actually consumed,
// and the resulting liquidity, for a mint bounded by amount0Max/amount1Max
// at the given current tick and range. Adapted from the Uniswap-V3
// LiquidityAmounts library's getLiquidityForAmounts / getAmountsForLiquidity
// pair, evaluated with big.Float fixed-point arithmetic instead of Q64.96
// integer math for clarity.
func ComputeAmounts(sqrtPriceX96 *big.Int, tick, tickLower, tickUpper int, amount0Max, amount1Max *big.Int) (amount0, amount1, liquidity *big.Int) {
	sqrtP := new(big.Float).SetPrec(precision).SetInt(sqrtPriceX96)
	sqrtLower := new(big.Float).SetPrec(precision).SetInt(TickToSqrtPriceX96(tickLower))
	sqrtUpper := new(big.Float).SetPrec(precision).SetInt(TickToSqrtPriceX96(tickUpper))

	a0 := new(big.Float).SetPrec(precision).SetInt(amount0Max)
	a1 := new(big.Float).SetPrec(precision).SetInt(amount1Max)

	var liq *big.Float
	switch {
	case tick < tickLower:
		// Entirely token0.
		diff := new(big.Float).SetPrec(precision).Sub(sqrtUpper, sqrtLower)
		num := new(big.Float).SetPrec(precision).Mul(a0, new(big.Float).SetPrec(precision).Mul(sqrtLower, sqrtUpper))
		liq = new(big.Float).SetPrec(precision).Quo(num, diff)
	case tick >= tickUpper:
		// Entirely token1.
		diff := new(big.Float).SetPrec(precision).Sub(sqrtUpper, sqrtLower)
		liq = new(big.Float).SetPrec(precision).Quo(a1, diff)
	default:
		diffUpper := new(big.Float).SetPrec(precision).Sub(sqrtUpper, sqrtP)
		liq0 := new(big.Float).SetPrec(precision).Quo(
			new(big.Float).SetPrec(precision).Mul(a0, new(big.Float).SetPrec(precision).Mul(sqrtP, sqrtUpper)),
			diffUpper,
		)
		diffLower := new(big.Float).SetPrec(precision).Sub(sqrtP, sqrtLower)
		liq1 := new(big.Float).SetPrec(precision).Quo(a1, diffLower)
		if liq0.Cmp(liq1) < 0 {
			liq = liq0
		} else {
			liq = liq1
		}
	}
	if liq.Sign() < 0 {
		liq = new(big.Float).SetPrec(precision)
	}

	amt0F, amt1F := amountsForLiquidity(liq, sqrtP, sqrtLower, sqrtUpper, tick, tickLower, tickUpper)

	liquidity, _ = liq.Int(nil)
	amount0, _ = amt0F.Int(nil)
	amount1, _ = amt1F.Int(nil)
	if amount0 == nil {
		amount0 = big.NewInt(0)
	}
	if amount1 == nil {
		amount1 = big.NewInt(0)
	}
	if liquidity == nil {
		liquidity = big.NewInt(0)
	}
	return amount0, amount1, liquidity
}

func amountsForLiquidity(liq, sqrtP, sqrtLower, sqrtUpper *big.Float, tick, tickLower, tickUpper int) (*big.Float, *big.Float) {
	zero := new(big.Float).SetPrec(precision)
	switch {
	case tick < tickLower:
		diff := new(big.Float).SetPrec(precision).Sub(sqrtUpper, sqrtLower)
		amt0 := new(big.Float).SetPrec(precision).Quo(new(big.Float).SetPrec(precision).Mul(liq, diff), new(big.Float).SetPrec(precision).Mul(sqrtLower, sqrtUpper))
		return amt0, zero
	case tick >= tickUpper:
		diff := new(big.Float).SetPrec(precision).Sub(sqrtUpper, sqrtLower)
		amt1 := new(big.Float).SetPrec(precision).Mul(liq, diff)
		return zero, amt1
	default:
		diffUpper := new(big.Float).SetPrec(precision).Sub(sqrtUpper, sqrtP)
		amt0 := new(big.Float).SetPrec(precision).Quo(new(big.Float).SetPrec(precision).Mul(liq, diffUpper), new(big.Float).SetPrec(precision).Mul(sqrtP, sqrtUpper))
		diffLower := new(big.Float).SetPrec(precision).Sub(sqrtP, sqrtLower)
		amt1 := new(big.Float).SetPrec(precision).Mul(liq, diffLower)
		return amt0, amt1
	}
}

// CalculateTokenAmountsFromLiquidity is the inverse of ComputeAmounts: given
// a liquidity amount already held, it derives the token amounts it
// represents at the current price.
func CalculateTokenAmountsFromLiquidity(liquidity, sqrtPriceX96 *big.Int, tickLower, tickUpper int32) (amount0, amount1 *big.Int, err error) {
	if liquidity == nil || liquidity.Sign() < 0 {
		return nil, nil, fmt.Errorf("liquidity must be non-negative")
	}
	if tickLower >= tickUpper {
		return nil, nil, fmt.Errorf("tickLower must be less than tickUpper")
	}

	sqrtP := new(big.Float).SetPrec(precision).SetInt(sqrtPriceX96)
	sqrtLower := new(big.Float).SetPrec(precision).SetInt(TickToSqrtPriceX96(int(tickLower)))
	sqrtUpper := new(big.Float).SetPrec(precision).SetInt(TickToSqrtPriceX96(int(tickUpper)))
	liq := new(big.Float).SetPrec(precision).SetInt(liquidity)

	var current int
	switch {
	case sqrtP.Cmp(sqrtLower) <= 0:
		current = int(tickLower) - 1
	case sqrtP.Cmp(sqrtUpper) >= 0:
		current = int(tickUpper)
	default:
		current = int(tickLower) // within range, exact tick doesn't matter for the branch below
		current++
	}

	amt0F, amt1F := amountsForLiquidity(liq, sqrtP, sqrtLower, sqrtUpper, current, int(tickLower), int(tickUpper))
	amount0, _ = amt0F.Int(nil)
	amount1, _ = amt1F.Int(nil)
	if amount0 == nil {
		amount0 = big.NewInt(0)
	}
	if amount1 == nil {
		amount1 = big.NewInt(0)
	}
	return amount0, amount1, nil
}

// CalculateMinAmount applies a slippage haircut: desired * (100-slippagePct)/100.
func CalculateMinAmount(desired *big.Int, slippagePct int) *big.Int {
	if desired == nil {
		return big.NewInt(0)
	}
	min := new(big.Int).Mul(desired, big.NewInt(int64(100-slippagePct)))
	return min.Div(min, big.NewInt(100))
}

// CalculateRebalanceAmounts decides, given current base/quote balances and
// price, which side must be swapped (and how much) to reach a balanced
// 50/50 notional split before re-minting. tokenToSwap is 0 for base, 1 for
// quote.
func CalculateRebalanceAmounts(baseBalance, quoteBalance, sqrtPriceX96 *big.Int) (tokenToSwap int, swapAmount *big.Int, err error) {
	if baseBalance == nil || quoteBalance == nil || sqrtPriceX96 == nil {
		return 0, nil, fmt.Errorf("nil input to rebalance calculation")
	}
	price := SqrtPriceToPrice(sqrtPriceX96)

	baseF := new(big.Float).SetPrec(precision).SetInt(baseBalance)
	baseValueInQuote := new(big.Float).SetPrec(precision).Mul(baseF, price)
	quoteF := new(big.Float).SetPrec(precision).SetInt(quoteBalance)

	total := new(big.Float).SetPrec(precision).Add(baseValueInQuote, quoteF)
	half := new(big.Float).SetPrec(precision).Quo(total, bigFloat(2))

	if baseValueInQuote.Cmp(half) > 0 {
		excessQuoteValue := new(big.Float).SetPrec(precision).Sub(baseValueInQuote, half)
		excessBase := new(big.Float).SetPrec(precision).Quo(excessQuoteValue, price)
		amt, _ := excessBase.Int(nil)
		return 0, amt, nil
	}
	excess := new(big.Float).SetPrec(precision).Sub(quoteF, half)
	amt, _ := excess.Int(nil)
	return 1, amt, nil
}
