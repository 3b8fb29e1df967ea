package futarchy

import (
	"fmt"
	"math/big"
)

// Oracle is the step-capped time-weighted average price accumulator attached
// to each outcome's LiquidityPool (spec.md §4.3, the "heart of futarchy").
//
// Every write to the pool samples the instantaneous price, clamps the
// movement to at most StepMax price units away from the previous
// observation, and accumulates price*duration into CumulativeSum. Sampling
// is suppressed until StartDelayMs after market initialisation to give
// honest liquidity time to arrive before the window opens (spec.md §4.3
// rationale).
type Oracle struct {
	StartDelayMs uint64
	StepMax      *big.Int
	MarketInitMs int64

	lastObservationMs int64
	lastPrice         *big.Int
	cumulativeSum      *big.Int
	hasObservation     bool
}

// NewOracle constructs an oracle anchored at marketInitMs.
func NewOracle(startDelayMs uint64, stepMax *big.Int, marketInitMs int64) *Oracle {
	step := big.NewInt(1)
	if stepMax != nil {
		step = new(big.Int).Set(stepMax)
	}
	return &Oracle{
		StartDelayMs: startDelayMs,
		StepMax:      step,
		MarketInitMs: marketInitMs,
		cumulativeSum: big.NewInt(0),
	}
}

func clampBig(value, lo, hi *big.Int) *big.Int {
	if value.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if value.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(value)
}

// Observe samples the pool's current instantaneous price at time nowMs,
// before the swap that triggered it is applied to reserves (spec.md §4.3).
// Samples taken before MarketInitMs+StartDelayMs are silently dropped.
// Samples out of time order (nowMs before the previous observation) are
// rejected, preserving the monotonicity invariant spec.md §5 requires.
func (o *Oracle) Observe(instantPrice *big.Int, nowMs int64) error {
	if o == nil {
		return fmt.Errorf("futarchy: nil oracle")
	}
	if o.hasObservation && nowMs < o.lastObservationMs {
		return ErrOracleTimeOrder
	}
	if nowMs < o.MarketInitMs+int64(o.StartDelayMs) {
		return nil
	}
	if !o.hasObservation {
		o.lastPrice = new(big.Int).Set(instantPrice)
		o.lastObservationMs = nowMs
		o.hasObservation = true
		return nil
	}
	lo := new(big.Int).Sub(o.lastPrice, o.StepMax)
	hi := new(big.Int).Add(o.lastPrice, o.StepMax)
	clamped := clampBig(instantPrice, lo, hi)

	elapsed := big.NewInt(nowMs - o.lastObservationMs)
	contribution := new(big.Int).Mul(clamped, elapsed)
	o.cumulativeSum = new(big.Int).Add(o.cumulativeSum, contribution)
	o.lastPrice = clamped
	o.lastObservationMs = nowMs
	return nil
}

// TWAP computes the time-weighted average price over the window from
// MarketInitMs+StartDelayMs through nowMs (typically the trading-end
// timestamp), per the formula in spec.md §4.3:
//
//	twap = (cumulative_sum + last_price*(now-last_ts)) / (now - market_init_ts - start_delay_ms)
func (o *Oracle) TWAP(nowMs int64) (*big.Int, error) {
	if o == nil || !o.hasObservation {
		return nil, ErrOracleNotSampling
	}
	denom := nowMs - o.MarketInitMs - int64(o.StartDelayMs)
	if denom <= 0 {
		return nil, ErrOracleNotSampling
	}
	tail := new(big.Int).Mul(o.lastPrice, big.NewInt(nowMs-o.lastObservationMs))
	total := new(big.Int).Add(o.cumulativeSum, tail)
	return new(big.Int).Div(total, big.NewInt(denom)), nil
}

// LastPrice returns a defensive copy of the most recent clamped observation,
// or nil if no observation has been recorded yet.
func (o *Oracle) LastPrice() *big.Int {
	if o == nil || !o.hasObservation {
		return nil
	}
	return new(big.Int).Set(o.lastPrice)
}
