package futarchy

import (
	"fmt"
	"math/big"
)

// LiquidityPool is a constant-product (x*y=k) conditional market for a
// single outcome, with an attached Oracle sampling its instantaneous price on
// every swap (spec.md §3.1, §4.3). The swap arithmetic itself mirrors the
// generic x*y=k AMMs used across the pack (e.g. the reserve bookkeeping
// style of native/lending's market accounting); only the TWAP/conditional
// interactions below are specified in detail by spec.md, per its Non-goals.
type LiquidityPool struct {
	Outcome int

	ReserveAsset  *big.Int
	ReserveStable *big.Int

	FeeBps uint32

	Oracle *Oracle
}

// NewLiquidityPool constructs a pool seeded with initial reserves and wires
// a fresh Oracle anchored at marketInitMs.
func NewLiquidityPool(outcome int, reserveAsset, reserveStable *big.Int, feeBps uint32, startDelayMs uint64, stepMax *big.Int, marketInitMs int64) *LiquidityPool {
	return &LiquidityPool{
		Outcome:       outcome,
		ReserveAsset:  new(big.Int).Set(reserveAsset),
		ReserveStable: new(big.Int).Set(reserveStable),
		FeeBps:        feeBps,
		Oracle:        NewOracle(startDelayMs, stepMax, marketInitMs),
	}
}

// InstantPrice reports the current stable-per-asset spot price scaled by
// 1e6, matching the oracle's price-unit convention (spec.md §6
// twap_threshold is "expressed in the oracle's price units").
func (p *LiquidityPool) InstantPrice() *big.Int {
	if p.ReserveAsset.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(p.ReserveStable, big.NewInt(1_000_000))
	return new(big.Int).Div(scaled, p.ReserveAsset)
}

// k reports the constant-product invariant for monotonicity assertions
// (spec.md P2).
func (p *LiquidityPool) k() *big.Int {
	return new(big.Int).Mul(p.ReserveAsset, p.ReserveStable)
}

// SwapAssetForStable sells assetIn into the pool, crediting the trader with
// stable out net of amm_total_fee_bps, and samples the oracle with the
// pre-swap instantaneous price before applying the trade (spec.md §4.3: "On
// every write to the pool ... before applying the swap").
func (p *LiquidityPool) SwapAssetForStable(assetIn *big.Int, nowMs int64, minStableOut *big.Int) (*big.Int, error) {
	if assetIn == nil || assetIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	p.Oracle.Observe(p.InstantPrice(), nowMs)

	feeNum := new(big.Int).Sub(big.NewInt(10_000), big.NewInt(int64(p.FeeBps)))
	assetInAfterFee := new(big.Int).Div(new(big.Int).Mul(assetIn, feeNum), big.NewInt(10_000))

	newReserveAsset := new(big.Int).Add(p.ReserveAsset, assetInAfterFee)
	// stableOut = reserveStable - k / newReserveAsset, rounding in the pool's favour.
	k := p.k()
	newReserveStable := new(big.Int).Div(k, newReserveAsset)
	if new(big.Int).Mul(newReserveAsset, newReserveStable).Cmp(k) < 0 {
		newReserveStable = new(big.Int).Add(newReserveStable, big.NewInt(1))
	}
	if newReserveStable.Cmp(p.ReserveStable) > 0 {
		return nil, fmt.Errorf("futarchy: invalid swap state")
	}
	stableOut := new(big.Int).Sub(p.ReserveStable, newReserveStable)
	if minStableOut != nil && stableOut.Cmp(minStableOut) < 0 {
		return nil, ErrSlippage
	}

	p.ReserveAsset = new(big.Int).Add(p.ReserveAsset, assetIn)
	p.ReserveStable = newReserveStable
	return stableOut, nil
}

// SwapStableForAsset is the symmetric counterpart of SwapAssetForStable.
func (p *LiquidityPool) SwapStableForAsset(stableIn *big.Int, nowMs int64, minAssetOut *big.Int) (*big.Int, error) {
	if stableIn == nil || stableIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	p.Oracle.Observe(p.InstantPrice(), nowMs)

	feeNum := new(big.Int).Sub(big.NewInt(10_000), big.NewInt(int64(p.FeeBps)))
	stableInAfterFee := new(big.Int).Div(new(big.Int).Mul(stableIn, feeNum), big.NewInt(10_000))

	newReserveStable := new(big.Int).Add(p.ReserveStable, stableInAfterFee)
	k := p.k()
	newReserveAsset := new(big.Int).Div(k, newReserveStable)
	if new(big.Int).Mul(newReserveAsset, newReserveStable).Cmp(k) < 0 {
		newReserveAsset = new(big.Int).Add(newReserveAsset, big.NewInt(1))
	}
	if newReserveAsset.Cmp(p.ReserveAsset) > 0 {
		return nil, fmt.Errorf("futarchy: invalid swap state")
	}
	assetOut := new(big.Int).Sub(p.ReserveAsset, newReserveAsset)
	if minAssetOut != nil && assetOut.Cmp(minAssetOut) < 0 {
		return nil, ErrSlippage
	}

	p.ReserveStable = new(big.Int).Add(p.ReserveStable, stableIn)
	p.ReserveAsset = newReserveAsset
	return assetOut, nil
}
