package futarchy

import (
	"math/big"
	"testing"
)

func newTestPool() *LiquidityPool {
	return NewLiquidityPool(0, big.NewInt(10_000), big.NewInt(10_000), 30, 0, big.NewInt(1_000_000), 0)
}

func TestInstantPriceScaledByOneMillion(t *testing.T) {
	pool := newTestPool()
	if pool.InstantPrice().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected 1:1 reserves to price at 1e6, got %s", pool.InstantPrice())
	}
}

func TestSwapAssetForStablePreservesInvariantDirection(t *testing.T) {
	pool := newTestPool()
	kBefore := pool.k()
	out, err := pool.SwapAssetForStable(big.NewInt(1000), 0, nil)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("expected positive stable out, got %s", out)
	}
	kAfter := pool.k()
	if kAfter.Cmp(kBefore) < 0 {
		t.Fatalf("expected invariant to not decrease, before=%s after=%s", kBefore, kAfter)
	}
	if pool.ReserveAsset.Cmp(big.NewInt(11_000)) != 0 {
		t.Fatalf("expected reserve asset to grow by full input, got %s", pool.ReserveAsset)
	}
}

func TestSwapRejectsNonPositiveAmount(t *testing.T) {
	pool := newTestPool()
	if _, err := pool.SwapAssetForStable(big.NewInt(0), 0, nil); err != ErrZeroAmount {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := pool.SwapStableForAsset(big.NewInt(-1), 0, nil); err != ErrZeroAmount {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestSwapRejectsSlippage(t *testing.T) {
	pool := newTestPool()
	huge := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1_000_000))
	if _, err := pool.SwapAssetForStable(big.NewInt(1000), 0, huge); err != ErrSlippage {
		t.Fatalf("expected ErrSlippage, got %v", err)
	}
}

func TestSwapSamplesOracleBeforeApplyingTrade(t *testing.T) {
	pool := newTestPool()
	if pool.Oracle.LastPrice() != nil {
		t.Fatalf("expected no observation before any swap")
	}
	if _, err := pool.SwapAssetForStable(big.NewInt(1000), 100, nil); err != nil {
		t.Fatalf("swap: %v", err)
	}
	last := pool.Oracle.LastPrice()
	if last == nil {
		t.Fatalf("expected an observation after swap")
	}
	if last.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected pre-swap instant price (1e6) to be sampled, got %s", last)
	}
}

func TestSwapStableForAssetSymmetric(t *testing.T) {
	pool := newTestPool()
	out, err := pool.SwapStableForAsset(big.NewInt(1000), 0, nil)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("expected positive asset out, got %s", out)
	}
	if pool.ReserveStable.Cmp(big.NewInt(11_000)) != 0 {
		t.Fatalf("expected reserve stable to grow by full input, got %s", pool.ReserveStable)
	}
}
