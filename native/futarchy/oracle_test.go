package futarchy

import (
	"math/big"
	"testing"
)

func TestObserveDropsSamplesBeforeStartDelay(t *testing.T) {
	o := NewOracle(60_000, big.NewInt(1_000_000), 0)
	if err := o.Observe(big.NewInt(500_000), 30_000); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if o.LastPrice() != nil {
		t.Fatalf("expected sample before start delay to be dropped")
	}
	if _, err := o.TWAP(90_000); err != ErrOracleNotSampling {
		t.Fatalf("expected ErrOracleNotSampling, got %v", err)
	}
}

func TestObserveRejectsOutOfOrderSamples(t *testing.T) {
	o := NewOracle(0, big.NewInt(1_000_000), 0)
	if err := o.Observe(big.NewInt(1_000_000), 1000); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := o.Observe(big.NewInt(1_000_000), 500); err != ErrOracleTimeOrder {
		t.Fatalf("expected ErrOracleTimeOrder, got %v", err)
	}
}

func TestObserveClampsMovementToStepMax(t *testing.T) {
	o := NewOracle(0, big.NewInt(100), 0)
	if err := o.Observe(big.NewInt(1000), 0); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := o.Observe(big.NewInt(5000), 10); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if o.LastPrice().Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("expected clamp to lastPrice+StepMax=1100, got %s", o.LastPrice())
	}
}

func TestTWAPComputesWeightedAverage(t *testing.T) {
	o := NewOracle(0, big.NewInt(1_000_000), 0)
	if err := o.Observe(big.NewInt(1000), 0); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := o.Observe(big.NewInt(2000), 100); err != nil {
		t.Fatalf("observe: %v", err)
	}
	twap, err := o.TWAP(200)
	if err != nil {
		t.Fatalf("twap: %v", err)
	}
	// The second sample adds its clamped price times the time since the first:
	// cumulative_sum = 2000*100 = 200000; tail = 2000*100 = 200000.
	// total = 400000; denom = 200; twap = 2000.
	if twap.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected twap 2000, got %s", twap)
	}
}

func TestTWAPRequiresAtLeastOneObservation(t *testing.T) {
	o := NewOracle(0, big.NewInt(1_000_000), 0)
	if _, err := o.TWAP(1000); err != ErrOracleNotSampling {
		t.Fatalf("expected ErrOracleNotSampling, got %v", err)
	}
}

func TestLastPriceReturnsDefensiveCopy(t *testing.T) {
	o := NewOracle(0, big.NewInt(1_000_000), 0)
	if err := o.Observe(big.NewInt(1000), 0); err != nil {
		t.Fatalf("observe: %v", err)
	}
	got := o.LastPrice()
	got.Add(got, big.NewInt(1))
	if o.LastPrice().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected internal state unaffected by mutation of returned copy, got %s", o.LastPrice())
	}
}
