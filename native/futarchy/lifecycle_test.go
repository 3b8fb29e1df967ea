package futarchy

import (
	"math/big"
	"testing"
	"time"

	"futarchy/crypto"
)

func newTestLifecycleFixture(t *testing.T) (*LifecycleEngine, *Store, crypto.Address, func() time.Time, *time.Time) {
	t.Helper()
	store := NewStore()
	dao := &DAO{
		ID: 1,
		Config: Config{
			Trading: TradingParams{
				MinAssetAmount:  big.NewInt(2000),
				MinStableAmount: big.NewInt(2000),
				AmmTotalFeeBps:  30,
				MaxOutcomes:     3,
			},
			Twap: TwapConfig{
				StartDelayMs: 60_000,
				StepMax:      big.NewInt(1_000_000),
				ThresholdBps: big.NewInt(0),
			},
			Governance: GovernanceConfig{
				ReviewPeriodMs:  time.Hour.Milliseconds(),
				TradingPeriodMs: 2 * time.Hour.Milliseconds(),
			},
			StableType: "USD",
			AssetType:  "DAO",
		},
	}
	if err := store.PutDAO(dao); err != nil {
		t.Fatalf("seed dao: %v", err)
	}

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := &clock
	nowFn := func() time.Time { return *now }

	engine := NewLifecycleEngine()
	engine.SetState(store)
	engine.SetNowFunc(nowFn)

	proposer := crypto.MustNewAddress(crypto.NHBPrefix, make([]byte, 20))
	return engine, store, proposer, nowFn, now
}

func TestCreateRejectsTooFewOutcomes(t *testing.T) {
	engine, _, proposer, _, _ := newTestLifecycleFixture(t)
	_, err := engine.Create(100, CreateParams{
		DaoID:           1,
		Proposer:        proposer,
		Title:           "only one outcome",
		OutcomeMessages: []string{"yes"},
		OutcomeDetails:  []string{"detail"},
		AssetAmounts:    []*big.Int{big.NewInt(5000)},
		StableAmounts:   []*big.Int{big.NewInt(5000)},
	})
	if err != ErrInvalidOutcomeCount {
		t.Fatalf("expected ErrInvalidOutcomeCount, got %v", err)
	}
}

func TestCreateThenInitializeMarketEntersReview(t *testing.T) {
	engine, _, proposer, _, _ := newTestLifecycleFixture(t)
	proposal, err := engine.Create(1, CreateParams{
		DaoID:           1,
		Proposer:        proposer,
		Title:           "raise treasury allocation",
		OutcomeMessages: []string{"Reject", "Accept"},
		OutcomeDetails:  []string{"reject", "approve"},
		AssetAmounts:    []*big.Int{big.NewInt(5000), big.NewInt(5000)},
		StableAmounts:   []*big.Int{big.NewInt(5000), big.NewInt(5000)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if proposal.State != StatePremarket {
		t.Fatalf("expected premarket, got %v", proposal.State)
	}

	if err := engine.InitializeMarket(1, 900); err != nil {
		t.Fatalf("initialize market: %v", err)
	}
	got, ok, err := engine.state.GetProposal(1)
	if err != nil || !ok {
		t.Fatalf("reload proposal: %v %v", ok, err)
	}
	if got.State != StateReview {
		t.Fatalf("expected review, got %v", got.State)
	}
	if len(got.AMMs) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(got.AMMs))
	}
}

func TestInitializeMarketRejectsLowLiquidity(t *testing.T) {
	engine, _, proposer, _, _ := newTestLifecycleFixture(t)
	if _, err := engine.Create(1, CreateParams{
		DaoID:           1,
		Proposer:        proposer,
		Title:           "low liquidity",
		OutcomeMessages: []string{"Reject", "Accept"},
		OutcomeDetails:  []string{"x", "y"},
		AssetAmounts:    []*big.Int{big.NewInt(1), big.NewInt(1)},
		StableAmounts:   []*big.Int{big.NewInt(1), big.NewInt(1)},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.InitializeMarket(1, 1); err != ErrLiquidityTooLow {
		t.Fatalf("expected ErrLiquidityTooLow, got %v", err)
	}
}

func TestAdvanceStageFullLifecycle(t *testing.T) {
	engine, store, proposer, _, now := newTestLifecycleFixture(t)
	if _, err := engine.Create(1, CreateParams{
		DaoID:           1,
		Proposer:        proposer,
		Title:           "resolve by twap",
		OutcomeMessages: []string{"Reject", "Accept"},
		OutcomeDetails:  []string{"reject", "approve"},
		AssetAmounts:    []*big.Int{big.NewInt(10_000), big.NewInt(10_000)},
		StableAmounts:   []*big.Int{big.NewInt(10_000), big.NewInt(10_000)},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.InitializeMarket(1, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := engine.AdvanceStage(1); err != ErrTimePrecondition {
		t.Fatalf("expected ErrTimePrecondition before review period elapses, got %v", err)
	}

	*now = now.Add(time.Hour + time.Minute)
	if receipt, err := engine.AdvanceStage(1); err != nil || receipt != nil {
		t.Fatalf("expected review->trading transition with nil receipt, got %v %v", receipt, err)
	}

	// Only the Accept pool (outcome 1) trades; the Reject pool is never
	// sampled. The binary winner rule must still resolve without reading
	// Reject's TWAP.
	proposal, ok, err := store.GetProposal(1)
	if err != nil || !ok {
		t.Fatalf("reload proposal: %v %v", ok, err)
	}
	tradeTime := now.UnixMilli()
	if _, err := proposal.AMMs[1].SwapStableForAsset(big.NewInt(5_000), tradeTime, nil); err != nil {
		t.Fatalf("seed accept pool observation: %v", err)
	}

	*now = now.Add(2*time.Hour + time.Minute)
	receipt, err := engine.AdvanceStage(1)
	if err != nil {
		t.Fatalf("advance to finalized: %v", err)
	}
	if receipt == nil {
		t.Fatalf("expected a finalization receipt")
	}
	if receipt.WinningOutcome != 1 {
		t.Fatalf("expected accept (outcome 1) to win once its twap clears the zero threshold, got %d", receipt.WinningOutcome)
	}
	receipt.Consume()
}

func TestAdvanceStageBinaryRejectWinsWhenAcceptNeverSampled(t *testing.T) {
	engine, _, proposer, _, now := newTestLifecycleFixture(t)
	if _, err := engine.Create(1, CreateParams{
		DaoID:           1,
		Proposer:        proposer,
		Title:           "no trading at all",
		OutcomeMessages: []string{"Reject", "Accept"},
		OutcomeDetails:  []string{"reject", "approve"},
		AssetAmounts:    []*big.Int{big.NewInt(10_000), big.NewInt(10_000)},
		StableAmounts:   []*big.Int{big.NewInt(10_000), big.NewInt(10_000)},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.InitializeMarket(1, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	*now = now.Add(time.Hour + time.Minute)
	if _, err := engine.AdvanceStage(1); err != nil {
		t.Fatalf("review->trading: %v", err)
	}

	*now = now.Add(2*time.Hour + time.Minute)
	receipt, err := engine.AdvanceStage(1)
	if err != nil {
		t.Fatalf("expected finalization to succeed without aborting on an unsampled pool, got %v", err)
	}
	if receipt.WinningOutcome != 0 {
		t.Fatalf("expected reject (outcome 0) to win when accept was never sampled, got %d", receipt.WinningOutcome)
	}
	receipt.Consume()
}

func TestFinalizationReceiptPanicsOnDoubleConsume(t *testing.T) {
	receipt := &FinalizationReceipt{ProposalID: 1}
	receipt.Consume()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double consume")
		}
	}()
	receipt.Consume()
}

func TestMutateOutcomeRequiresDifferentCreator(t *testing.T) {
	engine, _, proposer, _, _ := newTestLifecycleFixture(t)
	if _, err := engine.Create(1, CreateParams{
		DaoID:           1,
		Proposer:        proposer,
		Title:           "mutate test",
		OutcomeMessages: []string{"Reject", "Accept"},
		OutcomeDetails:  []string{"x", "y"},
		AssetAmounts:    []*big.Int{big.NewInt(5000), big.NewInt(5000)},
		StableAmounts:   []*big.Int{big.NewInt(5000), big.NewInt(5000)},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.MutateOutcome(1, 0, proposer, "new message", "new detail"); err != ErrSameCreator {
		t.Fatalf("expected ErrSameCreator, got %v", err)
	}
	other := crypto.MustNewAddress(crypto.NHBPrefix, append(make([]byte, 19), 1))
	if err := engine.MutateOutcome(1, 0, other, "new message", "new detail"); err != nil {
		t.Fatalf("mutate outcome: %v", err)
	}
}
