package futarchy

import (
	"math/big"
	"testing"
)

func validTestConfig() Config {
	return Config{
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
			ReviewPeriodMs:  3_600_000,
			TradingPeriodMs: 7_200_000,
		},
		StableType: "USD",
		AssetType:  "DAO",
	}
}

func TestValidateConfigAcceptsWellFormedConfig(t *testing.T) {
	if err := ValidateConfig(validTestConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateTwapDelayRequiresAlignment(t *testing.T) {
	cfg := validTestConfig()
	cfg.Twap.StartDelayMs = 60_001
	if err := ValidateConfig(cfg); err != ErrTwapDelayAlignment {
		t.Fatalf("expected ErrTwapDelayAlignment, got %v", err)
	}
}

func TestValidateMinAmountRejectsBelowFloor(t *testing.T) {
	cfg := validTestConfig()
	cfg.Trading.MinAssetAmount = big.NewInt(int64(MinAMMSafeAmount))
	if err := ValidateConfig(cfg); err != ErrMinAmountFloor {
		t.Fatalf("expected ErrMinAmountFloor at the floor value, got %v", err)
	}
}

func TestValidateMaxOutcomesRejectsOutOfRange(t *testing.T) {
	cfg := validTestConfig()
	cfg.Trading.MaxOutcomes = 1
	if err := ValidateConfig(cfg); err != ErrOutcomeRange {
		t.Fatalf("expected ErrOutcomeRange below MinOutcomes, got %v", err)
	}
}

func TestValidateConfigRejectsTradingPeriodBelowTwapFloor(t *testing.T) {
	cfg := validTestConfig()
	cfg.Twap.StartDelayMs = 60_000
	cfg.Governance.TradingPeriodMs = cfg.Twap.StartDelayMs + 60_000
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected an error when trading period does not exceed twap_start_delay+60000ms")
	}
}

func TestConfigEngineUpdateTradingParamsPersistsAndValidates(t *testing.T) {
	store := NewStore()
	dao := &DAO{ID: 1, Config: validTestConfig()}
	if err := store.PutDAO(dao); err != nil {
		t.Fatalf("seed dao: %v", err)
	}
	engine := NewConfigEngine()
	engine.SetState(store)

	newParams := TradingParams{
		MinAssetAmount:  big.NewInt(5000),
		MinStableAmount: big.NewInt(5000),
		AmmTotalFeeBps:  50,
		MaxOutcomes:     3,
	}
	if err := engine.UpdateTradingParams(1, newParams); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, err := store.GetDAO(1)
	if err != nil || !ok {
		t.Fatalf("reload: %v %v", ok, err)
	}
	if got.Config.Trading.AmmTotalFeeBps != 50 {
		t.Fatalf("expected fee bps 50, got %d", got.Config.Trading.AmmTotalFeeBps)
	}

	invalid := newParams
	invalid.MaxOutcomes = 1
	if err := engine.UpdateTradingParams(1, invalid); err != ErrOutcomeRange {
		t.Fatalf("expected ErrOutcomeRange rejecting the invalid update, got %v", err)
	}
}

func TestConfigEngineSetOperationalStateIsTerminalOnceDissolving(t *testing.T) {
	store := NewStore()
	dao := &DAO{ID: 1, Config: validTestConfig()}
	if err := store.PutDAO(dao); err != nil {
		t.Fatalf("seed dao: %v", err)
	}
	engine := NewConfigEngine()
	engine.SetState(store)

	if err := engine.SetOperationalState(1, OperationalDissolving); err != nil {
		t.Fatalf("set dissolving: %v", err)
	}
	if err := engine.SetOperationalState(1, OperationalActive); err != ErrDissolving {
		t.Fatalf("expected ErrDissolving blocking reactivation, got %v", err)
	}
}

func TestRequireCoinTypeRejectsMismatch(t *testing.T) {
	dao := &DAO{ID: 1, Config: Config{StableType: "USD", AssetType: "DAO"}}
	if err := RequireCoinType(dao, "USD", "DAO"); err != nil {
		t.Fatalf("expected matching types to pass, got %v", err)
	}
	if err := RequireCoinType(dao, "EUR", ""); err != ErrCoinTypeMismatch {
		t.Fatalf("expected ErrCoinTypeMismatch for stable type, got %v", err)
	}
	if err := RequireCoinType(dao, "", "OTHER"); err != ErrCoinTypeMismatch {
		t.Fatalf("expected ErrCoinTypeMismatch for asset type, got %v", err)
	}
	if err := RequireCoinType(dao, "", ""); err != nil {
		t.Fatalf("expected empty declared types to pass, got %v", err)
	}
}
