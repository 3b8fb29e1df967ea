package futarchy

import (
	"fmt"
	"math/big"
)

// TradingParams bounds AMM and liquidity behaviour for proposals created
// under a DAO (spec.md §6).
type TradingParams struct {
	MinAssetAmount   *big.Int
	MinStableAmount  *big.Int
	AmmTotalFeeBps   uint32
	MaxOutcomes      uint8
	RequiredBondWei  *big.Int
}

// TwapConfig bounds the oracle sampling and resolution rules (spec.md §4.3,
// §6).
type TwapConfig struct {
	StartDelayMs uint64
	StepMax      *big.Int
	ThresholdBps *big.Int
}

// GovernanceConfig bounds proposal timing and fees (spec.md §4.1, §6).
type GovernanceConfig struct {
	ReviewPeriodMs      uint64
	TradingPeriodMs     uint64
	ProposalFeePerOutcome *big.Int
	MaxConcurrentProposals uint32
	MaxProposerFunded      uint32
}

// MetadataConfig carries free-form DAO presentation metadata; its entries
// are not validated (spec.md §3.1 "metadata-table update").
type MetadataConfig struct {
	Entries map[string]string
}

// Config is the composed DAO configuration record (spec.md §4.6).
type Config struct {
	Trading    TradingParams
	Twap       TwapConfig
	Governance GovernanceConfig
	Metadata   MetadataConfig

	SpotPoolID string
	StableType string
	AssetType  string

	OperationalState OperationalState
}

// DAO holds config, the fee-due clock, flags for an optional treasury and
// liquidity pool, and a proposal counter (spec.md §3.1). Proposals and the
// proposal queue are kept outside this struct.
type DAO struct {
	ID     uint64
	Config Config

	TreasuryConfigured     bool
	LiquidityPoolConfigured bool

	DaoLiquidityInUse bool

	NextFeeDueTimestamp int64

	ProposalCount uint64
}

// ValidateTwapDelay enforces the 60_000ms alignment rule (spec.md §4.6, §6).
func ValidateTwapDelay(delayMs uint64) error {
	if delayMs%TwapDelayGranularityMs != 0 {
		return ErrTwapDelayAlignment
	}
	return nil
}

// ValidateMinAmount enforces the MIN_AMM_SAFE_AMOUNT floor (spec.md §4.6).
func ValidateMinAmount(amount *big.Int) error {
	if amount == nil || !amount.IsUint64() || amount.Uint64() <= MinAMMSafeAmount {
		return ErrMinAmountFloor
	}
	return nil
}

// ValidateMaxOutcomes enforces the [MIN_OUTCOMES, MAX_OUTCOMES] range
// (spec.md §4.6).
func ValidateMaxOutcomes(max uint8) error {
	if max < MinOutcomes || max > MaxOutcomes {
		return ErrOutcomeRange
	}
	return nil
}

// ValidateConfig runs every field-level validation rule the mutator layer
// requires before a Config may be committed to a DAO (spec.md §4.6,
// "Validation is centralised at the mutator layer").
func ValidateConfig(cfg Config) error {
	if err := ValidateTwapDelay(cfg.Twap.StartDelayMs); err != nil {
		return err
	}
	if err := ValidateMaxOutcomes(cfg.Trading.MaxOutcomes); err != nil {
		return err
	}
	if err := ValidateMinAmount(cfg.Trading.MinAssetAmount); err != nil {
		return err
	}
	if err := ValidateMinAmount(cfg.Trading.MinStableAmount); err != nil {
		return err
	}
	if cfg.Trading.AmmTotalFeeBps > 1000 {
		return fmt.Errorf("futarchy: amm_total_fee_bps must be <= 1000")
	}
	if cfg.Governance.ReviewPeriodMs > 7*24*60*60*1000 {
		return fmt.Errorf("futarchy: review_period_ms exceeds 7 days")
	}
	if cfg.Governance.TradingPeriodMs > 7*24*60*60*1000 {
		return fmt.Errorf("futarchy: trading_period_ms exceeds 7 days")
	}
	minTrading := cfg.Twap.StartDelayMs + 60_000
	if cfg.Governance.TradingPeriodMs <= minTrading {
		return fmt.Errorf("futarchy: trading_period_ms must exceed twap_start_delay + 60000ms")
	}
	if cfg.Twap.StartDelayMs > 86_400_000 {
		return fmt.Errorf("futarchy: twap_start_delay exceeds 24h")
	}
	if cfg.Twap.StepMax == nil || cfg.Twap.StepMax.Sign() <= 0 {
		return fmt.Errorf("futarchy: twap_step_max must be >= 1")
	}
	if cfg.Twap.ThresholdBps != nil && cfg.Twap.ThresholdBps.Sign() < 0 {
		return fmt.Errorf("futarchy: twap_threshold must be >= 0")
	}
	return nil
}

// daoState is the narrow persistence surface DAO mutators need. Concrete
// backends (e.g. the in-process engine used by services/futarchyd, or test
// mocks) implement it directly, following native/governance's proposalState
// pattern.
type daoState interface {
	GetDAO(id uint64) (*DAO, bool, error)
	PutDAO(d *DAO) error
}

// ConfigEngine applies mutations to a DAO's Config. Within this package the
// action dispatcher is its caller; the methods are exported, so other
// packages can call them too. The trading, TWAP and governance updaters run
// ValidateConfig before persisting; UpdateMetadataTable merges entries
// without validation.
type ConfigEngine struct {
	state daoState
}

// NewConfigEngine constructs a DAO configuration engine.
func NewConfigEngine() *ConfigEngine { return &ConfigEngine{} }

// SetState wires the persistence backend.
func (e *ConfigEngine) SetState(state daoState) { e.state = state }

func (e *ConfigEngine) loadDAO(id uint64) (*DAO, error) {
	if e == nil || e.state == nil {
		return nil, ErrStateNotConfigured
	}
	dao, ok, err := e.state.GetDAO(id)
	if err != nil {
		return nil, err
	}
	if !ok || dao == nil {
		return nil, fmt.Errorf("futarchy: dao %d not found", id)
	}
	return dao, nil
}

// UpdateTradingParams validates and applies a trading-parameter delta.
func (e *ConfigEngine) UpdateTradingParams(daoID uint64, params TradingParams) error {
	dao, err := e.loadDAO(daoID)
	if err != nil {
		return err
	}
	next := dao.Config
	next.Trading = params
	if err := ValidateConfig(next); err != nil {
		return err
	}
	dao.Config = next
	return e.state.PutDAO(dao)
}

// UpdateTwapConfig validates and applies a TWAP-parameter delta.
func (e *ConfigEngine) UpdateTwapConfig(daoID uint64, twap TwapConfig) error {
	dao, err := e.loadDAO(daoID)
	if err != nil {
		return err
	}
	next := dao.Config
	next.Twap = twap
	if err := ValidateConfig(next); err != nil {
		return err
	}
	dao.Config = next
	return e.state.PutDAO(dao)
}

// UpdateGovernanceConfig validates and applies a governance-parameter delta.
func (e *ConfigEngine) UpdateGovernanceConfig(daoID uint64, gov GovernanceConfig) error {
	dao, err := e.loadDAO(daoID)
	if err != nil {
		return err
	}
	next := dao.Config
	next.Governance = gov
	if err := ValidateConfig(next); err != nil {
		return err
	}
	dao.Config = next
	return e.state.PutDAO(dao)
}

// UpdateMetadataTable merges the supplied entries into the DAO metadata
// table (spec.md §3.1 "metadata-table update").
func (e *ConfigEngine) UpdateMetadataTable(daoID uint64, entries map[string]string) error {
	dao, err := e.loadDAO(daoID)
	if err != nil {
		return err
	}
	if dao.Config.Metadata.Entries == nil {
		dao.Config.Metadata.Entries = make(map[string]string, len(entries))
	}
	for k, v := range entries {
		dao.Config.Metadata.Entries[k] = v
	}
	return e.state.PutDAO(dao)
}

// SetOperationalState transitions the DAO's operating mode. DISSOLVING is
// terminal: once set it cannot be cleared (spec.md §4.6).
func (e *ConfigEngine) SetOperationalState(daoID uint64, state OperationalState) error {
	dao, err := e.loadDAO(daoID)
	if err != nil {
		return err
	}
	if dao.Config.OperationalState == OperationalDissolving && state != OperationalDissolving {
		return ErrDissolving
	}
	dao.Config.OperationalState = state
	return e.state.PutDAO(dao)
}

// RequireCoinType checks that a stable/asset type tag embedded in an action
// matches the DAO's configured type, modelling the phantom-type coin-safety
// check spec.md §9 calls for in a systems language that lacks Move generics.
func RequireCoinType(dao *DAO, declaredStable, declaredAsset string) error {
	if dao == nil {
		return fmt.Errorf("futarchy: nil dao")
	}
	if declaredStable != "" && declaredStable != dao.Config.StableType {
		return ErrCoinTypeMismatch
	}
	if declaredAsset != "" && declaredAsset != dao.Config.AssetType {
		return ErrCoinTypeMismatch
	}
	return nil
}
