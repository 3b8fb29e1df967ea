// Package futarchy implements the conditional-market governance engine: a
// proposal lifecycle state machine whose outcomes are resolved by the
// time-weighted average price of per-outcome prediction markets rather than
// by vote tallies. The package follows the engine-per-concern layout used by
// nhbchain's native modules (native/governance, native/swap, native/escrow):
// small structs wired to a narrow persistence interface via SetState, an
// events.Emitter via SetEmitter, and an injectable clock via SetNowFunc.
package futarchy

import (
	"math/big"
	"time"

	"futarchy/crypto"
)

// Protocol-wide constants referenced throughout the engines (spec.md §6, §8).
const (
	// MinAMMSafeAmount is the floor every configured min-liquidity amount
	// must exceed.
	MinAMMSafeAmount uint64 = 1000

	// MinOutcomes and MaxOutcomes bound the number of outcomes a proposal
	// may declare.
	MinOutcomes = 2
	MaxOutcomes = 3

	// TwapDelayGranularityMs is the required alignment for twap_start_delay.
	TwapDelayGranularityMs uint64 = 60_000

	// StaleDurationMs is the age at which a queued proposal becomes
	// evictable (30 days).
	StaleDurationMs uint64 = 30 * 24 * 60 * 60 * 1000

	// MonthlyFeePeriodMs is the recurring DAO fee billing period (30 days).
	MonthlyFeePeriodMs uint64 = 30 * 24 * 60 * 60 * 1000

	// FeeUpdateDelayMs is the mandatory delay before an updated monthly fee
	// takes effect (180 days).
	FeeUpdateDelayMs uint64 = 180 * 24 * 60 * 60 * 1000

	// DefaultRequiredBondAmount is the default bond floor for DAO-funded
	// submissions.
	DefaultRequiredBondAmount uint64 = 100_000_000

	// DefaultActivatorReward is paid to whoever cranks a proposer-funded
	// proposal into REVIEW.
	DefaultActivatorReward uint64 = 1_000_000 // 0.001 units at 1e9 scale below
)

// ProposalState enumerates the lifecycle stages of a Proposal (spec.md §3.1).
type ProposalState uint8

const (
	StatePremarket ProposalState = iota
	StateReview
	StateTrading
	StateFinalized
)

// String renders the state for logs and events.
func (s ProposalState) String() string {
	switch s {
	case StatePremarket:
		return "premarket"
	case StateReview:
		return "review"
	case StateTrading:
		return "trading"
	case StateFinalized:
		return "finalized"
	default:
		return "unspecified"
	}
}

// OperationalState enumerates the DAO-wide operating mode (spec.md §4.6).
type OperationalState uint8

const (
	OperationalActive OperationalState = iota
	OperationalPaused
	OperationalDissolving
)

func (s OperationalState) String() string {
	switch s {
	case OperationalActive:
		return "active"
	case OperationalPaused:
		return "paused"
	case OperationalDissolving:
		return "dissolving"
	default:
		return "unspecified"
	}
}

// ProposalInfo is the compact per-proposal index record (spec.md §3.1).
type ProposalInfo struct {
	ProposalID      uint64
	DaoID           uint64
	Proposer        crypto.Address
	CreatedAt       time.Time
	State           ProposalState
	OutcomeCount    uint8
	Title           string
	Result          string
	ExecutionTime   *time.Time
	Executed        bool
	MarketStateID   uint64
}

// Clone returns a deep copy safe for independent mutation.
func (p *ProposalInfo) Clone() *ProposalInfo {
	if p == nil {
		return nil
	}
	clone := *p
	if p.ExecutionTime != nil {
		t := *p.ExecutionTime
		clone.ExecutionTime = &t
	}
	return &clone
}

// MarketState is the per-proposal market bookkeeping record (spec.md §3.1).
type MarketState struct {
	ID              uint64
	ProposalID      uint64
	DaoID           uint64
	OutcomeLabels   []string
	TradingEnd      *time.Time
	Finalized       bool
	WinningOutcome  uint8
}

// Proposal is the heavy market object carrying per-outcome metadata, AMMs,
// escrow reference, TWAP history, and timing configuration (spec.md §3.1).
type Proposal struct {
	ID             uint64
	DaoID          uint64
	State          ProposalState
	Proposer       crypto.Address

	OutcomeMessages []string
	OutcomeDetails  []string
	OutcomeCreators []crypto.Address
	AssetAmounts    []*big.Int
	StableAmounts   []*big.Int

	AMMs          []*LiquidityPool
	Escrow        *TokenEscrow
	MarketStateID uint64

	ReviewPeriodMs  uint64
	TradingPeriodMs uint64

	TwapStartDelayMs uint64
	TwapStepMax      *big.Int
	TwapThreshold    *big.Int

	WinningOutcome *uint8

	FeeEscrow *big.Int

	UsesDaoLiquidity bool

	MarketInitializedAt *time.Time
	TradingStartedAt    *time.Time
}

// OutcomeCount reports the number of declared outcomes.
func (p *Proposal) OutcomeCount() int {
	if p == nil {
		return 0
	}
	return len(p.OutcomeMessages)
}

// FinalizationReceipt is the one-shot, non-storable proof produced by
// AdvanceStage when a proposal transitions to FINALIZED (spec.md §4.1, §5).
// Go has no linear-type enforcement; the discipline is emulated by the
// Consume method which panics on double-consumption within the same
// process, and by engines refusing to accept an already-consumed receipt.
type FinalizationReceipt struct {
	ProposalID       uint64
	LiquidityProvider crypto.Address
	UsesDaoLiquidity bool
	WinningOutcome   uint8

	consumed bool
}

// Consume marks the receipt as spent. Calling it twice indicates a bug in the
// caller (the receipt escaped its single intended consumer) and panics, the
// same affine-type discipline spec.md §9 asks for.
func (r *FinalizationReceipt) Consume() {
	if r == nil {
		return
	}
	if r.consumed {
		panic("futarchy: FinalizationReceipt consumed more than once")
	}
	r.consumed = true
}
