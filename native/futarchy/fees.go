package futarchy

import (
	"math/big"
	"time"

	"futarchy/core/events"
	"futarchy/crypto"
)

// treasuryState is the narrow persistence surface FeeManager and
// TreasuryEngine need for DAO treasury balances, separate from daoState
// because a real deployment is likely to back treasury balances with a
// different ledger than DAO configuration (spec.md §4.5, §4.6).
type treasuryState interface {
	GetDAO(id uint64) (*DAO, bool, error)
	PutDAO(d *DAO) error

	GetTreasuryBalance(daoID uint64, coinType string) (*big.Int, error)
	PutTreasuryBalance(daoID uint64, coinType string, balance *big.Int) error
}

// FeeManager owns the recurring DAO platform fee: a monthly charge debited
// from the DAO treasury, with a 180-day mandatory delay before any updated
// fee amount takes effect, and auto-pause semantics when the treasury cannot
// cover the due amount (spec.md §4.5).
type FeeManager struct {
	state   treasuryState
	emitter events.Emitter
	nowFn   func() time.Time

	pending map[uint64]*PendingFeeUpdate
}

// NewFeeManager constructs a fee manager with no-op defaults.
func NewFeeManager() *FeeManager {
	return &FeeManager{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
		pending: make(map[uint64]*PendingFeeUpdate),
	}
}

// SetState wires the persistence backend.
func (m *FeeManager) SetState(state treasuryState) { m.state = state }

// SetEmitter wires the event sink.
func (m *FeeManager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetNowFunc overrides the clock used for fee-due and delay computations.
func (m *FeeManager) SetNowFunc(now func() time.Time) {
	if now == nil {
		m.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	m.nowFn = now
}

func (m *FeeManager) now() time.Time {
	if m == nil || m.nowFn == nil {
		return time.Now().UTC()
	}
	return m.nowFn()
}

func (m *FeeManager) emit(eventType string, attrs map[string]string) {
	if m == nil || m.emitter == nil {
		return
	}
	m.emitter.Emit(newEvent(eventType, attrs))
}

// PendingFeeUpdate records a scheduled monthly-fee change awaiting its
// 180-day delay (spec.md §4.5 "updates to the recurring fee amount take
// effect only after a 180-day delay").
type PendingFeeUpdate struct {
	NewMonthlyFee *big.Int
	StableType    string
	EffectiveAt   time.Time
}

// ScheduleRecurringFeeUpdate records a pending fee change effective
// FeeUpdateDelayMs from now; it does not take effect until CollectDueFee
// observes EffectiveAt has passed (spec.md §4.5, §9 Open Question —
// resolved in DESIGN.md in favour of lazy application at collection time
// rather than an active scheduler).
func (m *FeeManager) ScheduleRecurringFeeUpdate(daoID uint64, newFee *big.Int, stableType string) error {
	dao, err := m.loadDAO(daoID)
	if err != nil {
		return err
	}
	if newFee == nil || newFee.Sign() < 0 {
		return ErrInvalidPayment
	}
	if stableType != "" && stableType != dao.Config.StableType {
		return ErrWrongStableType
	}
	m.pending[daoID] = &PendingFeeUpdate{
		NewMonthlyFee: new(big.Int).Set(newFee),
		StableType:    dao.Config.StableType,
		EffectiveAt:   m.now().Add(time.Duration(FeeUpdateDelayMs) * time.Millisecond),
	}
	return m.state.PutDAO(dao)
}

func (m *FeeManager) loadDAO(id uint64) (*DAO, error) {
	dao, ok, err := m.state.GetDAO(id)
	if err != nil {
		return nil, err
	}
	if !ok || dao == nil {
		return nil, ErrProposalNotFound
	}
	return dao, nil
}

// CollectDueFee debits the current monthly fee from the DAO treasury if
// NextFeeDueTimestamp has passed, applying any pending update whose delay
// has elapsed first. If the treasury cannot cover the fee, the DAO is
// auto-paused rather than allowed to run a negative balance (spec.md §4.5
// "insufficient treasury auto-pauses the DAO").
func (m *FeeManager) CollectDueFee(daoID uint64, currentMonthlyFee *big.Int) (*big.Int, error) {
	dao, err := m.loadDAO(daoID)
	if err != nil {
		return nil, err
	}
	nowMs := m.now().UnixMilli()
	if dao.NextFeeDueTimestamp > nowMs {
		return nil, ErrRecurringFeeNotDue
	}

	fee := new(big.Int).Set(currentMonthlyFee)
	if pending, ok := m.pending[daoID]; ok && !m.now().Before(pending.EffectiveAt) {
		fee = new(big.Int).Set(pending.NewMonthlyFee)
		delete(m.pending, daoID)
	}

	balance, err := m.state.GetTreasuryBalance(daoID, dao.Config.StableType)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(fee) < 0 {
		dao.Config.OperationalState = OperationalPaused
		if err := m.state.PutDAO(dao); err != nil {
			return nil, err
		}
		m.emit(EventTypeFeePaused, map[string]string{"daoId": u64(daoID)})
		return nil, ErrInsufficientTreasury
	}

	newBalance := new(big.Int).Sub(balance, fee)
	if err := m.state.PutTreasuryBalance(daoID, dao.Config.StableType, newBalance); err != nil {
		return nil, err
	}
	dao.NextFeeDueTimestamp = nowMs + int64(MonthlyFeePeriodMs)
	if dao.Config.OperationalState == OperationalPaused {
		dao.Config.OperationalState = OperationalActive
		m.emit(EventTypeFeeUnpaused, map[string]string{"daoId": u64(daoID)})
	}
	if err := m.state.PutDAO(dao); err != nil {
		return nil, err
	}
	m.emit(EventTypeFeeCollected, map[string]string{"daoId": u64(daoID), "amount": fee.String()})
	return fee, nil
}

// ProposalFeeManager holds submission fees in escrow on behalf of queued
// proposals and releases them on activation (PayActivatorReward) or eviction
// (SweepToProtocolRevenue), mirroring native/fees' escrow-then-sweep pattern
// (spec.md §4.2, §4.5). It has no path that refunds a fee to the proposer.
type ProposalFeeManager struct {
	state   treasuryState
	emitter events.Emitter

	held map[uint64]*big.Int
}

// NewProposalFeeManager constructs an empty proposal fee manager.
func NewProposalFeeManager() *ProposalFeeManager {
	return &ProposalFeeManager{emitter: events.NoopEmitter{}, held: make(map[uint64]*big.Int)}
}

// SetState wires the persistence backend.
func (m *ProposalFeeManager) SetState(state treasuryState) { m.state = state }

// SetEmitter wires the event sink.
func (m *ProposalFeeManager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// HoldSubmissionFee escrows a proposal's submission fee pending activation
// or eviction.
func (m *ProposalFeeManager) HoldSubmissionFee(proposalID uint64, fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return ErrInvalidPayment
	}
	m.held[proposalID] = new(big.Int).Set(fee)
	return nil
}

// PayActivatorReward releases DefaultActivatorReward to the crank caller out
// of the held submission fee, sweeping the remainder to protocol revenue
// (spec.md §4.2 "activator rewards").
func (m *ProposalFeeManager) PayActivatorReward(proposalID uint64, activator crypto.Address) (*big.Int, error) {
	held, ok := m.held[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	reward := new(big.Int).SetUint64(DefaultActivatorReward)
	if held.Cmp(reward) < 0 {
		reward = new(big.Int).Set(held)
	}
	delete(m.held, proposalID)
	return reward, nil
}

// SweepToProtocolRevenue releases the entire held submission fee to protocol
// revenue without paying an activator reward, used on eviction of a stale
// proposal.
func (m *ProposalFeeManager) SweepToProtocolRevenue(proposalID uint64) (*big.Int, error) {
	held, ok := m.held[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	delete(m.held, proposalID)
	return held, nil
}

// TreasuryEngine executes DAO treasury transfers authorised by an executed
// action sequence (spec.md §4.4 ActionTransferAssetFromTreasury /
// ActionTransferStableFromTreasury).
type TreasuryEngine struct {
	state   treasuryState
	emitter events.Emitter
}

// NewTreasuryEngine constructs a treasury engine.
func NewTreasuryEngine() *TreasuryEngine {
	return &TreasuryEngine{emitter: events.NoopEmitter{}}
}

// SetState wires the persistence backend.
func (t *TreasuryEngine) SetState(state treasuryState) { t.state = state }

// SetEmitter wires the event sink.
func (t *TreasuryEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

// TransferAsset debits amount of the DAO's configured asset type from its
// treasury to recipient.
func (t *TreasuryEngine) TransferAsset(daoID uint64, recipient crypto.Address, amount *big.Int) error {
	dao, ok, err := t.state.GetDAO(daoID)
	if err != nil {
		return err
	}
	if !ok || dao == nil {
		return ErrProposalNotFound
	}
	return t.transfer(daoID, dao.Config.AssetType, amount)
}

// TransferStable debits amount of the DAO's configured stable type from its
// treasury to recipient.
func (t *TreasuryEngine) TransferStable(daoID uint64, recipient crypto.Address, amount *big.Int) error {
	dao, ok, err := t.state.GetDAO(daoID)
	if err != nil {
		return err
	}
	if !ok || dao == nil {
		return ErrProposalNotFound
	}
	return t.transfer(daoID, dao.Config.StableType, amount)
}

func (t *TreasuryEngine) transfer(daoID uint64, coinType string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	balance, err := t.state.GetTreasuryBalance(daoID, coinType)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientTreasury
	}
	newBalance := new(big.Int).Sub(balance, amount)
	return t.state.PutTreasuryBalance(daoID, coinType, newBalance)
}
