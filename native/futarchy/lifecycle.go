package futarchy

import (
	"fmt"
	"math/big"
	"time"

	"futarchy/core/events"
	"futarchy/crypto"
)

// lifecycleState is the narrow persistence surface LifecycleEngine needs,
// following native/governance engine.go's proposalState pattern of a small
// load/store interface rather than a full repository abstraction.
type lifecycleState interface {
	GetDAO(id uint64) (*DAO, bool, error)
	PutDAO(d *DAO) error

	GetProposal(id uint64) (*Proposal, bool, error)
	PutProposal(p *Proposal) error

	GetProposalInfo(id uint64) (*ProposalInfo, bool, error)
	PutProposalInfo(info *ProposalInfo) error

	GetMarketState(id uint64) (*MarketState, bool, error)
	PutMarketState(m *MarketState) error
}

// LifecycleEngine drives a Proposal through PREMARKET -> REVIEW -> TRADING ->
// FINALIZED (spec.md §4.1), mirroring native/governance.Engine's shape: a
// state interface, an events.Emitter, and an injectable clock, each wired
// through setters so tests can swap in mocks without a constructor
// explosion.
type LifecycleEngine struct {
	state   lifecycleState
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewLifecycleEngine constructs a lifecycle engine with no-op defaults.
func NewLifecycleEngine() *LifecycleEngine {
	return &LifecycleEngine{emitter: events.NoopEmitter{}, nowFn: func() time.Time { return time.Now().UTC() }}
}

// SetState wires the persistence backend.
func (e *LifecycleEngine) SetState(state lifecycleState) { e.state = state }

// SetEmitter wires the event sink.
func (e *LifecycleEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for timestamping stage transitions.
func (e *LifecycleEngine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *LifecycleEngine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *LifecycleEngine) emit(eventType string, attrs map[string]string) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(newEvent(eventType, attrs))
}

func (e *LifecycleEngine) loadDAO(id uint64) (*DAO, error) {
	dao, ok, err := e.state.GetDAO(id)
	if err != nil {
		return nil, err
	}
	if !ok || dao == nil {
		return nil, fmt.Errorf("futarchy: dao %d not found", id)
	}
	return dao, nil
}

func (e *LifecycleEngine) loadProposal(id uint64) (*Proposal, error) {
	p, ok, err := e.state.GetProposal(id)
	if err != nil {
		return nil, err
	}
	if !ok || p == nil {
		return nil, ErrProposalNotFound
	}
	return p, nil
}

func (e *LifecycleEngine) loadInfo(id uint64) (*ProposalInfo, error) {
	info, ok, err := e.state.GetProposalInfo(id)
	if err != nil {
		return nil, err
	}
	if !ok || info == nil {
		return nil, ErrProposalNotFound
	}
	return info, nil
}

// CreateParams bundles the arguments to Create (spec.md §4.1 "create").
type CreateParams struct {
	DaoID            uint64
	Proposer         crypto.Address
	Title            string
	OutcomeMessages  []string
	OutcomeDetails   []string
	AssetAmounts     []*big.Int
	StableAmounts    []*big.Int
	UsesDaoLiquidity bool
	FeeEscrow        *big.Int
}

// Create materialises a brand-new proposal directly in PREMARKET, bypassing
// the queue (spec.md §4.1: proposals either enter directly when a slot is
// free, or arrive already-reserved via ReserveNextForPremarket). The caller
// is responsible for the admission decision via queue.go; Create only
// enforces the per-proposal structural invariants.
func (e *LifecycleEngine) Create(proposalID uint64, params CreateParams) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, ErrStateNotConfigured
	}
	dao, err := e.loadDAO(params.DaoID)
	if err != nil {
		return nil, err
	}
	if dao.Config.OperationalState == OperationalDissolving {
		return nil, ErrDissolving
	}
	if err := validateOutcomeArrays(params.OutcomeMessages, params.OutcomeDetails, params.AssetAmounts, params.StableAmounts, dao.Config.Trading.MaxOutcomes); err != nil {
		return nil, err
	}

	creators := make([]crypto.Address, len(params.OutcomeMessages))
	for i := range creators {
		creators[i] = params.Proposer
	}

	proposal := &Proposal{
		ID:               proposalID,
		DaoID:            params.DaoID,
		State:            StatePremarket,
		Proposer:         params.Proposer,
		OutcomeMessages:  append([]string(nil), params.OutcomeMessages...),
		OutcomeDetails:   append([]string(nil), params.OutcomeDetails...),
		OutcomeCreators:  creators,
		AssetAmounts:     cloneBigSlice(params.AssetAmounts),
		StableAmounts:    cloneBigSlice(params.StableAmounts),
		ReviewPeriodMs:   dao.Config.Governance.ReviewPeriodMs,
		TradingPeriodMs:  dao.Config.Governance.TradingPeriodMs,
		TwapStartDelayMs: dao.Config.Twap.StartDelayMs,
		TwapStepMax:      new(big.Int).Set(dao.Config.Twap.StepMax),
		TwapThreshold:    bigOrZero(dao.Config.Twap.ThresholdBps),
		UsesDaoLiquidity: params.UsesDaoLiquidity,
	}
	if params.FeeEscrow != nil {
		proposal.FeeEscrow = new(big.Int).Set(params.FeeEscrow)
	}

	info := &ProposalInfo{
		ProposalID:   proposalID,
		DaoID:        params.DaoID,
		Proposer:     params.Proposer,
		CreatedAt:    e.now(),
		State:        StatePremarket,
		OutcomeCount: uint8(len(params.OutcomeMessages)),
		Title:        params.Title,
	}

	if err := e.state.PutProposal(proposal); err != nil {
		return nil, err
	}
	if err := e.state.PutProposalInfo(info); err != nil {
		return nil, err
	}
	dao.ProposalCount++
	if params.UsesDaoLiquidity {
		dao.DaoLiquidityInUse = true
	}
	if err := e.state.PutDAO(dao); err != nil {
		return nil, err
	}

	e.emit(EventTypeProposalCreated, map[string]string{
		"proposalId": u64(proposalID),
		"daoId":      u64(params.DaoID),
		"outcomes":   u64(uint64(len(params.OutcomeMessages))),
	})
	return proposal, nil
}

func validateOutcomeArrays(messages, details []string, assetAmounts, stableAmounts []*big.Int, maxOutcomes uint8) error {
	n := len(messages)
	if n < MinOutcomes || n > int(maxOutcomes) {
		return ErrInvalidOutcomeCount
	}
	if len(details) != n || len(assetAmounts) != n || len(stableAmounts) != n {
		return ErrInvalidMessages
	}
	for _, m := range messages {
		if len(m) == 0 || len(m) > 256 {
			return ErrInvalidMessages
		}
	}
	return validateReservedOutcomeNames(messages)
}

// validateReservedOutcomeNames enforces the reserved-name invariant spec.md
// §3.1/§4.1 require: outcome 0 is always the literal "Reject", and a
// proposal with exactly two outcomes names its second "Accept" so the
// binary winner rule in resolveWinner has a well-defined YES leg.
func validateReservedOutcomeNames(messages []string) error {
	if len(messages) == 0 || messages[0] != "Reject" {
		return ErrReservedOutcomeName
	}
	if len(messages) == 2 && messages[1] != "Accept" {
		return ErrReservedOutcomeName
	}
	return nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func cloneBigSlice(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = big.NewInt(0)
			continue
		}
		out[i] = new(big.Int).Set(v)
	}
	return out
}

// AddOutcome appends a new outcome to a PREMARKET proposal (spec.md §4.1
// "add_outcome"). Only legal while no market has been initialised.
func (e *LifecycleEngine) AddOutcome(proposalID uint64, message, detail string, assetAmount, stableAmount *big.Int) error {
	proposal, err := e.loadProposal(proposalID)
	if err != nil {
		return err
	}
	if proposal.State != StatePremarket {
		return ErrInvalidState
	}
	dao, err := e.loadDAO(proposal.DaoID)
	if err != nil {
		return err
	}
	if proposal.OutcomeCount()+1 > int(dao.Config.Trading.MaxOutcomes) {
		return ErrInvalidOutcomeCount
	}
	if len(message) == 0 || len(message) > 256 {
		return ErrInvalidMessages
	}
	proposal.OutcomeMessages = append(proposal.OutcomeMessages, message)
	proposal.OutcomeDetails = append(proposal.OutcomeDetails, detail)
	proposal.OutcomeCreators = append(proposal.OutcomeCreators, proposal.Proposer)
	if assetAmount == nil {
		assetAmount = big.NewInt(0)
	}
	if stableAmount == nil {
		stableAmount = big.NewInt(0)
	}
	proposal.AssetAmounts = append(proposal.AssetAmounts, new(big.Int).Set(assetAmount))
	proposal.StableAmounts = append(proposal.StableAmounts, new(big.Int).Set(stableAmount))

	if err := validateReservedOutcomeNames(proposal.OutcomeMessages); err != nil {
		return err
	}

	if err := e.state.PutProposal(proposal); err != nil {
		return err
	}
	info, err := e.loadInfo(proposalID)
	if err != nil {
		return err
	}
	info.OutcomeCount = uint8(proposal.OutcomeCount())
	if err := e.state.PutProposalInfo(info); err != nil {
		return err
	}
	e.emit(EventTypeOutcomeAdded, map[string]string{"proposalId": u64(proposalID), "outcomeIndex": u64(uint64(proposal.OutcomeCount() - 1))})
	return nil
}

// MutateOutcome replaces an existing outcome's message/detail, and hands
// authorship of the outcome to a new creator who must differ from the
// current one (spec.md §4.1 "mutate_outcome", §9 "the mutator must differ
// from the current outcome creator").
func (e *LifecycleEngine) MutateOutcome(proposalID uint64, outcomeIndex int, newCreator crypto.Address, message, detail string) error {
	proposal, err := e.loadProposal(proposalID)
	if err != nil {
		return err
	}
	if proposal.State != StatePremarket {
		return ErrInvalidState
	}
	if outcomeIndex < 0 || outcomeIndex >= proposal.OutcomeCount() {
		return fmt.Errorf("futarchy: outcome index out of range")
	}
	if proposal.OutcomeCreators[outcomeIndex].String() == newCreator.String() {
		return ErrSameCreator
	}
	if len(message) == 0 || len(message) > 256 {
		return ErrInvalidMessages
	}
	proposal.OutcomeMessages[outcomeIndex] = message
	proposal.OutcomeDetails[outcomeIndex] = detail
	proposal.OutcomeCreators[outcomeIndex] = newCreator
	if err := e.state.PutProposal(proposal); err != nil {
		return err
	}
	e.emit(EventTypeOutcomeMutated, map[string]string{"proposalId": u64(proposalID), "outcomeIndex": u64(uint64(outcomeIndex))})
	return nil
}

// InitializeMarket seeds each outcome's LiquidityPool and TokenEscrow from
// the declared per-outcome amounts, moves the proposal PREMARKET -> REVIEW,
// and records the review-period clock (spec.md §4.1 "initialize_market").
// Liquidity below the DAO's configured MinAssetAmount/MinStableAmount is
// rejected with ErrLiquidityTooLow.
func (e *LifecycleEngine) InitializeMarket(proposalID uint64, marketStateID uint64) error {
	return e.initializeMarket(proposalID, marketStateID, false)
}

// InitializeMarketWithDaoLiquidity is the DAO-funded counterpart of
// InitializeMarket: it additionally asserts the DAO's single-slot liquidity
// lock is free and marks it in use (spec.md §4.1, §4.2).
func (e *LifecycleEngine) InitializeMarketWithDaoLiquidity(proposalID uint64, marketStateID uint64) error {
	return e.initializeMarket(proposalID, marketStateID, true)
}

func (e *LifecycleEngine) initializeMarket(proposalID uint64, marketStateID uint64, daoLiquidity bool) error {
	proposal, err := e.loadProposal(proposalID)
	if err != nil {
		return err
	}
	if proposal.State != StatePremarket {
		return ErrInvalidState
	}
	dao, err := e.loadDAO(proposal.DaoID)
	if err != nil {
		return err
	}
	minAsset := dao.Config.Trading.MinAssetAmount
	minStable := dao.Config.Trading.MinStableAmount
	for i := range proposal.AssetAmounts {
		if proposal.AssetAmounts[i].Cmp(minAsset) < 0 || proposal.StableAmounts[i].Cmp(minStable) < 0 {
			return ErrLiquidityTooLow
		}
	}

	nowMs := e.now().UnixMilli()
	pools := make([]*LiquidityPool, proposal.OutcomeCount())
	for i := range pools {
		pools[i] = NewLiquidityPool(i, proposal.AssetAmounts[i], proposal.StableAmounts[i], dao.Config.Trading.AmmTotalFeeBps, proposal.TwapStartDelayMs, proposal.TwapStepMax, nowMs)
	}
	escrow := NewTokenEscrow(proposalID, proposal.OutcomeCount())
	for i := range proposal.AssetAmounts {
		if _, err := escrow.MintCompleteSetAsset(proposal.AssetAmounts[i]); err != nil {
			return err
		}
		if _, err := escrow.MintCompleteSetStable(proposal.StableAmounts[i]); err != nil {
			return err
		}
	}

	tradingEnd := e.now().Add(time.Duration(proposal.ReviewPeriodMs) * time.Millisecond).Add(time.Duration(proposal.TradingPeriodMs) * time.Millisecond)
	market := &MarketState{
		ID:            marketStateID,
		ProposalID:    proposalID,
		DaoID:         proposal.DaoID,
		OutcomeLabels: append([]string(nil), proposal.OutcomeMessages...),
		TradingEnd:    &tradingEnd,
	}
	if err := e.state.PutMarketState(market); err != nil {
		return err
	}

	initializedAt := e.now()
	proposal.AMMs = pools
	proposal.Escrow = escrow
	proposal.MarketStateID = marketStateID
	proposal.MarketInitializedAt = &initializedAt
	proposal.State = StateReview
	proposal.UsesDaoLiquidity = daoLiquidity
	if daoLiquidity {
		if dao.DaoLiquidityInUse {
			return ErrDaoOwnedLiquidityInUse
		}
		dao.DaoLiquidityInUse = true
		if err := e.state.PutDAO(dao); err != nil {
			return err
		}
	}
	if err := e.state.PutProposal(proposal); err != nil {
		return err
	}

	info, err := e.loadInfo(proposalID)
	if err != nil {
		return err
	}
	info.State = StateReview
	info.MarketStateID = marketStateID
	if err := e.state.PutProposalInfo(info); err != nil {
		return err
	}

	e.emit(EventTypeMarketInitialized, map[string]string{"proposalId": u64(proposalID), "marketStateId": u64(marketStateID)})
	return nil
}

// AdvanceStage moves a proposal through its remaining lifecycle stages:
// REVIEW -> TRADING once ReviewPeriodMs has elapsed since
// MarketInitializedAt, and TRADING -> FINALIZED once TradingPeriodMs has
// additionally elapsed, at which point the winning outcome is read off each
// pool's TWAP and a FinalizationReceipt is minted for downstream execution
// (spec.md §4.1 "advance_stage", §4.3 "resolution").
func (e *LifecycleEngine) AdvanceStage(proposalID uint64) (*FinalizationReceipt, error) {
	proposal, err := e.loadProposal(proposalID)
	if err != nil {
		return nil, err
	}
	switch proposal.State {
	case StateReview:
		if proposal.MarketInitializedAt == nil {
			return nil, ErrTimePrecondition
		}
		reviewEnd := proposal.MarketInitializedAt.Add(time.Duration(proposal.ReviewPeriodMs) * time.Millisecond)
		if e.now().Before(reviewEnd) {
			return nil, ErrTimePrecondition
		}
		startedAt := e.now()
		proposal.State = StateTrading
		proposal.TradingStartedAt = &startedAt
		if err := e.state.PutProposal(proposal); err != nil {
			return nil, err
		}
		info, err := e.loadInfo(proposalID)
		if err != nil {
			return nil, err
		}
		info.State = StateTrading
		if err := e.state.PutProposalInfo(info); err != nil {
			return nil, err
		}
		e.emit(EventTypeStageAdvanced, map[string]string{"proposalId": u64(proposalID), "state": proposal.State.String()})
		return nil, nil

	case StateTrading:
		if proposal.TradingStartedAt == nil {
			return nil, ErrTimePrecondition
		}
		tradingEnd := proposal.TradingStartedAt.Add(time.Duration(proposal.TradingPeriodMs) * time.Millisecond)
		if e.now().Before(tradingEnd) {
			return nil, ErrTimePrecondition
		}
		winner, err := e.resolveWinner(proposal, tradingEnd.UnixMilli())
		if err != nil {
			return nil, err
		}

		proposal.State = StateFinalized
		proposal.WinningOutcome = &winner
		if err := e.state.PutProposal(proposal); err != nil {
			return nil, err
		}

		ms, found, err := e.state.GetMarketState(proposal.MarketStateID)
		if err != nil {
			return nil, err
		}
		if found {
			ms.Finalized = true
			ms.WinningOutcome = winner
			if err := e.state.PutMarketState(ms); err != nil {
				return nil, err
			}
		}

		info, err := e.loadInfo(proposalID)
		if err != nil {
			return nil, err
		}
		info.State = StateFinalized
		info.Result = proposal.OutcomeMessages[winner]
		if err := e.state.PutProposalInfo(info); err != nil {
			return nil, err
		}

		e.emit(EventTypeResultSigned, map[string]string{
			"proposalId":     u64(proposalID),
			"winningOutcome": u64(uint64(winner)),
		})

		return &FinalizationReceipt{
			ProposalID:        proposalID,
			LiquidityProvider: proposal.Proposer,
			UsesDaoLiquidity:  proposal.UsesDaoLiquidity,
			WinningOutcome:    winner,
		}, nil

	default:
		return nil, ErrInvalidState
	}
}

// resolveWinner reads each outcome pool's TWAP at tradingEndMs and applies
// the futarchy decision rule spec.md §4.3 describes as "the heart of the
// system": a binary Reject/Accept proposal resolves on the threshold rule,
// everything else on argmax.
func (e *LifecycleEngine) resolveWinner(proposal *Proposal, tradingEndMs int64) (uint8, error) {
	if len(proposal.AMMs) == 0 {
		return 0, ErrMarketNotFinalized
	}
	if proposal.OutcomeCount() == 2 {
		return e.resolveBinaryWinner(proposal, tradingEndMs)
	}
	var winner int
	var best *big.Int
	for i, pool := range proposal.AMMs {
		twap, err := pool.Oracle.TWAP(tradingEndMs)
		if err != nil {
			return 0, err
		}
		if best == nil || twap.Cmp(best) > 0 {
			best = twap
			winner = i
		}
	}
	return uint8(winner), nil
}

// resolveBinaryWinner implements the Reject/Accept rule directly: outcome 1
// (Accept) wins iff its TWAP exceeds the DAO-configured twap_threshold
// premium, outcome 0 (Reject) wins otherwise. Only the Accept pool's TWAP is
// read, since a trading window that never traded Reject (spec.md §8
// scenario 1) must still be able to finalize: an oracle that never sampled
// is not a sign the YES leg cleared its threshold.
func (e *LifecycleEngine) resolveBinaryWinner(proposal *Proposal, tradingEndMs int64) (uint8, error) {
	acceptTwap, err := proposal.AMMs[1].Oracle.TWAP(tradingEndMs)
	if err != nil {
		return 0, nil
	}
	if acceptTwap.Cmp(proposal.TwapThreshold) > 0 {
		return 1, nil
	}
	return 0, nil
}

// ReserveNextForPremarket pops the head of q (when the current market's
// trading window is within thresholdMs of ending) and materialises it as a
// brand-new PREMARKET proposal, implementing the handoff spec.md §4.1
// describes between a finishing market and the one queued to replace it.
// The returned proposal still requires InitializeMarket/
// InitializeMarketWithDaoLiquidity before it can enter REVIEW.
func (e *LifecycleEngine) ReserveNextForPremarket(qe *QueueEngine, q *ProposalQueue, tradingEnd time.Time, thresholdMs uint64, nextProposalID uint64) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, ErrStateNotConfigured
	}
	queued, err := qe.ReserveNextForPremarket(q, tradingEnd, thresholdMs)
	if err != nil {
		return nil, err
	}
	proposal, err := e.Create(nextProposalID, CreateParams{
		DaoID:            queued.DaoID,
		Proposer:         queued.Proposer,
		Title:            queued.Data.Title,
		OutcomeMessages:  queued.Data.OutcomeMessages,
		OutcomeDetails:   queued.Data.OutcomeDetails,
		AssetAmounts:     queued.Data.AssetAmounts,
		StableAmounts:    queued.Data.StableAmounts,
		UsesDaoLiquidity: queued.UsesDaoLiquidity,
	})
	if err != nil {
		return nil, err
	}
	q.ReservedProposalID = &nextProposalID
	return proposal, nil
}

// InitializeReservedPremarketToReview is a thin alias over
// InitializeMarket/InitializeMarketWithDaoLiquidity for a proposal that
// arrived via ReserveNextForPremarket, named separately because spec.md
// §4.1 treats the reserved-handoff path as a distinct operation from a
// fresh, queue-bypassing Create+InitializeMarket pair even though the
// underlying state transition is identical.
func (e *LifecycleEngine) InitializeReservedPremarketToReview(proposalID, marketStateID uint64, daoLiquidity bool) error {
	if daoLiquidity {
		return e.InitializeMarketWithDaoLiquidity(proposalID, marketStateID)
	}
	return e.InitializeMarket(proposalID, marketStateID)
}
