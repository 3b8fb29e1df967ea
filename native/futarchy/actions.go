package futarchy

import (
	"fmt"
	"math/big"

	"futarchy/core/events"
	"futarchy/crypto"
)

// ActionKind discriminates the closed set of effects a winning outcome may
// carry (spec.md §4.4 "Action is a closed sum type"). Go has no sealed
// interfaces, so the closure is enforced by convention: the dispatcher's
// switch over ActionKind below is exhaustive and actions.go is the only file
// allowed to construct an Action's non-zero fields.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionUpdateTradingParams
	ActionUpdateTwapConfig
	ActionUpdateGovernanceConfig
	ActionUpdateMetadataTable
	ActionSetOperationalState
	ActionTransferAssetFromTreasury
	ActionTransferStableFromTreasury
	ActionUpdateRecurringFee
	ActionCoExecutePolicyChange
)

// Action is the payload attached to a winning outcome, executed at most once
// via the ProposalExecutionContext (spec.md §4.4). Only the field matching
// Kind is read by the dispatcher; the others are zero, emulating a tagged
// union in a language without one.
type Action struct {
	Kind ActionKind

	TradingParams    *TradingParams
	TwapConfig       *TwapConfig
	GovernanceConfig *GovernanceConfig
	MetadataEntries  map[string]string
	OperationalState OperationalState

	TransferTo     crypto.Address
	TransferAmount *big.Int

	RecurringFee *FeeUpdate

	PolicyResourceKey string
	PolicyDigest      [32]byte

	DeclaredStableType string
	DeclaredAssetType  string
}

// ActionRegistry binds each outcome index of a finalized proposal to the
// action sequence it would execute if it wins, so AddOutcome/MutateOutcome
// authors can attach effects before the market resolves (spec.md §4.4,
// §4.1). It is keyed by (proposalID, outcomeIndex) rather than embedded on
// Proposal because registration happens independently from the lifecycle
// engine's own persistence cycle.
type ActionRegistry struct {
	sequences map[uint64]map[int][]Action
}

// NewActionRegistry constructs an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{sequences: make(map[uint64]map[int][]Action)}
}

// Register attaches an ordered action sequence to one outcome of a proposal.
// Calling it again for the same (proposalID, outcomeIndex) replaces the
// sequence; callers in PREMARKET are expected to only ever add, not
// reorder, consistent with add_outcome/mutate_outcome semantics.
func (r *ActionRegistry) Register(proposalID uint64, outcomeIndex int, actions []Action) {
	if r.sequences[proposalID] == nil {
		r.sequences[proposalID] = make(map[int][]Action)
	}
	r.sequences[proposalID][outcomeIndex] = append([]Action(nil), actions...)
}

// Sequence returns the registered action sequence for an outcome, or
// ErrNoIntentKey if none was registered (spec.md §4.4 "a winning outcome
// with no registered action sequence is a no-op, not an error" is
// deliberately NOT implemented this way here: see DESIGN.md for why the
// dispatcher treats an unregistered winner as an explicit error instead).
func (r *ActionRegistry) Sequence(proposalID uint64, outcomeIndex int) ([]Action, error) {
	byOutcome, ok := r.sequences[proposalID]
	if !ok {
		return nil, ErrNoIntentKey
	}
	seq, ok := byOutcome[outcomeIndex]
	if !ok {
		return nil, ErrNoIntentKey
	}
	return seq, nil
}

// FeeUpdate carries a pending recurring-fee amount alongside the coin type
// it is denominated in, mirroring the bilateral validation
// ActionUpdateRecurringFee needs to run against the DAO's configured stable
// type (spec.md §4.5).
type FeeUpdate struct {
	NewMonthlyFee *big.Int
	StableType    string
}

// ProposalExecutionContext is the single-use execution token for a
// FINALIZED proposal, consumed by Dispatcher.Execute the same way
// FinalizationReceipt.Consume enforces one-shot use elsewhere in this
// package (spec.md §4.4, §9 "hot potato" discipline). Calling Execute again
// after a successful run returns ErrAlreadyExecuted; calling it again after a
// run that consumed the context but failed panics.
type ProposalExecutionContext struct {
	ProposalID     uint64
	WinningOutcome uint8
	Receipt        *FinalizationReceipt

	consumed bool
}

// NewProposalExecutionContext binds a FinalizationReceipt to its proposal,
// consuming the receipt immediately: only one ProposalExecutionContext may
// ever be minted per finalized proposal.
func NewProposalExecutionContext(receipt *FinalizationReceipt) *ProposalExecutionContext {
	ctx := &ProposalExecutionContext{
		ProposalID:     receipt.ProposalID,
		WinningOutcome: receipt.WinningOutcome,
		Receipt:        receipt,
	}
	receipt.Consume()
	return ctx
}

func (c *ProposalExecutionContext) consume() {
	if c == nil {
		return
	}
	if c.consumed {
		panic("futarchy: ProposalExecutionContext consumed more than once")
	}
	c.consumed = true
}

// executionState is the narrow persistence surface Dispatcher needs beyond
// what ConfigEngine/fee managers already expose.
type executionState interface {
	GetProposalInfo(id uint64) (*ProposalInfo, bool, error)
	PutProposalInfo(info *ProposalInfo) error
}

// Dispatcher executes the action sequence bound to a finalized proposal's
// winning outcome exactly once, delegating the actual mutation to
// ConfigEngine, FeeManager, or TreasuryEngine depending on
// ActionKind (spec.md §4.4). It mirrors native/escrow's TradeEngine in
// composing several narrower engines behind one entry point.
type Dispatcher struct {
	state    executionState
	registry *ActionRegistry
	config   *ConfigEngine
	fees     *FeeManager
	treasury *TreasuryEngine
	emitter  events.Emitter
}

// NewDispatcher wires a dispatcher from its constituent engines.
func NewDispatcher(registry *ActionRegistry, config *ConfigEngine, fees *FeeManager, treasury *TreasuryEngine) *Dispatcher {
	return &Dispatcher{registry: registry, config: config, fees: fees, treasury: treasury, emitter: events.NoopEmitter{}}
}

// SetState wires the persistence backend.
func (d *Dispatcher) SetState(state executionState) { d.state = state }

// SetEmitter wires the event sink.
func (d *Dispatcher) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		d.emitter = events.NoopEmitter{}
		return
	}
	d.emitter = emitter
}

func (d *Dispatcher) emit(eventType string, attrs map[string]string) {
	if d == nil || d.emitter == nil {
		return
	}
	d.emitter.Emit(newEvent(eventType, attrs))
}

// Execute runs the action sequence bound to ctx's winning outcome and
// consumes ctx (spec.md §4.4, §9). A second call after a successful run
// returns ErrAlreadyExecuted, because the proposal is then marked executed;
// a second call on a context consumed by a failed run panics. Proposals without a registered sequence for their winning
// outcome fail closed with ErrNoIntentKey rather than silently no-opping,
// so operators notice a missing wiring before funds move.
func (d *Dispatcher) Execute(ctx *ProposalExecutionContext, dao *DAO) error {
	if d == nil || d.state == nil {
		return ErrStateNotConfigured
	}
	info, ok, err := d.state.GetProposalInfo(ctx.ProposalID)
	if err != nil {
		return err
	}
	if !ok || info == nil {
		return ErrProposalNotFound
	}
	if info.State != StateFinalized {
		return ErrMarketNotFinalized
	}
	if info.Executed {
		return ErrAlreadyExecuted
	}

	sequence, err := d.registry.Sequence(ctx.ProposalID, int(ctx.WinningOutcome))
	if err != nil {
		return err
	}

	ctx.consume()

	for _, action := range sequence {
		if err := d.applyOne(dao, action); err != nil {
			return err
		}
	}

	info.Executed = true
	if err := d.state.PutProposalInfo(info); err != nil {
		return err
	}
	d.emit(EventTypeProposalExecuted, map[string]string{
		"proposalId":     u64(ctx.ProposalID),
		"winningOutcome": u64(uint64(ctx.WinningOutcome)),
		"actions":        u64(uint64(len(sequence))),
	})
	return nil
}

func (d *Dispatcher) applyOne(dao *DAO, action Action) error {
	if err := RequireCoinType(dao, action.DeclaredStableType, action.DeclaredAssetType); err != nil {
		return err
	}
	switch action.Kind {
	case ActionNone:
		return nil
	case ActionUpdateTradingParams:
		return d.config.UpdateTradingParams(dao.ID, *action.TradingParams)
	case ActionUpdateTwapConfig:
		return d.config.UpdateTwapConfig(dao.ID, *action.TwapConfig)
	case ActionUpdateGovernanceConfig:
		return d.config.UpdateGovernanceConfig(dao.ID, *action.GovernanceConfig)
	case ActionUpdateMetadataTable:
		return d.config.UpdateMetadataTable(dao.ID, action.MetadataEntries)
	case ActionSetOperationalState:
		return d.config.SetOperationalState(dao.ID, action.OperationalState)
	case ActionTransferAssetFromTreasury:
		return d.treasury.TransferAsset(dao.ID, action.TransferTo, action.TransferAmount)
	case ActionTransferStableFromTreasury:
		return d.treasury.TransferStable(dao.ID, action.TransferTo, action.TransferAmount)
	case ActionUpdateRecurringFee:
		return d.fees.ScheduleRecurringFeeUpdate(dao.ID, action.RecurringFee.NewMonthlyFee, action.RecurringFee.StableType)
	case ActionCoExecutePolicyChange:
		return fmt.Errorf("futarchy: co-execution policy changes must go through council.RequestCoExecution, not Dispatcher.Execute")
	default:
		return fmt.Errorf("futarchy: unknown action kind %d", action.Kind)
	}
}
