package futarchy

import (
	"strconv"

	"futarchy/core/events"
	coretypes "futarchy/core/types"
)

// Event type strings emitted by the futarchy engines, named after the
// lifecycle/queue/fee/council milestones they announce (spec.md §7 "failed
// transactions leave observable events for the happy paths").
const (
	EventTypeProposalCreated    = "futarchy.proposal.created"
	EventTypeOutcomeAdded       = "futarchy.proposal.outcome_added"
	EventTypeOutcomeMutated     = "futarchy.proposal.outcome_mutated"
	EventTypeMarketInitialized  = "futarchy.market.initialized"
	EventTypeStageAdvanced      = "futarchy.market.stage_advanced"
	EventTypeResultSigned       = "futarchy.market.result_signed"
	EventTypeProposalQueued     = "futarchy.queue.proposal_queued"
	EventTypeProposalActivated  = "futarchy.queue.proposal_activated"
	EventTypeProposalEvicted    = "futarchy.queue.proposal_evicted"
	EventTypeBondSlashed        = "futarchy.queue.bond_slashed"
	EventTypeProposalExecuted   = "futarchy.actions.proposal_executed"
	EventTypeFeePaused          = "futarchy.fees.proposal_creation_paused"
	EventTypeFeeUnpaused        = "futarchy.fees.proposal_creation_unpaused"
	EventTypeFeeCollected       = "futarchy.fees.dao_fee_collected"
	EventTypeCoExecuted         = "futarchy.council.co_executed"
)

type futarchyEvent struct {
	evt *coretypes.Event
}

func (f futarchyEvent) EventType() string {
	if f.evt == nil {
		return ""
	}
	return f.evt.Type
}

// Event exposes the underlying structured event for emitters that want the
// full attribute map.
func (f futarchyEvent) Event() *coretypes.Event { return f.evt }

func newEvent(eventType string, attrs map[string]string) events.Event {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return futarchyEvent{evt: &coretypes.Event{Type: eventType, Attributes: attrs}}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func i64(v int64) string  { return strconv.FormatInt(v, 10) }
