package futarchy

import (
	"container/heap"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"futarchy/core/events"
	"futarchy/crypto"
)

// ProposalData carries the submission payload a queued proposal will use to
// materialise a full Proposal once activated (spec.md §3.1).
type ProposalData struct {
	Title           string
	OutcomeMessages []string
	OutcomeDetails  []string
	AssetAmounts    []*big.Int
	StableAmounts   []*big.Int
}

// QueuedProposal is a pending admission request sitting in the priority
// queue (spec.md §3.1).
type QueuedProposal struct {
	ProposalID       uint64
	DaoID            uint64
	EffectiveFee     *big.Int
	UsesDaoLiquidity bool
	Proposer         crypto.Address
	Data             ProposalData
	Bond             *big.Int
	SubmittedAt      time.Time

	// IdempotencyKey is a fresh random UUID minted by each Submit call;
	// ContentHash is the non-normative digest of the submission payload.
	// Submit records both on the entry and does not consult either to
	// reject a repeated or duplicate submission.
	IdempotencyKey string
	ContentHash    [32]byte

	index int // heap bookkeeping
}

// contentHash computes the internal (non-normative) dedup digest of a
// submission payload. This is not the spec's canonical co-execution digest
// (see council.go's CanonicalDigest, which is SHA3-256 per spec.md §4.7) —
// it only needs to be a fast, stable fingerprint for queue-side dedup.
func contentHash(data ProposalData) [32]byte {
	var buf []byte
	buf = append(buf, []byte(data.Title)...)
	for _, m := range data.OutcomeMessages {
		buf = append(buf, []byte(m)...)
	}
	for _, d := range data.OutcomeDetails {
		buf = append(buf, []byte(d)...)
	}
	for _, a := range data.AssetAmounts {
		if a != nil {
			buf = append(buf, a.Bytes()...)
		}
	}
	for _, s := range data.StableAmounts {
		if s != nil {
			buf = append(buf, s.Bytes()...)
		}
	}
	return blake3.Sum256(buf)
}

// proposalHeap orders QueuedProposal by fee descending, tie-broken by
// earliest submission timestamp (spec.md §4.2 "Ordering").
type proposalHeap []*QueuedProposal

func (h proposalHeap) Len() int { return len(h) }
func (h proposalHeap) Less(i, j int) bool {
	cmp := h[i].EffectiveFee.Cmp(h[j].EffectiveFee)
	if cmp != 0 {
		return cmp > 0
	}
	return h[i].SubmittedAt.Before(h[j].SubmittedAt)
}
func (h proposalHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *proposalHeap) Push(x any) {
	item := x.(*QueuedProposal)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *proposalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// ProposalQueue is the max-heap priority-admission structure described in
// spec.md §3.1/§4.2, holding concurrency counters, the DAO-funded exclusive
// slot, and the premarket reservation handoff.
type ProposalQueue struct {
	DaoID uint64

	heap proposalHeap

	ActiveConcurrent      uint32
	ActiveProposerFunded  uint32
	MaxConcurrent         uint32
	MaxProposerFunded     uint32
	DaoSlotInUse          bool

	ReservedProposalID *uint64
}

// NewProposalQueue constructs an empty queue with the supplied concurrency
// bounds.
func NewProposalQueue(daoID uint64, maxConcurrent, maxProposerFunded uint32) *ProposalQueue {
	q := &ProposalQueue{
		DaoID:             daoID,
		MaxConcurrent:     maxConcurrent,
		MaxProposerFunded: maxProposerFunded,
	}
	heap.Init(&q.heap)
	return q
}

// Len reports the number of entries waiting in the queue.
func (q *ProposalQueue) Len() int { return q.heap.Len() }

// HasReserved reports whether a premarket reservation is currently held.
func (q *ProposalQueue) HasReserved() bool { return q.ReservedProposalID != nil }

// CanCreateImmediately reports whether a freshly submitted proposal can skip
// the queue and materialise directly into REVIEW (spec.md §4.2).
func (q *ProposalQueue) CanCreateImmediately(usesDaoLiquidity bool) bool {
	if q.ActiveConcurrent >= q.MaxConcurrent {
		return false
	}
	if usesDaoLiquidity {
		return !q.DaoSlotInUse
	}
	return q.ActiveProposerFunded < q.MaxProposerFunded
}

// Insert pushes a new entry onto the heap. Callers must have already
// validated the bond and deposited the submission fee.
func (q *ProposalQueue) Insert(entry *QueuedProposal) {
	heap.Push(&q.heap, entry)
}

// peekTop returns the top entry without removing it.
func (q *ProposalQueue) peekTop() *QueuedProposal {
	if q.heap.Len() == 0 {
		return nil
	}
	return q.heap[0]
}

// TryActivateNext pops the highest-priority entry, unless it is DAO-funded
// and the DAO slot is already in use, in which case it returns nil without
// mutating the queue (spec.md §4.2).
func (q *ProposalQueue) TryActivateNext() *QueuedProposal {
	top := q.peekTop()
	if top == nil {
		return nil
	}
	if top.UsesDaoLiquidity && q.DaoSlotInUse {
		return nil
	}
	entry := heap.Pop(&q.heap).(*QueuedProposal)
	q.ActiveConcurrent++
	if entry.UsesDaoLiquidity {
		q.DaoSlotInUse = true
	} else {
		q.ActiveProposerFunded++
	}
	return entry
}

// popProposerFunded pops the top entry, requiring it to be proposer-funded.
func (q *ProposalQueue) popProposerFunded() (*QueuedProposal, error) {
	top := q.peekTop()
	if top == nil {
		return nil, ErrQueueEmpty
	}
	if top.UsesDaoLiquidity {
		return nil, ErrProposalUsesDaoLiquidity
	}
	entry := heap.Pop(&q.heap).(*QueuedProposal)
	q.ActiveConcurrent++
	q.ActiveProposerFunded++
	return entry, nil
}

// popDaoFunded pops the top entry, requiring it to be DAO-funded and the
// slot to be free.
func (q *ProposalQueue) popDaoFunded() (*QueuedProposal, error) {
	if q.DaoSlotInUse {
		return nil, ErrDaoOwnedLiquidityInUse
	}
	top := q.peekTop()
	if top == nil {
		return nil, ErrQueueEmpty
	}
	if !top.UsesDaoLiquidity {
		return nil, ErrProposalNotUsesDaoLiq
	}
	entry := heap.Pop(&q.heap).(*QueuedProposal)
	q.ActiveConcurrent++
	q.DaoSlotInUse = true
	return entry, nil
}

// Remove deletes the entry with the given proposal id, returning it. Used by
// stale eviction.
func (q *ProposalQueue) Remove(proposalID uint64) (*QueuedProposal, error) {
	for i, entry := range q.heap {
		if entry.ProposalID == proposalID {
			removed := heap.Remove(&q.heap, i).(*QueuedProposal)
			return removed, nil
		}
	}
	return nil, fmt.Errorf("futarchy: proposal %d not found in queue", proposalID)
}

// MarkCompleted decrements the active counters and clears the DAO slot and
// reservation as appropriate (spec.md §4.2).
func (q *ProposalQueue) MarkCompleted(proposalID uint64, usesDaoLiquidity bool) {
	if q.ActiveConcurrent > 0 {
		q.ActiveConcurrent--
	}
	if usesDaoLiquidity {
		q.DaoSlotInUse = false
	} else if q.ActiveProposerFunded > 0 {
		q.ActiveProposerFunded--
	}
	if q.ReservedProposalID != nil && *q.ReservedProposalID == proposalID {
		q.ReservedProposalID = nil
	}
}

// --- Queue engine: submission, activation, eviction orchestration ---

// feeManagerForQueue is the narrow surface QueueEngine needs from the fee
// managers (spec.md §4.2/§4.5).
type feeManagerForQueue interface {
	HoldSubmissionFee(proposalID uint64, fee *big.Int) error
	PayActivatorReward(proposalID uint64, activator crypto.Address) (*big.Int, error)
	SweepToProtocolRevenue(proposalID uint64) (*big.Int, error)
}

// QueueEngine wires a ProposalQueue to the surrounding fee bookkeeping and
// lifecycle market-initialisation calls, mirroring native/escrow's
// TradeEngine composing a lower-level Engine (spec.md §4.2).
type QueueEngine struct {
	emitter events.Emitter
	nowFn   func() time.Time
	fees    feeManagerForQueue
}

// NewQueueEngine constructs a queue engine with default no-op dependencies.
func NewQueueEngine() *QueueEngine {
	return &QueueEngine{emitter: events.NoopEmitter{}, nowFn: func() time.Time { return time.Now().UTC() }}
}

// SetEmitter configures the event emitter.
func (e *QueueEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetFeeManager wires the submission-fee escrow backing Submit, eviction,
// and activation payouts.
func (e *QueueEngine) SetFeeManager(fees feeManagerForQueue) { e.fees = fees }

// SetNowFunc overrides the clock used for submission timestamps.
func (e *QueueEngine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *QueueEngine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *QueueEngine) emit(eventType string, attrs map[string]string) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(newEvent(eventType, attrs))
}

// Submit admits a new proposal request. If a slot is immediately available
// (CanCreateImmediately), the caller is expected to materialise the market
// directly via the lifecycle engine; the entry is returned with true and is
// not inserted into the heap. Otherwise the entry is inserted and returned
// with false (spec.md §4.2).
func (e *QueueEngine) Submit(q *ProposalQueue, proposalID uint64, proposer crypto.Address, data ProposalData, effectiveFee *big.Int, usesDaoLiquidity bool, bond *big.Int) (*QueuedProposal, bool, error) {
	if usesDaoLiquidity {
		required := new(big.Int).SetUint64(DefaultRequiredBondAmount)
		if bond == nil || bond.Cmp(required) < 0 {
			return nil, false, ErrInvalidBond
		}
	}
	entry := &QueuedProposal{
		ProposalID:       proposalID,
		DaoID:            q.DaoID,
		EffectiveFee:     new(big.Int).Set(effectiveFee),
		UsesDaoLiquidity: usesDaoLiquidity,
		Proposer:         proposer,
		Data:             data,
		SubmittedAt:      e.now(),
		IdempotencyKey:   uuid.NewString(),
		ContentHash:      contentHash(data),
	}
	if bond != nil {
		entry.Bond = new(big.Int).Set(bond)
	}
	if e.fees != nil {
		if err := e.fees.HoldSubmissionFee(proposalID, effectiveFee); err != nil {
			return nil, false, err
		}
	}

	if q.CanCreateImmediately(usesDaoLiquidity) {
		q.ActiveConcurrent++
		if usesDaoLiquidity {
			q.DaoSlotInUse = true
		} else {
			q.ActiveProposerFunded++
		}
		e.emit(EventTypeProposalActivated, map[string]string{"proposalId": u64(proposalID), "immediate": "true"})
		return entry, true, nil
	}

	q.Insert(entry)
	e.emit(EventTypeProposalQueued, map[string]string{"proposalId": u64(proposalID)})
	return entry, false, nil
}

// ActivateNextProposerFunded pops the top proposer-funded entry for the
// cranker to materialise into REVIEW and pays activator their reward out of
// the entry's held submission fee (spec.md §4.2 "activator rewards"). The
// caller still owns calling InitializeMarket once the entry is activated.
func (e *QueueEngine) ActivateNextProposerFunded(q *ProposalQueue, activator crypto.Address) (*QueuedProposal, *big.Int, error) {
	entry, err := q.popProposerFunded()
	if err != nil {
		return nil, nil, err
	}
	var reward *big.Int
	if e.fees != nil {
		reward, err = e.fees.PayActivatorReward(entry.ProposalID, activator)
		if err != nil {
			return nil, nil, err
		}
	}
	e.emit(EventTypeProposalActivated, map[string]string{"proposalId": u64(entry.ProposalID)})
	return entry, reward, nil
}

// ActivateNextDaoFunded pops the top DAO-funded entry, requiring the DAO
// slot to be free, and pays the activator reward the same way
// ActivateNextProposerFunded does (spec.md §4.2).
func (e *QueueEngine) ActivateNextDaoFunded(q *ProposalQueue, activator crypto.Address) (*QueuedProposal, *big.Int, error) {
	entry, err := q.popDaoFunded()
	if err != nil {
		return nil, nil, err
	}
	var reward *big.Int
	if e.fees != nil {
		reward, err = e.fees.PayActivatorReward(entry.ProposalID, activator)
		if err != nil {
			return nil, nil, err
		}
	}
	e.emit(EventTypeProposalActivated, map[string]string{"proposalId": u64(entry.ProposalID), "daoFunded": "true"})
	return entry, reward, nil
}

// EvictStale removes a proposal whose submission timestamp is older than
// StaleDurationMs, slashing its held submission fee to protocol revenue
// (spec.md §4.2). For a bonded entry it emits BondSlashed naming the
// treasury as recipient, or the proposer if no treasury is configured; the
// bond stays on the returned entry and this engine credits it to no balance.
func (e *QueueEngine) EvictStale(q *ProposalQueue, proposalID uint64, treasuryConfigured bool) (*QueuedProposal, error) {
	entry, err := q.Remove(proposalID)
	if err != nil {
		return nil, err
	}
	ageMs := uint64(e.now().Sub(entry.SubmittedAt) / time.Millisecond)
	if ageMs < StaleDurationMs {
		// Put it back; eviction was not yet legal.
		q.Insert(entry)
		return nil, ErrStaleProposal
	}
	e.emit(EventTypeProposalEvicted, map[string]string{"proposalId": u64(proposalID)})
	if e.fees != nil {
		if _, err := e.fees.SweepToProtocolRevenue(proposalID); err != nil && err != ErrProposalNotFound {
			return nil, err
		}
	}
	if entry.Bond != nil && entry.Bond.Sign() > 0 {
		recipient := "treasury"
		if !treasuryConfigured {
			recipient = "proposer"
		}
		e.emit(EventTypeBondSlashed, map[string]string{
			"proposalId": u64(proposalID),
			"amount":     entry.Bond.String(),
			"recipient":  recipient,
		})
	}
	return entry, nil
}

// MarkCompleted forwards to ProposalQueue.MarkCompleted; kept on the engine
// for symmetry with the other admission operations and so callers do not
// need to reach into the raw struct.
func (e *QueueEngine) MarkCompleted(q *ProposalQueue, proposalID uint64, usesDaoLiquidity bool) {
	q.MarkCompleted(proposalID, usesDaoLiquidity)
}

// ReserveNextForPremarket pops the head of the queue for premarket handoff,
// permitted only when the current market's trading window is within
// thresholdMs of ending and no reservation is already held (spec.md §4.1,
// §9 Open Question — see DESIGN.md for the threshold-basis decision).
func (e *QueueEngine) ReserveNextForPremarket(q *ProposalQueue, tradingEnd time.Time, thresholdMs uint64) (*QueuedProposal, error) {
	if q.HasReserved() {
		return nil, ErrReservationActive
	}
	remaining := tradingEnd.Sub(e.now())
	if remaining > time.Duration(thresholdMs)*time.Millisecond {
		return nil, ErrReservationNotDue
	}
	top := q.peekTop()
	if top == nil {
		return nil, ErrQueueEmpty
	}
	entry := heap.Pop(&q.heap).(*QueuedProposal)
	id := entry.ProposalID
	q.ReservedProposalID = &id
	e.emit(EventTypeProposalQueued, map[string]string{"proposalId": u64(entry.ProposalID), "reserved": "true"})
	return entry, nil
}
