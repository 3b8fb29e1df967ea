package futarchy

import (
	"time"

	"golang.org/x/crypto/sha3"

	"futarchy/core/events"
	"futarchy/crypto"
)

// CouncilMember is one weighted signer in a SecurityCouncil's multisig
// (spec.md §4.7 "weighted multisig threshold").
type CouncilMember struct {
	Address crypto.Address
	Weight  uint32
}

// SecurityCouncil is the bilateral co-signer for critical policy changes: a
// weighted multisig whose approval must accompany the DAO's own finalized
// proposal before a policy mutation takes effect (spec.md §4.7).
type SecurityCouncil struct {
	ID        uint64
	Members   []CouncilMember
	Threshold uint32
}

// totalWeight sums every member's voting weight.
func (c *SecurityCouncil) totalWeight() uint32 {
	var total uint32
	for _, m := range c.Members {
		total += m.Weight
	}
	return total
}

// weightOf returns a member's weight, or 0 if they are not on the council.
// crypto.Address embeds a byte slice and so is not comparable with ==;
// members are matched on their bech32 string form instead.
func (c *SecurityCouncil) weightOf(addr crypto.Address) uint32 {
	addrStr := addr.String()
	for _, m := range c.Members {
		if m.Address.String() == addrStr {
			return m.Weight
		}
	}
	return 0
}

// Policy binds a resource key (e.g. a DAO's fee-schedule slot) to the
// council authorised to co-sign changes to it (spec.md §4.7).
type Policy struct {
	ResourceKey string
	CouncilID   uint64
}

// PolicyRegistry maps resource keys to the councils that co-govern them.
type PolicyRegistry struct {
	policies map[string]Policy
	councils map[uint64]*SecurityCouncil
}

// NewPolicyRegistry constructs an empty registry.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{policies: make(map[string]Policy), councils: make(map[uint64]*SecurityCouncil)}
}

// RegisterCouncil adds or replaces a SecurityCouncil definition.
func (r *PolicyRegistry) RegisterCouncil(council *SecurityCouncil) {
	r.councils[council.ID] = council
}

// BindPolicy associates a resource key with the council authorised to
// co-sign changes to it.
func (r *PolicyRegistry) BindPolicy(resourceKey string, councilID uint64) {
	r.policies[resourceKey] = Policy{ResourceKey: resourceKey, CouncilID: councilID}
}

func (r *PolicyRegistry) councilFor(resourceKey string) (*SecurityCouncil, error) {
	policy, ok := r.policies[resourceKey]
	if !ok {
		return nil, ErrNoPolicy
	}
	council, ok := r.councils[policy.CouncilID]
	if !ok {
		return nil, ErrNoPolicy
	}
	return council, nil
}

// CanonicalDigest computes the SHA3-256 digest a council co-signs against,
// binding together the resource key, the DAO-side executable payload, and
// the proposal that authorised it, so a council signature cannot be
// replayed against a different payload or a different proposal (spec.md
// §4.7 "canonical digest binding").
func CanonicalDigest(resourceKey string, proposalID uint64, executablePayload []byte) [32]byte {
	h := sha3.New256()
	h.Write([]byte(resourceKey))
	h.Write([]byte{
		byte(proposalID), byte(proposalID >> 8), byte(proposalID >> 16), byte(proposalID >> 24),
		byte(proposalID >> 32), byte(proposalID >> 40), byte(proposalID >> 48), byte(proposalID >> 56),
	})
	h.Write(executablePayload)
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// CouncilApproval is one council member's signature over a CanonicalDigest
// (spec.md §4.7). Signature verification itself is out of scope here — the
// same way native/governance's engine_test.go mocks submitter authorisation
// rather than verifying real signatures — ApproveDigest instead trusts its
// caller to have already authenticated Signer at the transport layer.
type CouncilApproval struct {
	Signer     crypto.Address
	ApprovedAt time.Time
}

// CoExecutionRequest accumulates council approvals for one proposal's policy
// change until the council's weighted threshold is met (spec.md §4.7).
type CoExecutionRequest struct {
	ResourceKey string
	ProposalID  uint64
	Digest      [32]byte

	// approvals is keyed on the signer's bech32 string form since
	// crypto.Address is not a valid (comparable) map key type.
	approvals map[string]CouncilApproval
	expiresAt time.Time
}

// CouncilEngine drives bilateral co-execution: the DAO's own finalized
// proposal supplies one half of the authorisation, and a quorum of council
// signatures over the same CanonicalDigest supplies the other (spec.md
// §4.7). It mirrors native/escrow's engine shape (state-free here, since
// in-flight requests are held in memory pending completion within a single
// co-execution window) wired through SetEmitter for observability.
type CouncilEngine struct {
	registry *PolicyRegistry
	emitter  events.Emitter
	nowFn    func() time.Time

	requests map[[32]byte]*CoExecutionRequest
}

// NewCouncilEngine constructs a council engine bound to a policy registry.
func NewCouncilEngine(registry *PolicyRegistry) *CouncilEngine {
	return &CouncilEngine{
		registry: registry,
		emitter:  events.NoopEmitter{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		requests: make(map[[32]byte]*CoExecutionRequest),
	}
}

// SetEmitter wires the event sink.
func (e *CouncilEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for approval-window expiry.
func (e *CouncilEngine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *CouncilEngine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

// approvalWindow bounds how long a co-execution request waits for quorum
// before it must be resubmitted (spec.md §4.7 does not name a duration;
// 24h follows the same order of magnitude as the proposal lifecycle's
// shortest configurable period and is recorded as an Open Question decision
// in DESIGN.md).
const approvalWindow = 24 * time.Hour

// RequestCoExecution opens (or returns the existing) co-execution request
// for a resource key and proposal, anchored to digest.
func (e *CouncilEngine) RequestCoExecution(resourceKey string, proposalID uint64, digest [32]byte) (*CoExecutionRequest, error) {
	if _, err := e.registry.councilFor(resourceKey); err != nil {
		return nil, err
	}
	if existing, ok := e.requests[digest]; ok {
		return existing, nil
	}
	req := &CoExecutionRequest{
		ResourceKey: resourceKey,
		ProposalID:  proposalID,
		Digest:      digest,
		approvals:   make(map[string]CouncilApproval),
		expiresAt:   e.now().Add(approvalWindow),
	}
	e.requests[digest] = req
	return req, nil
}

// ApproveDigest records a council member's approval of a pending request.
func (e *CouncilEngine) ApproveDigest(digest [32]byte, signer crypto.Address) error {
	req, ok := e.requests[digest]
	if !ok {
		return ErrNoPolicy
	}
	if e.now().After(req.expiresAt) {
		delete(e.requests, digest)
		return ErrExpired
	}
	council, err := e.registry.councilFor(req.ResourceKey)
	if err != nil {
		return err
	}
	if council.weightOf(signer) == 0 {
		return ErrWrongCouncil
	}
	req.approvals[signer.String()] = CouncilApproval{Signer: signer, ApprovedAt: e.now()}
	return nil
}

// QuorumReached reports whether the accumulated approvals for digest meet
// the bound council's weighted threshold.
func (e *CouncilEngine) QuorumReached(digest [32]byte) (bool, error) {
	req, ok := e.requests[digest]
	if !ok {
		return false, ErrNoPolicy
	}
	council, err := e.registry.councilFor(req.ResourceKey)
	if err != nil {
		return false, err
	}
	var weight uint32
	for _, approval := range req.approvals {
		weight += council.weightOf(approval.Signer)
	}
	return weight >= council.Threshold, nil
}

// CoExecute finalises a co-execution request once quorum has been reached,
// verifying the supplied executablePayload still hashes to the bound digest
// (spec.md §4.7 "digest mismatch between dao and council executables" is a
// hard failure, never a partial apply) and returning the request for the
// caller to then run through Dispatcher.applyOne's treasury/config paths.
func (e *CouncilEngine) CoExecute(resourceKey string, proposalID uint64, executablePayload []byte) (*CoExecutionRequest, error) {
	digest := CanonicalDigest(resourceKey, proposalID, executablePayload)
	req, ok := e.requests[digest]
	if !ok {
		return nil, ErrDigestMismatch
	}
	reached, err := e.QuorumReached(digest)
	if err != nil {
		return nil, err
	}
	if !reached {
		return nil, ErrThresholdNotMet
	}
	delete(e.requests, digest)
	e.emitter.Emit(newEvent(EventTypeCoExecuted, map[string]string{
		"resourceKey": resourceKey,
		"proposalId":  u64(proposalID),
	}))
	return req, nil
}
