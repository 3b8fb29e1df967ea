package futarchy

import (
	"testing"
	"time"

	"futarchy/crypto"
)

func addrWithByte(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.MustNewAddress(crypto.NHBPrefix, buf)
}

func newTestCouncilSetup() (*PolicyRegistry, crypto.Address, crypto.Address, crypto.Address) {
	a, b, c := addrWithByte(1), addrWithByte(2), addrWithByte(3)
	council := &SecurityCouncil{
		ID: 1,
		Members: []CouncilMember{
			{Address: a, Weight: 1},
			{Address: b, Weight: 1},
			{Address: c, Weight: 1},
		},
		Threshold: 2,
	}
	registry := NewPolicyRegistry()
	registry.RegisterCouncil(council)
	registry.BindPolicy("dao/1/fee-schedule", 1)
	return registry, a, b, c
}

func TestCanonicalDigestIsDeterministicAndPayloadSensitive(t *testing.T) {
	d1 := CanonicalDigest("dao/1/fee-schedule", 42, []byte("payload-a"))
	d2 := CanonicalDigest("dao/1/fee-schedule", 42, []byte("payload-a"))
	if d1 != d2 {
		t.Fatalf("expected identical inputs to produce identical digests")
	}
	d3 := CanonicalDigest("dao/1/fee-schedule", 42, []byte("payload-b"))
	if d1 == d3 {
		t.Fatalf("expected different payloads to produce different digests")
	}
	d4 := CanonicalDigest("dao/1/fee-schedule", 43, []byte("payload-a"))
	if d1 == d4 {
		t.Fatalf("expected different proposal ids to produce different digests")
	}
}

func TestRequestCoExecutionRequiresBoundPolicy(t *testing.T) {
	registry := NewPolicyRegistry()
	eng := NewCouncilEngine(registry)
	digest := CanonicalDigest("unbound/key", 1, []byte("x"))
	if _, err := eng.RequestCoExecution("unbound/key", 1, digest); err != ErrNoPolicy {
		t.Fatalf("expected ErrNoPolicy, got %v", err)
	}
}

func TestApproveDigestRejectsNonCouncilSigner(t *testing.T) {
	registry, _, _, _ := newTestCouncilSetup()
	eng := NewCouncilEngine(registry)
	digest := CanonicalDigest("dao/1/fee-schedule", 1, []byte("payload"))
	if _, err := eng.RequestCoExecution("dao/1/fee-schedule", 1, digest); err != nil {
		t.Fatalf("request: %v", err)
	}
	stranger := addrWithByte(99)
	if err := eng.ApproveDigest(digest, stranger); err != ErrWrongCouncil {
		t.Fatalf("expected ErrWrongCouncil, got %v", err)
	}
}

func TestQuorumReachedAccumulatesDistinctSigners(t *testing.T) {
	registry, a, b, _ := newTestCouncilSetup()
	eng := NewCouncilEngine(registry)
	digest := CanonicalDigest("dao/1/fee-schedule", 1, []byte("payload"))
	if _, err := eng.RequestCoExecution("dao/1/fee-schedule", 1, digest); err != nil {
		t.Fatalf("request: %v", err)
	}

	reached, err := eng.QuorumReached(digest)
	if err != nil {
		t.Fatalf("quorum: %v", err)
	}
	if reached {
		t.Fatalf("expected quorum not reached with zero approvals")
	}

	if err := eng.ApproveDigest(digest, a); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	reached, err = eng.QuorumReached(digest)
	if err != nil {
		t.Fatalf("quorum: %v", err)
	}
	if reached {
		t.Fatalf("expected quorum not reached with weight 1 of threshold 2")
	}

	// Re-approving with the same signer must not double-count weight, since
	// approvals is keyed on the signer's string form.
	if err := eng.ApproveDigest(digest, a); err != nil {
		t.Fatalf("re-approve a: %v", err)
	}
	reached, err = eng.QuorumReached(digest)
	if err != nil {
		t.Fatalf("quorum: %v", err)
	}
	if reached {
		t.Fatalf("expected quorum still not reached after redundant approval from the same signer")
	}

	if err := eng.ApproveDigest(digest, b); err != nil {
		t.Fatalf("approve b: %v", err)
	}
	reached, err = eng.QuorumReached(digest)
	if err != nil {
		t.Fatalf("quorum: %v", err)
	}
	if !reached {
		t.Fatalf("expected quorum reached with two distinct approvals")
	}
}

func TestCoExecuteRejectsPayloadMismatchAndBelowThreshold(t *testing.T) {
	registry, a, _, _ := newTestCouncilSetup()
	eng := NewCouncilEngine(registry)
	digest := CanonicalDigest("dao/1/fee-schedule", 1, []byte("payload"))
	if _, err := eng.RequestCoExecution("dao/1/fee-schedule", 1, digest); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := eng.CoExecute("dao/1/fee-schedule", 1, []byte("wrong-payload")); err != ErrDigestMismatch {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
	if _, err := eng.CoExecute("dao/1/fee-schedule", 1, []byte("payload")); err != ErrThresholdNotMet {
		t.Fatalf("expected ErrThresholdNotMet, got %v", err)
	}
	if err := eng.ApproveDigest(digest, a); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Still below the threshold of 2 with a single signer.
	if _, err := eng.CoExecute("dao/1/fee-schedule", 1, []byte("payload")); err != ErrThresholdNotMet {
		t.Fatalf("expected ErrThresholdNotMet, got %v", err)
	}
}

func TestCoExecuteSucceedsOnceQuorumReachedThenConsumesRequest(t *testing.T) {
	registry, a, b, _ := newTestCouncilSetup()
	eng := NewCouncilEngine(registry)
	digest := CanonicalDigest("dao/1/fee-schedule", 1, []byte("payload"))
	if _, err := eng.RequestCoExecution("dao/1/fee-schedule", 1, digest); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := eng.ApproveDigest(digest, a); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	if err := eng.ApproveDigest(digest, b); err != nil {
		t.Fatalf("approve b: %v", err)
	}
	req, err := eng.CoExecute("dao/1/fee-schedule", 1, []byte("payload"))
	if err != nil {
		t.Fatalf("co-execute: %v", err)
	}
	if req.ProposalID != 1 {
		t.Fatalf("expected proposal id 1, got %d", req.ProposalID)
	}
	if _, err := eng.CoExecute("dao/1/fee-schedule", 1, []byte("payload")); err != ErrDigestMismatch {
		t.Fatalf("expected request to be consumed and unavailable on replay, got %v", err)
	}
}

func TestApproveDigestRejectsExpiredRequest(t *testing.T) {
	registry, a, _, _ := newTestCouncilSetup()
	eng := NewCouncilEngine(registry)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := &clock
	eng.SetNowFunc(func() time.Time { return *now })

	digest := CanonicalDigest("dao/1/fee-schedule", 1, []byte("payload"))
	if _, err := eng.RequestCoExecution("dao/1/fee-schedule", 1, digest); err != nil {
		t.Fatalf("request: %v", err)
	}
	*now = now.Add(25 * time.Hour)
	if err := eng.ApproveDigest(digest, a); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}
