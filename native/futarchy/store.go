package futarchy

import (
	"fmt"
	"math/big"
	"sync"
)

// Store is the in-process, mutex-guarded persistence backend satisfying
// every narrow state interface the engines in this package declare
// (lifecycleState, daoState, executionState, treasuryState). It follows the
// map-backed mock pattern native/governance/engine_test.go uses for tests,
// promoted here to a real (if non-durable) backend so services/futarchyd
// has something concrete to wire without requiring a full chain-state
// integration, which is out of scope (spec.md Non-goals: "persistence and
// chain integration are assumed, not specified").
type Store struct {
	mu sync.Mutex

	daos            map[uint64]*DAO
	proposals       map[uint64]*Proposal
	proposalInfos   map[uint64]*ProposalInfo
	marketStates    map[uint64]*MarketState
	treasuries      map[string]*big.Int
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		daos:          make(map[uint64]*DAO),
		proposals:     make(map[uint64]*Proposal),
		proposalInfos: make(map[uint64]*ProposalInfo),
		marketStates:  make(map[uint64]*MarketState),
		treasuries:    make(map[string]*big.Int),
	}
}

func treasuryKey(daoID uint64, coinType string) string {
	return fmt.Sprintf("%d:%s", daoID, coinType)
}

// GetDAO implements daoState/lifecycleState/treasuryState.
func (s *Store) GetDAO(id uint64) (*DAO, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dao, ok := s.daos[id]
	if !ok {
		return nil, false, nil
	}
	clone := *dao
	return &clone, true, nil
}

// PutDAO implements daoState/lifecycleState/treasuryState.
func (s *Store) PutDAO(d *DAO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *d
	s.daos[d.ID] = &clone
	return nil
}

// GetProposal implements lifecycleState.
func (s *Store) GetProposal(id uint64) (*Proposal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	return p, ok, nil
}

// PutProposal implements lifecycleState.
func (s *Store) PutProposal(p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = p
	return nil
}

// GetProposalInfo implements lifecycleState/executionState.
func (s *Store) GetProposalInfo(id uint64) (*ProposalInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.proposalInfos[id]
	if !ok {
		return nil, false, nil
	}
	return info.Clone(), true, nil
}

// PutProposalInfo implements lifecycleState/executionState.
func (s *Store) PutProposalInfo(info *ProposalInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposalInfos[info.ProposalID] = info.Clone()
	return nil
}

// GetMarketState implements lifecycleState.
func (s *Store) GetMarketState(id uint64) (*MarketState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.marketStates[id]
	return m, ok, nil
}

// PutMarketState implements lifecycleState.
func (s *Store) PutMarketState(m *MarketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketStates[m.ID] = m
	return nil
}

// GetTreasuryBalance implements treasuryState.
func (s *Store) GetTreasuryBalance(daoID uint64, coinType string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.treasuries[treasuryKey(daoID, coinType)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// PutTreasuryBalance implements treasuryState.
func (s *Store) PutTreasuryBalance(daoID uint64, coinType string, balance *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.treasuries[treasuryKey(daoID, coinType)] = new(big.Int).Set(balance)
	return nil
}

// ListActiveProposalIDs returns every proposal currently in REVIEW or
// TRADING, for the background crank poller to iterate (SPEC_FULL.md
// supplemented "metrics-driven crank scheduler").
func (s *Store) ListActiveProposalIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.proposalInfos))
	for id, info := range s.proposalInfos {
		if info.State == StateReview || info.State == StateTrading {
			ids = append(ids, id)
		}
	}
	return ids
}
