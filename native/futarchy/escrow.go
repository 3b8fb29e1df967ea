package futarchy

import (
	"fmt"
	"math/big"
)

// ConditionalSide distinguishes the asset-denominated and stable-denominated
// conditional token families (spec.md §3.1, §4.3).
type ConditionalSide uint8

const (
	SideAsset ConditionalSide = iota
	SideStable
)

// ConditionalToken is a claim on one outcome's share of the escrow's backing
// collateral on one side, redeemable 1:1 only as part of a complete set
// unless that outcome wins (spec.md GLOSSARY).
type ConditionalToken struct {
	Side    ConditionalSide
	Outcome int
	Amount  *big.Int
}

// TokenEscrow holds the real Asset/Stable balances backing all outcomes and
// tracks the per-outcome conditional-token supply on each side (spec.md
// §3.1). It is grounded on native/escrow's engine.go custody pattern: an
// engine mutating balances behind a narrow state interface, generalised here
// to per-outcome supplies instead of per-realm policies.
type TokenEscrow struct {
	ProposalID uint64

	assetBalance  *big.Int
	stableBalance *big.Int

	// supplyAsset[i] / supplyStable[i] track outstanding conditional token
	// supply for outcome i on each side.
	supplyAsset  []*big.Int
	supplyStable []*big.Int
}

// NewTokenEscrow constructs an escrow sized for outcomeCount outcomes.
func NewTokenEscrow(proposalID uint64, outcomeCount int) *TokenEscrow {
	esc := &TokenEscrow{
		ProposalID:    proposalID,
		assetBalance:  big.NewInt(0),
		stableBalance: big.NewInt(0),
		supplyAsset:   make([]*big.Int, outcomeCount),
		supplyStable:  make([]*big.Int, outcomeCount),
	}
	for i := 0; i < outcomeCount; i++ {
		esc.supplyAsset[i] = big.NewInt(0)
		esc.supplyStable[i] = big.NewInt(0)
	}
	return esc
}

// AssetBalance returns a defensive copy of the backing asset balance.
func (e *TokenEscrow) AssetBalance() *big.Int { return new(big.Int).Set(e.assetBalance) }

// StableBalance returns a defensive copy of the backing stable balance.
func (e *TokenEscrow) StableBalance() *big.Int { return new(big.Int).Set(e.stableBalance) }

// SupplyAsset returns a defensive copy of outcome i's asset-side conditional
// token supply.
func (e *TokenEscrow) SupplyAsset(i int) *big.Int { return new(big.Int).Set(e.supplyAsset[i]) }

// SupplyStable returns a defensive copy of outcome i's stable-side
// conditional token supply.
func (e *TokenEscrow) SupplyStable(i int) *big.Int { return new(big.Int).Set(e.supplyStable[i]) }

func (e *TokenEscrow) outcomeCount() int { return len(e.supplyAsset) }

// MintCompleteSetAsset deposits amount of backing asset and mints one
// ConditionalToken<Asset, outcome_i> of equal value for every outcome
// (spec.md §4.3).
func (e *TokenEscrow) MintCompleteSetAsset(amount *big.Int) ([]ConditionalToken, error) {
	return e.mintCompleteSet(SideAsset, amount)
}

// MintCompleteSetStable is the stable-side counterpart of
// MintCompleteSetAsset.
func (e *TokenEscrow) MintCompleteSetStable(amount *big.Int) ([]ConditionalToken, error) {
	return e.mintCompleteSet(SideStable, amount)
}

func (e *TokenEscrow) mintCompleteSet(side ConditionalSide, amount *big.Int) ([]ConditionalToken, error) {
	if e == nil {
		return nil, fmt.Errorf("futarchy: nil escrow")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	switch side {
	case SideAsset:
		e.assetBalance = new(big.Int).Add(e.assetBalance, amount)
	case SideStable:
		e.stableBalance = new(big.Int).Add(e.stableBalance, amount)
	}
	tokens := make([]ConditionalToken, e.outcomeCount())
	for i := 0; i < e.outcomeCount(); i++ {
		switch side {
		case SideAsset:
			e.supplyAsset[i] = new(big.Int).Add(e.supplyAsset[i], amount)
		case SideStable:
			e.supplyStable[i] = new(big.Int).Add(e.supplyStable[i], amount)
		}
		tokens[i] = ConditionalToken{Side: side, Outcome: i, Amount: new(big.Int).Set(amount)}
	}
	return tokens, nil
}

// RedeemCompleteSetAsset requires exactly one token per outcome, all of
// equal amount; it burns them and releases the same amount of backing asset
// (spec.md §4.3).
func (e *TokenEscrow) RedeemCompleteSetAsset(tokens []ConditionalToken) (*big.Int, error) {
	return e.redeemCompleteSet(SideAsset, tokens)
}

// RedeemCompleteSetStable is the stable-side counterpart of
// RedeemCompleteSetAsset.
func (e *TokenEscrow) RedeemCompleteSetStable(tokens []ConditionalToken) (*big.Int, error) {
	return e.redeemCompleteSet(SideStable, tokens)
}

func (e *TokenEscrow) redeemCompleteSet(side ConditionalSide, tokens []ConditionalToken) (*big.Int, error) {
	if e == nil {
		return nil, fmt.Errorf("futarchy: nil escrow")
	}
	if len(tokens) != e.outcomeCount() {
		return nil, ErrIncompleteSet
	}
	seen := make([]bool, e.outcomeCount())
	var amount *big.Int
	for _, tok := range tokens {
		if tok.Side != side {
			return nil, fmt.Errorf("futarchy: token side mismatch in complete set")
		}
		if tok.Outcome < 0 || tok.Outcome >= e.outcomeCount() {
			return nil, fmt.Errorf("futarchy: token outcome index out of range")
		}
		if seen[tok.Outcome] {
			return nil, ErrIncompleteSet
		}
		seen[tok.Outcome] = true
		if tok.Amount == nil || tok.Amount.Sign() <= 0 {
			return nil, ErrZeroAmount
		}
		if amount == nil {
			amount = new(big.Int).Set(tok.Amount)
		} else if amount.Cmp(tok.Amount) != 0 {
			return nil, ErrUnequalAmounts
		}
	}
	for _, ok := range seen {
		if !ok {
			return nil, ErrIncompleteSet
		}
	}

	backing := side == SideAsset
	var balance *big.Int
	if backing {
		balance = e.assetBalance
	} else {
		balance = e.stableBalance
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}

	supplies := e.supplyAsset
	if !backing {
		supplies = e.supplyStable
	}
	for i := range supplies {
		if supplies[i].Cmp(amount) < 0 {
			return nil, ErrInsufficientFunds
		}
	}
	for i := range supplies {
		supplies[i] = new(big.Int).Sub(supplies[i], amount)
	}
	if backing {
		e.assetBalance = new(big.Int).Sub(e.assetBalance, amount)
	} else {
		e.stableBalance = new(big.Int).Sub(e.stableBalance, amount)
	}
	return new(big.Int).Set(amount), nil
}

// RedeemWinningOutcome burns single-outcome conditional tokens and releases
// backing collateral 1:1. The escrow does not record which outcome won or
// whether the market is finalized, and this method does not check either.
func (e *TokenEscrow) RedeemWinningOutcome(side ConditionalSide, outcome int, amount *big.Int) (*big.Int, error) {
	if e == nil {
		return nil, fmt.Errorf("futarchy: nil escrow")
	}
	if outcome < 0 || outcome >= e.outcomeCount() {
		return nil, fmt.Errorf("futarchy: outcome index out of range")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	supplies := e.supplyAsset
	balance := e.assetBalance
	if side == SideStable {
		supplies = e.supplyStable
		balance = e.stableBalance
	}
	if supplies[outcome].Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	supplies[outcome] = new(big.Int).Sub(supplies[outcome], amount)
	if side == SideStable {
		e.stableBalance = new(big.Int).Sub(e.stableBalance, amount)
	} else {
		e.assetBalance = new(big.Int).Sub(e.assetBalance, amount)
	}
	return new(big.Int).Set(amount), nil
}
