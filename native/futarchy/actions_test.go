package futarchy

import (
	"math/big"
	"testing"

	"futarchy/crypto"
)

func newTestDispatcherFixture(t *testing.T) (*Dispatcher, *Store, *ActionRegistry, *DAO) {
	t.Helper()
	store := NewStore()
	dao := &DAO{
		ID: 1,
		Config: Config{
			StableType: "USD",
			AssetType:  "DAO",
		},
	}
	if err := store.PutDAO(dao); err != nil {
		t.Fatalf("seed dao: %v", err)
	}
	if err := store.PutTreasuryBalance(1, "DAO", big.NewInt(10_000)); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}
	if err := store.PutProposalInfo(&ProposalInfo{
		ProposalID: 1,
		DaoID:      1,
		State:      StateFinalized,
	}); err != nil {
		t.Fatalf("seed proposal info: %v", err)
	}

	registry := NewActionRegistry()
	config := NewConfigEngine()
	config.SetState(store)
	fees := NewFeeManager()
	fees.SetState(store)
	treasury := NewTreasuryEngine()
	treasury.SetState(store)

	dispatcher := NewDispatcher(registry, config, fees, treasury)
	dispatcher.SetState(store)
	return dispatcher, store, registry, dao
}

func TestActionRegistrySequenceRequiresRegistration(t *testing.T) {
	registry := NewActionRegistry()
	if _, err := registry.Sequence(1, 0); err != ErrNoIntentKey {
		t.Fatalf("expected ErrNoIntentKey, got %v", err)
	}
	registry.Register(1, 0, []Action{{Kind: ActionNone}})
	seq, err := registry.Sequence(1, 0)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if len(seq) != 1 {
		t.Fatalf("expected 1 registered action, got %d", len(seq))
	}
	if _, err := registry.Sequence(1, 1); err != ErrNoIntentKey {
		t.Fatalf("expected ErrNoIntentKey for unregistered outcome, got %v", err)
	}
}

func TestDispatcherExecuteFailsClosedWithoutRegisteredSequence(t *testing.T) {
	dispatcher, _, _, dao := newTestDispatcherFixture(t)
	receipt := &FinalizationReceipt{ProposalID: 1, WinningOutcome: 0}
	ctx := NewProposalExecutionContext(receipt)
	if err := dispatcher.Execute(ctx, dao); err != ErrNoIntentKey {
		t.Fatalf("expected ErrNoIntentKey, got %v", err)
	}
}

func TestDispatcherExecuteTransfersTreasuryAndConsumesContext(t *testing.T) {
	dispatcher, store, registry, dao := newTestDispatcherFixture(t)
	recipient := crypto.MustNewAddress(crypto.NHBPrefix, make([]byte, 20))
	registry.Register(1, 0, []Action{
		{
			Kind:               ActionTransferAssetFromTreasury,
			TransferTo:         recipient,
			TransferAmount:     big.NewInt(2_500),
			DeclaredAssetType:  "DAO",
		},
	})

	receipt := &FinalizationReceipt{ProposalID: 1, WinningOutcome: 0}
	ctx := NewProposalExecutionContext(receipt)
	if err := dispatcher.Execute(ctx, dao); err != nil {
		t.Fatalf("execute: %v", err)
	}

	balance, err := store.GetTreasuryBalance(1, "DAO")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(7_500)) != 0 {
		t.Fatalf("expected treasury debited to 7500, got %s", balance)
	}

	info, ok, err := store.GetProposalInfo(1)
	if err != nil || !ok {
		t.Fatalf("reload proposal info: %v %v", ok, err)
	}
	if !info.Executed {
		t.Fatalf("expected proposal marked executed")
	}

	if err := dispatcher.Execute(ctx, dao); err == nil {
		t.Fatalf("expected second Execute on the same context to fail")
	}
}

func TestDispatcherExecuteRejectsAlreadyExecuted(t *testing.T) {
	dispatcher, store, registry, dao := newTestDispatcherFixture(t)
	registry.Register(1, 0, []Action{{Kind: ActionNone}})

	info, _, _ := store.GetProposalInfo(1)
	info.Executed = true
	if err := store.PutProposalInfo(info); err != nil {
		t.Fatalf("mark executed: %v", err)
	}

	receipt := &FinalizationReceipt{ProposalID: 1, WinningOutcome: 0}
	ctx := NewProposalExecutionContext(receipt)
	if err := dispatcher.Execute(ctx, dao); err != ErrAlreadyExecuted {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}
}

func TestDispatcherExecuteRejectsCoinTypeMismatch(t *testing.T) {
	dispatcher, _, registry, dao := newTestDispatcherFixture(t)
	recipient := crypto.MustNewAddress(crypto.NHBPrefix, make([]byte, 20))
	registry.Register(1, 0, []Action{
		{
			Kind:              ActionTransferStableFromTreasury,
			TransferTo:        recipient,
			TransferAmount:    big.NewInt(10),
			DeclaredStableType: "EUR",
		},
	})
	receipt := &FinalizationReceipt{ProposalID: 1, WinningOutcome: 0}
	ctx := NewProposalExecutionContext(receipt)
	if err := dispatcher.Execute(ctx, dao); err != ErrCoinTypeMismatch {
		t.Fatalf("expected ErrCoinTypeMismatch, got %v", err)
	}
}

func TestNewProposalExecutionContextConsumesReceiptImmediately(t *testing.T) {
	receipt := &FinalizationReceipt{ProposalID: 7, WinningOutcome: 2}
	_ = NewProposalExecutionContext(receipt)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic from a receipt already consumed by context construction")
		}
	}()
	receipt.Consume()
}

func TestProposalExecutionContextConsumePanicsOnDoubleConsume(t *testing.T) {
	ctx := &ProposalExecutionContext{ProposalID: 1}
	ctx.consume()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double consume")
		}
	}()
	ctx.consume()
}
