package switchvault

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Vigil-Network/switch_ledger/internal/app/domain/switchvault"
	tokensvc "github.com/Vigil-Network/switch_ledger/internal/app/services/token"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage/memory"
)

type fixture struct {
	vaults *Service
	tokens *tokensvc.Service
	store  *memory.Store
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	tokens := tokensvc.New(store, nil)
	vaults := New(store, store, tokens, nil)

	f := &fixture{
		vaults: vaults,
		tokens: tokens,
		store:  store,
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	vaults.WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) fund(t *testing.T, address string, amount int64) {
	t.Helper()
	if _, err := f.tokens.Mint(context.Background(), address, amount); err != nil {
		t.Fatalf("mint %s: %v", address, err)
	}
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestDepositCreditsAndChecksIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 1500)

	v, err := f.vaults.Deposit(ctx, "alice", 1000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if v.Balance != 1000 {
		t.Fatalf("expected balance 1000, got %d", v.Balance)
	}
	if !v.LastCheckIn.Equal(f.now) {
		t.Fatalf("expected check-in at %v, got %v", f.now, v.LastCheckIn)
	}

	balance, err := f.tokens.BalanceOf(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected remaining holding 500, got %d", balance)
	}
}

func TestDepositNegativeAmount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.vaults.Deposit(context.Background(), "alice", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDepositWithoutFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.vaults.Deposit(ctx, "alice", 100)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	v, err := f.vaults.GetVault(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Balance != 0 {
		t.Fatalf("expected balance to stay 0, got %d", v.Balance)
	}
	events, err := f.vaults.Events(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events after failed deposit, got %d", len(events))
	}
}

func TestSetCheckInIntervalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, interval := range []time.Duration{0, -time.Hour} {
		if _, err := f.vaults.SetCheckInInterval(ctx, "alice", interval); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("interval %v: expected ErrInvalidInterval, got %v", interval, err)
		}
	}

	v, err := f.vaults.SetCheckInInterval(ctx, "alice", 168*time.Hour)
	if err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if v.CheckInInterval != 168*time.Hour {
		t.Fatalf("expected interval 168h, got %v", v.CheckInInterval)
	}

	// Re-setting overwrites.
	v, err = f.vaults.SetCheckInInterval(ctx, "alice", 24*time.Hour)
	if err != nil {
		t.Fatalf("reset interval: %v", err)
	}
	if v.CheckInInterval != 24*time.Hour {
		t.Fatalf("expected interval 24h, got %v", v.CheckInInterval)
	}
}

func TestCheckInIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.vaults.CheckIn(ctx, "alice")
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	first := v.LastCheckIn

	// A clock running backwards must not regress the timestamp.
	f.advance(-time.Hour)
	v, err = f.vaults.CheckIn(ctx, "alice")
	if err != nil {
		t.Fatalf("second check-in: %v", err)
	}
	if !v.LastCheckIn.Equal(first) {
		t.Fatalf("expected check-in to hold at %v, got %v", first, v.LastCheckIn)
	}

	f.advance(2 * time.Hour)
	v, err = f.vaults.CheckIn(ctx, "alice")
	if err != nil {
		t.Fatalf("third check-in: %v", err)
	}
	if !v.LastCheckIn.After(first) {
		t.Fatalf("expected check-in to advance past %v, got %v", first, v.LastCheckIn)
	}
}

func TestBeneficiaryManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.vaults.AddBeneficiary(ctx, "alice", ""); !errors.Is(err, ErrInvalidBeneficiary) {
		t.Fatalf("expected ErrInvalidBeneficiary, got %v", err)
	}

	if _, err := f.vaults.AddBeneficiary(ctx, "alice", "bob"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.vaults.AddBeneficiary(ctx, "alice", "bob"); !errors.Is(err, ErrDuplicateBeneficiary) {
		t.Fatalf("expected ErrDuplicateBeneficiary, got %v", err)
	}

	registered, err := f.vaults.IsBeneficiary(ctx, "alice", "bob")
	if err != nil || !registered {
		t.Fatalf("expected bob registered, got %v %v", registered, err)
	}
	registered, err = f.vaults.IsBeneficiary(ctx, "alice", "mallory")
	if err != nil || registered {
		t.Fatalf("expected mallory unregistered, got %v %v", registered, err)
	}

	if _, err := f.vaults.RemoveBeneficiary(ctx, "alice", "mallory"); !errors.Is(err, ErrBeneficiaryNotFound) {
		t.Fatalf("expected ErrBeneficiaryNotFound, got %v", err)
	}
	v, err := f.vaults.RemoveBeneficiary(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(v.Beneficiaries) != 0 {
		t.Fatalf("expected empty beneficiary list, got %v", v.Beneficiaries)
	}
}

func TestWithdrawOwnBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 1000)

	if _, err := f.vaults.Deposit(ctx, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	v, err := f.vaults.Withdraw(ctx, "alice", 999)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if v.Balance != 1 {
		t.Fatalf("expected balance 1, got %d", v.Balance)
	}

	if _, err := f.vaults.Withdraw(ctx, "alice", 2); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	balance, err := f.tokens.BalanceOf(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 999 {
		t.Fatalf("expected holding 999, got %d", balance)
	}
}

func TestWithdrawTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 500)

	if _, err := f.vaults.Deposit(ctx, "alice", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	f.tokens.WithSendHook(func(to string, amount int64) error {
		return fmt.Errorf("node unreachable")
	})

	_, err := f.vaults.Withdraw(ctx, "alice", 200)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	v, err := f.vaults.GetVault(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Balance != 500 {
		t.Fatalf("expected balance restored to 500, got %d", v.Balance)
	}

	events, err := f.vaults.Events(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	for _, evt := range events {
		if evt.Type == switchvault.EventWithdrawal {
			t.Fatalf("unexpected withdrawal event after failed transfer: %+v", evt)
		}
	}
}

func TestBeneficiaryClaimTiming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 1000)

	if _, err := f.vaults.Deposit(ctx, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.vaults.SetCheckInInterval(ctx, "alice", 168*time.Hour); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if _, err := f.vaults.AddBeneficiary(ctx, "alice", "bob"); err != nil {
		t.Fatalf("add beneficiary: %v", err)
	}

	f.advance(168*time.Hour - time.Second)
	if _, err := f.vaults.WithdrawAsBeneficiary(ctx, "bob", "alice"); !errors.Is(err, ErrIntervalNotElapsed) {
		t.Fatalf("expected ErrIntervalNotElapsed, got %v", err)
	}

	// A failed claim must not count as a check-in or otherwise move the
	// deadline.
	v, err := f.vaults.GetVault(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Balance != 1000 {
		t.Fatalf("expected balance untouched at 1000, got %d", v.Balance)
	}

	// Non-beneficiaries are refused no matter how much time has passed.
	f.advance(2 * time.Second)
	if _, err := f.vaults.WithdrawAsBeneficiary(ctx, "mallory", "alice"); !errors.Is(err, ErrNotABeneficiary) {
		t.Fatalf("expected ErrNotABeneficiary, got %v", err)
	}

	amount, err := f.vaults.WithdrawAsBeneficiary(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if amount != 1000 {
		t.Fatalf("expected sweep of 1000, got %d", amount)
	}

	v, err = f.vaults.GetVault(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Balance != 0 {
		t.Fatalf("expected empty vault, got %d", v.Balance)
	}

	balance, err := f.tokens.BalanceOf(ctx, "bob")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1000 {
		t.Fatalf("expected bob to hold 1000, got %d", balance)
	}
}

func TestCheckInDefersClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 100)

	if _, err := f.vaults.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.vaults.SetCheckInInterval(ctx, "alice", time.Hour); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if _, err := f.vaults.AddBeneficiary(ctx, "alice", "bob"); err != nil {
		t.Fatalf("add beneficiary: %v", err)
	}

	f.advance(59 * time.Minute)
	if _, err := f.vaults.CheckIn(ctx, "alice"); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	// The original deadline has passed, but the check-in reset it.
	f.advance(2 * time.Minute)
	if _, err := f.vaults.WithdrawAsBeneficiary(ctx, "bob", "alice"); !errors.Is(err, ErrIntervalNotElapsed) {
		t.Fatalf("expected ErrIntervalNotElapsed after check-in, got %v", err)
	}

	f.advance(time.Hour)
	if _, err := f.vaults.WithdrawAsBeneficiary(ctx, "bob", "alice"); err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
}

func TestClaimWithUnsetIntervalSucceedsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 100)

	if _, err := f.vaults.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.vaults.AddBeneficiary(ctx, "alice", "bob"); err != nil {
		t.Fatalf("add beneficiary: %v", err)
	}

	// No interval configured: the vault is claimable the moment it exists.
	amount, err := f.vaults.WithdrawAsBeneficiary(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if amount != 100 {
		t.Fatalf("expected sweep of 100, got %d", amount)
	}
}

func TestClaimTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 300)

	if _, err := f.vaults.Deposit(ctx, "alice", 300); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.vaults.AddBeneficiary(ctx, "alice", "bob"); err != nil {
		t.Fatalf("add beneficiary: %v", err)
	}

	f.tokens.WithSendHook(func(to string, amount int64) error {
		return fmt.Errorf("node unreachable")
	})
	if _, err := f.vaults.WithdrawAsBeneficiary(ctx, "bob", "alice"); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	v, err := f.vaults.GetVault(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Balance != 300 {
		t.Fatalf("expected balance restored to 300, got %d", v.Balance)
	}
}

func TestEventLogOrderAndAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 1000)

	if _, err := f.vaults.Deposit(ctx, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.vaults.SetCheckInInterval(ctx, "alice", time.Hour); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if _, err := f.vaults.AddBeneficiary(ctx, "alice", "bob"); err != nil {
		t.Fatalf("add beneficiary: %v", err)
	}
	f.advance(2 * time.Hour)
	if _, err := f.vaults.WithdrawAsBeneficiary(ctx, "bob", "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	events, err := f.vaults.Events(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	types := make([]switchvault.EventType, 0, len(events))
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	want := []switchvault.EventType{
		switchvault.EventDeposit,
		switchvault.EventCheckInIntervalSet,
		switchvault.EventBeneficiaryAdded,
		switchvault.EventWithdrawal,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %d (%v)", len(want), len(types), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}

	// The sweep is attributed to the beneficiary, not the vault owner.
	last := events[len(events)-1]
	if last.Actor != "bob" || last.Recipient != "bob" {
		t.Fatalf("expected withdrawal attributed to bob, got actor=%s recipient=%s", last.Actor, last.Recipient)
	}
	if last.Amount != 1000 {
		t.Fatalf("expected withdrawal amount 1000, got %d", last.Amount)
	}
}

func TestEventLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.vaults.CheckIn(ctx, "alice"); err != nil {
			t.Fatalf("check-in %d: %v", i, err)
		}
		f.advance(time.Minute)
	}

	events, err := f.vaults.Events(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestClaimSucceedsAtExactExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 100)

	if _, err := f.vaults.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.vaults.SetCheckInInterval(ctx, "alice", time.Hour); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if _, err := f.vaults.AddBeneficiary(ctx, "alice", "bob"); err != nil {
		t.Fatalf("add beneficiary: %v", err)
	}

	// The grace period gate is inclusive: at exactly lastCheckIn plus the
	// interval the claim goes through.
	f.advance(time.Hour)
	amount, err := f.vaults.WithdrawAsBeneficiary(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("claim at boundary: %v", err)
	}
	if amount != 100 {
		t.Fatalf("expected sweep of 100, got %d", amount)
	}
}

// failingVaultStore simulates a storage backend outage.
type failingVaultStore struct {
	err error
}

func (s failingVaultStore) GetVault(context.Context, string) (switchvault.Vault, error) {
	return switchvault.Vault{}, s.err
}

func (s failingVaultStore) GetOrCreateVault(context.Context, string) (switchvault.Vault, error) {
	return switchvault.Vault{}, s.err
}

func (s failingVaultStore) ListVaults(context.Context) ([]switchvault.Vault, error) {
	return nil, s.err
}

func (s failingVaultStore) UpdateVaultTx(context.Context, string, func(context.Context, *switchvault.Vault) error) (switchvault.Vault, error) {
	return switchvault.Vault{}, s.err
}

func TestGetVaultPropagatesBackendFailure(t *testing.T) {
	store := memory.New()
	tokens := tokensvc.New(store, nil)
	down := fmt.Errorf("connection refused")
	vaults := New(failingVaultStore{err: down}, store, tokens, nil)

	ctx := context.Background()
	if _, err := vaults.GetVault(ctx, "alice"); !errors.Is(err, down) {
		t.Fatalf("expected backend error to propagate, got %v", err)
	}
	if _, err := vaults.IsBeneficiary(ctx, "alice", "bob"); !errors.Is(err, down) {
		t.Fatalf("expected backend error from lookup, got %v", err)
	}

	// Only the not-found sentinel reads as a zero record.
	notFound := failingVaultStore{err: fmt.Errorf("vault alice: %w", storage.ErrVaultNotFound)}
	vaults = New(notFound, store, tokens, nil)
	v, err := vaults.GetVault(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.ID != "alice" || v.Balance != 0 {
		t.Fatalf("expected zero vault, got %+v", v)
	}
}

func TestGetVaultUnknownReadsAsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.vaults.GetVault(ctx, "ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.ID != "ghost" || v.Balance != 0 || len(v.Beneficiaries) != 0 {
		t.Fatalf("expected zero vault, got %+v", v)
	}

	// Reads do not materialise a record.
	vaults, err := f.vaults.ListVaults(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(vaults) != 0 {
		t.Fatalf("expected no persisted vaults, got %d", len(vaults))
	}
}
