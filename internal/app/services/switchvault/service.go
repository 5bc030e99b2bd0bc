// Package switchvault implements the dead-man's-switch ledger: custodied
// balances that beneficiaries may sweep once the owner stops checking in.
package switchvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vigil-Network/switch_ledger/internal/app/domain/switchvault"
	"github.com/Vigil-Network/switch_ledger/internal/app/metrics"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage"
	"github.com/Vigil-Network/switch_ledger/pkg/logger"
)

// Errors
var (
	ErrInvalidAmount        = errors.New("amount must not be negative")
	ErrInvalidInterval      = errors.New("check-in interval must be positive")
	ErrInvalidBeneficiary   = errors.New("beneficiary identifier is invalid")
	ErrDuplicateBeneficiary = errors.New("beneficiary already registered")
	ErrBeneficiaryNotFound  = errors.New("beneficiary not registered")
	ErrInsufficientBalance  = errors.New("insufficient vault balance")
	ErrIntervalNotElapsed   = errors.New("check-in interval has not elapsed")
	ErrNotABeneficiary      = errors.New("caller is not a beneficiary")
	ErrTransferFailed       = errors.New("value transfer failed")
)

// ValueLedger is the fungible-value collaborator the vault settles against.
// Collect pulls attached deposit value into custody; SendValue releases
// custodied value to an address. Both either complete or fail with no
// partial movement.
type ValueLedger interface {
	Collect(ctx context.Context, from string, amount int64) error
	SendValue(ctx context.Context, to string, amount int64) error
}

// Service executes vault operations as atomic transactions against the
// vault store. Every operation either fully commits, including any token
// movement and event append, or leaves no observable state change.
type Service struct {
	vaults storage.VaultStore
	events storage.EventStore
	tokens ValueLedger
	log    *logger.Logger
	now    func() time.Time
}

// New constructs a switch vault service.
func New(vaults storage.VaultStore, events storage.EventStore, tokens ValueLedger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("switchvault")
	}
	return &Service{
		vaults: vaults,
		events: events,
		tokens: tokens,
		log:    log,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) {
	s.now = now
}

// Deposit credits the caller's vault and refreshes its check-in timer;
// depositing counts as proof of life. The attached value is collected from
// the caller's token holding.
func (s *Service) Deposit(ctx context.Context, caller string, amount int64) (switchvault.Vault, error) {
	if amount < 0 {
		return switchvault.Vault{}, s.reject("deposit", ErrInvalidAmount)
	}

	now := s.now().UTC()
	v, err := s.vaults.UpdateVaultTx(ctx, caller, func(txCtx context.Context, v *switchvault.Vault) error {
		v.Balance += amount
		s.advanceCheckIn(v, now)
		if amount > 0 {
			if err := s.tokens.Collect(txCtx, caller, amount); err != nil {
				return fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
		}
		return s.append(txCtx, switchvault.Event{
			VaultID:   caller,
			Type:      switchvault.EventDeposit,
			Actor:     caller,
			Amount:    amount,
			CreatedAt: now,
		})
	})
	if err != nil {
		return switchvault.Vault{}, s.reject("deposit", err)
	}

	metrics.RecordOperation("deposit")
	metrics.RecordValueMoved("in", amount)
	s.log.WithField("vault_id", caller).
		WithField("amount", amount).
		Info("deposit received")
	return v, nil
}

// SetCheckInInterval configures the grace period after which beneficiaries
// may claim. Re-setting overwrites the previous interval.
func (s *Service) SetCheckInInterval(ctx context.Context, caller string, interval time.Duration) (switchvault.Vault, error) {
	if interval <= 0 {
		return switchvault.Vault{}, s.reject("set_interval", ErrInvalidInterval)
	}

	now := s.now().UTC()
	v, err := s.vaults.UpdateVaultTx(ctx, caller, func(txCtx context.Context, v *switchvault.Vault) error {
		v.CheckInInterval = interval
		return s.append(txCtx, switchvault.Event{
			VaultID:   caller,
			Type:      switchvault.EventCheckInIntervalSet,
			Actor:     caller,
			Interval:  interval,
			CreatedAt: now,
		})
	})
	if err != nil {
		return switchvault.Vault{}, s.reject("set_interval", err)
	}

	metrics.RecordOperation("set_interval")
	s.log.WithField("vault_id", caller).
		WithField("interval", interval.String()).
		Info("check-in interval set")
	return v, nil
}

// CheckIn refreshes the caller's proof-of-life timestamp. No preconditions;
// a vault with no prior deposit may still check in.
func (s *Service) CheckIn(ctx context.Context, caller string) (switchvault.Vault, error) {
	now := s.now().UTC()
	v, err := s.vaults.UpdateVaultTx(ctx, caller, func(txCtx context.Context, v *switchvault.Vault) error {
		s.advanceCheckIn(v, now)
		return s.append(txCtx, switchvault.Event{
			VaultID:   caller,
			Type:      switchvault.EventCheckIn,
			Actor:     caller,
			CreatedAt: now,
		})
	})
	if err != nil {
		return switchvault.Vault{}, s.reject("check_in", err)
	}

	metrics.RecordOperation("check_in")
	s.log.WithField("vault_id", caller).Info("check-in recorded")
	return v, nil
}

// AddBeneficiary authorises an identifier to claim the vault balance once
// the check-in interval elapses.
func (s *Service) AddBeneficiary(ctx context.Context, caller, beneficiary string) (switchvault.Vault, error) {
	if beneficiary == "" {
		return switchvault.Vault{}, s.reject("add_beneficiary", ErrInvalidBeneficiary)
	}

	now := s.now().UTC()
	v, err := s.vaults.UpdateVaultTx(ctx, caller, func(txCtx context.Context, v *switchvault.Vault) error {
		if v.HasBeneficiary(beneficiary) {
			return ErrDuplicateBeneficiary
		}
		v.Beneficiaries = append(v.Beneficiaries, beneficiary)
		return s.append(txCtx, switchvault.Event{
			VaultID:     caller,
			Type:        switchvault.EventBeneficiaryAdded,
			Actor:       caller,
			Beneficiary: beneficiary,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return switchvault.Vault{}, s.reject("add_beneficiary", err)
	}

	metrics.RecordOperation("add_beneficiary")
	s.log.WithField("vault_id", caller).
		WithField("beneficiary", beneficiary).
		Info("beneficiary added")
	return v, nil
}

// RemoveBeneficiary revokes a previously added beneficiary.
func (s *Service) RemoveBeneficiary(ctx context.Context, caller, beneficiary string) (switchvault.Vault, error) {
	now := s.now().UTC()
	v, err := s.vaults.UpdateVaultTx(ctx, caller, func(txCtx context.Context, v *switchvault.Vault) error {
		idx := -1
		for i, b := range v.Beneficiaries {
			if b == beneficiary {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrBeneficiaryNotFound
		}
		v.Beneficiaries = append(v.Beneficiaries[:idx], v.Beneficiaries[idx+1:]...)
		return s.append(txCtx, switchvault.Event{
			VaultID:     caller,
			Type:        switchvault.EventBeneficiaryRemoved,
			Actor:       caller,
			Beneficiary: beneficiary,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return switchvault.Vault{}, s.reject("remove_beneficiary", err)
	}

	metrics.RecordOperation("remove_beneficiary")
	s.log.WithField("vault_id", caller).
		WithField("beneficiary", beneficiary).
		Info("beneficiary removed")
	return v, nil
}

// Withdraw releases part of the caller's own balance. The vault is debited
// before the outbound transfer; a failed transfer aborts the whole
// transaction, rolling the debit back.
func (s *Service) Withdraw(ctx context.Context, caller string, amount int64) (switchvault.Vault, error) {
	if amount < 0 {
		return switchvault.Vault{}, s.reject("withdraw", ErrInvalidAmount)
	}

	now := s.now().UTC()
	v, err := s.vaults.UpdateVaultTx(ctx, caller, func(txCtx context.Context, v *switchvault.Vault) error {
		if v.Balance < amount {
			return ErrInsufficientBalance
		}
		v.Balance -= amount
		if err := s.tokens.SendValue(txCtx, caller, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return s.append(txCtx, switchvault.Event{
			VaultID:   caller,
			Type:      switchvault.EventWithdrawal,
			Actor:     caller,
			Recipient: caller,
			Amount:    amount,
			CreatedAt: now,
		})
	})
	if err != nil {
		return switchvault.Vault{}, s.reject("withdraw", err)
	}

	metrics.RecordOperation("withdraw")
	metrics.RecordValueMoved("out", amount)
	s.log.WithField("vault_id", caller).
		WithField("amount", amount).
		Info("withdrawal completed")
	return v, nil
}

// WithdrawAsBeneficiary sweeps the full balance of an expired vault to a
// registered beneficiary. The balance is zeroed before the outbound
// transfer, with the same rollback guarantee as Withdraw. The withdrawal
// event attributes the amount to the beneficiary, not the vault owner.
func (s *Service) WithdrawAsBeneficiary(ctx context.Context, caller, vaultID string) (int64, error) {
	now := s.now().UTC()

	var swept int64
	_, err := s.vaults.UpdateVaultTx(ctx, vaultID, func(txCtx context.Context, v *switchvault.Vault) error {
		if !v.HasBeneficiary(caller) {
			return ErrNotABeneficiary
		}
		if !v.Expired(now) {
			return ErrIntervalNotElapsed
		}
		if v.CheckInInterval == 0 {
			// Unconfigured interval means no grace period at all. Kept to
			// match the contract's default-value semantics; flagged here so
			// operators can spot vaults relying on it.
			s.log.WithField("vault_id", vaultID).
				WithField("beneficiary", caller).
				Warn("beneficiary claim against vault with unset check-in interval")
		}

		swept = v.Balance
		v.Balance = 0
		if err := s.tokens.SendValue(txCtx, caller, swept); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return s.append(txCtx, switchvault.Event{
			VaultID:   vaultID,
			Type:      switchvault.EventWithdrawal,
			Actor:     caller,
			Recipient: caller,
			Amount:    swept,
			CreatedAt: now,
		})
	})
	if err != nil {
		return 0, s.reject("claim", err)
	}

	metrics.RecordOperation("claim")
	metrics.RecordValueMoved("out", swept)
	s.log.WithField("vault_id", vaultID).
		WithField("beneficiary", caller).
		WithField("amount", swept).
		Info("vault swept by beneficiary")
	return swept, nil
}

// GetVault returns the vault for id. Unknown identifiers read as a
// zero-initialised record, matching the implicit creation-on-first-use
// lifecycle; no record is written by reads. Backend failures propagate so a
// store outage is never reported as an empty vault.
func (s *Service) GetVault(ctx context.Context, id string) (switchvault.Vault, error) {
	v, err := s.vaults.GetVault(ctx, id)
	if errors.Is(err, storage.ErrVaultNotFound) {
		return switchvault.Vault{ID: id}, nil
	}
	if err != nil {
		return switchvault.Vault{}, fmt.Errorf("get vault %s: %w", id, err)
	}
	return v, nil
}

// IsBeneficiary reports whether candidate may claim vaultID once it
// expires. Absent vaults report false.
func (s *Service) IsBeneficiary(ctx context.Context, vaultID, candidate string) (bool, error) {
	v, err := s.GetVault(ctx, vaultID)
	if err != nil {
		return false, err
	}
	return v.HasBeneficiary(candidate), nil
}

// ListVaults returns all known vault records.
func (s *Service) ListVaults(ctx context.Context) ([]switchvault.Vault, error) {
	return s.vaults.ListVaults(ctx)
}

// Events returns up to limit entries of the vault's append-only log,
// oldest first.
func (s *Service) Events(ctx context.Context, vaultID string, limit int) ([]switchvault.Event, error) {
	return s.events.ListEvents(ctx, vaultID, limit)
}

// advanceCheckIn moves the proof-of-life timestamp forward, never backward.
func (s *Service) advanceCheckIn(v *switchvault.Vault, now time.Time) {
	if now.After(v.LastCheckIn) {
		v.LastCheckIn = now
	}
}

func (s *Service) append(ctx context.Context, evt switchvault.Event) error {
	if _, err := s.events.AppendEvent(ctx, evt); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Service) reject(operation string, err error) error {
	metrics.RecordOperationFailure(operation)
	return err
}
