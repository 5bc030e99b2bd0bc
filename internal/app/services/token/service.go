// Package token implements the wrapped-value ledger the switch vault
// settles against: a 1:1 redeemable balance per identifier with mint,
// transfer and redeem semantics.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/Vigil-Network/switch_ledger/internal/app/domain/token"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage"
	"github.com/Vigil-Network/switch_ledger/pkg/logger"
)

// Errors
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientFunds   = errors.New("insufficient token balance")
	ErrTransferUnavailable = errors.New("token transfer unavailable")
)

// SendHook lets tests and integrations intercept outbound value transfer.
// A non-nil error fails the send before any balance moves.
type SendHook func(to string, amount int64) error

// Service manages wrapped token holdings.
type Service struct {
	store    storage.TokenStore
	log      *logger.Logger
	sendHook SendHook
}

// New constructs a token service.
func New(store storage.TokenStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("token")
	}
	return &Service{store: store, log: log}
}

// WithSendHook installs a hook invoked before every outbound send.
func (s *Service) WithSendHook(hook SendHook) {
	s.sendHook = hook
}

// Mint credits a holding, wrapping an attached native deposit.
func (s *Service) Mint(ctx context.Context, address string, amount int64) (token.Holding, error) {
	if amount <= 0 {
		return token.Holding{}, ErrInvalidAmount
	}
	h, err := s.store.AdjustBalance(ctx, address, amount)
	if err != nil {
		return token.Holding{}, fmt.Errorf("mint: %w", err)
	}
	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("tokens minted")
	return h, nil
}

// Redeem burns from a holding, releasing the wrapped native value.
func (s *Service) Redeem(ctx context.Context, address string, amount int64) (token.Holding, error) {
	if amount <= 0 {
		return token.Holding{}, ErrInvalidAmount
	}
	h, err := s.store.AdjustBalance(ctx, address, -amount)
	if err != nil {
		return token.Holding{}, fmt.Errorf("redeem: %w", debitError(err))
	}
	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("tokens redeemed")
	return h, nil
}

// Transfer moves balance between two holdings.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("transfer to self")
	}
	if _, err := s.store.AdjustBalance(ctx, from, -amount); err != nil {
		return fmt.Errorf("transfer: %w", debitError(err))
	}
	if _, err := s.store.AdjustBalance(ctx, to, amount); err != nil {
		// Restore the debit; the credit side only fails on storage faults.
		if _, restoreErr := s.store.AdjustBalance(ctx, from, amount); restoreErr != nil {
			s.log.WithError(restoreErr).
				WithField("address", from).
				Error("transfer rollback failed; holding inconsistent")
		}
		return fmt.Errorf("transfer credit: %w", err)
	}
	return nil
}

// BalanceOf returns the current holding balance for an address.
func (s *Service) BalanceOf(ctx context.Context, address string) (int64, error) {
	h, err := s.store.GetHolding(ctx, address)
	if err != nil {
		return 0, err
	}
	return h.Balance, nil
}

// Collect debits amount from an address, pulling attached value into
// custody. Used by the switch vault on deposit.
func (s *Service) Collect(ctx context.Context, from string, amount int64) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return ErrInvalidAmount
	}
	if _, err := s.store.AdjustBalance(ctx, from, -amount); err != nil {
		return fmt.Errorf("collect: %w", debitError(err))
	}
	return nil
}

// debitError maps the store's negative-balance rejection to the service
// sentinel; backend failures pass through unchanged.
func debitError(err error) error {
	if errors.Is(err, storage.ErrInsufficientHolding) {
		return ErrInsufficientFunds
	}
	return err
}

// SendValue credits amount to an address, releasing custodied value. The
// send either completes or fails with no partial movement.
func (s *Service) SendValue(ctx context.Context, to string, amount int64) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return ErrInvalidAmount
	}
	if s.sendHook != nil {
		if err := s.sendHook(to, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferUnavailable, err)
		}
	}
	if _, err := s.store.AdjustBalance(ctx, to, amount); err != nil {
		return fmt.Errorf("send value: %w", err)
	}
	return nil
}
