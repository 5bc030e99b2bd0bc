package storage

import (
	"context"
	"errors"

	"github.com/Vigil-Network/switch_ledger/internal/app/domain/switchvault"
	"github.com/Vigil-Network/switch_ledger/internal/app/domain/token"
)

// Sentinel errors shared by all store implementations. Callers distinguish
// these from backend failures with errors.Is.
var (
	ErrVaultNotFound       = errors.New("vault not found")
	ErrInsufficientHolding = errors.New("holding balance would go negative")
)

// VaultStore persists switch vault records. Vaults are created implicitly:
// GetOrCreateVault returns a zero-initialised record for unknown
// identifiers rather than an error, while GetVault reports unknown
// identifiers with a wrapped ErrVaultNotFound.
type VaultStore interface {
	GetVault(ctx context.Context, id string) (switchvault.Vault, error)
	GetOrCreateVault(ctx context.Context, id string) (switchvault.Vault, error)
	ListVaults(ctx context.Context) ([]switchvault.Vault, error)

	// UpdateVaultTx loads the vault for id (creating it if absent), applies
	// mutate to it and commits the result as one atomic transaction. If
	// mutate returns an error nothing is committed. No two transactions for
	// the same vault interleave their effects.
	//
	// The context passed to mutate is scoped to the transaction: token
	// adjustments and event appends made through it join the same
	// commit/rollback unit where the backend supports it. Mutate must order
	// field mutations before fallible side effects so a failed transfer
	// aborts the whole operation with nothing committed.
	UpdateVaultTx(ctx context.Context, id string, mutate func(ctx context.Context, v *switchvault.Vault) error) (switchvault.Vault, error)
}

// EventStore persists the append-only vault event log.
type EventStore interface {
	AppendEvent(ctx context.Context, evt switchvault.Event) (switchvault.Event, error)
	ListEvents(ctx context.Context, vaultID string, limit int) ([]switchvault.Event, error)
}

// TokenStore persists wrapped token holdings. Unknown addresses hold a zero
// balance; AdjustBalance fails with a wrapped ErrInsufficientHolding rather
// than committing a negative balance.
type TokenStore interface {
	GetHolding(ctx context.Context, address string) (token.Holding, error)
	AdjustBalance(ctx context.Context, address string, delta int64) (token.Holding, error)
}
