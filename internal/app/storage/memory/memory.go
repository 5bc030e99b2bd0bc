package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Vigil-Network/switch_ledger/internal/app/domain/switchvault"
	"github.com/Vigil-Network/switch_ledger/internal/app/domain/token"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. The single mutex also provides the global sequential order
// the vault transaction contract requires.
type Store struct {
	mu     sync.RWMutex
	vaults map[string]switchvault.Vault

	// Events and holdings carry their own locks so appends and token
	// transfers issued from inside a vault transaction do not deadlock
	// against the vault mutex.
	eventMu sync.Mutex
	nextID  int64
	events  map[string][]switchvault.Event

	tokenMu  sync.Mutex
	holdings map[string]token.Holding
}

var _ storage.VaultStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:   1,
		vaults:   make(map[string]switchvault.Vault),
		events:   make(map[string][]switchvault.Event),
		holdings: make(map[string]token.Holding),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// VaultStore implementation --------------------------------------------------

func (s *Store) GetVault(_ context.Context, id string) (switchvault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[id]
	if !ok {
		return switchvault.Vault{}, fmt.Errorf("vault %s: %w", id, storage.ErrVaultNotFound)
	}
	return cloneVault(v), nil
}

func (s *Store) GetOrCreateVault(_ context.Context, id string) (switchvault.Vault, error) {
	if id == "" {
		return switchvault.Vault{}, fmt.Errorf("vault id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneVault(s.getOrCreateLocked(id)), nil
}

func (s *Store) getOrCreateLocked(id string) switchvault.Vault {
	if v, ok := s.vaults[id]; ok {
		return v
	}
	now := time.Now().UTC()
	v := switchvault.Vault{ID: id, CreatedAt: now, UpdatedAt: now}
	s.vaults[id] = v
	return v
}

func (s *Store) ListVaults(_ context.Context) ([]switchvault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]switchvault.Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		result = append(result, cloneVault(v))
	}
	return result, nil
}

func (s *Store) UpdateVaultTx(ctx context.Context, id string, mutate func(ctx context.Context, v *switchvault.Vault) error) (switchvault.Vault, error) {
	if id == "" {
		return switchvault.Vault{}, fmt.Errorf("vault id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Mutate a copy so a failed transaction leaves the committed record
	// untouched.
	work := cloneVault(s.getOrCreateLocked(id))
	if err := mutate(ctx, &work); err != nil {
		return switchvault.Vault{}, err
	}

	work.ID = id
	work.UpdatedAt = time.Now().UTC()
	s.vaults[id] = cloneVault(work)
	return cloneVault(work), nil
}

// EventStore implementation ---------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, evt switchvault.Event) (switchvault.Event, error) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	if evt.ID == "" {
		evt.ID = s.nextIDLocked()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	s.events[evt.VaultID] = append(s.events[evt.VaultID], evt)
	return evt, nil
}

func (s *Store) ListEvents(_ context.Context, vaultID string, limit int) ([]switchvault.Event, error) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	evts := s.events[vaultID]
	if limit > 0 && len(evts) > limit {
		evts = evts[len(evts)-limit:]
	}
	result := make([]switchvault.Event, len(evts))
	copy(result, evts)
	return result, nil
}

// TokenStore implementation ---------------------------------------------------

func (s *Store) GetHolding(_ context.Context, address string) (token.Holding, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if h, ok := s.holdings[address]; ok {
		return h, nil
	}
	return token.Holding{Address: address}, nil
}

func (s *Store) AdjustBalance(_ context.Context, address string, delta int64) (token.Holding, error) {
	if address == "" {
		return token.Holding{}, fmt.Errorf("address is required")
	}

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	h := s.holdings[address]
	h.Address = address
	if h.Balance+delta < 0 {
		return token.Holding{}, fmt.Errorf("holding for %s: %w", address, storage.ErrInsufficientHolding)
	}
	h.Balance += delta
	h.UpdatedAt = time.Now().UTC()
	s.holdings[address] = h
	return h, nil
}

// Helpers ----------------------------------------------------------------------

func cloneVault(v switchvault.Vault) switchvault.Vault {
	v.Beneficiaries = append([]string(nil), v.Beneficiaries...)
	return v
}
