package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Vigil-Network/switch_ledger/internal/app/domain/switchvault"
	"github.com/Vigil-Network/switch_ledger/internal/app/domain/token"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.VaultStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// txKey carries the active vault transaction through the context handed to
// UpdateVaultTx callbacks, so token adjustments join the same commit unit.
type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// --- VaultStore -------------------------------------------------------------

const vaultColumns = `id, balance, last_check_in, check_in_interval_ns, beneficiaries, created_at, updated_at`

func scanVault(row interface{ Scan(...interface{}) error }) (switchvault.Vault, error) {
	var (
		v           switchvault.Vault
		lastCheckIn sql.NullTime
		intervalNS  int64
		bens        pq.StringArray
	)
	if err := row.Scan(&v.ID, &v.Balance, &lastCheckIn, &intervalNS, &bens, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return switchvault.Vault{}, err
	}
	if lastCheckIn.Valid {
		v.LastCheckIn = lastCheckIn.Time
	}
	v.CheckInInterval = time.Duration(intervalNS)
	v.Beneficiaries = []string(bens)
	return v, nil
}

func (s *Store) GetVault(ctx context.Context, id string) (switchvault.Vault, error) {
	row := s.querier(ctx).QueryRowContext(ctx, `
		SELECT `+vaultColumns+`
		FROM switch_vaults
		WHERE id = $1
	`, id)
	v, err := scanVault(row)
	if errors.Is(err, sql.ErrNoRows) {
		return switchvault.Vault{}, fmt.Errorf("vault %s: %w", id, storage.ErrVaultNotFound)
	}
	return v, err
}

func (s *Store) GetOrCreateVault(ctx context.Context, id string) (switchvault.Vault, error) {
	if id == "" {
		return switchvault.Vault{}, fmt.Errorf("vault id is required")
	}
	now := time.Now().UTC()
	if _, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO switch_vaults (id, balance, check_in_interval_ns, beneficiaries, created_at, updated_at)
		VALUES ($1, 0, 0, '{}', $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, now); err != nil {
		return switchvault.Vault{}, err
	}
	return s.GetVault(ctx, id)
}

func (s *Store) ListVaults(ctx context.Context) ([]switchvault.Vault, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT `+vaultColumns+`
		FROM switch_vaults
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]switchvault.Vault, 0)
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) UpdateVaultTx(ctx context.Context, id string, mutate func(ctx context.Context, v *switchvault.Vault) error) (switchvault.Vault, error) {
	if id == "" {
		return switchvault.Vault{}, fmt.Errorf("vault id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return switchvault.Vault{}, err
	}
	defer tx.Rollback()

	txCtx := context.WithValue(ctx, txKey{}, tx)
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO switch_vaults (id, balance, check_in_interval_ns, beneficiaries, created_at, updated_at)
		VALUES ($1, 0, 0, '{}', $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, now); err != nil {
		return switchvault.Vault{}, err
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+vaultColumns+`
		FROM switch_vaults
		WHERE id = $1
		FOR UPDATE
	`, id)
	v, err := scanVault(row)
	if err != nil {
		return switchvault.Vault{}, err
	}

	if err := mutate(txCtx, &v); err != nil {
		return switchvault.Vault{}, err
	}

	var lastCheckIn interface{}
	if !v.LastCheckIn.IsZero() {
		lastCheckIn = v.LastCheckIn
	}
	v.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE switch_vaults
		SET balance = $2, last_check_in = $3, check_in_interval_ns = $4, beneficiaries = $5, updated_at = $6
		WHERE id = $1
	`, v.ID, v.Balance, lastCheckIn, int64(v.CheckInInterval), pq.Array(v.Beneficiaries), v.UpdatedAt); err != nil {
		return switchvault.Vault{}, err
	}

	if err := tx.Commit(); err != nil {
		return switchvault.Vault{}, err
	}
	return v, nil
}

// --- EventStore -------------------------------------------------------------

func (s *Store) AppendEvent(ctx context.Context, evt switchvault.Event) (switchvault.Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO vault_events (id, vault_id, type, actor, recipient, beneficiary, amount, interval_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, evt.ID, evt.VaultID, string(evt.Type), evt.Actor, evt.Recipient, evt.Beneficiary, evt.Amount, int64(evt.Interval), evt.CreatedAt)
	if err != nil {
		return switchvault.Event{}, err
	}
	return evt, nil
}

func (s *Store) ListEvents(ctx context.Context, vaultID string, limit int) ([]switchvault.Event, error) {
	query := `
		SELECT id, vault_id, type, actor, recipient, beneficiary, amount, interval_ns, created_at
		FROM vault_events
		WHERE vault_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{vaultID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]switchvault.Event, 0)
	for rows.Next() {
		var (
			evt        switchvault.Event
			evtType    string
			intervalNS int64
		)
		if err := rows.Scan(&evt.ID, &evt.VaultID, &evtType, &evt.Actor, &evt.Recipient, &evt.Beneficiary, &evt.Amount, &intervalNS, &evt.CreatedAt); err != nil {
			return nil, err
		}
		evt.Type = switchvault.EventType(evtType)
		evt.Interval = time.Duration(intervalNS)
		result = append(result, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first, matching the append order the memory store returns.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// --- TokenStore -------------------------------------------------------------

func (s *Store) GetHolding(ctx context.Context, address string) (token.Holding, error) {
	row := s.querier(ctx).QueryRowContext(ctx, `
		SELECT address, balance, updated_at
		FROM token_holdings
		WHERE address = $1
	`, address)

	var h token.Holding
	err := row.Scan(&h.Address, &h.Balance, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Holding{Address: address}, nil
	}
	return h, err
}

func (s *Store) AdjustBalance(ctx context.Context, address string, delta int64) (token.Holding, error) {
	if address == "" {
		return token.Holding{}, fmt.Errorf("address is required")
	}

	// The balance CHECK constraint rejects inserts below zero; the DO UPDATE
	// guard rejects updates below zero with no row returned.
	row := s.querier(ctx).QueryRowContext(ctx, `
		INSERT INTO token_holdings (address, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE
		SET balance = token_holdings.balance + $2, updated_at = $3
		WHERE token_holdings.balance + $2 >= 0
		RETURNING address, balance, updated_at
	`, address, delta, time.Now().UTC())

	var h token.Holding
	if err := row.Scan(&h.Address, &h.Balance, &h.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isCheckViolation(err) {
			return token.Holding{}, fmt.Errorf("holding for %s: %w", address, storage.ErrInsufficientHolding)
		}
		return token.Holding{}, err
	}
	return h, nil
}

// isCheckViolation reports whether err is the CHECK constraint rejecting a
// first insert with a negative balance.
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}
