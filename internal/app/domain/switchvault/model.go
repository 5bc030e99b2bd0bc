// Package switchvault defines the dead-man's-switch vault model: custodied
// balances with check-in timers and beneficiary lists.
package switchvault

import "time"

// Vault is the per-identifier custody record. Records are created
// implicitly on first interaction and never destroyed; a zero balance with
// an empty beneficiary list is a closed vault.
type Vault struct {
	ID              string        `json:"id"`               // owner identifier, e.g. an address
	Balance         int64         `json:"balance"`          // custodied value in smallest unit
	LastCheckIn     time.Time     `json:"last_check_in"`    // zero until first deposit or check-in
	CheckInInterval time.Duration `json:"check_in_interval"` // 0 means never configured
	Beneficiaries   []string      `json:"beneficiaries"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ExpiresAt returns the instant the grace period lapses. With an
// unconfigured interval this equals LastCheckIn, so the vault is claimable
// immediately; that mirrors the original default-value behaviour and is a
// known policy gap, not something this layer papers over.
func (v Vault) ExpiresAt() time.Time {
	return v.LastCheckIn.Add(v.CheckInInterval)
}

// Expired reports whether beneficiary withdrawal is permitted at now. It is
// always derived fresh from the stored timer fields, never cached.
func (v Vault) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt())
}

// HasBeneficiary reports membership of id in the beneficiary list.
func (v Vault) HasBeneficiary(id string) bool {
	for _, b := range v.Beneficiaries {
		if b == id {
			return true
		}
	}
	return false
}

// EventType labels entries in the append-only vault event log.
type EventType string

const (
	EventDeposit            EventType = "deposit"
	EventWithdrawal         EventType = "withdrawal"
	EventCheckIn            EventType = "check_in"
	EventCheckInIntervalSet EventType = "check_in_interval_set"
	EventBeneficiaryAdded   EventType = "beneficiary_added"
	EventBeneficiaryRemoved EventType = "beneficiary_removed"
)

// Event is one entry in the append-only log, written only for successful
// state-changing operations. Withdrawal entries attribute the amount to the
// recipient; for beneficiary claims that is the beneficiary, not the vault
// owner.
type Event struct {
	ID          string        `json:"id"`
	VaultID     string        `json:"vault_id"`
	Type        EventType     `json:"type"`
	Actor       string        `json:"actor"`
	Recipient   string        `json:"recipient,omitempty"`
	Beneficiary string        `json:"beneficiary,omitempty"`
	Amount      int64         `json:"amount,omitempty"`
	Interval    time.Duration `json:"interval,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
