// Package token models the wrapped-value ledger the switch vault settles
// against.
package token

import "time"

// Holding is an external balance held by an identifier in the wrapped
// token ledger.
type Holding struct {
	Address   string    `json:"address"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}
