// Package app wires the switch ledger services together: the vault state
// machine, the wrapped token collaborator, persistence, and the lifecycle
// of background components.
package app
