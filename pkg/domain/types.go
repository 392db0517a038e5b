// Package domain defines the event model and store contracts for the
// multi-domain active-contract-set projection: contracts and their lifecycle
// states, ledger updates with their ordering keys, the per-store contract
// filter, and the persistence interfaces implemented by the storage backends.
package domain

import (
	"encoding/json"
	"time"
)

// ContractID is an opaque, globally unique contract identifier assigned at
// contract creation.
type ContractID string

// TemplateID identifies the template a contract was instantiated from.
type TemplateID string

// DomainID identifies a synchronization domain.
type DomainID string

// PartyID identifies a ledger party.
type PartyID string

// MigrationID identifies a hard domain-migration epoch. Offsets are
// participant-local and not comparable across migration ids.
type MigrationID int64

// Offset is a participant-local, monotonically increasing position in the
// ledger update stream within one migration epoch.
type Offset int64

// Contract is an immutable payload keyed by its contract id. Once created the
// payload never changes; only the contract's state does.
type Contract struct {
	ID        ContractID      `json:"contract_id"`
	Template  TemplateID      `json:"template_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Clone returns a deep copy of the contract.
func (c Contract) Clone() Contract {
	cp := c
	if c.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	return cp
}

// StateKind enumerates the lifecycle states of a live contract. Archived
// contracts have no state row at all.
type StateKind string

const (
	// StateAssigned means the contract is active and resides on one domain.
	StateAssigned StateKind = "assigned"
	// StateInFlight means a reassignment between domains is in progress and
	// the contract is temporarily not attributable to a single domain.
	StateInFlight StateKind = "inflight"
)

// ContractState is the mutable per-contract state tracked by a store.
type ContractState struct {
	Kind   StateKind `json:"kind"`
	Domain DomainID  `json:"domain,omitempty"` // set when Kind == StateAssigned
}
