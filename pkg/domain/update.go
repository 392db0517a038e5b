package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Cursor is the 2-level ordering key of an ingested update. Record time is
// the domain-assigned canonical order within a migration; Seq disambiguates
// updates sharing a record time.
type Cursor struct {
	Migration  MigrationID `json:"migration_id"`
	RecordTime time.Time   `json:"record_time"`
	Seq        int64       `json:"seq"`
}

// Less reports whether c orders strictly before o.
func (c Cursor) Less(o Cursor) bool {
	if c.Migration != o.Migration {
		return c.Migration < o.Migration
	}
	if !c.RecordTime.Equal(o.RecordTime) {
		return c.RecordTime.Before(o.RecordTime)
	}
	return c.Seq < o.Seq
}

// Equal reports whether both cursors address the same update.
func (c Cursor) Equal(o Cursor) bool {
	return c.Migration == o.Migration && c.RecordTime.Equal(o.RecordTime) && c.Seq == o.Seq
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d/%s/%d", c.Migration, c.RecordTime.UTC().Format(time.RFC3339Nano), c.Seq)
}

// Update is one element of the ledger update stream: either a transaction
// tree or a reassignment event.
type Update interface {
	Cursor() Cursor
	Domain() DomainID
	isUpdate()
}

// Event is one node of a transaction tree.
type Event interface{ isEvent() }

// CreatedEvent records the creation of a contract.
type CreatedEvent struct {
	Contract Contract `json:"contract"`
}

// ExercisedEvent records a choice exercised on a contract. A consuming
// exercise archives the contract.
type ExercisedEvent struct {
	ContractID ContractID      `json:"contract_id"`
	Choice     string          `json:"choice"`
	Consuming  bool            `json:"consuming"`
	Argument   json.RawMessage `json:"argument,omitempty"`
}

func (CreatedEvent) isEvent()   {}
func (ExercisedEvent) isEvent() {}

// TransactionTree is a tree of create/exercise events sharing one commit.
type TransactionTree struct {
	UpdateID      string
	DomainID      DomainID
	Migration     MigrationID
	RecordTime    time.Time
	EffectiveTime time.Time
	Offset        Offset
	Seq           int64
	Events        []Event
}

// Cursor returns the update's ordering key.
func (t *TransactionTree) Cursor() Cursor {
	return Cursor{Migration: t.Migration, RecordTime: t.RecordTime, Seq: t.Seq}
}

// Domain returns the synchronization domain the transaction was sequenced on.
func (t *TransactionTree) Domain() DomainID { return t.DomainID }

func (*TransactionTree) isUpdate() {}

// ReassignmentKind distinguishes the two halves of a reassignment.
type ReassignmentKind string

const (
	// ReassignUnassign removes a contract from its source domain.
	ReassignUnassign ReassignmentKind = "unassign"
	// ReassignAssign delivers a contract to its target domain.
	ReassignAssign ReassignmentKind = "assign"
)

// Reassignment is an unassign-from or assign-to event for one contract.
// Assign events may carry the full contract so that a store observing only
// the target domain can materialize it.
type Reassignment struct {
	Kind           ReassignmentKind `json:"kind"`
	ContractID     ContractID       `json:"contract_id"`
	Contract       *Contract        `json:"contract,omitempty"`
	Source         DomainID         `json:"source"`
	Target         DomainID         `json:"target"`
	ReassignmentID string           `json:"reassignment_id"`
	Counter        int64            `json:"counter"`
	Migration      MigrationID      `json:"migration_id"`
	RecordTime     time.Time        `json:"record_time"`
	Offset         Offset           `json:"offset"`
	Seq            int64            `json:"seq"`
}

// Cursor returns the update's ordering key.
func (r *Reassignment) Cursor() Cursor {
	return Cursor{Migration: r.Migration, RecordTime: r.RecordTime, Seq: r.Seq}
}

// Domain returns the domain the event was sequenced on: the source for an
// unassign, the target for an assign.
func (r *Reassignment) Domain() DomainID {
	if r.Kind == ReassignAssign {
		return r.Target
	}
	return r.Source
}

func (*Reassignment) isUpdate() {}
