package domain

import (
	"context"
	"encoding/json"
)

// InsertOutcome reports whether a history append actually inserted a row or
// found the ordering key already recorded. Idempotency decisions are driven
// by this value, not by matching constraint-violation errors.
type InsertOutcome int

const (
	// Inserted means the update was recorded for the first time.
	Inserted InsertOutcome = iota
	// AlreadyPresent means the ordering key was recorded by an earlier
	// ingestion attempt; the append was a no-op.
	AlreadyPresent
)

func (o InsertOutcome) String() string {
	if o == AlreadyPresent {
		return "already-present"
	}
	return "inserted"
}

// TxLogEntry is one derived transaction-log row committed atomically with the
// update it was derived from.
type TxLogEntry struct {
	Cursor Cursor          `json:"cursor"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

// TxLogProjector derives transaction-log entries from an update. A nil
// projector derives none.
type TxLogProjector func(Update) []TxLogEntry

// Store is the full contract implemented by every storage backend: the
// ingestion sink, the update history, the ACS projection and the marker
// keyspace of one logical store instance.
//
// All reads returning a QueryResult take the offset from the same snapshot as
// the row read; a backend must never pair a result with an earlier or later
// watermark.
type Store interface {
	// Descriptor returns the identity the store was opened with.
	Descriptor() StoreDescriptor
	// Migration returns the migration epoch the store is bound to.
	Migration() MigrationID

	// IngestUpdate is the sole write entrypoint. All row mutations derived
	// from one update commit atomically; re-ingesting an already recorded
	// ordering key is absorbed as a no-op. Transient storage failures are
	// returned to the caller, whose blind retry is safe by idempotency.
	IngestUpdate(ctx context.Context, domainID DomainID, u Update) error

	// GetUpdates returns ingested updates strictly after the cursor, ordered
	// by ordering key, bounded by limit. A nil cursor starts from the
	// beginning of history across all migration epochs.
	GetUpdates(ctx context.Context, after *Cursor, limit Limit) ([]Update, error)

	// ListContracts returns currently active contracts of the template,
	// bounded by limit, in insertion order per the sort order.
	ListContracts(ctx context.Context, template TemplateID, limit Limit, order SortOrder) ([]Contract, error)

	// ListContractsPaginated is the cursor-based variant of ListContracts.
	// An empty afterToken starts at the first page; pagination past the end
	// returns an empty page with no next token.
	ListContractsPaginated(ctx context.Context, template TemplateID, afterToken string, pageSize Limit, order SortOrder) (Page, error)

	// ListContractsGroupedBy returns active contracts of the template grouped
	// by the value of a projected index column, capped at limit contracts in
	// total across all groups.
	ListContractsGroupedBy(ctx context.Context, template TemplateID, column string, limit Limit) (map[string][]Contract, error)

	// LookupContractByID returns the active contract with the given id, or a
	// nil value if absent or archived, together with the ingestion offset of
	// the snapshot read.
	LookupContractByID(ctx context.Context, id ContractID) (QueryResult[*Contract], error)

	// LookupContractBy returns at most one active contract of the template
	// whose projected index column equals value, with the snapshot offset.
	LookupContractBy(ctx context.Context, template TemplateID, column, value string) (QueryResult[*Contract], error)

	// ContractState returns the lifecycle state of an active contract, or
	// nil if the contract is unknown or archived.
	ContractState(ctx context.Context, id ContractID) (*ContractState, error)

	// ListTxLog returns derived transaction-log entries strictly after the
	// cursor in ordering-key order.
	ListTxLog(ctx context.Context, after *Cursor, limit Limit) ([]TxLogEntry, error)

	// Watermark returns the ordering key of the last ingested update, or nil
	// when nothing has been ingested for the store's migration epoch.
	Watermark(ctx context.Context) (*Cursor, error)

	// GetMarker reads a bootstrap marker persisted via SetMarker.
	GetMarker(ctx context.Context, key string) (string, bool, error)
	// SetMarker durably records a bootstrap marker.
	SetMarker(ctx context.Context, key, value string) error

	// Close releases the underlying storage handle. It does not delete data.
	Close() error
}
