// Package memory provides an in-memory implementation of the store contract
// used for tests and ephemeral environments. It implements the full ingestion
// and query semantics without durability.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"splicestore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Store = (*Store)(nil)

// ErrClosed is returned by writes against a closed store.
var ErrClosed = errors.New("memory store: closed")

// Config holds construction parameters for the in-memory store.
type Config struct {
	Descriptor domain.StoreDescriptor
	Migration  domain.MigrationID
	Filter     *domain.ContractFilter
	TxLog      domain.TxLogProjector
	Logger     *slog.Logger
}

type acsRow struct {
	contract domain.Contract
	state    domain.ContractState
	index    map[string]string
	seq      int64
}

// histKey normalizes a cursor into a comparable map key. Record times are
// reduced to UTC nanoseconds so that wall-clock representation differences
// cannot defeat deduplication.
type histKey struct {
	migration int64
	unixNanos int64
	seq       int64
}

func keyOf(c domain.Cursor) histKey {
	return histKey{migration: int64(c.Migration), unixNanos: c.RecordTime.UTC().UnixNano(), seq: c.Seq}
}

type historyRow struct {
	cursor domain.Cursor
	update domain.Update
}

// Store is the in-memory store instance. All state is guarded by one RWMutex;
// reads pairing a result with the watermark take both under the same lock,
// which is what makes the QueryResult offset exact.
type Store struct {
	desc      domain.StoreDescriptor
	migration domain.MigrationID
	filter    *domain.ContractFilter
	txlog     domain.TxLogProjector
	log       *slog.Logger

	mu        sync.RWMutex
	rows      map[domain.ContractID]*acsRow
	rowSeq    int64
	history   []historyRow
	seen      map[histKey]struct{}
	txentries []domain.TxLogEntry
	watermark *domain.Cursor
	markers   map[string]string
	closed    bool
}

// NewStore constructs an empty in-memory store bound to the given identity.
func NewStore(cfg Config) *Store {
	if cfg.Filter == nil {
		cfg.Filter = domain.NewContractFilter()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		desc:      cfg.Descriptor,
		migration: cfg.Migration,
		filter:    cfg.Filter,
		txlog:     cfg.TxLog,
		log:       cfg.Logger,
		rows:      make(map[domain.ContractID]*acsRow),
		seen:      make(map[histKey]struct{}),
		markers:   make(map[string]string),
	}
}

// Descriptor returns the identity the store was opened with.
func (s *Store) Descriptor() domain.StoreDescriptor { return s.desc }

// Migration returns the migration epoch the store is bound to.
func (s *Store) Migration() domain.MigrationID { return s.migration }

// IngestUpdate applies one update atomically: ACS row mutations, history
// append and derived txlog rows all land under a single lock acquisition.
func (s *Store) IngestUpdate(ctx context.Context, domainID domain.DomainID, u domain.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cursor := u.Cursor()
	if _, dup := s.seen[keyOf(cursor)]; dup {
		s.log.Debug("duplicate update absorbed", "cursor", cursor.String())
		return nil
	}
	switch v := u.(type) {
	case *domain.TransactionTree:
		if err := s.applyTransaction(domainID, v); err != nil {
			return err
		}
	case *domain.Reassignment:
		if err := s.applyReassignment(v); err != nil {
			return err
		}
	default:
		return domain.SequencingError{Reason: "unknown update type"}
	}
	s.appendHistory(cursor, u)
	if s.txlog != nil {
		s.txentries = append(s.txentries, s.txlog(u)...)
	}
	s.seen[keyOf(cursor)] = struct{}{}
	if s.watermark == nil || s.watermark.Less(cursor) {
		c := cursor
		s.watermark = &c
	}
	return nil
}

func (s *Store) applyTransaction(domainID domain.DomainID, t *domain.TransactionTree) error {
	for _, ev := range t.Events {
		switch e := ev.(type) {
		case domain.CreatedEvent:
			c := e.Contract
			if !s.filter.Matches(c.Template, c.Payload) {
				continue
			}
			index, err := s.filter.ProjectIndex(c.Template, c.Payload)
			if err != nil {
				return err
			}
			s.rowSeq++
			s.rows[c.ID] = &acsRow{
				contract: c.Clone(),
				state:    domain.ContractState{Kind: domain.StateAssigned, Domain: domainID},
				index:    index,
				seq:      s.rowSeq,
			}
		case domain.ExercisedEvent:
			if e.Consuming {
				delete(s.rows, e.ContractID)
			}
		}
	}
	return nil
}

func (s *Store) applyReassignment(r *domain.Reassignment) error {
	var prev *domain.ContractState
	row := s.rows[r.ContractID]
	if row != nil {
		st := row.state
		prev = &st
	}
	outcome, next, err := domain.EvalReassignment(r, prev)
	switch outcome {
	case domain.ReassignApply:
		row.state = next
	case domain.ReassignMaterialize:
		c := *r.Contract
		if !s.filter.Matches(c.Template, c.Payload) {
			return nil
		}
		index, perr := s.filter.ProjectIndex(c.Template, c.Payload)
		if perr != nil {
			return perr
		}
		s.rowSeq++
		s.rows[c.ID] = &acsRow{contract: c.Clone(), state: next, index: index, seq: s.rowSeq}
		s.log.Warn("contract materialized from assign event",
			"contract_id", r.ContractID, "target", r.Target, "reassignment_id", r.ReassignmentID)
	case domain.ReassignIgnore:
		s.log.Debug("reassignment ignored", "contract_id", r.ContractID, "kind", string(r.Kind))
	case domain.ReassignConflict:
		s.log.Error("reassignment sequencing violation",
			"contract_id", r.ContractID, "reassignment_id", r.ReassignmentID, "err", err)
		return err
	}
	return nil
}

// appendHistory inserts in ordering-key order. The common case is a plain
// append since the source delivers in order.
func (s *Store) appendHistory(cursor domain.Cursor, u domain.Update) {
	n := len(s.history)
	if n == 0 || s.history[n-1].cursor.Less(cursor) {
		s.history = append(s.history, historyRow{cursor: cursor, update: u})
		return
	}
	i := sort.Search(n, func(i int) bool { return cursor.Less(s.history[i].cursor) })
	s.history = append(s.history, historyRow{})
	copy(s.history[i+1:], s.history[i:])
	s.history[i] = historyRow{cursor: cursor, update: u}
}

// GetUpdates returns updates strictly after the cursor in ordering-key order.
func (s *Store) GetUpdates(ctx context.Context, after *domain.Cursor, limit domain.Limit) ([]domain.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Update, 0, limit.Value())
	for _, h := range s.history {
		if after != nil && !after.Less(h.cursor) {
			continue
		}
		out = append(out, h.update)
		if len(out) >= limit.Value() {
			break
		}
	}
	return out, nil
}

func (s *Store) activeRows(template domain.TemplateID) ([]*acsRow, error) {
	if _, ok := s.filter.Handler(template); !ok {
		return nil, domain.TemplateNotRegisteredError{Template: template}
	}
	rows := make([]*acsRow, 0)
	for _, row := range s.rows {
		if row.contract.Template != template || row.state.Kind != domain.StateAssigned {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows, nil
}

// ListContracts returns currently assigned contracts of the template.
func (s *Store) ListContracts(ctx context.Context, template domain.TemplateID, limit domain.Limit, order domain.SortOrder) ([]domain.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.activeRows(template)
	if err != nil {
		return nil, err
	}
	if order == domain.Descending {
		reverse(rows)
	}
	out := make([]domain.Contract, 0, min(len(rows), limit.Value()))
	for _, row := range rows {
		if len(out) >= limit.Value() {
			break
		}
		out = append(out, row.contract.Clone())
	}
	return out, nil
}

// ListContractsPaginated returns one page of assigned contracts. Tokens are
// insertion sequence numbers, so rows inserted between calls never shift
// pages already returned.
func (s *Store) ListContractsPaginated(ctx context.Context, template domain.TemplateID, afterToken string, pageSize domain.Limit, order domain.SortOrder) (domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return domain.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.activeRows(template)
	if err != nil {
		return domain.Page{}, err
	}
	if order == domain.Descending {
		reverse(rows)
	}
	start := 0
	if afterToken != "" {
		afterSeq, err := strconv.ParseInt(afterToken, 10, 64)
		if err != nil {
			return domain.Page{}, domain.InvalidPageTokenError{Token: afterToken}
		}
		for start < len(rows) {
			if order == domain.Descending && rows[start].seq < afterSeq {
				break
			}
			if order != domain.Descending && rows[start].seq > afterSeq {
				break
			}
			start++
		}
	}
	page := domain.Page{}
	for i := start; i < len(rows) && len(page.Contracts) < pageSize.Value(); i++ {
		page.Contracts = append(page.Contracts, rows[i].contract.Clone())
		if len(page.Contracts) == pageSize.Value() && i+1 < len(rows) {
			page.NextToken = strconv.FormatInt(rows[i].seq, 10)
		}
	}
	return page, nil
}

// ListContractsGroupedBy groups assigned contracts by a projected index
// column, capped at limit contracts across all groups.
func (s *Store) ListContractsGroupedBy(ctx context.Context, template domain.TemplateID, column string, limit domain.Limit) (map[string][]domain.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.activeRows(template)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.Contract)
	total := 0
	for _, row := range rows {
		key, ok := row.index[column]
		if !ok {
			continue
		}
		if total >= limit.Value() {
			break
		}
		out[key] = append(out[key], row.contract.Clone())
		total++
	}
	return out, nil
}

// LookupContractByID returns the live contract with the given id and the
// snapshot watermark, both taken under the same lock.
func (s *Store) LookupContractByID(ctx context.Context, id domain.ContractID) (domain.QueryResult[*domain.Contract], error) {
	if err := ctx.Err(); err != nil {
		return domain.QueryResult[*domain.Contract]{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := domain.QueryResult[*domain.Contract]{Offset: s.watermarkCopy()}
	if row, ok := s.rows[id]; ok {
		c := row.contract.Clone()
		res.Value = &c
	}
	return res, nil
}

// LookupContractBy returns at most one assigned contract whose projected
// index column equals value, with the snapshot watermark.
func (s *Store) LookupContractBy(ctx context.Context, template domain.TemplateID, column, value string) (domain.QueryResult[*domain.Contract], error) {
	if err := ctx.Err(); err != nil {
		return domain.QueryResult[*domain.Contract]{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.activeRows(template)
	if err != nil {
		return domain.QueryResult[*domain.Contract]{}, err
	}
	res := domain.QueryResult[*domain.Contract]{Offset: s.watermarkCopy()}
	for _, row := range rows {
		if row.index[column] == value {
			c := row.contract.Clone()
			res.Value = &c
			break
		}
	}
	return res, nil
}

// ContractState returns the lifecycle state of a live contract, nil when the
// contract is unknown or archived.
func (s *Store) ContractState(ctx context.Context, id domain.ContractID) (*domain.ContractState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	st := row.state
	return &st, nil
}

// ListTxLog returns derived txlog entries strictly after the cursor.
func (s *Store) ListTxLog(ctx context.Context, after *domain.Cursor, limit domain.Limit) ([]domain.TxLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TxLogEntry, 0, limit.Value())
	for _, e := range s.txentries {
		if after != nil && !after.Less(e.Cursor) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit.Value() {
			break
		}
	}
	return out, nil
}

// Watermark returns the ordering key of the last ingested update.
func (s *Store) Watermark(ctx context.Context) (*domain.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarkCopy(), nil
}

func (s *Store) watermarkCopy() *domain.Cursor {
	if s.watermark == nil {
		return nil
	}
	c := *s.watermark
	return &c
}

// GetMarker reads a bootstrap marker.
func (s *Store) GetMarker(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.markers[key]
	return v, ok, nil
}

// SetMarker records a bootstrap marker.
func (s *Store) SetMarker(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.markers[key] = value
	return nil
}

// Close stops accepting writes. Reads keep observing the last committed state.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func reverse(rows []*acsRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
