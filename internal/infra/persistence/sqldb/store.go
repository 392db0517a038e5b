// Package sqldb implements the store contract over database/sql. It carries
// the semantics shared by the sqlite and postgres backends: one schema, one
// ingestion transaction shape, one dialect seam for the syntax that differs.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"splicestore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Store = (*Store)(nil)

// Config holds construction parameters shared by the SQL backends.
type Config struct {
	Descriptor domain.StoreDescriptor
	Migration  domain.MigrationID
	Filter     *domain.ContractFilter
	TxLog      domain.TxLogProjector
	Logger     *slog.Logger
	// OnReset is invoked after a descriptor mismatch dropped the persisted
	// rows. Optional.
	OnReset func()
}

// Store is a SQL-backed store instance. It owns the database handle and
// closes it on Close. All rows are partitioned by the store id resolved from
// the persisted descriptor, so any number of store instances may share one
// database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	desc    domain.StoreDescriptor
	mig     domain.MigrationID
	filter  *domain.ContractFilter
	txlog   domain.TxLogProjector
	log     *slog.Logger
	onReset func()
	storeID int64
}

// Open applies the schema, resolves the store id from the persisted
// descriptor (resetting all persisted rows on a descriptor mismatch) and
// returns the ready store. The caller transfers ownership of db.
func Open(db *sql.DB, dialect Dialect, cfg Config) (*Store, error) {
	if cfg.Filter == nil {
		cfg.Filter = domain.NewContractFilter()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range dialect.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		desc:    cfg.Descriptor,
		mig:     cfg.Migration,
		filter:  cfg.Filter,
		txlog:   cfg.TxLog,
		log:     cfg.Logger,
		onReset: cfg.OnReset,
	}
	if err := s.resolveStoreID(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Descriptor returns the identity the store was opened with.
func (s *Store) Descriptor() domain.StoreDescriptor { return s.desc }

// Migration returns the migration epoch the store is bound to.
func (s *Store) Migration() domain.MigrationID { return s.mig }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// StoreID exposes the resolved row-partition key for integration tests.
func (s *Store) StoreID() int64 { return s.storeID }

// Close releases the database handle. It does not delete data.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) resolveStoreID(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin descriptor tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		id       int64
		version  int
		keysJSON string
		reset    bool
	)
	q := s.dialect.rebind(`SELECT id, version, keys FROM store_descriptors WHERE name = ? AND party = ? AND participant = ?`)
	err = tx.QueryRowContext(ctx, q, s.desc.Name, string(s.desc.Party), s.desc.Participant).Scan(&id, &version, &keysJSON)
	switch {
	case err == sql.ErrNoRows:
		id, err = s.insertDescriptor(ctx, tx)
		if err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("load descriptor: %w", err)
	default:
		var keys map[string]string
		if err := json.Unmarshal([]byte(keysJSON), &keys); err != nil {
			return fmt.Errorf("decode descriptor keys: %w", err)
		}
		persisted := s.desc
		persisted.Version = version
		persisted.Keys = keys
		if !persisted.Equal(s.desc) {
			// Incompatible prior incarnation. The ledger is the source of
			// truth, so the projection is rebuildable, but this drops every
			// persisted row for the store and must be impossible to miss in
			// the logs.
			s.log.Error("store descriptor mismatch, resetting persisted data",
				"store", s.desc.Identity(),
				"persisted_version", version,
				"requested_version", s.desc.Version)
			if err := s.resetStoreData(ctx, tx, id); err != nil {
				return err
			}
			reset = true
			keysOut, err := json.Marshal(s.desc.Keys)
			if err != nil {
				return fmt.Errorf("encode descriptor keys: %w", err)
			}
			uq := s.dialect.rebind(`UPDATE store_descriptors SET version = ?, keys = ? WHERE id = ?`)
			if _, err := tx.ExecContext(ctx, uq, s.desc.Version, string(keysOut), id); err != nil {
				return fmt.Errorf("update descriptor: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit descriptor tx: %w", err)
	}
	committed = true
	if reset && s.onReset != nil {
		s.onReset()
	}
	s.storeID = id
	return nil
}

func (s *Store) insertDescriptor(ctx context.Context, tx *sql.Tx) (int64, error) {
	keysOut, err := json.Marshal(s.desc.Keys)
	if err != nil {
		return 0, fmt.Errorf("encode descriptor keys: %w", err)
	}
	if s.dialect.returningSupported() {
		q := s.dialect.rebind(`INSERT INTO store_descriptors(name, party, participant, version, keys) VALUES(?, ?, ?, ?, ?) RETURNING id`)
		var id int64
		if err := tx.QueryRowContext(ctx, q, s.desc.Name, string(s.desc.Party), s.desc.Participant, s.desc.Version, string(keysOut)).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert descriptor: %w", err)
		}
		return id, nil
	}
	q := s.dialect.rebind(`INSERT INTO store_descriptors(name, party, participant, version, keys) VALUES(?, ?, ?, ?, ?)`)
	res, err := tx.ExecContext(ctx, q, s.desc.Name, string(s.desc.Party), s.desc.Participant, s.desc.Version, string(keysOut))
	if err != nil {
		return 0, fmt.Errorf("insert descriptor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("descriptor id: %w", err)
	}
	return id, nil
}

func (s *Store) resetStoreData(ctx context.Context, tx *sql.Tx, id int64) error {
	for _, table := range []string{"acs", "update_history", "txlog", "watermarks", "markers"} {
		q := s.dialect.rebind(`DELETE FROM ` + table + ` WHERE store_id = ?`)
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// IngestUpdate applies one update in a single transaction: history append,
// ACS row mutations, derived txlog rows and the watermark all commit
// together. A history append hitting an already recorded ordering key makes
// the whole update a no-op; the duplicate is absorbed, not surfaced.
func (s *Store) IngestUpdate(ctx context.Context, domainID domain.DomainID, u domain.Update) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	cursor := u.Cursor()
	outcome, err := s.appendHistory(ctx, tx, domainID, u)
	if err != nil {
		return err
	}
	if outcome == domain.AlreadyPresent {
		s.log.Debug("duplicate update absorbed", "cursor", cursor.String())
		return tx.Commit()
	}

	switch v := u.(type) {
	case *domain.TransactionTree:
		err = s.applyTransaction(ctx, tx, domainID, v)
	case *domain.Reassignment:
		err = s.applyReassignment(ctx, tx, v)
	default:
		err = domain.SequencingError{Reason: "unknown update type"}
	}
	if err != nil {
		return err
	}

	if s.txlog != nil {
		for i, entry := range s.txlog(u) {
			value := entry.Value
			if value == nil {
				value = json.RawMessage("null")
			}
			q := s.dialect.rebind(`INSERT INTO txlog(store_id, migration_id, record_time, seq, entry_seq, entry_key, entry_value) VALUES(?, ?, ?, ?, ?, ?, ?)`)
			if _, err := tx.ExecContext(ctx, q,
				s.storeID, int64(entry.Cursor.Migration), entry.Cursor.RecordTime.UTC().UnixNano(), entry.Cursor.Seq,
				i, entry.Key, string(value)); err != nil {
				return fmt.Errorf("insert txlog entry: %w", err)
			}
		}
	}

	// The guard keeps the watermark monotonic when an older-keyed update is
	// re-delivered after newer ones already committed.
	wq := s.dialect.rebind(`INSERT INTO watermarks(store_id, migration_id, record_time, seq) VALUES(?, ?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET migration_id = excluded.migration_id, record_time = excluded.record_time, seq = excluded.seq
		WHERE (excluded.migration_id, excluded.record_time, excluded.seq) > (watermarks.migration_id, watermarks.record_time, watermarks.seq)`)
	if _, err := tx.ExecContext(ctx, wq, s.storeID, int64(cursor.Migration), cursor.RecordTime.UTC().UnixNano(), cursor.Seq); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest tx: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) appendHistory(ctx context.Context, tx *sql.Tx, domainID domain.DomainID, u domain.Update) (domain.InsertOutcome, error) {
	payload, err := domain.EncodeUpdate(u)
	if err != nil {
		return domain.Inserted, err
	}
	kind := "transaction"
	if _, ok := u.(*domain.Reassignment); ok {
		kind = "reassignment"
	}
	cursor := u.Cursor()
	q := s.dialect.rebind(`INSERT INTO update_history(store_id, migration_id, record_time, seq, domain_id, kind, payload)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, migration_id, record_time, seq) DO NOTHING`)
	res, err := tx.ExecContext(ctx, q,
		s.storeID, int64(cursor.Migration), cursor.RecordTime.UTC().UnixNano(), cursor.Seq,
		string(domainID), kind, string(payload))
	if err != nil {
		return domain.Inserted, fmt.Errorf("append history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Inserted, fmt.Errorf("append history outcome: %w", err)
	}
	if n == 0 {
		return domain.AlreadyPresent, nil
	}
	return domain.Inserted, nil
}

func (s *Store) applyTransaction(ctx context.Context, tx *sql.Tx, domainID domain.DomainID, t *domain.TransactionTree) error {
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
			if err := s.insertRow(ctx, tx, c, domain.ContractState{Kind: domain.StateAssigned, Domain: domainID}, index); err != nil {
				return err
			}
		case domain.ExercisedEvent:
			if !e.Consuming {
				continue
			}
			q := s.dialect.rebind(`DELETE FROM acs WHERE store_id = ? AND migration_id = ? AND contract_id = ?`)
			if _, err := tx.ExecContext(ctx, q, s.storeID, int64(s.mig), string(e.ContractID)); err != nil {
				return fmt.Errorf("archive contract: %w", err)
			}
		}
	}
	return nil
}

func (s *Store) insertRow(ctx context.Context, tx *sql.Tx, c domain.Contract, state domain.ContractState, index map[string]string) error {
	indexOut, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode index columns: %w", err)
	}
	var rowSeq int64
	sq := s.dialect.rebind(`SELECT COALESCE(MAX(row_seq), 0) FROM acs WHERE store_id = ?`)
	if err := tx.QueryRowContext(ctx, sq, s.storeID).Scan(&rowSeq); err != nil {
		return fmt.Errorf("next row seq: %w", err)
	}
	q := s.dialect.rebind(`INSERT INTO acs(store_id, migration_id, contract_id, template_id, payload, created_at, state, domain_id, row_seq, index_cols)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, migration_id, contract_id) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, q,
		s.storeID, int64(s.mig), string(c.ID), string(c.Template), string(c.Payload),
		c.CreatedAt.UTC().UnixNano(), string(state.Kind), string(state.Domain), rowSeq+1, string(indexOut)); err != nil {
		return fmt.Errorf("insert acs row: %w", err)
	}
	return nil
}

func (s *Store) applyReassignment(ctx context.Context, tx *sql.Tx, r *domain.Reassignment) error {
	var prev *domain.ContractState
	var stateKind, stateDomain string
	q := s.dialect.rebind(`SELECT state, domain_id FROM acs WHERE store_id = ? AND migration_id = ? AND contract_id = ?`)
	err := tx.QueryRowContext(ctx, q, s.storeID, int64(s.mig), string(r.ContractID)).Scan(&stateKind, &stateDomain)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("load contract state: %w", err)
	default:
		prev = &domain.ContractState{Kind: domain.StateKind(stateKind), Domain: domain.DomainID(stateDomain)}
	}
	outcome, next, err := domain.EvalReassignment(r, prev)
	switch outcome {
	case domain.ReassignApply:
		uq := s.dialect.rebind(`UPDATE acs SET state = ?, domain_id = ? WHERE store_id = ? AND migration_id = ? AND contract_id = ?`)
		if _, err := tx.ExecContext(ctx, uq, string(next.Kind), string(next.Domain), s.storeID, int64(s.mig), string(r.ContractID)); err != nil {
			return fmt.Errorf("update contract state: %w", err)
		}
	case domain.ReassignMaterialize:
		c := *r.Contract
		if !s.filter.Matches(c.Template, c.Payload) {
			return nil
		}
		index, perr := s.filter.ProjectIndex(c.Template, c.Payload)
		if perr != nil {
			return perr
		}
		if err := s.insertRow(ctx, tx, c, next, index); err != nil {
			return err
		}
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

// cursorArgs expands a strictly-greater-than comparison on the 3-part
// ordering key into portable SQL.
const cursorAfterCond = `(migration_id > ? OR (migration_id = ? AND (record_time > ? OR (record_time = ? AND seq > ?))))`

func cursorArgs(c *domain.Cursor) []any {
	nanos := c.RecordTime.UTC().UnixNano()
	return []any{int64(c.Migration), int64(c.Migration), nanos, nanos, c.Seq}
}

// GetUpdates returns updates strictly after the cursor in ordering-key order,
// spanning migration epochs.
func (s *Store) GetUpdates(ctx context.Context, after *domain.Cursor, limit domain.Limit) ([]domain.Update, error) {
	query := `SELECT payload FROM update_history WHERE store_id = ?`
	args := []any{s.storeID}
	if after != nil {
		query += ` AND ` + cursorAfterCond
		args = append(args, cursorArgs(after)...)
	}
	query += ` ORDER BY migration_id, record_time, seq LIMIT ?`
	args = append(args, limit.Value())
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select updates: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Update
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		u, err := domain.DecodeUpdate(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return out, nil
}

func (s *Store) requireTemplate(template domain.TemplateID) error {
	if _, ok := s.filter.Handler(template); !ok {
		return domain.TemplateNotRegisteredError{Template: template}
	}
	return nil
}

func scanContract(rows interface{ Scan(...any) error }) (domain.Contract, int64, error) {
	var (
		c         domain.Contract
		id, tmpl  string
		payload   []byte
		createdAt int64
		rowSeq    int64
	)
	if err := rows.Scan(&id, &tmpl, &payload, &createdAt, &rowSeq); err != nil {
		return domain.Contract{}, 0, err
	}
	c.ID = domain.ContractID(id)
	c.Template = domain.TemplateID(tmpl)
	c.Payload = json.RawMessage(payload)
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return c, rowSeq, nil
}

const contractCols = `contract_id, template_id, payload, created_at, row_seq`

// ListContracts returns currently assigned contracts of the template.
func (s *Store) ListContracts(ctx context.Context, template domain.TemplateID, limit domain.Limit, order domain.SortOrder) ([]domain.Contract, error) {
	if err := s.requireTemplate(template); err != nil {
		return nil, err
	}
	dir := "ASC"
	if order == domain.Descending {
		dir = "DESC"
	}
	q := s.dialect.rebind(`SELECT ` + contractCols + ` FROM acs
		WHERE store_id = ? AND migration_id = ? AND template_id = ? AND state = ?
		ORDER BY row_seq ` + dir + ` LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, s.storeID, int64(s.mig), string(template), string(domain.StateAssigned), limit.Value())
	if err != nil {
		return nil, fmt.Errorf("select contracts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Contract
	for rows.Next() {
		c, _, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contracts: %w", err)
	}
	return out, nil
}

// ListContractsPaginated returns one page of assigned contracts keyed by the
// insertion sequence, so concurrent inserts never shift pages already
// returned.
func (s *Store) ListContractsPaginated(ctx context.Context, template domain.TemplateID, afterToken string, pageSize domain.Limit, order domain.SortOrder) (domain.Page, error) {
	if err := s.requireTemplate(template); err != nil {
		return domain.Page{}, err
	}
	query := `SELECT ` + contractCols + ` FROM acs
		WHERE store_id = ? AND migration_id = ? AND template_id = ? AND state = ?`
	args := []any{s.storeID, int64(s.mig), string(template), string(domain.StateAssigned)}
	dir := "ASC"
	cmp := ">"
	if order == domain.Descending {
		dir = "DESC"
		cmp = "<"
	}
	if afterToken != "" {
		afterSeq, err := strconv.ParseInt(afterToken, 10, 64)
		if err != nil {
			return domain.Page{}, domain.InvalidPageTokenError{Token: afterToken}
		}
		query += ` AND row_seq ` + cmp + ` ?`
		args = append(args, afterSeq)
	}
	query += ` ORDER BY row_seq ` + dir + ` LIMIT ?`
	args = append(args, pageSize.Value()+1)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return domain.Page{}, fmt.Errorf("select page: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var (
		page    domain.Page
		lastSeq int64
		more    bool
	)
	for rows.Next() {
		c, seq, err := scanContract(rows)
		if err != nil {
			return domain.Page{}, fmt.Errorf("scan contract: %w", err)
		}
		if len(page.Contracts) == pageSize.Value() {
			more = true
			break
		}
		page.Contracts = append(page.Contracts, c)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, fmt.Errorf("iterate page: %w", err)
	}
	if more {
		page.NextToken = strconv.FormatInt(lastSeq, 10)
	}
	return page, nil
}

// ListContractsGroupedBy groups assigned contracts by a projected index
// column, capped at limit contracts across all groups.
func (s *Store) ListContractsGroupedBy(ctx context.Context, template domain.TemplateID, column string, limit domain.Limit) (map[string][]domain.Contract, error) {
	if err := s.requireTemplate(template); err != nil {
		return nil, err
	}
	expr := s.dialect.jsonExtract("index_cols")
	q := s.dialect.rebind(`SELECT ` + contractCols + `, ` + expr + ` FROM acs
		WHERE store_id = ? AND migration_id = ? AND template_id = ? AND state = ? AND ` + expr + ` IS NOT NULL
		ORDER BY row_seq ASC LIMIT ?`)
	key := s.dialect.jsonKeyArg(column)
	rows, err := s.db.QueryContext(ctx, q, key, s.storeID, int64(s.mig), string(template), string(domain.StateAssigned), key, limit.Value())
	if err != nil {
		return nil, fmt.Errorf("select grouped contracts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string][]domain.Contract)
	for rows.Next() {
		var (
			c         domain.Contract
			id, tmpl  string
			payload   []byte
			createdAt int64
			rowSeq    int64
			group     string
		)
		if err := rows.Scan(&id, &tmpl, &payload, &createdAt, &rowSeq, &group); err != nil {
			return nil, fmt.Errorf("scan grouped contract: %w", err)
		}
		c.ID = domain.ContractID(id)
		c.Template = domain.TemplateID(tmpl)
		c.Payload = json.RawMessage(payload)
		c.CreatedAt = time.Unix(0, createdAt).UTC()
		out[group] = append(out[group], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grouped contracts: %w", err)
	}
	return out, nil
}

// readWatermark loads the watermark within the given transaction so lookup
// results and their offset come from one snapshot.
func (s *Store) readWatermark(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (*domain.Cursor, error) {
	var (
		mig   int64
		nanos int64
		seq   int64
	)
	query := s.dialect.rebind(`SELECT migration_id, record_time, seq FROM watermarks WHERE store_id = ?`)
	err := q.QueryRowContext(ctx, query, s.storeID).Scan(&mig, &nanos, &seq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	return &domain.Cursor{Migration: domain.MigrationID(mig), RecordTime: time.Unix(0, nanos).UTC(), Seq: seq}, nil
}

// LookupContractByID returns the live contract with the given id paired with
// the ingestion offset of the same transaction snapshot.
func (s *Store) LookupContractByID(ctx context.Context, id domain.ContractID) (domain.QueryResult[*domain.Contract], error) {
	var res domain.QueryResult[*domain.Contract]
	err := s.inReadTx(ctx, func(tx *sql.Tx) error {
		wm, err := s.readWatermark(ctx, tx)
		if err != nil {
			return err
		}
		res.Offset = wm
		q := s.dialect.rebind(`SELECT ` + contractCols + ` FROM acs WHERE store_id = ? AND migration_id = ? AND contract_id = ?`)
		c, _, err := scanContract(tx.QueryRowContext(ctx, q, s.storeID, int64(s.mig), string(id)))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup contract: %w", err)
		}
		res.Value = &c
		return nil
	})
	return res, err
}

// LookupContractBy returns at most one assigned contract whose projected
// index column equals value, with the snapshot offset.
func (s *Store) LookupContractBy(ctx context.Context, template domain.TemplateID, column, value string) (domain.QueryResult[*domain.Contract], error) {
	var res domain.QueryResult[*domain.Contract]
	if err := s.requireTemplate(template); err != nil {
		return res, err
	}
	err := s.inReadTx(ctx, func(tx *sql.Tx) error {
		wm, err := s.readWatermark(ctx, tx)
		if err != nil {
			return err
		}
		res.Offset = wm
		expr := s.dialect.jsonExtract("index_cols")
		q := s.dialect.rebind(`SELECT ` + contractCols + ` FROM acs
			WHERE store_id = ? AND migration_id = ? AND template_id = ? AND state = ? AND ` + expr + ` = ?
			ORDER BY row_seq ASC LIMIT 1`)
		c, _, err := scanContract(tx.QueryRowContext(ctx, q,
			s.storeID, int64(s.mig), string(template), string(domain.StateAssigned), s.dialect.jsonKeyArg(column), value))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup contract by %s: %w", column, err)
		}
		res.Value = &c
		return nil
	})
	return res, err
}

func (s *Store) inReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.readTxOptions())
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit read tx: %w", err)
	}
	return nil
}

// ContractState returns the lifecycle state of a live contract, nil when the
// contract is unknown or archived.
func (s *Store) ContractState(ctx context.Context, id domain.ContractID) (*domain.ContractState, error) {
	var stateKind, stateDomain string
	q := s.dialect.rebind(`SELECT state, domain_id FROM acs WHERE store_id = ? AND migration_id = ? AND contract_id = ?`)
	err := s.db.QueryRowContext(ctx, q, s.storeID, int64(s.mig), string(id)).Scan(&stateKind, &stateDomain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load contract state: %w", err)
	}
	return &domain.ContractState{Kind: domain.StateKind(stateKind), Domain: domain.DomainID(stateDomain)}, nil
}

// ListTxLog returns derived txlog entries strictly after the cursor.
func (s *Store) ListTxLog(ctx context.Context, after *domain.Cursor, limit domain.Limit) ([]domain.TxLogEntry, error) {
	query := `SELECT migration_id, record_time, seq, entry_key, entry_value FROM txlog WHERE store_id = ?`
	args := []any{s.storeID}
	if after != nil {
		query += ` AND ` + cursorAfterCond
		args = append(args, cursorArgs(after)...)
	}
	query += ` ORDER BY migration_id, record_time, seq, entry_seq LIMIT ?`
	args = append(args, limit.Value())
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select txlog: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.TxLogEntry
	for rows.Next() {
		var (
			mig, nanos, seq int64
			key             string
			value           []byte
		)
		if err := rows.Scan(&mig, &nanos, &seq, &key, &value); err != nil {
			return nil, fmt.Errorf("scan txlog entry: %w", err)
		}
		out = append(out, domain.TxLogEntry{
			Cursor: domain.Cursor{Migration: domain.MigrationID(mig), RecordTime: time.Unix(0, nanos).UTC(), Seq: seq},
			Key:    key,
			Value:  json.RawMessage(value),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate txlog: %w", err)
	}
	return out, nil
}

// Watermark returns the ordering key of the last ingested update.
func (s *Store) Watermark(ctx context.Context) (*domain.Cursor, error) {
	return s.readWatermark(ctx, s.db)
}

// GetMarker reads a bootstrap marker.
func (s *Store) GetMarker(ctx context.Context, key string) (string, bool, error) {
	var value string
	q := s.dialect.rebind(`SELECT value FROM markers WHERE store_id = ? AND marker_key = ?`)
	err := s.db.QueryRowContext(ctx, q, s.storeID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load marker: %w", err)
	}
	return value, true, nil
}

// SetMarker durably records a bootstrap marker.
func (s *Store) SetMarker(ctx context.Context, key, value string) error {
	q := s.dialect.rebind(`INSERT INTO markers(store_id, marker_key, value) VALUES(?, ?, ?)
		ON CONFLICT(store_id, marker_key) DO UPDATE SET value = excluded.value`)
	if _, err := s.db.ExecContext(ctx, q, s.storeID, key, value); err != nil {
		return fmt.Errorf("set marker: %w", err)
	}
	return nil
}
