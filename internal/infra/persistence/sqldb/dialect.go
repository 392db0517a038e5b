package sqldb

import (
	"database/sql"
	"strconv"
	"strings"
)

// Dialect captures the syntax differences between the supported engines. The
// semantics in store.go are identical for both.
type Dialect int

const (
	// DialectSQLite targets the embedded modernc.org/sqlite driver.
	DialectSQLite Dialect = iota
	// DialectPostgres targets PostgreSQL via the pgx stdlib driver.
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders into the engine's native form.
func (d Dialect) rebind(query string) string {
	if d == DialectSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) returningSupported() bool { return d == DialectPostgres }

// readTxOptions returns the options for offset-carrying read transactions.
// Postgres defaults to READ COMMITTED, where every statement takes a fresh
// snapshot; the watermark and the row it is paired with must come from the
// same one, so reads run at REPEATABLE READ there. The sqlite driver gives
// the whole transaction a single snapshot already and rejects isolation
// options.
func (d Dialect) readTxOptions() *sql.TxOptions {
	if d == DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

// jsonExtract returns the expression extracting one key (bound as a query
// argument produced by jsonKeyArg) from a JSON text column.
func (d Dialect) jsonExtract(column string) string {
	if d == DialectPostgres {
		return "(" + column + "::jsonb ->> ?)"
	}
	return "json_extract(" + column + ", ?)"
}

// jsonKeyArg returns the query argument addressing a JSON object key in the
// form jsonExtract expects.
func (d Dialect) jsonKeyArg(key string) string {
	if d == DialectPostgres {
		return key
	}
	return "$." + key
}

// schema returns the DDL statements for the engine. All tables are
// partitioned by store_id; the update_history primary key is the uniqueness
// constraint that makes concurrent ingestion of the same logical store safe.
func (d Dialect) schema() []string {
	idCol := `id INTEGER PRIMARY KEY AUTOINCREMENT`
	if d == DialectPostgres {
		idCol = `id BIGSERIAL PRIMARY KEY`
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS store_descriptors (
			` + idCol + `,
			name TEXT NOT NULL,
			party TEXT NOT NULL,
			participant TEXT NOT NULL,
			version BIGINT NOT NULL,
			keys TEXT NOT NULL,
			UNIQUE(name, party, participant)
		)`,
		`CREATE TABLE IF NOT EXISTS update_history (
			store_id BIGINT NOT NULL,
			migration_id BIGINT NOT NULL,
			record_time BIGINT NOT NULL,
			seq BIGINT NOT NULL,
			domain_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (store_id, migration_id, record_time, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS acs (
			store_id BIGINT NOT NULL,
			migration_id BIGINT NOT NULL,
			contract_id TEXT NOT NULL,
			template_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			state TEXT NOT NULL,
			domain_id TEXT NOT NULL,
			row_seq BIGINT NOT NULL,
			index_cols TEXT NOT NULL,
			PRIMARY KEY (store_id, migration_id, contract_id)
		)`,
		`CREATE INDEX IF NOT EXISTS acs_template_idx ON acs (store_id, migration_id, template_id, state, row_seq)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS acs_row_seq_idx ON acs (store_id, row_seq)`,
		`CREATE TABLE IF NOT EXISTS txlog (
			store_id BIGINT NOT NULL,
			migration_id BIGINT NOT NULL,
			record_time BIGINT NOT NULL,
			seq BIGINT NOT NULL,
			entry_seq BIGINT NOT NULL,
			entry_key TEXT NOT NULL,
			entry_value TEXT NOT NULL,
			PRIMARY KEY (store_id, migration_id, record_time, seq, entry_seq)
		)`,
		`CREATE TABLE IF NOT EXISTS watermarks (
			store_id BIGINT PRIMARY KEY,
			migration_id BIGINT NOT NULL,
			record_time BIGINT NOT NULL,
			seq BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS markers (
			store_id BIGINT NOT NULL,
			marker_key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (store_id, marker_key)
		)`,
	}
}
