package topicache

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the backing database flavor.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

func (d Dialect) known() bool {
	switch d {
	case DialectSQLite, DialectPostgres, DialectMySQL:
		return true
	}
	return false
}

// driverName maps the dialect onto the registered database/sql driver.
func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// ph renders the i-th statement placeholder.
// Placeholders must be positional for postgres.
func (d Dialect) ph(i int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (d Dialect) createTableSQL(table string) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY NOT NULL,
			v BYTEA NOT NULL,
			created_at BIGINT NOT NULL DEFAULT (extract(epoch from now())::bigint),
			expiry BIGINT NOT NULL,
			ttl BIGINT NOT NULL
		);`, table)
	case DialectMySQL:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k VARCHAR(255) PRIMARY KEY NOT NULL,
			v LONGBLOB NOT NULL,
			created_at BIGINT NOT NULL,
			expiry BIGINT NOT NULL,
			ttl BIGINT NOT NULL
		) ENGINE=InnoDB;`, table)
	default: // sqlite
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY NOT NULL,
			v BLOB NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (cast(strftime('%%s', 'now') as integer)),
			expiry INTEGER NOT NULL,
			ttl INTEGER NOT NULL
		);`, table)
	}
}

// maxIdentifierLen is the identifier byte limit the dialect enforces.
// Zero means no practical limit.
func (d Dialect) maxIdentifierLen() int {
	switch d {
	case DialectPostgres:
		return 63
	case DialectMySQL:
		return 64
	default:
		return 0
	}
}

// createExpiryIndexSQL makes the GC sweep a range scan instead of a full scan.
func (d Dialect) createExpiryIndexSQL(table string) string {
	if d == DialectMySQL {
		// MySQL has no CREATE INDEX IF NOT EXISTS; callers must treat a
		// duplicate-name error as success.
		return fmt.Sprintf("CREATE INDEX %s%s ON %s (expiry)", table, expiryIndexSuffix, table)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s%s ON %s (expiry)", table, expiryIndexSuffix, table)
}

func (d Dialect) isDuplicateIndexErr(err error) bool {
	if d != DialectMySQL || err == nil {
		return false
	}
	return strings.Contains(err.Error(), "Duplicate key name")
}

func (d Dialect) upsertSQL(table string) string {
	p1, p2, p3, p4, p5 := d.ph(1), d.ph(2), d.ph(3), d.ph(4), d.ph(5)
	insert := fmt.Sprintf("INSERT INTO %s (k, v, created_at, expiry, ttl) VALUES (%s, %s, %s, %s, %s)",
		table, p1, p2, p3, p4, p5)
	if d == DialectMySQL {
		return insert + " ON DUPLICATE KEY UPDATE v = VALUES(v), created_at = VALUES(created_at), expiry = VALUES(expiry), ttl = VALUES(ttl)"
	}
	return insert + " ON CONFLICT(k) DO UPDATE SET v = excluded.v, created_at = excluded.created_at, expiry = excluded.expiry, ttl = excluded.ttl"
}

func (d Dialect) getSQL(table string) string {
	return fmt.Sprintf("SELECT v, created_at, ttl FROM %s WHERE k = %s", table, d.ph(1))
}

func (d Dialect) deleteSQL(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE k = %s", table, d.ph(1))
}

func (d Dialect) updateExpirySQL(table string) string {
	return fmt.Sprintf("UPDATE %s SET expiry = %s WHERE k = %s", table, d.ph(1), d.ph(2))
}

func (d Dialect) deleteExpiredSQL(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE expiry < %s", table, d.ph(1))
}

// listTopicTablesSQL enumerates every provisioned topic table, including
// tables created by previous processes against the same database.
func (d Dialect) listTopicTablesSQL() string {
	switch d {
	case DialectPostgres:
		return "SELECT tablename FROM pg_tables WHERE schemaname = current_schema() AND tablename LIKE 'topic_%'"
	case DialectMySQL:
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name LIKE 'topic_%'"
	default:
		return "SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'topic_%'"
	}
}
