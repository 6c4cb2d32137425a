// Package index keeps a relational mirror of the append-only logs for point
// and range queries. The JSONL files stay authoritative; every operation here
// is reconstructible via Rebuild.
package index

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"ledgerflow/internal/storage"
)

// SchemaVersion is the integer schema version stamped into the meta table.
const SchemaVersion = 1

// Store wraps the index database. The driver is picked from the DSN: a
// postgres:// DSN uses the pgx stdlib driver, anything else is treated as a
// sqlite file path.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects and ensures the schema. dsn is either a filesystem path to
// the sqlite database or a postgres:// URL.
func Open(dsn string) (*Store, error) {
	driver := "sqlite3"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
	}
	if driver == "sqlite3" {
		if err := storage.EnsureDir(filepath.Dir(dsn)); err != nil {
			return nil, err
		}
		dsn = "file:" + dsn + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if driver == "sqlite3" {
		// The queue is single-writer; one connection avoids lock churn.
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, driver: driver}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for the pgx driver.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(query string, args ...any) error {
	_, err := s.db.Exec(s.rebind(query), args...)
	return err
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		doc_id TEXT PRIMARY KEY,
		source_type TEXT,
		sha256 TEXT,
		original_path TEXT,
		stored_path TEXT,
		size BIGINT,
		added_at TEXT,
		raw_json TEXT NOT NULL,
		indexed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		tx_id TEXT PRIMARY KEY,
		source_type TEXT,
		source_doc_id TEXT,
		source_hash TEXT,
		occurred_at TEXT,
		posted_at TEXT,
		month TEXT,
		amount_value TEXT,
		currency TEXT,
		direction TEXT,
		merchant TEXT,
		category_id TEXT,
		raw_json TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS corrections (
		event_id TEXT PRIMARY KEY,
		tx_id TEXT,
		event_type TEXT,
		at TEXT,
		raw_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sources_sha256 ON sources (sha256)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_source_doc_hash ON transactions (source_doc_id, source_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_occurred_at ON transactions (occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_month ON transactions (month)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_category ON transactions (category_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_source_type ON transactions (source_type)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_deleted ON transactions (is_deleted)`,
	`CREATE INDEX IF NOT EXISTS idx_corr_tx_id ON corrections (tx_id)`,
}

func (s *Store) ensureSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("index schema: %w", err)
		}
	}
	return s.exec(
		`INSERT INTO meta(key, value) VALUES('index_schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		strconv.Itoa(SchemaVersion),
	)
}
