package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBPair holds separate read and write connections for SQLite.
// With WAL mode, readers don't block writers and vice versa.
type DBPair struct {
	reader *sql.DB // Multiple connections for concurrent reads
	writer *sql.DB // Single connection for serialized writes
}

// Reader returns the read-only database connection pool.
func (p *DBPair) Reader() *sql.DB { return p.reader }

// Writer returns the read-write database connection pool.
func (p *DBPair) Writer() *sql.DB { return p.writer }

// Ping checks that both pools can reach the database file.
func (p *DBPair) Ping(ctx context.Context) error {
	if err := p.writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if err := p.reader.PingContext(ctx); err != nil {
		return fmt.Errorf("ping reader: %w", err)
	}
	return nil
}

// Close closes both database connections.
func (p *DBPair) Close() error {
	return errors.Join(
		wrapClose("reader", p.reader.Close()),
		wrapClose("writer", p.writer.Close()),
	)
}

func wrapClose(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("close %s: %w", name, err)
}

// Init opens the SQLite database, applies the schema and runs migrations.
func Init(dbPath string) (*DBPair, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	writerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=rwc", dbPath)
	writer, err := sql.Open("sqlite3", writerConnStr)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := writer.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := runMigrations(writer); err != nil {
		writer.Close()
		return nil, err
	}

	// The reader opens after the schema exists; mode=ro cannot create the file.
	readerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=ro", dbPath)
	reader, err := sql.Open("sqlite3", readerConnStr)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	return &DBPair{reader: reader, writer: writer}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// columnMigration adds a column that older databases are missing.
type columnMigration struct {
	table  string
	column string
	ddl    string
	after  []string
}

var columnMigrations = []columnMigration{
	{
		table:  "users",
		column: "platforms_json",
		ddl:    "ALTER TABLE users ADD COLUMN platforms_json TEXT NOT NULL DEFAULT '[]'",
	},
	{
		table:  "content_items",
		column: "title_normalized",
		ddl:    "ALTER TABLE content_items ADD COLUMN title_normalized TEXT NOT NULL DEFAULT ''",
		after: []string{
			"CREATE INDEX IF NOT EXISTS idx_content_items_title_normalized ON content_items(title_normalized)",
		},
	},
	{
		table:  "processing_jobs",
		column: "claimed_at",
		ddl:    "ALTER TABLE processing_jobs ADD COLUMN claimed_at TEXT",
	},
	{
		table:  "user_subscriptions",
		column: "cancel_at_period_end",
		ddl:    "ALTER TABLE user_subscriptions ADD COLUMN cancel_at_period_end INTEGER NOT NULL DEFAULT 0",
	},
}

func runMigrations(db *sql.DB) error {
	for _, migration := range columnMigrations {
		columns, err := tableColumns(db, migration.table)
		if err != nil {
			return err
		}
		if columns[migration.column] {
			continue
		}
		if _, err := db.Exec(migration.ddl); err != nil {
			return fmt.Errorf("add %s.%s: %w", migration.table, migration.column, err)
		}
		for _, stmt := range migration.after {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate %s.%s: %w", migration.table, migration.column, err)
			}
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	columns := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}
