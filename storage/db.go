package storage

import (
	"context"
	"embed"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/auditmos/devlogger/storage/migrations"
)

//go:embed migrations/*.go
var embedMigrations embed.FS

// DefaultTable is the log table used when none is configured.
const DefaultTable = "developer_logs"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name can be interpolated into SQL as an
// identifier.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// OpenDB opens the SQLite database at dsn and migrates the log table.
// An empty table means DefaultTable.
func OpenDB(dsn, table string) (*sqlx.DB, error) {
	if table == "" {
		table = DefaultTable
	}
	if !ValidTableName(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sqlx.Connect("sqlite", buildDSN(dsn))
	if err != nil {
		return nil, storageError("open db", err)
	}

	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := Migrate(context.Background(), db, table); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func OpenMemoryDB(table string) (*sqlx.DB, error) {
	return OpenDB(":memory:", table)
}

// Migrate applies pending schema migrations for table. Each table keeps its
// own goose version table so several log tables can share one database.
func Migrate(ctx context.Context, db *sqlx.DB, table string) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	goose.SetTableName(table + "_migrations")

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	if err := goose.UpContext(migrations.WithTable(ctx, table), db.DB, "migrations"); err != nil {
		return storageError("apply migrations", err)
	}
	return nil
}

// buildDSN appends the pragmas every file database should run with.
func buildDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return dsn
	}

	base, rawQuery, _ := strings.Cut(dsn, "?")
	query, _ := url.ParseQuery(rawQuery)
	if query.Get("_pragma") == "" {
		query.Add("_pragma", "busy_timeout(5000)")
		query.Add("_pragma", "journal_mode(WAL)")
		query.Add("_pragma", "synchronous(NORMAL)")
	}
	return base + "?" + query.Encode()
}
