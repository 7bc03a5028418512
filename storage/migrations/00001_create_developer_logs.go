package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateDeveloperLogs, downCreateDeveloperLogs)
}

type tableKey struct{}

// WithTable sets the log table the migrations operate on.
func WithTable(ctx context.Context, table string) context.Context {
	return context.WithValue(ctx, tableKey{}, table)
}

// TableFromContext returns the table set by WithTable, or "developer_logs".
func TableFromContext(ctx context.Context) string {
	if table, ok := ctx.Value(tableKey{}).(string); ok && table != "" {
		return table
	}
	return "developer_logs"
}

func upCreateDeveloperLogs(ctx context.Context, tx *sql.Tx) error {
	t := TableFromContext(ctx)

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			level           TEXT NOT NULL,
			queue           TEXT,
			message         TEXT NOT NULL,
			context         TEXT,
			file_path       TEXT,
			line_number     INTEGER,
			exception_class TEXT,
			stack_trace     TEXT,
			request_url     TEXT,
			request_method  TEXT,
			user_id         INTEGER,
			ip_address      TEXT,
			user_agent      TEXT,
			status          TEXT NOT NULL DEFAULT 'open',
			tags            TEXT,
			updated_by      INTEGER,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			deleted_at      INTEGER
		)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_level ON %[1]s(level)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_queue ON %[1]s(queue)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s(status)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_exception_class ON %[1]s(exception_class)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_user_id ON %[1]s(user_id)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s(created_at)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_level_created_at ON %[1]s(level, created_at)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_status_created_at ON %[1]s(status, created_at)`, t),
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating %s: %w", t, err)
		}
	}
	return nil
}

func downCreateDeveloperLogs(ctx context.Context, tx *sql.Tx) error {
	t := TableFromContext(ctx)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t)); err != nil {
		return fmt.Errorf("dropping %s: %w", t, err)
	}
	return nil
}
