package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Status describes one embedded migration file.
type Status struct {
	Filename  string
	Applied   bool
	AppliedAt time.Time
}

// Run applies all unapplied migrations from the embedded FS in filename
// order, each in its own transaction. It returns the files it applied.
func Run(ctx context.Context, db *sql.DB) ([]string, error) {
	statuses, err := Check(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, st := range statuses {
		if st.Applied {
			slog.Debug("migration already applied", "file", st.Filename)
			continue
		}
		if err := apply(ctx, db, st.Filename); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", st.Filename, err)
		}
		slog.Info("migration applied", "file", st.Filename)
		applied = append(applied, st.Filename)
	}
	return applied, nil
}

// Check reports which embedded migrations have been applied. It creates the
// bookkeeping table when missing.
func Check(ctx context.Context, db *sql.DB) ([]Status, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return nil, fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := appliedAt(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("get applied migrations: %w", err)
	}

	files, err := files()
	if err != nil {
		return nil, fmt.Errorf("list migration files: %w", err)
	}

	statuses := make([]Status, len(files))
	for i, name := range files {
		at, ok := applied[name]
		statuses[i] = Status{Filename: name, Applied: ok, AppliedAt: at}
	}
	return statuses, nil
}

func appliedAt(ctx context.Context, db *sql.DB) (map[string]time.Time, error) {
	rows, err := db.QueryContext(ctx, "SELECT filename, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at time.Time
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		applied[name] = at
	}
	return applied, rows.Err()
}

func files() ([]string, error) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func apply(ctx context.Context, db *sql.DB, filename string) error {
	content, err := fs.ReadFile(FS, filename)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("execute sql: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)",
		filename, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
