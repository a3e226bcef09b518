package migrations_test

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/GulDilin/image-deduplication-storage/internal/repository/sqlite/migrations"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// One connection so every statement sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	// First run should apply all migrations.
	if _, err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("first migration run: %v", err)
	}

	// Verify the images table exists by inserting a row.
	_, err := db.ExecContext(ctx,
		`INSERT INTO images (id, original_filename, file_type, hash, size, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		"id-1", "cat.png", "png", "blake3:00", 10,
	)
	if err != nil {
		t.Fatalf("insert into images: %v", err)
	}

	// Verify schema_migrations tracks the applied migration.
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if count == 0 {
		t.Fatal("expected at least one migration recorded in schema_migrations")
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	// Run migrations twice; second run should be a no-op.
	if _, err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
}

func TestDuplicateCounterCannotGoNegative(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	if _, err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO images (id, original_filename, file_type, hash, size, duplicate_counter, created_at, updated_at)
		 VALUES ('a', 'a.png', 'png', 'h', 1, -1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Fatal("expected check constraint violation")
	}
}

func TestCheckReportsPending(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	before, err := migrations.Check(ctx, db)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(before) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, st := range before {
		if st.Applied {
			t.Fatalf("%s reported applied on a fresh database", st.Filename)
		}
	}

	applied, err := migrations.Run(ctx, db)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(applied) != len(before) {
		t.Fatalf("applied %d migrations, expected %d", len(applied), len(before))
	}

	after, err := migrations.Check(ctx, db)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, st := range after {
		if !st.Applied || st.AppliedAt.IsZero() {
			t.Fatalf("%s not reported applied: %+v", st.Filename, st)
		}
	}
}
