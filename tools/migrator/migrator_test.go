package migrator

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrator_test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func writeMigration(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write migration: %v", err)
	}
}

// =============================================================================
// Parser Tests
// =============================================================================

func TestParseMigrationFile(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_create_things.sql", `-- +migrate Up
CREATE TABLE things (id INTEGER PRIMARY KEY);
`)

	migration, err := ParseMigrationFile(filepath.Join(dir, "001_create_things.sql"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if migration.Version != 1 {
		t.Errorf("expected version 1, got %d", migration.Version)
	}
	if migration.Name != "create_things" {
		t.Errorf("expected name create_things, got %s", migration.Name)
	}
	if migration.UpSQL != "CREATE TABLE things (id INTEGER PRIMARY KEY);" {
		t.Errorf("unexpected SQL: %q", migration.UpSQL)
	}
}

func TestParseMigrationFile_BadFilename(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "1_bad.sql", "-- +migrate Up\nSELECT 1;")

	if _, err := ParseMigrationFile(filepath.Join(dir, "1_bad.sql")); err == nil {
		t.Error("expected error for bad filename format")
	}
}

func TestParseMigrationFile_MissingMarker(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_no_marker.sql", "CREATE TABLE things (id INTEGER);")

	if _, err := ParseMigrationFile(filepath.Join(dir, "001_no_marker.sql")); err == nil {
		t.Error("expected error for missing up marker")
	}
}

func TestParseMigrationFile_EmptySQL(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_empty.sql", "-- +migrate Up\n\n")

	if _, err := ParseMigrationFile(filepath.Join(dir, "001_empty.sql")); err == nil {
		t.Error("expected error for empty migration")
	}
}

func TestLoadMigrations_Sorted(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_second.sql", "-- +migrate Up\nSELECT 2;")
	writeMigration(t, dir, "001_first.sql", "-- +migrate Up\nSELECT 1;")
	writeMigration(t, dir, "notes.txt", "not a migration")

	migrations, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("expected migrations sorted by version, got %d, %d", migrations[0].Version, migrations[1].Version)
	}
}

func TestLoadMigrations_GapRejected(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_first.sql", "-- +migrate Up\nSELECT 1;")
	writeMigration(t, dir, "003_third.sql", "-- +migrate Up\nSELECT 3;")

	if _, err := LoadMigrations(dir); err == nil {
		t.Error("expected error for version gap")
	}
}

// =============================================================================
// Runner Tests
// =============================================================================

func TestRunMigrations_AppliesAll(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "001_create_things.sql", `-- +migrate Up
CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT);
`)
	writeMigration(t, dir, "002_add_index.sql", `-- +migrate Up
CREATE INDEX idx_things_name ON things(name);
`)

	if err := RunMigrations(db, dir); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	version, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	// The migrated schema must be usable
	if _, err := db.Exec("INSERT INTO things (name) VALUES ('x')"); err != nil {
		t.Errorf("expected migrated table to accept inserts, got %v", err)
	}
}

// TestRunMigrations_Idempotent verifies a second run applies nothing
func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "001_create_things.sql", `-- +migrate Up
CREATE TABLE things (id INTEGER PRIMARY KEY);
`)

	if err := RunMigrations(db, dir); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := RunMigrations(db, dir); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		t.Fatalf("failed to list applied: %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("expected 1 applied migration, got %d", len(applied))
	}
}

// TestRunMigrations_FailureRollsBack verifies a failing migration leaves
// no partial state behind
func TestRunMigrations_FailureRollsBack(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "001_broken.sql", `-- +migrate Up
CREATE TABLE broken (this is not sql);
`)

	if err := RunMigrations(db, dir); err == nil {
		t.Fatal("expected error from broken migration")
	}

	version, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 after rollback, got %d", version)
	}
}

func TestGetCurrentVersion_EmptyDatabase(t *testing.T) {
	db := setupTestDB(t)

	version, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("expected success on empty database, got %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
}
