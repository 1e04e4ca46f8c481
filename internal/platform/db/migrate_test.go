package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"001_core.sql":     "CREATE TABLE bills (id UUID PRIMARY KEY);",
		"002_payments.sql": "CREATE TABLE bill_payments (id UUID PRIMARY KEY);",
		"010_analysis.sql": "CREATE TABLE bill_analysis (bill_id UUID PRIMARY KEY);",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}

	migrator := NewMigrator(nil, dir)
	migrations, err := migrator.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "core" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[0].SQL != "CREATE TABLE bills (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[1].Version != 2 || migrations[2].Version != 10 {
		t.Errorf("expected ascending versions, got %d then %d", migrations[1].Version, migrations[2].Version)
	}
}

func TestLoadMigrations_SkipsNonSQL(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"001_core.sql": "CREATE TABLE bills (id UUID PRIMARY KEY);",
		"README.md":    "notes",
		"rollback.sql": "DROP TABLE bills;", // no numeric prefix
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}

	migrations, err := NewMigrator(nil, dir).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/migrations").Load(); err == nil {
		t.Error("expected error for missing directory")
	}
}
