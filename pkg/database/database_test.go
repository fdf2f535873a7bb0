package database

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyPragmas(db); err != nil {
		t.Fatalf("Failed to apply pragmas: %v", err)
	}
	return db
}

// Functional Validation Tests - Config

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.DatabasePath != "./supportdesk.db" {
		t.Errorf("Expected DatabasePath './supportdesk.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	config := &Config{DatabasePath: "/tmp/x.db"}
	if dsn := config.DSN(); !strings.HasPrefix(dsn, "/tmp/x.db?") || !strings.Contains(dsn, "_foreign_keys=on") {
		t.Errorf("Unexpected DSN %s", dsn)
	}
}

// Functional Validation Tests - Migrations

func TestMigrationManager_ApplyEmbedded(t *testing.T) {
	db := openTestDB(t)
	mm := NewEmbeddedMigrationManager(db)

	if err := mm.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if err := mm.ValidateSchema(); err != nil {
		t.Fatalf("Schema invalid after migration: %v", err)
	}

	versions, err := mm.AppliedVersions()
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 || versions[0] != "001" {
		t.Errorf("Expected [001], got %v", versions)
	}
}

func TestMigrationManager_Idempotent(t *testing.T) {
	db := openTestDB(t)
	mm := NewEmbeddedMigrationManager(db)

	for i := 0; i < 3; i++ {
		if err := mm.ApplyMigrations(); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}
	versions, _ := mm.AppliedVersions()
	if len(versions) != 1 {
		t.Errorf("Migration applied more than once: %v", versions)
	}
}

func TestMigrationManager_OrderAndFailure(t *testing.T) {
	db := openTestDB(t)
	files := fstest.MapFS{
		"m/002_add_notes.sql": {Data: []byte("ALTER TABLE notes ADD COLUMN body TEXT;")},
		"m/001_create.sql":    {Data: []byte("CREATE TABLE notes (id INTEGER PRIMARY KEY);")},
		"m/003_broken.sql":    {Data: []byte("CREATE TABLE oops (")},
		"m/README.md":         {Data: []byte("ignored")},
	}
	mm := NewMigrationManager(db, files, "m")

	err := mm.ApplyMigrations()
	if err == nil || !strings.Contains(err.Error(), "003") {
		t.Fatalf("Expected failure on 003, got %v", err)
	}
	versions, _ := mm.AppliedVersions()
	if strings.Join(versions, ",") != "001,002" {
		t.Errorf("Expected 001 and 002 applied in order, got %v", versions)
	}
}

func TestMigrationManager_ValidateSchemaMissing(t *testing.T) {
	db := openTestDB(t)
	mm := NewEmbeddedMigrationManager(db)
	if err := mm.ValidateSchema(); err == nil {
		t.Error("Expected validation error on an empty database")
	}
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	if err := NewEmbeddedMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	if _, err := db.Exec(`INSERT INTO threads (status, topic, student_id, created_at) VALUES ('ARCHIVED', 't', 1, ?)`, now); err == nil {
		t.Error("Unknown status should be rejected")
	}
	res, err := db.Exec(`INSERT INTO threads (topic, student_id, created_at) VALUES ('t', 1, ?)`, now)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := res.LastInsertId()

	if _, err := db.Exec(`INSERT INTO ratings (thread_id, rating, created_at) VALUES (?, 6, ?)`, id, now); err == nil {
		t.Error("Rating above 5 should be rejected")
	}
	if _, err := db.Exec(`INSERT INTO messages (thread_id, sender_type, content, created_at) VALUES (999, 'student', 'x', ?)`, now); err == nil {
		t.Error("Message for a missing thread should violate the foreign key")
	}
}
