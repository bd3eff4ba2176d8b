package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsMigrationFiles(t *testing.T) {
	// Given: The embedded filesystem
	// When: We read the directory
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("failed to read embedded FS: %v", err)
	}

	// Then: It contains every migration in order
	want := []string{"001_initial_schema.sql", "002_update_log_client_index.sql"}
	if len(entries) != len(want) {
		t.Fatalf("found %d migrations, want %d", len(entries), len(want))
	}
	for i, entry := range entries {
		if entry.Name() != want[i] {
			t.Errorf("entry %d = %s, want %s", i, entry.Name(), want[i])
		}
	}
}

func TestEmbeddedFS_MigrationFileReadable(t *testing.T) {
	// Given: The embedded filesystem
	// When: We read the migration file
	content, err := FS.ReadFile("001_initial_schema.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	// Then: It contains goose directives and the update log table
	s := string(content)
	for _, marker := range []string{"-- +goose Up", "-- +goose Down", "CREATE TABLE update_log"} {
		if !strings.Contains(s, marker) {
			t.Errorf("migration missing %q", marker)
		}
	}
}
