package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/pocketpilot/internal/logger"
)

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_init_schema_migrations.sql", true, 1, "init_schema_migrations"},
		{"0012_add_index.sql", true, 12, "add_index"},
		{"001_invalid.sql", false, 0, ""},
		{"0001_test", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"invalid_0001_test.sql", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationName(tt.filename)
			if ok != tt.valid {
				t.Fatalf("parseMigrationName(%q) ok = %v, want %v", tt.filename, ok, tt.valid)
			}
			if version != tt.version || name != tt.name {
				t.Errorf("parseMigrationName(%q) = %d, %q, want %d, %q", tt.filename, version, name, tt.version, tt.name)
			}
		})
	}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadMigrations(t *testing.T) {
	dir := t.TempDir()
	original := "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id INT64);"
	writeFiles(t, dir, map[string]string{
		"0002_second.sql": "SELECT 2;",
		"0001_first.sql":  original,
		"README.md":       "not a migration",
	})
	if err := os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := readMigrations(dir, map[string]string{
		"{{PROJECT_ID}}": "proj",
		"{{DATASET_ID}}": "ds",
	}, logger.NewWithWriter(io.Discard))
	if err != nil {
		t.Fatalf("readMigrations() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("readMigrations() returned %d migrations, want 2", len(got))
	}
	if got[0].Version != 1 || got[1].Version != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", got[0].Version, got[1].Version)
	}
	if got[0].SQL != "CREATE TABLE `proj.ds.t` (id INT64);" {
		t.Errorf("SQL = %q", got[0].SQL)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256([]byte(original))); got[0].Checksum != want {
		t.Errorf("Checksum = %s, want checksum of the file before substitution", got[0].Checksum)
	}
}

func TestReadMigrationsChecksumConsistency(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFiles(t, a, map[string]string{"0001_x.sql": "CREATE TABLE test (id INT64);"})
	writeFiles(t, b, map[string]string{"0001_x.sql": "CREATE TABLE different (id INT64);"})

	log := logger.NewWithWriter(io.Discard)
	first, err := readMigrations(a, nil, log)
	if err != nil {
		t.Fatal(err)
	}
	again, err := readMigrations(a, map[string]string{"x": "y"}, log)
	if err != nil {
		t.Fatal(err)
	}
	other, err := readMigrations(b, nil, log)
	if err != nil {
		t.Fatal(err)
	}

	if first[0].Checksum != again[0].Checksum {
		t.Error("same file should produce the same checksum regardless of replacements")
	}
	if first[0].Checksum == other[0].Checksum {
		t.Error("different content should produce different checksums")
	}
}

func TestReadMigrationsDuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0001_a.sql": "SELECT 1;",
		"0001_b.sql": "SELECT 1;",
	})

	if _, err := readMigrations(dir, nil, logger.NewWithWriter(io.Discard)); err == nil {
		t.Fatal("readMigrations() error = nil, want duplicate version error")
	}
}

type fakeDriver struct {
	applied  []AppliedMigration
	execErr  error
	executed []int
	recorded []string
}

func (f *fakeDriver) EnsureTable(ctx context.Context) error { return nil }

func (f *fakeDriver) Applied(ctx context.Context) ([]AppliedMigration, error) {
	return f.applied, nil
}

func (f *fakeDriver) Exec(ctx context.Context, m Migration) error {
	if f.execErr != nil {
		return f.execErr
	}
	f.executed = append(f.executed, m.Version)
	return nil
}

func (f *fakeDriver) Record(ctx context.Context, m Migration, appliedBy string) error {
	f.recorded = append(f.recorded, fmt.Sprintf("%d:%s", m.Version, appliedBy))
	return nil
}

func (f *fakeDriver) Close() error { return nil }

func TestApply(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "init", Checksum: "aaa"},
		{Version: 2, Name: "more", Checksum: "bbb"},
	}

	t.Run("skips applied versions", func(t *testing.T) {
		var buf strings.Builder
		d := &fakeDriver{applied: []AppliedMigration{{Version: 1, Checksum: "changed"}}}

		n, err := apply(context.Background(), d, migrations, "tester", logger.NewWithWriter(&buf))
		if err != nil {
			t.Fatalf("apply() error = %v", err)
		}
		if n != 1 {
			t.Errorf("apply() = %d, want 1", n)
		}
		if len(d.executed) != 1 || d.executed[0] != 2 {
			t.Errorf("executed = %v, want [2]", d.executed)
		}
		if len(d.recorded) != 1 || d.recorded[0] != "2:tester" {
			t.Errorf("recorded = %v", d.recorded)
		}
		if !strings.Contains(buf.String(), "File changed since it was applied") {
			t.Error("expected a checksum mismatch warning")
		}
	})

	t.Run("stops on failure", func(t *testing.T) {
		d := &fakeDriver{execErr: errors.New("syntax error")}

		n, err := apply(context.Background(), d, migrations, "tester", logger.NewWithWriter(io.Discard))
		if err == nil {
			t.Fatal("apply() error = nil, want error")
		}
		if n != 0 || len(d.recorded) != 0 {
			t.Errorf("apply() = %d recorded %v, want nothing recorded", n, d.recorded)
		}
	})
}

func TestMigrationDSN(t *testing.T) {
	got, err := migrationDSN("app:secret@tcp(localhost:3306)/pocketpilot")
	if err != nil {
		t.Fatalf("migrationDSN() error = %v", err)
	}
	if !strings.Contains(got, "multiStatements=true") || !strings.Contains(got, "parseTime=true") {
		t.Errorf("migrationDSN() = %s", got)
	}
}
