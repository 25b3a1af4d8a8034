package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestScannerOrdersByNumericVersion(t *testing.T) {
	t.Parallel()

	files := fstest.MapFS{
		"migrations/010_add_index.sql":      {Data: []byte("CREATE INDEX idx_a ON a (id);")},
		"migrations/002_create_b.sql":       {Data: []byte("-- Description: Create table b\nCREATE TABLE b (id TEXT);")},
		"migrations/001_create_a.sql":       {Data: []byte("CREATE TABLE a (id TEXT);")},
		"migrations/README.md":              {Data: []byte("not a migration")},
		"migrations/nested/003_ignored.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
	}

	migrations, err := NewScanner(files, "migrations").Scan()
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	want := []string{"001", "002", "010"}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Fatalf("expected version %s at %d, got %s", v, i, migrations[i].Version)
		}
	}
	if migrations[0].Description != "create a" {
		t.Fatalf("expected description from filename, got %q", migrations[0].Description)
	}
	if migrations[1].Description != "Create table b" {
		t.Fatalf("expected description from header, got %q", migrations[1].Description)
	}
	if migrations[0].Checksum == "" || migrations[0].Checksum == migrations[1].Checksum {
		t.Fatalf("expected distinct checksums, got %q and %q", migrations[0].Checksum, migrations[1].Checksum)
	}
}

func TestScannerRejectsBadFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files fstest.MapFS
		want  error
	}{
		{
			name:  "bad name",
			files: fstest.MapFS{"m/create_a.sql": {Data: []byte("CREATE TABLE a (id TEXT);")}},
			want:  ErrInvalidMigrationFile,
		},
		{
			name:  "comments only",
			files: fstest.MapFS{"m/001_empty.sql": {Data: []byte("-- nothing here\n")}},
			want:  ErrInvalidMigrationFile,
		},
		{
			name:  "unbalanced parenthesis",
			files: fstest.MapFS{"m/001_broken.sql": {Data: []byte("CREATE TABLE a (id TEXT;")}},
			want:  ErrInvalidMigrationFile,
		},
		{
			name:  "unterminated string",
			files: fstest.MapFS{"m/001_quote.sql": {Data: []byte("INSERT INTO a VALUES ('x);")}},
			want:  ErrInvalidMigrationFile,
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"m/001_a.sql":  {Data: []byte("CREATE TABLE a (id TEXT);")},
				"m/0001_b.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
			},
			want: ErrDuplicateVersion,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewScanner(tc.files, "m").Scan()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var migErr *MigrationError
			if !errors.As(err, &migErr) {
				t.Fatalf("expected MigrationError, got %T", err)
			}
		})
	}
}

func TestScannerMissingDirectory(t *testing.T) {
	t.Parallel()

	if _, err := NewScanner(fstest.MapFS{}, "missing").Scan(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestStatementsSkipsComments(t *testing.T) {
	t.Parallel()

	sql := "-- header\nCREATE TABLE a (id TEXT);\n\n-- trailing\nCREATE INDEX idx ON a (id);\n-- end\n"
	got := statements(sql)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (id TEXT)" {
		t.Fatalf("unexpected first statement %q", got[0])
	}
}
