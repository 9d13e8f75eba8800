package migrations

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestSplitStatements(t *testing.T) {
	input := `-- header
CREATE TABLE a (x UInt8) ENGINE = Memory;

-- second
CREATE TABLE b (
    y String DEFAULT 'it''s'
) ENGINE = Memory;
`
	got := splitStatements(input)
	want := []string{
		"CREATE TABLE a (x UInt8) ENGINE = Memory",
		"CREATE TABLE b (\n    y String DEFAULT 'it''s'\n) ENGINE = Memory",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatements = %q, want %q", got, want)
	}
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	if err := validateNoSemicolonInStrings("SELECT 'a''b'; SELECT 1;"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := validateNoSemicolonInStrings("SELECT 'a;b'"); err == nil {
		t.Error("expected error for semicolon inside string")
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{dsn: "clickhouse://default:@localhost:9000/staking", want: "staking"},
		{dsn: "clickhouse://localhost:9000/", wantErr: true},
		{dsn: "clickhouse://localhost:9000/bad-name", wantErr: true},
		{dsn: "clickhouse://localhost:9000/x;DROP", wantErr: true},
	}
	for _, tt := range tests {
		got, err := databaseFromDSN(tt.dsn)
		if tt.wantErr {
			if err == nil {
				t.Errorf("databaseFromDSN(%q) expected error", tt.dsn)
			}
			continue
		}
		if err != nil {
			t.Errorf("databaseFromDSN(%q) failed: %v", tt.dsn, err)
			continue
		}
		if got != tt.want {
			t.Errorf("databaseFromDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestSQLFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql":   {Data: []byte("B")},
		"m/001_a.sql":   {Data: []byte("A")},
		"m/README.md":   {Data: []byte("x")},
		"m/sub/003.sql": {Data: []byte("C")},
	}
	got, err := sqlFiles(fsys, "m")
	if err != nil {
		t.Fatalf("sqlFiles failed: %v", err)
	}
	want := []string{"001_a.sql", "002_b.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sqlFiles = %v, want %v", got, want)
	}
}

func TestEmbeddedMigrationsAreSplittable(t *testing.T) {
	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatalf("sqlFiles failed: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no embedded clickhouse migrations")
	}
	for _, f := range files {
		data, err := ClickhouseFS.ReadFile("clickhouse/" + f)
		if err != nil {
			t.Fatalf("ReadFile %s failed: %v", f, err)
		}
		if err := validateNoSemicolonInStrings(string(data)); err != nil {
			t.Errorf("%s: %v", f, err)
		}
		if len(splitStatements(string(data))) == 0 {
			t.Errorf("%s: no statements", f)
		}
	}

	pg, err := sqlFiles(PostgresFS, "postgres")
	if err != nil || len(pg) == 0 {
		t.Errorf("embedded postgres migrations: %v %v", pg, err)
	}
}
