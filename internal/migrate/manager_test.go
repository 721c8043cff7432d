package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"single", "create table t (id int);", 1},
		{"two", "create table a (id int); create table b (id int);", 2},
		{"semicolon in string", "insert into t values ('a;b'); select 1;", 2},
		{"trailing without semicolon", "select 1", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitStatements(tc.input)
			if len(got) != tc.want {
				t.Fatalf("got %d statements, want %d: %q", len(got), tc.want, got)
			}
		})
	}
}

func TestCollectScriptsOrdersByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_bids.up.sql", "0001_init.up.sql", "0001_init.down.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write script: %v", err)
		}
	}

	scripts, err := collectScripts(dir, ".up.sql")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 up scripts, got %d", len(scripts))
	}
	if scripts[0].Name != "0001_init.up.sql" || scripts[1].Name != "0002_bids.up.sql" {
		t.Fatalf("scripts out of order: %v", scripts)
	}

	missingDir, err := collectScripts(filepath.Join(dir, "nope"), ".sql")
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if missingDir != nil {
		t.Fatalf("expected nil for missing dir")
	}
}

func TestUpAppliesPendingAndRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	dir := t.TempDir()
	script := "create table tasks (id text primary key);"
	if err := os.WriteFile(filepath.Join(dir, "0001_init.up.sql"), []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table tasks").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0001_init.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, dir, "")
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
