package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/webpilot/dbopen"
)

func TestOpenMemory_Pragmas(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(1234))

	var fk, bt int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys: got %d, want 1", fk)
	}
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 1234 {
		t.Errorf("busy_timeout: got %d, want 1234", bt)
	}
}

func TestOpenMemory_Synchronous(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSynchronous("off"))
	var mode int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != 0 {
		t.Errorf("synchronous: got %d, want 0", mode)
	}
	if _, err := dbopen.Open(":memory:", dbopen.WithSynchronous("NORMAL; DROP TABLE t")); err == nil {
		t.Error("invalid synchronous mode should be rejected")
	}
}

func TestOpen_MkdirAllAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "j.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(`CREATE TABLE t (id TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (id) VALUES ('x')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	cases := map[string]bool{
		"":                            false,
		"boom":                        false,
		"SQLITE_BUSY (5)":             true,
		"exec: database is locked":    true,
		"database table is locked: t": true,
	}
	for msg, want := range cases {
		var err error
		if msg != "" {
			err = errors.New(msg)
		}
		if got := dbopen.IsBusy(err); got != want {
			t.Errorf("IsBusy(%q): got %v, want %v", msg, got, want)
		}
	}
}

func TestRunTx_Rollback(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (id TEXT PRIMARY KEY)`))
	boom := errors.New("boom")
	err := dbopen.RunTx(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (id) VALUES ('1')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rows after rollback: got %d, want 0", n)
	}
}
