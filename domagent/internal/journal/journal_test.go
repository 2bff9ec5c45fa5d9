package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/webpilot/dbopen"
)

func open(t *testing.T) *Journal {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	j := New(db, 4, nil)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecord_Recent(t *testing.T) {
	j := open(t)
	ctx := context.Background()
	idx := 3
	base := time.Now()
	for i, kind := range []string{"click", "input_text", "scroll"} {
		e := &Entry{SessionID: "s1", Kind: kind, Time: base.Add(time.Duration(i) * time.Millisecond)}
		if kind == "click" {
			e.Index = &idx
			e.Tier = "driver"
		}
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("record %s: %v", kind, err)
		}
	}
	if err := j.Record(ctx, &Entry{SessionID: "s2", Kind: "wait", Error: "boom", ErrorKind: "timeout"}); err != nil {
		t.Fatal(err)
	}

	got, err := j.Recent(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries: got %d, want 3", len(got))
	}
	if got[0].Kind != "scroll" || got[2].Kind != "click" {
		t.Errorf("order: got %s..%s, want scroll..click", got[0].Kind, got[2].Kind)
	}
	if got[2].Index == nil || *got[2].Index != 3 || got[2].Tier != "driver" {
		t.Errorf("click entry: got %+v", got[2])
	}
	if got[0].Index != nil {
		t.Errorf("scroll index: got %v, want nil", *got[0].Index)
	}

	all, err := j.Recent(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("all sessions: got %d, want 4", len(all))
	}
	var failed *Entry
	for _, e := range all {
		if e.SessionID == "s2" {
			failed = e
		}
	}
	if failed == nil || failed.Status != StatusError || failed.ErrorKind != "timeout" {
		t.Errorf("failed entry: got %+v", failed)
	}
}

func TestRecordAsync_FlushOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, 2, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 10; i++ {
		j.RecordAsync(&Entry{SessionID: "s", Kind: "click"})
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("rows: got %d, want 10", n)
	}
}

func TestOpen_AppliesPragmaOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, 2, nil, dbopen.WithBusyTimeout(750), dbopen.WithSynchronous("full"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()
	var bt, sync int
	if err := j.db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if err := j.db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if bt != 750 || sync != 2 {
		t.Errorf("pragmas: busy_timeout %d synchronous %d, want 750 and 2", bt, sync)
	}
}

func TestClose_Twice(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), 2, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
