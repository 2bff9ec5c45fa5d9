// Package journal records performed actions in SQLite. Writes are batched
// by a background goroutine; a full buffer falls back to a synchronous
// insert so entries are never dropped.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/webpilot/dbopen"
	"github.com/hazyhaar/webpilot/idgen"
)

// Schema creates the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS actions (
	entry_id    TEXT PRIMARY KEY,
	ts          INTEGER NOT NULL,
	session_id  TEXT NOT NULL,
	pass_id     TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	idx         INTEGER,
	tier        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id, ts);
`

// Entry statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const (
	batchSize     = 64
	flushInterval = 2 * time.Second
)

// Entry is one performed action.
type Entry struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	SessionID  string    `json:"session_id"`
	PassID     string    `json:"pass_id,omitempty"`
	Kind       string    `json:"kind"`
	Index      *int      `json:"index,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Journal persists entries asynchronously.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	newID  idgen.Generator
	owned  bool
	ch     chan *Entry
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the journal database at path. opts tune the
// connection pragmas.
func Open(path string, buffer int, logger *slog.Logger, opts ...dbopen.Option) (*Journal, error) {
	opts = append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	j := New(db, buffer, logger)
	j.owned = true
	return j, nil
}

// New starts a journal over db. The schema must already exist.
func New(db *sql.DB, buffer int, logger *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		db:     db,
		logger: logger,
		newID:  idgen.Entry,
		ch:     make(chan *Entry, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go j.flushLoop()
	return j
}

// Record inserts an entry synchronously.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	j.fill(e)
	return insert(ctx, j.db, e)
}

// RecordAsync queues an entry.
func (j *Journal) RecordAsync(e *Entry) {
	j.fill(e)
	select {
	case j.ch <- e:
	default:
		j.logger.Warn("journal: buffer full, writing synchronously", "kind", e.Kind)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := insert(ctx, j.db, e); err != nil {
			j.logger.Error("journal: insert", "entry_id", e.ID, "error", err)
		}
	}
}

// Recent returns up to limit entries of a session, newest first. An empty
// sessionID lists every session.
func (j *Journal) Recent(ctx context.Context, sessionID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT entry_id, ts, session_id, pass_id, kind, idx, tier, status,
		error_kind, error, message, duration_ms FROM actions`
	var args []any
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY ts DESC, entry_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e   Entry
			ts  int64
			idx sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.PassID, &e.Kind, &idx, &e.Tier,
			&e.Status, &e.ErrorKind, &e.Error, &e.Message, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		if idx.Valid {
			i := int(idx.Int64)
			e.Index = &i
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close flushes queued entries and stops the writer. The database is
// closed only when the journal opened it. Later calls return the first
// call's result.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		close(j.stop)
		<-j.done
		if j.owned {
			j.closeErr = j.db.Close()
		}
	})
	return j.closeErr
}

func (j *Journal) fill(e *Entry) {
	if e.ID == "" {
		e.ID = j.newID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusOK
		if e.Error != "" {
			e.Status = StatusError
		}
	}
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	tick := time.NewTicker(flushInterval)
	defer tick.Stop()
	batch := make([]*Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if err := insert(ctx, tx, e); err != nil {
					return fmt.Errorf("entry %s: %w", e.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			j.logger.Error("journal: flush", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-j.stop:
			for {
				select {
				case e := <-j.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, e *Entry) error {
	var idx any
	if e.Index != nil {
		idx = *e.Index
	}
	_, err := db.ExecContext(ctx, `INSERT INTO actions
		(entry_id, ts, session_id, pass_id, kind, idx, tier, status, error_kind, error, message, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Time.UnixMilli(), e.SessionID, e.PassID, e.Kind, idx, e.Tier, e.Status,
		e.ErrorKind, e.Error, e.Message, e.DurationMs)
	return err
}
