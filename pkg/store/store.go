// Package store exports decoded events into a SQLite database for ad hoc
// queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
)

// BatchSize is the number of events inserted per transaction by Import.
const BatchSize = 1000

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id       INTEGER PRIMARY KEY,
	kind     INTEGER NOT NULL,
	name     TEXT    NOT NULL,
	start_ns INTEGER NOT NULL,
	end_ns   INTEGER NOT NULL,
	summary  TEXT    NOT NULL,
	record   BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS events_start ON events (start_ns);
CREATE INDEX IF NOT EXISTS events_kind ON events (kind);
`

// Store persists events in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Row is one stored event.
type Row struct {
	ID      int64
	Kind    event.Kind
	Start   capture.Timestamp
	End     capture.Timestamp
	Summary string
	Record  []byte
}

// Event decodes the stored record.
func (r Row) Event() (event.Event, error) { return event.Decode(r.Record) }

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Insert stores evs in one transaction.
func (s *Store) Insert(ctx context.Context, evs []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (kind, name, start_ns, end_ns, summary, record) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	var buf []byte
	for _, ev := range evs {
		buf = event.Append(buf[:0], ev)
		summary := ""
		if ev.Payload != nil {
			summary = ev.Payload.String()
		}
		if _, err := stmt.ExecContext(ctx,
			int64(ev.Kind), ev.Kind.String(),
			ev.Start.Nanoseconds(), ev.End.Nanoseconds(),
			summary, append([]byte(nil), buf...),
		); err != nil {
			return fmt.Errorf("store: insert %s: %w", ev.Kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Import reads every event from r and stores it in batches.
func (s *Store) Import(ctx context.Context, r *event.Reader) (int64, error) {
	var total int64
	batch := make([]event.Event, 0, BatchSize)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, fmt.Errorf("store: read event %d: %w", total+int64(len(batch)), err)
		}
		batch = append(batch, ev)
		if len(batch) == BatchSize {
			if err := s.Insert(ctx, batch); err != nil {
				return total, err
			}
			total += int64(len(batch))
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.Insert(ctx, batch); err != nil {
			return total, err
		}
		total += int64(len(batch))
	}
	return total, nil
}

// CountByKind returns the number of stored events per kind.
func (s *Store) CountByKind(ctx context.Context) (map[event.Kind]int64, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("store: count: %w", err)
	}
	defer rows.Close()

	out := make(map[event.Kind]int64)
	for rows.Next() {
		var kind, n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("store: scan count: %w", err)
		}
		out[event.Kind(kind)] = n
	}
	return out, rows.Err()
}

// Between returns the events starting in [from, to), ordered by start time.
func (s *Store) Between(ctx context.Context, from, to capture.Timestamp) ([]Row, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, kind, start_ns, end_ns, summary, record FROM events
		 WHERE start_ns >= ? AND start_ns < ? ORDER BY start_ns, id`,
		from.Nanoseconds(), to.Nanoseconds())
	if err != nil {
		return nil, fmt.Errorf("store: query range: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r          Row
			kind       int64
			start, end int64
		)
		if err := rows.Scan(&r.ID, &kind, &start, &end, &r.Summary, &r.Record); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		r.Kind = event.Kind(kind)
		r.Start = capture.FromNanoseconds(start)
		r.End = capture.FromNanoseconds(end)
		out = append(out, r)
	}
	return out, rows.Err()
}
