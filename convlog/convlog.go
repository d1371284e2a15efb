// Package convlog records conversion events in SQLite. Writes are
// best-effort: a failing log store must never block or fail a conversion, so
// errors are logged via slog and dropped.
package convlog

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hazyhaar/doc2md/dbopen"
	"github.com/hazyhaar/doc2md/idgen"
	"github.com/hazyhaar/doc2md/outfile"
)

// Schema is the DDL for the conversion event table. Applied on Open; exported
// so callers can embed it in their own schema management.
const Schema = `
CREATE TABLE IF NOT EXISTS conversion_events (
    event_id TEXT PRIMARY KEY,
    source_name TEXT NOT NULL,
    source_format TEXT NOT NULL,
    unit_count INTEGER NOT NULL DEFAULT 0,
    word_count INTEGER NOT NULL DEFAULT 0,
    warning_count INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversion_events_time
    ON conversion_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversion_events_format
    ON conversion_events(source_format, created_at DESC);
`

// Log writes conversion events. Implements outfile.EventSink.
type Log struct {
	db    *sql.DB
	log   *slog.Logger
	newID idgen.Generator
	now   func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Log) { l.newID = gen }
}

// WithLogger sets the slog logger used for dropped-write reports.
func WithLogger(log *slog.Logger) Option {
	return func(l *Log) { l.log = log }
}

// New wraps an already-open database. The schema must be present.
func New(db *sql.DB, opts ...Option) *Log {
	l := &Log{
		db:    db,
		log:   slog.Default(),
		newID: idgen.Prefixed("conv_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Open opens (or creates) the event database at path and applies the schema.
func Open(path string, opts ...Option) (*Log, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Record stores one conversion event. Best-effort: failures are logged and
// swallowed.
func (l *Log) Record(ctx context.Context, ev outfile.Event) {
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO conversion_events (
			event_id, source_name, source_format, unit_count, word_count,
			warning_count, success, error, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), ev.Source, ev.Format, ev.Units, ev.WordCount,
		ev.Warnings, ev.Success, ev.Error, l.now().Unix())
	if err != nil {
		l.log.Error("conversion event log failed", "error", err, "source", ev.Source)
	}
}

// Recent returns the most recent events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]outfile.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT source_name, source_format, unit_count, word_count,
		       warning_count, success, error
		FROM conversion_events
		ORDER BY created_at DESC, event_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []outfile.Event
	for rows.Next() {
		var ev outfile.Event
		if err := rows.Scan(&ev.Source, &ev.Format, &ev.Units, &ev.WordCount,
			&ev.Warnings, &ev.Success, &ev.Error); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than the given retention.
func (l *Log) Cleanup(ctx context.Context, retention time.Duration) error {
	cutoff := l.now().Add(-retention).Unix()
	_, err := dbopen.Exec(ctx, l.db, "DELETE FROM conversion_events WHERE created_at < ?", cutoff)
	return err
}
