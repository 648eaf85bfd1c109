// Package metamemory keeps the append-only growth log: one record per
// completed external turn, plus a trend summary over recent entries.
package metamemory

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/easeaico/persona-core/internal/trait"
)

const schema = `
CREATE TABLE IF NOT EXISTS growth_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TEXT NOT NULL,
	message       TEXT NOT NULL,
	reply         TEXT NOT NULL,
	introspection TEXT NOT NULL,
	calm          REAL NOT NULL,
	empathy       REAL NOT NULL,
	curiosity     REAL NOT NULL
);
`

// Entry is one growth log record. Entries are never mutated after append.
type Entry struct {
	Timestamp     time.Time
	Message       string
	Reply         string
	Introspection string
	Traits        trait.Vector
}

// Log is the append-only store. Appends serialize under an internal mutex;
// reads may run concurrently with each other.
type Log struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the log database at path. Use ":memory:" for an
// ephemeral log in tests.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open growth log: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate growth log: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append writes one or more entries. A zero trait vector defaults to the
// neutral vector and a zero timestamp to now.
func (l *Log) Append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if e.Traits == (trait.Vector{}) {
			e.Traits = trait.Neutral()
		} else {
			e.Traits = trait.Normalize(e.Traits)
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}

		_, err := tx.Exec(
			`INSERT INTO growth_log (ts, message, reply, introspection, calm, empathy, curiosity)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Message, e.Reply, e.Introspection,
			e.Traits.Calm, e.Traits.Empathy, e.Traits.Curiosity,
		)
		if err != nil {
			return fmt.Errorf("insert growth log entry: %w", err)
		}
	}
	return tx.Commit()
}

// LoadAll returns every entry in append order.
func (l *Log) LoadAll() ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT ts, message, reply, introspection, calm, empathy, curiosity
		 FROM growth_log ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("load growth log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&ts, &e.Message, &e.Reply, &e.Introspection,
			&e.Traits.Calm, &e.Traits.Empathy, &e.Traits.Curiosity); err != nil {
			return nil, fmt.Errorf("scan growth log entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SummarizeRecent averages each trait axis over the last n entries and
// renders a fixed-template sentence. n defaults to 5.
func (l *Log) SummarizeRecent(n int) (string, error) {
	if n <= 0 {
		n = 5
	}

	rows, err := l.db.Query(
		`SELECT calm, empathy, curiosity FROM growth_log ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return "", fmt.Errorf("summarize growth log: %w", err)
	}
	defer rows.Close()

	var calm, empathy, curiosity float64
	count := 0
	for rows.Next() {
		var c, e, u float64
		if err := rows.Scan(&c, &e, &u); err != nil {
			return "", fmt.Errorf("scan growth log row: %w", err)
		}
		calm += c
		empathy += e
		curiosity += u
		count++
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if count == 0 {
		return "no recorded turns yet", nil
	}

	f := float64(count)
	return fmt.Sprintf(
		"over the last %d turns, traits averaged calm=%.2f empathy=%.2f curiosity=%.2f",
		count, calm/f, empathy/f, curiosity/f,
	), nil
}

// Clear removes every entry.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec(`DELETE FROM growth_log`); err != nil {
		return fmt.Errorf("clear growth log: %w", err)
	}
	return nil
}
