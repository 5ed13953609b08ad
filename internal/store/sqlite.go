// Package store provides durable backends for the ledger: a SQLite
// database and a JSONL append log. Both create missing parent
// directories on first use and read back events in insertion order.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tobyv/tokentrail/internal/model"
)

// SQLite persists usage events to a SQLite database file. Every append
// is committed immediately, so a second adapter opened on the same
// path observes all prior writes.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the event store at path,
// including any missing parent directories.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers, busy timeout to avoid
	// "database is locked" under concurrent appends.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		function_name TEXT NOT NULL,
		call_stack TEXT NOT NULL,
		model TEXT NOT NULL,
		provider TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd REAL NOT NULL,
		duration_ms REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_function ON usage_events(function_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append durably persists one event.
func (s *SQLite) Append(e model.UsageEvent) error {
	stack, err := json.Marshal(e.CallStack)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO usage_events
		(timestamp, function_name, call_stack, model, provider,
		 input_tokens, output_tokens, cost_usd, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.FunctionName, string(stack),
		e.Model, e.Provider, e.InputTokens, e.OutputTokens, e.CostUSD, e.DurationMS,
	)
	return err
}

// LoadAll returns all persisted events in original insertion order. A
// freshly created store returns an empty slice.
func (s *SQLite) LoadAll() ([]model.UsageEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, function_name, call_stack, model, provider,
		       input_tokens, output_tokens, cost_usd, duration_ms
		FROM usage_events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.UsageEvent
	for rows.Next() {
		var e model.UsageEvent
		var ts, stack string
		if err := rows.Scan(&e.Sequence, &ts, &e.FunctionName, &stack, &e.Model,
			&e.Provider, &e.InputTokens, &e.OutputTokens, &e.CostUSD, &e.DurationMS); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if err := json.Unmarshal([]byte(stack), &e.CallStack); err != nil {
			e.CallStack = []string{e.FunctionName}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Purge deletes all persisted events.
func (s *SQLite) Purge() error {
	_, err := s.db.Exec(`DELETE FROM usage_events`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
