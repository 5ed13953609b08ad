package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tobyv/tokentrail/internal/pricing"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// User represents a user account
type User struct {
	ID           string
	Username     string
	PasswordHash string
	APIKey       string
	CreatedAt    time.Time
}

// Client represents a sync client
type Client struct {
	ID         string
	UserID     string
	Name       string
	LastSyncAt *time.Time
	CreatedAt  time.Time
}

// UsageEvent is one synced LLM call belonging to a user
type UsageEvent struct {
	ID           int64
	UserID       string
	ClientID     string
	Sequence     int64
	Timestamp    time.Time
	FunctionName string
	Model        string
	Provider     string
	InputTokens  int64
	OutputTokens int64
	DurationMS   float64
}

// Open opens a SQLite database connection
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to avoid "database is locked" errors under concurrent load
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// Migrate creates the database schema
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		api_key TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		last_sync_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS usage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		sequence INTEGER NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL,
		function_name TEXT NOT NULL,
		model TEXT NOT NULL,
		provider TEXT,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		duration_ms REAL DEFAULT 0,
		cost REAL DEFAULT 0,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE(user_id, client_id, sequence, timestamp, function_name, model)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_user_timestamp ON usage_events(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_user_function ON usage_events(user_id, function_name);
	CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		expiry REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expiry);
	`

	_, err := db.Exec(schema)
	return err
}

// CreateUser creates a new user
func (db *DB) CreateUser(user *User) error {
	_, err := db.Exec(
		`INSERT INTO users (id, username, password_hash, api_key, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.APIKey, user.CreatedAt,
	)
	return err
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(username string) (*User, error) {
	user := &User{}
	err := db.QueryRow(
		`SELECT id, username, password_hash, api_key, created_at
		 FROM users WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.APIKey, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(id string) (*User, error) {
	user := &User{}
	err := db.QueryRow(
		`SELECT id, username, password_hash, api_key, created_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.APIKey, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByAPIKey retrieves a user by API key
func (db *DB) GetUserByAPIKey(apiKey string) (*User, error) {
	user := &User{}
	err := db.QueryRow(
		`SELECT id, username, password_hash, api_key, created_at
		 FROM users WHERE api_key = ?`,
		apiKey,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.APIKey, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetOrCreateClient gets an existing client or creates a new one
func (db *DB) GetOrCreateClient(userID, clientID, clientName string) (*Client, error) {
	// Try to get existing client
	client := &Client{}
	var lastSyncAt sql.NullTime
	err := db.QueryRow(
		`SELECT id, user_id, name, last_sync_at, created_at FROM clients WHERE id = ? AND user_id = ?`,
		clientID, userID,
	).Scan(&client.ID, &client.UserID, &client.Name, &lastSyncAt, &client.CreatedAt)

	if err == nil {
		if lastSyncAt.Valid {
			client.LastSyncAt = &lastSyncAt.Time
		}
		return client, nil
	}

	if err != sql.ErrNoRows {
		return nil, err
	}

	// Create new client
	now := time.Now()
	_, err = db.Exec(
		`INSERT INTO clients (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		clientID, userID, clientName, now,
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		ID:        clientID,
		UserID:    userID,
		Name:      clientName,
		CreatedAt: now,
	}, nil
}

// UpdateClientLastSync updates the last sync time for a client
func (db *DB) UpdateClientLastSync(clientID string, lastSyncAt time.Time) error {
	_, err := db.Exec(`UPDATE clients SET last_sync_at = ? WHERE id = ?`, lastSyncAt, clientID)
	return err
}

// GetClientSyncStatus returns the last sync time for a client
func (db *DB) GetClientSyncStatus(userID, clientID string) (*time.Time, error) {
	var lastSyncAt sql.NullTime
	err := db.QueryRow(
		`SELECT last_sync_at FROM clients WHERE id = ? AND user_id = ?`,
		clientID, userID,
	).Scan(&lastSyncAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !lastSyncAt.Valid {
		return nil, nil
	}
	return &lastSyncAt.Time, nil
}

// InsertUsageEvents inserts multiple usage events, ignoring duplicates.
// The client's local sequence number is part of the dedup key so that
// distinct calls landing in the same timestamp are all kept; only a
// re-synced copy of the same event is ignored. Cost is recomputed
// server-side from the shared pricing table so a stale client cannot
// skew the dashboard.
func (db *DB) InsertUsageEvents(events []UsageEvent) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO usage_events
		(user_id, client_id, sequence, timestamp, function_name, model, provider,
		 input_tokens, output_tokens, duration_ms, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, e := range events {
		cost := pricing.Calculate(e.Model, e.InputTokens, e.OutputTokens)
		result, err := stmt.Exec(
			e.UserID, e.ClientID, e.Sequence, e.Timestamp, e.FunctionName, e.Model, e.Provider,
			e.InputTokens, e.OutputTokens, e.DurationMS, cost,
		)
		if err != nil {
			return 0, err
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	return inserted, tx.Commit()
}

// AggregatedUsage represents aggregated usage data
type AggregatedUsage struct {
	Key          string
	InputTokens  int64
	OutputTokens int64
	Calls        int64
	Cost         float64
}

// GetUsageByDay returns daily usage for a user, newest first, capped at
// the last 30 active days.
func (db *DB) GetUsageByDay(userID string) ([]AggregatedUsage, error) {
	return db.aggregate(userID, `
		SELECT DATE(timestamp), SUM(input_tokens), SUM(output_tokens), COUNT(*), SUM(cost)
		FROM usage_events
		WHERE user_id = ?
		GROUP BY DATE(timestamp)
		ORDER BY DATE(timestamp) DESC
		LIMIT 30
	`)
}

// GetUsageByFunction returns usage grouped by attributed function,
// most expensive first.
func (db *DB) GetUsageByFunction(userID string) ([]AggregatedUsage, error) {
	return db.aggregate(userID, `
		SELECT function_name, SUM(input_tokens), SUM(output_tokens), COUNT(*), SUM(cost)
		FROM usage_events
		WHERE user_id = ?
		GROUP BY function_name
		ORDER BY SUM(cost) DESC
	`)
}

// GetUsageByModel returns usage grouped by model, most expensive first.
func (db *DB) GetUsageByModel(userID string) ([]AggregatedUsage, error) {
	return db.aggregate(userID, `
		SELECT model, SUM(input_tokens), SUM(output_tokens), COUNT(*), SUM(cost)
		FROM usage_events
		WHERE user_id = ?
		GROUP BY model
		ORDER BY SUM(cost) DESC
	`)
}

func (db *DB) aggregate(userID, query string) ([]AggregatedUsage, error) {
	rows, err := db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AggregatedUsage
	for rows.Next() {
		var u AggregatedUsage
		if err := rows.Scan(&u.Key, &u.InputTokens, &u.OutputTokens, &u.Calls, &u.Cost); err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// GetTotalUsage returns total usage for a user
func (db *DB) GetTotalUsage(userID string) (*AggregatedUsage, error) {
	u := AggregatedUsage{Key: "Total"}
	err := db.QueryRow(`
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COUNT(*), COALESCE(SUM(cost), 0)
		FROM usage_events
		WHERE user_id = ?
	`, userID).Scan(&u.InputTokens, &u.OutputTokens, &u.Calls, &u.Cost)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetRecentEvents returns the most recent events for a user, newest
// first.
func (db *DB) GetRecentEvents(userID string, limit int) ([]UsageEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, user_id, client_id, sequence, timestamp, function_name, model,
		       COALESCE(provider, ''), input_tokens, output_tokens, duration_ms
		FROM usage_events
		WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []UsageEvent
	for rows.Next() {
		var e UsageEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.ClientID, &e.Sequence, &e.Timestamp, &e.FunctionName,
			&e.Model, &e.Provider, &e.InputTokens, &e.OutputTokens, &e.DurationMS); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
