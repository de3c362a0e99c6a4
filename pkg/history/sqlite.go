package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteSink appends records to a SQLite database. It is safe for concurrent
// use.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path in WAL mode.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("history: create data dir: %w", err)
		}
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS tool_calls (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT    NOT NULL,
			req_id      TEXT    NOT NULL,
			server      TEXT    NOT NULL,
			tool        TEXT    NOT NULL,
			parameters  TEXT,
			timeout_ms  INTEGER NOT NULL DEFAULT 0,
			success     INTEGER NOT NULL,
			error       TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_server ON tool_calls(server);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write inserts one record.
func (s *SQLiteSink) Write(rec Record) error {
	var params sql.NullString
	if len(rec.Parameters) > 0 {
		raw, err := json.Marshal(rec.Parameters)
		if err != nil {
			return fmt.Errorf("history: encode parameters: %w", err)
		}
		params = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO tool_calls (ts, req_id, server, tool, parameters, timeout_ms, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.ReqID, rec.Server, rec.Tool, params,
		rec.Timeout.Milliseconds(), rec.Success, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent reads at most limit records, newest first. A limit <= 0 reads all.
func (s *SQLiteSink) Recent(limit int) ([]Record, error) {
	query := `SELECT ts, req_id, server, tool, parameters, timeout_ms, success, error
		FROM tool_calls ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			ts        string
			params    sql.NullString
			timeoutMS int64
			errText   sql.NullString
		)
		if err := rows.Scan(&ts, &rec.ReqID, &rec.Server, &rec.Tool, &params, &timeoutMS, &rec.Success, &errText); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("history: parse timestamp: %w", err)
		}
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &rec.Parameters); err != nil {
				return nil, fmt.Errorf("history: decode parameters: %w", err)
			}
		}
		rec.Timeout = time.Duration(timeoutMS) * time.Millisecond
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
