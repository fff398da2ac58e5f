package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists DtcEvents, grounded on the teacher's
// internal/datastore/sqlite.go (database/sql + mattn/go-sqlite3,
// CREATE TABLE IF NOT EXISTS with an index on the query-by-time
// column).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path
// and ensures its schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dtc_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ecu_id TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			code TEXT NOT NULL,
			status_byte INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dtc_events_ecu_time
			ON dtc_events(ecu_id, timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("history: create schema: %w", err)
		}
	}
	return nil
}

// SaveDtcEvent inserts one observed DTC event.
func (s *SQLiteStore) SaveDtcEvent(ev DtcEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO dtc_events (ecu_id, timestamp, code, status_byte) VALUES (?, ?, ?, ?)`,
		ev.EcuID, ev.Timestamp, ev.Code, ev.StatusByte,
	)
	if err != nil {
		return fmt.Errorf("history: save dtc event: %w", err)
	}
	return nil
}

// GetDtcEvents returns every event for ecuID in [start, end].
func (s *SQLiteStore) GetDtcEvents(ecuID string, start, end time.Time) ([]DtcEvent, error) {
	rows, err := s.db.Query(
		`SELECT ecu_id, timestamp, code, status_byte FROM dtc_events
			WHERE ecu_id = ? AND timestamp BETWEEN ? AND ?
			ORDER BY timestamp`,
		ecuID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query dtc events: %w", err)
	}
	defer rows.Close()

	var events []DtcEvent
	for rows.Next() {
		var ev DtcEvent
		if err := rows.Scan(&ev.EcuID, &ev.Timestamp, &ev.Code, &ev.StatusByte); err != nil {
			return nil, fmt.Errorf("history: scan dtc event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
