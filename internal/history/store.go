package history

import (
	"fmt"
	"time"
)

// Store is the history persistence interface a dashboard or capture
// pipeline writes DTC events and PID samples to, and reads them back
// from for a time range. Mirrors the teacher's datastore.Store shape
// (one combined interface fronting two backends).
type Store interface {
	SaveDtcEvent(ev DtcEvent) error
	GetDtcEvents(ecuID string, start, end time.Time) ([]DtcEvent, error)

	SavePidPoint(p PidPoint) error
	GetPidPoints(ecuID string, pid byte, start, end time.Time) ([]PidPoint, error)

	Close() error
}

// Config holds both backends' connection settings.
type Config struct {
	SQLitePath     string
	InfluxDBURL    string
	InfluxDBOrg    string
	InfluxDBToken  string
	InfluxDBBucket string
}

// CombinedStore implements Store using SQLite for DTC events (episodic,
// relational) and InfluxDB for PID points (continuous time series),
// the same split the teacher's CombinedStore makes between its SQLite
// and InfluxDB backends.
type CombinedStore struct {
	sqlite *SQLiteStore
	influx *InfluxDBStore
}

// NewStore opens both backends and returns a combined Store.
func NewStore(cfg Config) (Store, error) {
	sqlite, err := NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite store: %w", err)
	}

	influx, err := NewInfluxDBStore(cfg.InfluxDBURL, cfg.InfluxDBToken, cfg.InfluxDBOrg, cfg.InfluxDBBucket)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("history: open influxdb store: %w", err)
	}

	return &CombinedStore{sqlite: sqlite, influx: influx}, nil
}

func (s *CombinedStore) SaveDtcEvent(ev DtcEvent) error { return s.sqlite.SaveDtcEvent(ev) }

func (s *CombinedStore) GetDtcEvents(ecuID string, start, end time.Time) ([]DtcEvent, error) {
	return s.sqlite.GetDtcEvents(ecuID, start, end)
}

func (s *CombinedStore) SavePidPoint(p PidPoint) error { return s.influx.SavePidPoint(p) }

func (s *CombinedStore) GetPidPoints(ecuID string, pid byte, start, end time.Time) ([]PidPoint, error) {
	return s.influx.GetPidPoints(ecuID, pid, start, end)
}

func (s *CombinedStore) Close() error {
	sqliteErr := s.sqlite.Close()
	influxErr := s.influx.Close()
	if sqliteErr != nil {
		return sqliteErr
	}
	return influxErr
}
