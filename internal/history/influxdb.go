package history

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxDBStore persists PidPoints as a time series, grounded on the
// teacher's internal/datastore/influxdb.go (NewClient, WriteAPIBlocking,
// QueryAPI, Flux range/filter/pivot queries).
type InfluxDBStore struct {
	client   influxdb2.Client
	org      string
	bucket   string
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
}

// NewInfluxDBStore connects to an InfluxDB server and verifies it's
// reachable.
func NewInfluxDBStore(url, token, org, bucket string) (*InfluxDBStore, error) {
	client := influxdb2.NewClient(url, token)

	s := &InfluxDBStore{
		client:   client,
		org:      org,
		bucket:   bucket,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		queryAPI: client.QueryAPI(org),
	}

	if _, err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("history: connect to influxdb: %w", err)
	}
	return s, nil
}

// SavePidPoint writes one PID sample point to the "pid_samples"
// measurement, tagged by ECU id and PID.
func (s *InfluxDBStore) SavePidPoint(p PidPoint) error {
	point := influxdb2.NewPoint(
		"pid_samples",
		map[string]string{
			"ecu_id": p.EcuID,
			"pid":    fmt.Sprintf("0x%02x", p.Pid),
		},
		map[string]interface{}{
			"value": p.Value,
			"unit":  p.Unit,
		},
		p.Timestamp,
	)
	if err := s.writeAPI.WritePoint(context.Background(), point); err != nil {
		return fmt.Errorf("history: write pid point: %w", err)
	}
	return nil
}

// GetPidPoints queries the [start, end] range for ecuID/pid, pivoted
// into one row per timestamp.
func (s *InfluxDBStore) GetPidPoints(ecuID string, pid byte, start, end time.Time) ([]PidPoint, error) {
	query := fmt.Sprintf(`
		from(bucket:"%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r["_measurement"] == "pid_samples" and r["ecu_id"] == "%s" and r["pid"] == "0x%02x")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
	`, s.bucket, start.Format(time.RFC3339), end.Format(time.RFC3339), ecuID, pid)

	result, err := s.queryAPI.Query(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("history: query pid points: %w", err)
	}
	defer result.Close()

	var points []PidPoint
	for result.Next() {
		record := result.Record()
		value, _ := record.ValueByKey("value").(float64)
		unit, _ := record.ValueByKey("unit").(string)
		points = append(points, PidPoint{
			Timestamp: record.Time(),
			EcuID:     ecuID,
			Pid:       pid,
			Value:     value,
			Unit:      unit,
		})
	}
	return points, result.Err()
}

// Close disconnects the InfluxDB client.
func (s *InfluxDBStore) Close() error {
	s.client.Close()
	return nil
}
