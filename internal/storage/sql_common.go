package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// monitorOptions is the serialized form of the per-protocol option union.
type monitorOptions struct {
	HTTP  *monitor.HTTPOptions  `json:"http,omitempty"`
	TCP   *monitor.TCPOptions   `json:"tcp,omitempty"`
	Ping  *monitor.PingOptions  `json:"ping,omitempty"`
	Kafka *monitor.KafkaOptions `json:"kafka,omitempty"`
}

func marshalOptions(m *monitor.Monitor) ([]byte, error) {
	opts := monitorOptions{HTTP: m.HTTP, TCP: m.TCP, Ping: m.Ping, Kafka: m.Kafka}
	data, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize monitor options: %w", err)
	}
	return data, nil
}

func scanMonitor(rows interface{ Scan(...interface{}) error }) (*monitor.Monitor, error) {
	var (
		m           monitor.Monitor
		port        sql.NullInt64
		lastCheckAt sql.NullTime
		optionsJSON []byte
	)
	err := rows.Scan(
		&m.ID, &m.Name, &m.Type, &m.Target, &port,
		&m.IntervalSeconds, &m.TimeoutSeconds, &m.Active,
		&m.LastStatus, &lastCheckAt, &m.ConsecutiveFails,
		&optionsJSON, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if port.Valid {
		m.Port = int(port.Int64)
	}
	if lastCheckAt.Valid {
		t := lastCheckAt.Time
		m.LastCheckAt = &t
	}
	if len(optionsJSON) > 0 {
		var opts monitorOptions
		if err := json.Unmarshal(optionsJSON, &opts); err != nil {
			return nil, fmt.Errorf("failed to parse monitor options: %w", err)
		}
		m.HTTP, m.TCP, m.Ping, m.Kafka = opts.HTTP, opts.TCP, opts.Ping, opts.Kafka
	}
	return &m, nil
}

func scanIncident(row interface{ Scan(...interface{}) error }) (*monitor.Incident, error) {
	var (
		inc        monitor.Incident
		resolvedAt sql.NullTime
		duration   sql.NullInt64
	)
	err := row.Scan(&inc.ID, &inc.MonitorID, &inc.StartedAt, &resolvedAt,
		&duration, &inc.Description, &inc.Severity)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	if duration.Valid {
		d := duration.Int64
		inc.DurationSeconds = &d
	}
	return &inc, nil
}

func scanSubscription(row interface{ Scan(...interface{}) error }) (*monitor.Subscription, error) {
	var (
		sub        monitor.Subscription
		ch         monitor.Channel
		configJSON []byte
	)
	err := row.Scan(
		&sub.ID, &sub.MonitorID,
		&sub.NotifyOnDown, &sub.NotifyOnUp, &sub.NotifyOnSSLWarning,
		&sub.FailureThreshold, &sub.EscalateAfterMinutes,
		&ch.ID, &ch.Name, &ch.Type, &configJSON, &ch.Active,
	)
	if err != nil {
		return nil, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &ch.Config); err != nil {
			return nil, fmt.Errorf("failed to parse channel config: %w", err)
		}
	}
	sub.Channel = &ch
	return &sub, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
