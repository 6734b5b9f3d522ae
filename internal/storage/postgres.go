package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/zateckar/uptimo-sub000/internal/config"
	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS monitors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	target TEXT NOT NULL,
	port INTEGER,
	interval_seconds INTEGER NOT NULL,
	timeout_seconds INTEGER NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	last_status TEXT NOT NULL DEFAULT 'unknown',
	last_check_at TIMESTAMPTZ,
	consecutive_fails INTEGER NOT NULL DEFAULT 0,
	options JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS check_results (
	id BIGSERIAL PRIMARY KEY,
	monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	checked_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	response_time_ms DOUBLE PRECISION,
	status_code INTEGER,
	error_ref BIGINT,
	extra JSONB
);
CREATE INDEX IF NOT EXISTS idx_check_results_monitor ON check_results(monitor_id, checked_at);

CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	started_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ,
	duration_seconds BIGINT,
	description TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'critical'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_open ON incidents(monitor_id) WHERE resolved_at IS NULL;

CREATE TABLE IF NOT EXISTS dedup_refs (
	id BIGSERIAL PRIMARY KEY,
	kind TEXT NOT NULL,
	hash TEXT NOT NULL,
	payload BYTEA NOT NULL,
	usage_count BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(kind, hash)
);

CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	config JSONB NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	notify_on_down BOOLEAN NOT NULL DEFAULT TRUE,
	notify_on_up BOOLEAN NOT NULL DEFAULT TRUE,
	notify_on_ssl_warning BOOLEAN NOT NULL DEFAULT FALSE,
	failure_threshold INTEGER NOT NULL DEFAULT 1,
	escalate_after_minutes INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_monitor ON subscriptions(monitor_id);

CREATE TABLE IF NOT EXISTS notification_log (
	id TEXT PRIMARY KEY,
	monitor_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	event TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	sent_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is the PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and bootstraps the schema.
func NewPostgresStore(cfg *config.DatabaseConfig, connString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create postgres schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetActiveMonitors(ctx context.Context) ([]*monitor.Monitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*monitor.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

func (s *PostgresStore) GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id)
	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor %s: %w", id, err)
	}
	return m, nil
}

// PutMonitor inserts or replaces a monitor row for the external CRUD layer
// and tests.
func (s *PostgresStore) PutMonitor(ctx context.Context, m *monitor.Monitor) error {
	options, err := marshalOptions(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitors (`+monitorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT(id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, target = EXCLUDED.target,
			port = EXCLUDED.port, interval_seconds = EXCLUDED.interval_seconds,
			timeout_seconds = EXCLUDED.timeout_seconds, active = EXCLUDED.active,
			options = EXCLUDED.options, updated_at = EXCLUDED.updated_at`,
		m.ID, m.Name, m.Type, m.Target, nullIntValue(m.Port),
		m.IntervalSeconds, m.TimeoutSeconds, m.Active,
		m.LastStatus, nullTime(m.LastCheckAt), m.ConsecutiveFails,
		options, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert monitor %s: %w", m.ID, err)
	}
	return nil
}

func (s *PostgresStore) ApplyCheck(ctx context.Context, update *CheckUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res := update.Result
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO check_results (monitor_id, checked_at, status, response_time_ms, status_code, error_ref, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		update.MonitorID, res.CheckedAt, res.Status,
		nullFloat(res.ResponseTimeMS), nullInt(res.StatusCode),
		nullInt64(update.ErrorRef), update.CompactExtra); err != nil {
		return fmt.Errorf("failed to insert check result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE monitors SET last_status = $1, consecutive_fails = $2, last_check_at = $3, updated_at = $4
		WHERE id = $5`,
		update.NewStatus, update.ConsecutiveFails, res.CheckedAt, time.Now().UTC(),
		update.MonitorID); err != nil {
		return fmt.Errorf("failed to update monitor status: %w", err)
	}

	if update.OpenIncident != nil {
		inc := update.OpenIncident
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO incidents (id, monitor_id, started_at, resolved_at, duration_seconds, description, severity)
			VALUES ($1, $2, $3, NULL, NULL, $4, $5)`,
			inc.ID, inc.MonitorID, inc.StartedAt, inc.Description, inc.Severity); err != nil {
			return fmt.Errorf("failed to open incident: %w", err)
		}
	}

	if update.ResolveIncident != nil {
		inc := update.ResolveIncident
		if _, err := tx.ExecContext(ctx, `
			UPDATE incidents SET resolved_at = $1, duration_seconds = $2
			WHERE id = $3 AND resolved_at IS NULL`,
			nullTime(inc.ResolvedAt), nullInt64(inc.DurationSeconds), inc.ID); err != nil {
			return fmt.Errorf("failed to resolve incident: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit check update: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOpenIncident(ctx context.Context, monitorID string) (*monitor.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, monitor_id, started_at, resolved_at, duration_seconds, description, severity
		FROM incidents WHERE monitor_id = $1 AND resolved_at IS NULL`, monitorID)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open incident for %s: %w", monitorID, err)
	}
	return inc, nil
}

func (s *PostgresStore) GetSubscriptions(ctx context.Context, monitorID string) ([]*monitor.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.monitor_id,
			s.notify_on_down, s.notify_on_up, s.notify_on_ssl_warning,
			s.failure_threshold, s.escalate_after_minutes,
			c.id, c.name, c.type, c.config, c.active
		FROM subscriptions s
		JOIN channels c ON c.id = s.channel_id
		WHERE s.monitor_id = $1`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for %s: %w", monitorID, err)
	}
	defer rows.Close()

	var subs []*monitor.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, kind DedupKind, hash string, payload []byte) (*DedupRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO dedup_refs (kind, hash, payload, usage_count, created_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT(kind, hash) DO UPDATE SET usage_count = dedup_refs.usage_count + 1
		RETURNING id, kind, hash, payload, usage_count, created_at`,
		kind, hash, payload, time.Now().UTC())

	var rec DedupRecord
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.Hash, &rec.Payload, &rec.UsageCount, &rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert dedup record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) GetDedupRecord(ctx context.Context, kind DedupKind, id int64) (*DedupRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, hash, payload, usage_count, created_at
		FROM dedup_refs WHERE kind = $1 AND id = $2`, kind, id)

	var rec DedupRecord
	err := row.Scan(&rec.ID, &rec.Kind, &rec.Hash, &rec.Payload, &rec.UsageCount, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dedup record %d: %w", id, err)
	}
	return &rec, nil
}

func (s *PostgresStore) AppendNotificationLog(ctx context.Context, entry *monitor.NotificationLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_log (id, monitor_id, channel_id, event, success, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.MonitorID, entry.ChannelID, entry.Event,
		entry.Success, entry.Error, entry.SentAt)
	if err != nil {
		return fmt.Errorf("failed to append notification log: %w", err)
	}
	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
