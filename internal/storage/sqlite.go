package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zateckar/uptimo-sub000/internal/config"
	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS monitors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	target TEXT NOT NULL,
	port INTEGER,
	interval_seconds INTEGER NOT NULL,
	timeout_seconds INTEGER NOT NULL,
	active BOOLEAN NOT NULL DEFAULT 1,
	last_status TEXT NOT NULL DEFAULT 'unknown',
	last_check_at TIMESTAMP,
	consecutive_fails INTEGER NOT NULL DEFAULT 0,
	options TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS check_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	checked_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL,
	response_time_ms REAL,
	status_code INTEGER,
	error_ref INTEGER,
	extra TEXT
);
CREATE INDEX IF NOT EXISTS idx_check_results_monitor ON check_results(monitor_id, checked_at);

CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	started_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP,
	duration_seconds INTEGER,
	description TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'critical'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_open ON incidents(monitor_id) WHERE resolved_at IS NULL;

CREATE TABLE IF NOT EXISTS dedup_refs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	hash TEXT NOT NULL,
	payload BLOB NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(kind, hash)
);

CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	notify_on_down BOOLEAN NOT NULL DEFAULT 1,
	notify_on_up BOOLEAN NOT NULL DEFAULT 1,
	notify_on_ssl_warning BOOLEAN NOT NULL DEFAULT 0,
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
	sent_at TIMESTAMP NOT NULL
);
`

// SQLiteStore is the sqlite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the sqlite database and bootstraps the schema.
func NewSQLiteStore(cfg *config.DatabaseConfig) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", cfg.ConnectionString)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const monitorColumns = `id, name, type, target, port, interval_seconds, timeout_seconds,
	active, last_status, last_check_at, consecutive_fails, options, created_at, updated_at`

func (s *SQLiteStore) GetActiveMonitors(ctx context.Context) ([]*monitor.Monitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE active = 1`)
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

func (s *SQLiteStore) GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = ?`, id)
	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor %s: %w", id, err)
	}
	return m, nil
}

// PutMonitor inserts or replaces a monitor row. The engine itself only reads
// monitors; this services the external CRUD layer and tests.
func (s *SQLiteStore) PutMonitor(ctx context.Context, m *monitor.Monitor) error {
	options, err := marshalOptions(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitors (`+monitorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, type = excluded.type, target = excluded.target,
			port = excluded.port, interval_seconds = excluded.interval_seconds,
			timeout_seconds = excluded.timeout_seconds, active = excluded.active,
			options = excluded.options, updated_at = excluded.updated_at`,
		m.ID, m.Name, m.Type, m.Target, nullIntValue(m.Port),
		m.IntervalSeconds, m.TimeoutSeconds, m.Active,
		m.LastStatus, nullTime(m.LastCheckAt), m.ConsecutiveFails,
		options, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert monitor %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ApplyCheck(ctx context.Context, update *CheckUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res := update.Result
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO check_results (monitor_id, checked_at, status, response_time_ms, status_code, error_ref, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		update.MonitorID, res.CheckedAt, res.Status,
		nullFloat(res.ResponseTimeMS), nullInt(res.StatusCode),
		nullInt64(update.ErrorRef), update.CompactExtra); err != nil {
		return fmt.Errorf("failed to insert check result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE monitors SET last_status = ?, consecutive_fails = ?, last_check_at = ?, updated_at = ?
		WHERE id = ?`,
		update.NewStatus, update.ConsecutiveFails, res.CheckedAt, time.Now().UTC(),
		update.MonitorID); err != nil {
		return fmt.Errorf("failed to update monitor status: %w", err)
	}

	if update.OpenIncident != nil {
		inc := update.OpenIncident
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO incidents (id, monitor_id, started_at, resolved_at, duration_seconds, description, severity)
			VALUES (?, ?, ?, NULL, NULL, ?, ?)`,
			inc.ID, inc.MonitorID, inc.StartedAt, inc.Description, inc.Severity); err != nil {
			return fmt.Errorf("failed to open incident: %w", err)
		}
	}

	if update.ResolveIncident != nil {
		inc := update.ResolveIncident
		if _, err := tx.ExecContext(ctx, `
			UPDATE incidents SET resolved_at = ?, duration_seconds = ?
			WHERE id = ? AND resolved_at IS NULL`,
			nullTime(inc.ResolvedAt), nullInt64(inc.DurationSeconds), inc.ID); err != nil {
			return fmt.Errorf("failed to resolve incident: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit check update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOpenIncident(ctx context.Context, monitorID string) (*monitor.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, monitor_id, started_at, resolved_at, duration_seconds, description, severity
		FROM incidents WHERE monitor_id = ? AND resolved_at IS NULL`, monitorID)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open incident for %s: %w", monitorID, err)
	}
	return inc, nil
}

func (s *SQLiteStore) GetSubscriptions(ctx context.Context, monitorID string) ([]*monitor.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.monitor_id,
			s.notify_on_down, s.notify_on_up, s.notify_on_ssl_warning,
			s.failure_threshold, s.escalate_after_minutes,
			c.id, c.name, c.type, c.config, c.active
		FROM subscriptions s
		JOIN channels c ON c.id = s.channel_id
		WHERE s.monitor_id = ?`, monitorID)
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

// GetOrCreate upserts a dedup record. The unique (kind, hash) constraint makes
// two concurrent callers racing on the same miss converge on one row; the
// loser of the insert race lands in the DO UPDATE branch and increments.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, kind DedupKind, hash string, payload []byte) (*DedupRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO dedup_refs (kind, hash, payload, usage_count, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, hash) DO UPDATE SET usage_count = usage_count + 1
		RETURNING id, kind, hash, payload, usage_count, created_at`,
		kind, hash, payload, time.Now().UTC())

	var rec DedupRecord
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.Hash, &rec.Payload, &rec.UsageCount, &rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert dedup record: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) GetDedupRecord(ctx context.Context, kind DedupKind, id int64) (*DedupRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, hash, payload, usage_count, created_at
		FROM dedup_refs WHERE kind = ? AND id = ?`, kind, id)

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

func (s *SQLiteStore) AppendNotificationLog(ctx context.Context, entry *monitor.NotificationLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_log (id, monitor_id, channel_id, event, success, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.MonitorID, entry.ChannelID, entry.Event,
		entry.Success, entry.Error, entry.SentAt)
	if err != nil {
		return fmt.Errorf("failed to append notification log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullIntValue(v int) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}
