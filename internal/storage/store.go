package storage

import (
	"context"
	"errors"
	"time"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned on unique-constraint violations.
	ErrDuplicateKey = errors.New("duplicate")
)

// DedupKind identifies a class of content-addressed reference records.
type DedupKind string

const (
	DedupErrorMessage DedupKind = "error_message"
	DedupCertificate  DedupKind = "tls_certificate"
	DedupDomainInfo   DedupKind = "domain_info"
)

// DedupRecord is one content-addressed record. Hash uniquely maps to exactly
// one record per kind; UsageCount increments on every reuse.
type DedupRecord struct {
	ID         int64     `json:"id" db:"id"`
	Kind       DedupKind `json:"kind" db:"kind"`
	Hash       string    `json:"hash" db:"hash"`
	Payload    []byte    `json:"payload" db:"payload"`
	UsageCount int64     `json:"usage_count" db:"usage_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CheckUpdate is the atomic unit persisted after each probe: the result, the
// monitor's new status fields and any incident change commit or roll back
// together.
type CheckUpdate struct {
	MonitorID        string
	Result           *monitor.CheckResult
	CompactExtra     []byte // dedup-compacted serialization of Result.Extra
	ErrorRef         *int64 // dedup reference for the error message, if any
	NewStatus        monitor.Status
	ConsecutiveFails int
	OpenIncident     *monitor.Incident // non-nil when a new incident starts
	ResolveIncident  *monitor.Incident // non-nil when the open incident ends
}

// MonitorStore provides read access to monitor configuration. Monitor CRUD is
// owned by an external layer; the engine re-reads fresh state at fire time.
type MonitorStore interface {
	GetActiveMonitors(ctx context.Context) ([]*monitor.Monitor, error)
	GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error)
}

// ResultSink records probe outcomes and incident lifecycle changes.
type ResultSink interface {
	// ApplyCheck persists a check result, the monitor's updated status and
	// any incident open/resolve in a single transaction.
	ApplyCheck(ctx context.Context, update *CheckUpdate) error
	GetOpenIncident(ctx context.Context, monitorID string) (*monitor.Incident, error)
}

// SubscriptionStore provides read access to notification subscriptions.
type SubscriptionStore interface {
	GetSubscriptions(ctx context.Context, monitorID string) ([]*monitor.Subscription, error)
}

// DedupStore is the hash-indexed get-or-create backing for reference records.
// GetOrCreate must be safe under concurrent callers racing on the same miss.
type DedupStore interface {
	GetOrCreate(ctx context.Context, kind DedupKind, hash string, payload []byte) (*DedupRecord, error)
	GetDedupRecord(ctx context.Context, kind DedupKind, id int64) (*DedupRecord, error)
}

// NotificationLogStore appends immutable delivery-attempt records.
type NotificationLogStore interface {
	AppendNotificationLog(ctx context.Context, entry *monitor.NotificationLog) error
}

// Store is the full persistence boundary the engine depends on.
type Store interface {
	MonitorStore
	ResultSink
	SubscriptionStore
	DedupStore
	NotificationLogStore

	HealthCheck(ctx context.Context) error
	Close() error
}
