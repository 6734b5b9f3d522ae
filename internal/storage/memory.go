package storage

import (
	"context"
	"sync"
	"time"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// MemoryStore is an in-memory Store. It backs the "memory" database type and
// the engine tests; semantics match the SQL backends, including atomic
// ApplyCheck and race-safe dedup get-or-create.
type MemoryStore struct {
	mu        sync.RWMutex
	monitors  map[string]*monitor.Monitor
	results   map[string][]*monitor.CheckResult
	incidents map[string][]*monitor.Incident
	subs      map[string][]*monitor.Subscription
	dedup     map[DedupKind]map[string]*DedupRecord
	dedupSeq  int64
	logs      []*monitor.NotificationLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		monitors:  make(map[string]*monitor.Monitor),
		results:   make(map[string][]*monitor.CheckResult),
		incidents: make(map[string][]*monitor.Incident),
		subs:      make(map[string][]*monitor.Subscription),
		dedup:     make(map[DedupKind]map[string]*DedupRecord),
	}
}

// PutMonitor inserts or replaces a monitor. Used by tests and the memory
// backend's external CRUD shim.
func (s *MemoryStore) PutMonitor(m *monitor.Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.monitors[m.ID] = &cp
}

// DeleteMonitor removes a monitor.
func (s *MemoryStore) DeleteMonitor(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitors, id)
}

// PutSubscription attaches a subscription to its monitor.
func (s *MemoryStore) PutSubscription(sub *monitor.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.MonitorID] = append(s.subs[sub.MonitorID], sub)
}

func (s *MemoryStore) GetActiveMonitors(ctx context.Context) ([]*monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*monitor.Monitor
	for _, m := range s.monitors {
		if m.Active {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ApplyCheck(ctx context.Context, update *CheckUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[update.MonitorID]
	if !ok {
		return ErrNotFound
	}

	s.results[update.MonitorID] = append(s.results[update.MonitorID], update.Result)

	m.LastStatus = update.NewStatus
	m.ConsecutiveFails = update.ConsecutiveFails
	checkedAt := update.Result.CheckedAt
	m.LastCheckAt = &checkedAt

	if update.OpenIncident != nil {
		cp := *update.OpenIncident
		s.incidents[update.MonitorID] = append(s.incidents[update.MonitorID], &cp)
	}
	if update.ResolveIncident != nil {
		for _, inc := range s.incidents[update.MonitorID] {
			if inc.ID == update.ResolveIncident.ID {
				inc.ResolvedAt = update.ResolveIncident.ResolvedAt
				inc.DurationSeconds = update.ResolveIncident.DurationSeconds
			}
		}
	}
	return nil
}

func (s *MemoryStore) GetOpenIncident(ctx context.Context, monitorID string) (*monitor.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.incidents[monitorID] {
		if inc.ResolvedAt == nil {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Incidents returns every incident recorded for a monitor, for tests.
func (s *MemoryStore) Incidents(monitorID string) []*monitor.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*monitor.Incident, 0, len(s.incidents[monitorID]))
	for _, inc := range s.incidents[monitorID] {
		cp := *inc
		out = append(out, &cp)
	}
	return out
}

// Results returns every check result recorded for a monitor, for tests.
func (s *MemoryStore) Results(monitorID string) []*monitor.CheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*monitor.CheckResult(nil), s.results[monitorID]...)
}

func (s *MemoryStore) GetSubscriptions(ctx context.Context, monitorID string) ([]*monitor.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*monitor.Subscription(nil), s.subs[monitorID]...), nil
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, kind DedupKind, hash string, payload []byte) (*DedupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHash, ok := s.dedup[kind]
	if !ok {
		byHash = make(map[string]*DedupRecord)
		s.dedup[kind] = byHash
	}
	if rec, ok := byHash[hash]; ok {
		rec.UsageCount++
		cp := *rec
		return &cp, nil
	}

	s.dedupSeq++
	rec := &DedupRecord{
		ID:         s.dedupSeq,
		Kind:       kind,
		Hash:       hash,
		Payload:    append([]byte(nil), payload...),
		UsageCount: 1,
		CreatedAt:  time.Now().UTC(),
	}
	byHash[hash] = rec
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) GetDedupRecord(ctx context.Context, kind DedupKind, id int64) (*DedupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.dedup[kind] {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) AppendNotificationLog(ctx context.Context, entry *monitor.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.logs = append(s.logs, &cp)
	return nil
}

// NotificationLogs returns every delivery-attempt record, for tests.
func (s *MemoryStore) NotificationLogs() []*monitor.NotificationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*monitor.NotificationLog, 0, len(s.logs))
	for _, l := range s.logs {
		cp := *l
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
