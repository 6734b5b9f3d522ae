package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

func storedMonitor() *monitor.Monitor {
	return &monitor.Monitor{
		ID:              "mon-1",
		Name:            "api",
		Type:            monitor.TypeHTTP,
		Target:          "https://example.com",
		IntervalSeconds: 60,
		Active:          true,
		LastStatus:      monitor.StatusUnknown,
	}
}

func TestMemoryStoreMonitors(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetMonitor(ctx, "mon-1")
	assert.ErrorIs(t, err, ErrNotFound)

	store.PutMonitor(storedMonitor())
	m, err := store.GetMonitor(ctx, "mon-1")
	require.NoError(t, err)
	assert.Equal(t, "api", m.Name)

	// Reads return copies; mutating them does not leak into the store.
	m.Name = "mutated"
	again, err := store.GetMonitor(ctx, "mon-1")
	require.NoError(t, err)
	assert.Equal(t, "api", again.Name)

	inactive := storedMonitor()
	inactive.ID = "mon-2"
	inactive.Active = false
	store.PutMonitor(inactive)

	active, err := store.GetActiveMonitors(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "mon-1", active[0].ID)
}

func TestApplyCheckUpdatesMonitorState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutMonitor(storedMonitor())

	msg := "connection refused"
	checkedAt := time.Now().UTC()
	err := store.ApplyCheck(ctx, &CheckUpdate{
		MonitorID: "mon-1",
		Result: &monitor.CheckResult{
			Status:       monitor.StatusDown,
			ErrorMessage: &msg,
			CheckedAt:    checkedAt,
		},
		NewStatus:        monitor.StatusDown,
		ConsecutiveFails: 1,
		OpenIncident: &monitor.Incident{
			ID:        "inc-1",
			MonitorID: "mon-1",
			StartedAt: checkedAt,
			Severity:  monitor.SeverityCritical,
		},
	})
	require.NoError(t, err)

	m, err := store.GetMonitor(ctx, "mon-1")
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusDown, m.LastStatus)
	assert.Equal(t, 1, m.ConsecutiveFails)
	require.NotNil(t, m.LastCheckAt)
	assert.Equal(t, checkedAt, *m.LastCheckAt)

	open, err := store.GetOpenIncident(ctx, "mon-1")
	require.NoError(t, err)
	assert.Equal(t, "inc-1", open.ID)

	assert.Len(t, store.Results("mon-1"), 1)
}

func TestApplyCheckResolvesIncident(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutMonitor(storedMonitor())

	started := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.ApplyCheck(ctx, &CheckUpdate{
		MonitorID:        "mon-1",
		Result:           &monitor.CheckResult{Status: monitor.StatusDown, CheckedAt: started},
		NewStatus:        monitor.StatusDown,
		ConsecutiveFails: 1,
		OpenIncident:     &monitor.Incident{ID: "inc-1", MonitorID: "mon-1", StartedAt: started},
	}))

	resolvedAt := time.Now().UTC()
	duration := int64(60)
	require.NoError(t, store.ApplyCheck(ctx, &CheckUpdate{
		MonitorID: "mon-1",
		Result:    &monitor.CheckResult{Status: monitor.StatusUp, CheckedAt: resolvedAt},
		NewStatus: monitor.StatusUp,
		ResolveIncident: &monitor.Incident{
			ID:              "inc-1",
			MonitorID:       "mon-1",
			StartedAt:       started,
			ResolvedAt:      &resolvedAt,
			DurationSeconds: &duration,
		},
	}))

	_, err := store.GetOpenIncident(ctx, "mon-1")
	assert.ErrorIs(t, err, ErrNotFound)

	incidents := store.Incidents("mon-1")
	require.Len(t, incidents, 1)
	assert.True(t, incidents[0].IsResolved())
	assert.Equal(t, int64(60), *incidents[0].DurationSeconds)
}

func TestApplyCheckUnknownMonitor(t *testing.T) {
	store := NewMemoryStore()
	err := store.ApplyCheck(context.Background(), &CheckUpdate{
		MonitorID: "ghost",
		Result:    &monitor.CheckResult{Status: monitor.StatusUp, CheckedAt: time.Now()},
		NewStatus: monitor.StatusUp,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const n = 50
	records := make([]*DedupRecord, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := store.GetOrCreate(ctx, DedupErrorMessage, "hash-a", []byte(`"timeout"`))
			assert.NoError(t, err)
			records[i] = rec
		}(i)
	}
	wg.Wait()

	for _, rec := range records {
		require.NotNil(t, rec)
		assert.Equal(t, records[0].ID, rec.ID, "same hash resolves to one record")
	}

	final, err := store.GetDedupRecord(ctx, DedupErrorMessage, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), final.UsageCount)
}

func TestGetOrCreateSeparatesKinds(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, err := store.GetOrCreate(ctx, DedupErrorMessage, "same-hash", []byte(`"x"`))
	require.NoError(t, err)
	b, err := store.GetOrCreate(ctx, DedupCertificate, "same-hash", []byte(`{}`))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID, "kinds have independent namespaces")

	_, err = store.GetDedupRecord(ctx, DedupDomainInfo, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationLogAppend(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.AppendNotificationLog(ctx, &monitor.NotificationLog{
		ID:        "log-1",
		MonitorID: "mon-1",
		ChannelID: "chan-1",
		Event:     monitor.EventDown,
		Success:   true,
		SentAt:    time.Now().UTC(),
	}))

	logs := store.NotificationLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "log-1", logs[0].ID)
}
