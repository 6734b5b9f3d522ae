package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
	"github.com/zateckar/uptimo-sub000/internal/status"
	"github.com/zateckar/uptimo-sub000/internal/storage"
)

// stubProvider records sends and fails on demand.
type stubProvider struct {
	mu       sync.Mutex
	sent     []Message
	channels []string
	err      error
}

func (p *stubProvider) Send(_ context.Context, channel *monitor.Channel, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	p.channels = append(p.channels, channel.ID)
	return nil
}

func (p *stubProvider) ValidateConfig(map[string]interface{}) error { return nil }
func (p *stubProvider) Type() monitor.ChannelType                   { return monitor.ChannelEmail }

func (p *stubProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func newTestDispatcher() (*Dispatcher, *storage.MemoryStore, *stubProvider) {
	store := storage.NewMemoryStore()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := NewDispatcher(store, logger)
	stub := &stubProvider{}
	d.Register(stub)
	return d, store, stub
}

func dispatchMonitor() *monitor.Monitor {
	return &monitor.Monitor{
		ID:     "mon-1",
		Name:   "api",
		Type:   monitor.TypeHTTP,
		Target: "https://example.com",
	}
}

func emailSubscription(active bool) *monitor.Subscription {
	return &monitor.Subscription{
		ID:        "sub-1",
		MonitorID: "mon-1",
		Channel: &monitor.Channel{
			ID:     "chan-1",
			Name:   "ops",
			Type:   monitor.ChannelEmail,
			Active: active,
		},
		NotifyOnDown:       true,
		NotifyOnUp:         true,
		NotifyOnSSLWarning: true,
		FailureThreshold:   1,
	}
}

func TestDispatchDeliversAndLogs(t *testing.T) {
	d, store, stub := newTestDispatcher()
	store.PutSubscription(emailSubscription(true))

	incident := &monitor.Incident{ID: "inc-1", StartedAt: time.Now(), Description: "connection refused"}
	outcomes := d.Dispatch(context.Background(), dispatchMonitor(), monitor.EventDown, incident, 1, time.Now())

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, 1, stub.sentCount())
	assert.Contains(t, stub.sent[0].Body, "connection refused")

	logs := store.NotificationLogs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, monitor.EventDown, logs[0].Event)
	assert.Equal(t, "chan-1", logs[0].ChannelID)
}

func TestDispatchLogsFailures(t *testing.T) {
	d, store, stub := newTestDispatcher()
	stub.err = errors.New("smtp unreachable")
	store.PutSubscription(emailSubscription(true))

	outcomes := d.Dispatch(context.Background(), dispatchMonitor(), monitor.EventUp, nil, 0, time.Now())

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)

	logs := store.NotificationLogs()
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Contains(t, logs[0].Error, "smtp unreachable")
}

func TestDispatchSkipsInactiveChannel(t *testing.T) {
	d, store, stub := newTestDispatcher()
	store.PutSubscription(emailSubscription(false))

	outcomes := d.Dispatch(context.Background(), dispatchMonitor(), monitor.EventDown, nil, 5, time.Now())

	assert.Empty(t, outcomes)
	assert.Zero(t, stub.sentCount())
	assert.Empty(t, store.NotificationLogs(), "gated skips leave no log entry")
}

func TestDispatchFailureThreshold(t *testing.T) {
	d, store, stub := newTestDispatcher()
	sub := emailSubscription(true)
	sub.FailureThreshold = 2
	store.PutSubscription(sub)

	m := dispatchMonitor()
	incident := &monitor.Incident{ID: "inc-1", StartedAt: time.Now()}

	t.Run("below threshold is silent", func(t *testing.T) {
		outcomes := d.Dispatch(context.Background(), m, monitor.EventDown, incident, 1, time.Now())
		assert.Empty(t, outcomes)
		assert.Zero(t, stub.sentCount())
	})

	t.Run("at threshold fires", func(t *testing.T) {
		outcomes := d.Dispatch(context.Background(), m, monitor.EventDown, incident, 2, time.Now())
		require.Len(t, outcomes, 1)
		assert.Equal(t, 1, stub.sentCount())
	})

	t.Run("recovery ignores threshold", func(t *testing.T) {
		outcomes := d.Dispatch(context.Background(), m, monitor.EventUp, incident, 0, time.Now())
		require.Len(t, outcomes, 1)
	})
}

func TestDispatchSuppressesRepeatedDown(t *testing.T) {
	d, store, stub := newTestDispatcher()
	sub := emailSubscription(true)
	sub.FailureThreshold = 2
	store.PutSubscription(sub)

	m := dispatchMonitor()
	ctx := context.Background()
	incident := &monitor.Incident{ID: "inc-1", StartedAt: time.Now()}

	assert.Empty(t, d.Dispatch(ctx, m, monitor.EventDown, incident, 1, time.Now()))

	outcomes := d.Dispatch(ctx, m, monitor.EventDown, incident, 2, time.Now())
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1, stub.sentCount(), "alert fires on the check that crosses the threshold")

	assert.Empty(t, d.Dispatch(ctx, m, monitor.EventDown, incident, 3, time.Now()))
	assert.Equal(t, 1, stub.sentCount(), "further failing checks do not repeat the alert")

	outcomes = d.Dispatch(ctx, m, monitor.EventUp, incident, 0, time.Now())
	require.Len(t, outcomes, 1)
	assert.Equal(t, 2, stub.sentCount())

	// Recovery resets the markers so a fresh incident alerts again.
	next := &monitor.Incident{ID: "inc-2", StartedAt: time.Now()}
	assert.Empty(t, d.Dispatch(ctx, m, monitor.EventDown, next, 1, time.Now()))
	outcomes = d.Dispatch(ctx, m, monitor.EventDown, next, 2, time.Now())
	require.Len(t, outcomes, 1)
	assert.Equal(t, 3, stub.sentCount())
}

// Runs the full down,down,down,up sequence through the status engine and the
// dispatcher together: with a threshold of 2 the alert lands on the second
// failing check, the third is suppressed, and recovery notifies once.
func TestThresholdSequenceEndToEnd(t *testing.T) {
	d, store, stub := newTestDispatcher()
	sub := emailSubscription(true)
	sub.FailureThreshold = 2
	store.PutSubscription(sub)

	m := dispatchMonitor()
	m.IntervalSeconds = 60
	m.Active = true
	store.PutMonitor(m)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	engine := status.NewEngine(store, logger)

	ctx := context.Background()
	start := time.Now().UTC()
	sends := []int{0, 1, 1, 2}
	for i, st := range []monitor.Status{monitor.StatusDown, monitor.StatusDown, monitor.StatusDown, monitor.StatusUp} {
		at := start.Add(time.Duration(i) * time.Minute)
		result := &monitor.CheckResult{Status: st, CheckedAt: at}
		if st == monitor.StatusDown {
			msg := "connection refused"
			result.ErrorMessage = &msg
		}

		tr, err := engine.Apply(ctx, m, result, at)
		require.NoError(t, err)
		for _, ev := range tr.Events {
			d.Dispatch(ctx, m, ev.Type, ev.Incident, tr.ConsecutiveFails, at)
		}
		require.NoError(t, store.ApplyCheck(ctx, &storage.CheckUpdate{
			MonitorID:        m.ID,
			Result:           result,
			NewStatus:        tr.NewStatus,
			ConsecutiveFails: tr.ConsecutiveFails,
			OpenIncident:     tr.OpenIncident,
			ResolveIncident:  tr.ResolveIncident,
		}))
		m.LastStatus = tr.NewStatus
		m.ConsecutiveFails = tr.ConsecutiveFails

		assert.Equal(t, sends[i], stub.sentCount(), "after check %d", i+1)
	}

	incidents := store.Incidents(m.ID)
	require.Len(t, incidents, 1, "one incident spans all three failing checks")
	require.NotNil(t, incidents[0].DurationSeconds)
	assert.Equal(t, int64(3*60), *incidents[0].DurationSeconds,
		"downtime runs from the first failing check to recovery")
}

func TestDispatchRetriesAfterFailedSend(t *testing.T) {
	d, store, stub := newTestDispatcher()
	store.PutSubscription(emailSubscription(true))
	stub.err = errors.New("smtp unreachable")

	m := dispatchMonitor()
	ctx := context.Background()
	incident := &monitor.Incident{ID: "inc-1", StartedAt: time.Now()}

	outcomes := d.Dispatch(ctx, m, monitor.EventDown, incident, 1, time.Now())
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)

	// A failed send leaves no marker, so the next failing check retries.
	stub.err = nil
	outcomes = d.Dispatch(ctx, m, monitor.EventDown, incident, 2, time.Now())
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, 1, stub.sentCount())
}

func TestDispatchSuppressesRepeatedSSLWarning(t *testing.T) {
	d, store, stub := newTestDispatcher()
	store.PutSubscription(emailSubscription(true))

	m := dispatchMonitor()
	ctx := context.Background()

	outcomes := d.Dispatch(ctx, m, monitor.EventSSLWarning, nil, 0, time.Now())
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1, stub.sentCount())

	assert.Empty(t, d.Dispatch(ctx, m, monitor.EventSSLWarning, nil, 0, time.Now()))
	assert.Equal(t, 1, stub.sentCount(), "ssl warning repeats are suppressed until recovery")

	d.Dispatch(ctx, m, monitor.EventUp, nil, 0, time.Now())
	outcomes = d.Dispatch(ctx, m, monitor.EventSSLWarning, nil, 0, time.Now())
	require.Len(t, outcomes, 1)
	assert.Equal(t, 3, stub.sentCount())
}

func TestDispatchEscalationDelay(t *testing.T) {
	d, store, stub := newTestDispatcher()
	sub := emailSubscription(true)
	sub.EscalateAfterMinutes = 10
	store.PutSubscription(sub)

	m := dispatchMonitor()
	now := time.Now()

	t.Run("young incident is held back", func(t *testing.T) {
		incident := &monitor.Incident{ID: "inc-1", StartedAt: now.Add(-2 * time.Minute)}
		outcomes := d.Dispatch(context.Background(), m, monitor.EventDown, incident, 3, now)
		assert.Empty(t, outcomes)
	})

	t.Run("old incident escalates", func(t *testing.T) {
		incident := &monitor.Incident{ID: "inc-1", StartedAt: now.Add(-15 * time.Minute)}
		outcomes := d.Dispatch(context.Background(), m, monitor.EventDown, incident, 3, now)
		require.Len(t, outcomes, 1)
		assert.Equal(t, 1, stub.sentCount())
	})
}

func TestDispatchEventFlags(t *testing.T) {
	d, store, stub := newTestDispatcher()
	sub := emailSubscription(true)
	sub.NotifyOnUp = false
	sub.NotifyOnSSLWarning = false
	store.PutSubscription(sub)

	m := dispatchMonitor()
	assert.Empty(t, d.Dispatch(context.Background(), m, monitor.EventUp, nil, 0, time.Now()))
	assert.Empty(t, d.Dispatch(context.Background(), m, monitor.EventSSLWarning, nil, 0, time.Now()))
	assert.Zero(t, stub.sentCount())
}

func TestDispatchUnknownChannelType(t *testing.T) {
	d, store, _ := newTestDispatcher()
	sub := emailSubscription(true)
	sub.Channel.Type = monitor.ChannelType("pager")
	store.PutSubscription(sub)

	outcomes := d.Dispatch(context.Background(), dispatchMonitor(), monitor.EventDown, nil, 1, time.Now())

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Err.Error(), "no provider")
}

func TestProviderConfigValidation(t *testing.T) {
	t.Run("email requires host from and to", func(t *testing.T) {
		p := NewEmailProvider()
		assert.Error(t, p.ValidateConfig(map[string]interface{}{}))
		assert.NoError(t, p.ValidateConfig(map[string]interface{}{
			"smtp_host": "mail.example.com",
			"from":      "uptimo@example.com",
			"to":        "ops@example.com",
		}))
	})

	t.Run("telegram requires token and chat", func(t *testing.T) {
		p := NewTelegramProvider()
		assert.Error(t, p.ValidateConfig(map[string]interface{}{"bot_token": "t"}))
		assert.NoError(t, p.ValidateConfig(map[string]interface{}{
			"bot_token": "t", "chat_id": "42",
		}))
	})

	t.Run("slack requires webhook url", func(t *testing.T) {
		p := NewSlackProvider()
		assert.Error(t, p.ValidateConfig(map[string]interface{}{}))
		assert.NoError(t, p.ValidateConfig(map[string]interface{}{
			"webhook_url": "https://hooks.slack.com/services/x",
		}))
	})
}
