// Package status turns raw check results into monitor status transitions and
// incident lifecycle changes.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
	"github.com/zateckar/uptimo-sub000/internal/storage"
)

// Event is a status-change notification trigger produced by a transition.
type Event struct {
	Type     monitor.EventType
	Incident *monitor.Incident
}

// Transition is the full effect of applying one check result: the monitor's
// new status fields, incident changes to persist, and the events to dispatch.
// The caller persists everything in one transaction.
type Transition struct {
	NewStatus        monitor.Status
	ConsecutiveFails int
	OpenIncident     *monitor.Incident
	ResolveIncident  *monitor.Incident
	Events           []Event
}

// Engine computes transitions. It reads the currently open incident through
// the store; all writes are left to the caller.
type Engine struct {
	store  storage.ResultSink
	logger *logrus.Logger
}

// NewEngine creates a status engine.
func NewEngine(store storage.ResultSink, logger *logrus.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Apply computes the transition for one check result against the monitor's
// current state. A monitor has at most one open incident at any time; an
// incident is opened only when none is open, and resolved only when one is.
func (e *Engine) Apply(ctx context.Context, m *monitor.Monitor, result *monitor.CheckResult, now time.Time) (*Transition, error) {
	open, err := e.store.GetOpenIncident(ctx, m.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading open incident: %w", err)
	}

	t := &Transition{
		NewStatus:        result.Status,
		ConsecutiveFails: m.ConsecutiveFails,
	}

	switch result.Status {
	case monitor.StatusDown:
		t.ConsecutiveFails = m.ConsecutiveFails + 1
		if open == nil {
			inc := &monitor.Incident{
				ID:          uuid.New().String(),
				MonitorID:   m.ID,
				StartedAt:   now,
				Description: incidentDescription(result),
				Severity:    incidentSeverity(result),
			}
			t.OpenIncident = inc
			open = inc
		}
		// Every failing check surfaces a down event; the dispatcher decides
		// whether a subscription's threshold is met and suppresses repeats,
		// so thresholds above one still fire on the check that crosses them.
		t.Events = append(t.Events, Event{Type: monitor.EventDown, Incident: open})
		if m.LastStatus != monitor.StatusDown {
			e.logger.WithFields(logrus.Fields{
				"monitor": m.Name,
				"reason":  incidentDescription(result),
			}).Warn("monitor went down")
		}

	case monitor.StatusUp:
		t.ConsecutiveFails = 0
		if open != nil {
			resolved := *open
			resolvedAt := now
			duration := int64(now.Sub(open.StartedAt).Seconds())
			resolved.ResolvedAt = &resolvedAt
			resolved.DurationSeconds = &duration
			t.ResolveIncident = &resolved
		}
		if m.LastStatus == monitor.StatusDown {
			t.Events = append(t.Events, Event{Type: monitor.EventUp, Incident: t.ResolveIncident})
			e.logger.WithField("monitor", m.Name).Info("monitor recovered")
		}

	case monitor.StatusUnknown:
		// Unknown neither opens nor resolves incidents, but it does end a
		// failure streak: the counter tracks consecutive down results only.
		t.ConsecutiveFails = 0
	}

	if result.Extra != nil && result.Extra.SSLWarning {
		t.Events = append(t.Events, Event{Type: monitor.EventSSLWarning, Incident: open})
	}
	return t, nil
}

// incidentDescription derives a human-readable cause from the result. HTTP
// checks without an explicit error fall back to the status code.
func incidentDescription(result *monitor.CheckResult) string {
	if result.ErrorMessage != nil && *result.ErrorMessage != "" {
		return *result.ErrorMessage
	}
	if result.StatusCode != nil {
		return fmt.Sprintf("HTTP %d", *result.StatusCode)
	}
	return "check failed"
}

func incidentSeverity(result *monitor.CheckResult) monitor.Severity {
	if result.Extra != nil && result.Extra.SSLWarning {
		return monitor.SeverityWarning
	}
	return monitor.SeverityCritical
}
