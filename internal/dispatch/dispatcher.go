package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
	"github.com/zateckar/uptimo-sub000/internal/storage"
)

// Outcome is the per-channel result of one dispatch fan-out.
type Outcome struct {
	ChannelID   string
	ChannelName string
	Success     bool
	Err         error
}

// logStore is the slice of the store the dispatcher writes to.
type logStore interface {
	storage.SubscriptionStore
	storage.NotificationLogStore
}

// Dispatcher fans status-change events out to the monitor's subscribed
// channels, applying per-subscription gating, and records every delivery
// attempt. Delivery is at-least-once: attempts happen before the check
// update is committed, and a failed send retries on the next failing check.
//
// Down and ssl-warning events arrive on every failing check so that
// thresholds above one can fire mid-incident; the sent markers collapse them
// to one successful delivery per channel per incident.
type Dispatcher struct {
	store     logStore
	providers map[monitor.ChannelType]Provider
	logger    *logrus.Logger

	mu   sync.Mutex
	sent map[string]struct{}
}

// NewDispatcher creates a dispatcher with the built-in providers registered.
func NewDispatcher(store logStore, logger *logrus.Logger) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		providers: make(map[monitor.ChannelType]Provider),
		logger:    logger,
		sent:      make(map[string]struct{}),
	}
	for _, p := range []Provider{NewEmailProvider(), NewTelegramProvider(), NewSlackProvider()} {
		d.providers[p.Type()] = p
	}
	return d
}

// Register adds or replaces a provider. Used by tests to stub delivery.
func (d *Dispatcher) Register(p Provider) {
	d.providers[p.Type()] = p
}

// Dispatch sends the event to every eligible subscription in parallel and
// returns one outcome per attempted channel. Gating failures are silent
// skips; delivery failures are logged and recorded but never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, m *monitor.Monitor, event monitor.EventType, incident *monitor.Incident, consecutiveFails int, now time.Time) []Outcome {
	if event == monitor.EventUp {
		d.clearSent(m.ID)
	}

	subs, err := d.store.GetSubscriptions(ctx, m.ID)
	if err != nil {
		d.logger.WithField("monitor", m.Name).WithError(err).Error("loading subscriptions failed")
		return nil
	}

	msg := renderMessage(m, event, incident)

	var (
		mu       sync.Mutex
		outcomes []Outcome
		wg       sync.WaitGroup
	)
	for _, sub := range subs {
		if !d.eligible(sub, event, incident, consecutiveFails, now) {
			continue
		}
		wg.Add(1)
		go func(sub *monitor.Subscription) {
			defer wg.Done()
			outcome := d.deliver(ctx, m, sub.Channel, event, msg)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	return outcomes
}

// eligible applies the subscription's gating rules for the event.
func (d *Dispatcher) eligible(sub *monitor.Subscription, event monitor.EventType, incident *monitor.Incident, consecutiveFails int, now time.Time) bool {
	if sub.Channel == nil || !sub.Channel.Active {
		return false
	}
	switch event {
	case monitor.EventDown:
		if !sub.NotifyOnDown {
			return false
		}
		if sub.FailureThreshold > 0 && consecutiveFails < sub.FailureThreshold {
			return false
		}
		if sub.EscalateAfterMinutes > 0 {
			if incident == nil {
				return false
			}
			age := now.Sub(incident.StartedAt)
			if age < time.Duration(sub.EscalateAfterMinutes)*time.Minute {
				return false
			}
		}
		return !d.alreadySent(sub.MonitorID, sub.Channel.ID, event)
	case monitor.EventUp:
		return sub.NotifyOnUp
	case monitor.EventSSLWarning:
		return sub.NotifyOnSSLWarning && !d.alreadySent(sub.MonitorID, sub.Channel.ID, event)
	default:
		return false
	}
}

func sentKey(monitorID, channelID string, event monitor.EventType) string {
	return monitorID + "|" + channelID + "|" + string(event)
}

func (d *Dispatcher) alreadySent(monitorID, channelID string, event monitor.EventType) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sent[sentKey(monitorID, channelID, event)]
	return ok
}

func (d *Dispatcher) markSent(monitorID, channelID string, event monitor.EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[sentKey(monitorID, channelID, event)] = struct{}{}
}

// clearSent drops the monitor's suppression markers so the next incident
// alerts again.
func (d *Dispatcher) clearSent(monitorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := monitorID + "|"
	for key := range d.sent {
		if strings.HasPrefix(key, prefix) {
			delete(d.sent, key)
		}
	}
}

// deliver sends through the matching provider and appends the attempt log.
func (d *Dispatcher) deliver(ctx context.Context, m *monitor.Monitor, channel *monitor.Channel, event monitor.EventType, msg Message) Outcome {
	outcome := Outcome{ChannelID: channel.ID, ChannelName: channel.Name}

	provider, ok := d.providers[channel.Type]
	if !ok {
		outcome.Err = fmt.Errorf("no provider for channel type %q", channel.Type)
	} else {
		outcome.Err = provider.Send(ctx, channel, msg)
	}
	outcome.Success = outcome.Err == nil

	// Failed sends stay unmarked so the next failing check retries them.
	if outcome.Success && (event == monitor.EventDown || event == monitor.EventSSLWarning) {
		d.markSent(m.ID, channel.ID, event)
	}

	entry := &monitor.NotificationLog{
		ID:        uuid.New().String(),
		MonitorID: m.ID,
		ChannelID: channel.ID,
		Event:     event,
		Success:   outcome.Success,
		SentAt:    time.Now().UTC(),
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
		d.logger.WithFields(logrus.Fields{
			"monitor": m.Name,
			"channel": channel.Name,
			"event":   event,
		}).WithError(outcome.Err).Error("notification delivery failed")
	} else {
		d.logger.WithFields(logrus.Fields{
			"monitor": m.Name,
			"channel": channel.Name,
			"event":   event,
		}).Info("notification sent")
	}
	if err := d.store.AppendNotificationLog(ctx, entry); err != nil {
		d.logger.WithField("channel", channel.Name).WithError(err).Error("recording notification log failed")
	}
	return outcome
}

// renderMessage builds the title and body for an event.
func renderMessage(m *monitor.Monitor, event monitor.EventType, incident *monitor.Incident) Message {
	msg := Message{Event: event}
	switch event {
	case monitor.EventDown:
		msg.Title = fmt.Sprintf("❌ %s is DOWN", m.Name)
		msg.Body = fmt.Sprintf("Monitor %s (%s) is down.", m.Name, m.Target)
		if incident != nil && incident.Description != "" {
			msg.Body += "\nReason: " + incident.Description
		}
	case monitor.EventUp:
		msg.Title = fmt.Sprintf("✅ %s is UP", m.Name)
		msg.Body = fmt.Sprintf("Monitor %s (%s) has recovered.", m.Name, m.Target)
		if incident != nil && incident.DurationSeconds != nil {
			msg.Body += fmt.Sprintf("\nDowntime: %s", (time.Duration(*incident.DurationSeconds) * time.Second).String())
		}
	case monitor.EventSSLWarning:
		msg.Title = fmt.Sprintf("⚠️ %s certificate expiring", m.Name)
		msg.Body = fmt.Sprintf("The TLS certificate for %s (%s) is close to expiry.", m.Name, m.Target)
		if incident != nil && incident.Description != "" {
			msg.Body += "\n" + incident.Description
		}
	}
	return msg
}
