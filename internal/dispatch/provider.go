// Package dispatch routes status-change events to notification channels.
package dispatch

import (
	"context"
	"fmt"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// Message is the rendered notification content handed to a provider.
type Message struct {
	Title string
	Body  string
	Event monitor.EventType
}

// Provider delivers messages through one channel type. Implementations read
// their settings from the channel's config map and validate before sending.
type Provider interface {
	Send(ctx context.Context, channel *monitor.Channel, msg Message) error
	ValidateConfig(config map[string]interface{}) error
	Type() monitor.ChannelType
}

// configString pulls a required string setting out of a channel config map.
func configString(config map[string]interface{}, key string) (string, error) {
	raw, ok := config[key]
	if !ok {
		return "", fmt.Errorf("missing required config key %q", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("config key %q must be a non-empty string", key)
	}
	return s, nil
}

// configStringDefault pulls an optional string setting with a fallback.
func configStringDefault(config map[string]interface{}, key, fallback string) string {
	if raw, ok := config[key]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
