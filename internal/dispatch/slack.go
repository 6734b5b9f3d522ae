package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// SlackProvider posts notifications to a Slack incoming webhook. Channel
// config keys: webhook_url.
type SlackProvider struct {
	client *http.Client
}

// NewSlackProvider creates a Slack webhook provider.
func NewSlackProvider() *SlackProvider {
	return &SlackProvider{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *SlackProvider) Type() monitor.ChannelType {
	return monitor.ChannelSlack
}

func (p *SlackProvider) ValidateConfig(config map[string]interface{}) error {
	_, err := configString(config, "webhook_url")
	return err
}

func (p *SlackProvider) Send(ctx context.Context, channel *monitor.Channel, msg Message) error {
	if err := p.ValidateConfig(channel.Config); err != nil {
		return fmt.Errorf("slack config invalid: %w", err)
	}
	webhookURL, _ := configString(channel.Config, "webhook_url")

	color := "#36a64f"
	if msg.Event == monitor.EventDown {
		color = "#dc3545"
	} else if msg.Event == monitor.EventSSLWarning {
		color = "#ffc107"
	}

	payload, err := json.Marshal(map[string]interface{}{
		"text": msg.Title,
		"attachments": []map[string]interface{}{
			{"color": color, "text": msg.Body},
		},
	})
	if err != nil {
		return fmt.Errorf("encoding slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
