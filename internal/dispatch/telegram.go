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

// TelegramProvider sends notifications through the Telegram Bot API. Channel
// config keys: bot_token, chat_id.
type TelegramProvider struct {
	client *http.Client
}

// NewTelegramProvider creates a Telegram provider.
func NewTelegramProvider() *TelegramProvider {
	return &TelegramProvider{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *TelegramProvider) Type() monitor.ChannelType {
	return monitor.ChannelTelegram
}

func (p *TelegramProvider) ValidateConfig(config map[string]interface{}) error {
	for _, key := range []string{"bot_token", "chat_id"} {
		if _, err := configString(config, key); err != nil {
			return err
		}
	}
	return nil
}

func (p *TelegramProvider) Send(ctx context.Context, channel *monitor.Channel, msg Message) error {
	if err := p.ValidateConfig(channel.Config); err != nil {
		return fmt.Errorf("telegram config invalid: %w", err)
	}
	token, _ := configString(channel.Config, "bot_token")
	chatID, _ := configString(channel.Config, "chat_id")

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id": chatID,
		"text":    msg.Title + "\n\n" + msg.Body,
	})
	if err != nil {
		return fmt.Errorf("encoding telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
