package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/models"
)

type webhookPayload struct {
	Content string       `json:"content"`
	Alert   models.Alert `json:"alert"`
}

// Webhook posts alerts as JSON. The content field keeps chat webhooks
// (Discord, Slack-compatible) readable.
type Webhook struct {
	URL    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *Webhook) SendAlert(ctx context.Context, title, message string, severity models.Severity) error {
	if w.URL == "" {
		return nil
	}

	alert := newAlert(title, message, severity)
	body, err := json.Marshal(webhookPayload{
		Content: fmt.Sprintf("[%s] **%s**\n%s", severity, title, message),
		Alert:   alert,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
