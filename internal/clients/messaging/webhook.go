package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tripwatch/server/internal/lib/dispatch"
)

// Webhook posts messages to an instant-messaging gateway.
type Webhook struct {
	url   string
	token string
	doer  HTTPDoer
}

// NewWebhook creates a messenger provider posting to url.
func NewWebhook(url, token string, doer HTTPDoer) *Webhook {
	return &Webhook{url: url, token: token, doer: doer}
}

type webhookMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (w *Webhook) Send(ctx context.Context, address, text string) error {
	body, err := json.Marshal(webhookMessage{To: address, Text: text})
	if err != nil {
		return fmt.Errorf("messenger: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messenger: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.doer.Do(req)
	if err != nil {
		return fmt.Errorf("messenger: %v: %w", err, dispatch.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return statusError("messenger", resp.StatusCode, string(b))
	}
	return nil
}
