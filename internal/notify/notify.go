// Package notify pushes task completions to an external automation target
// (e.g. a Make.com webhook). Pushes are best-effort; callers log failures and
// never propagate them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// Completion describes a finished task for the outbound push.
type Completion struct {
	TaskID      int64         `json:"task_id"`
	Status      models.Status `json:"status"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ExternalRef *string       `json:"external_ref"`
}

// Notifier is an integration that can receive completion pushes.
type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}

// DefaultTimeout bounds a single webhook push.
const DefaultTimeout = models.DefaultNotifyTimeoutSecs * time.Second

// Webhook posts completions as JSON to a fixed URL.
type Webhook struct {
	URL     string
	Timeout time.Duration // zero means DefaultTimeout
	Client  *http.Client  // optional; nil uses http.DefaultClient
}

// NewWebhook returns a webhook notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url}
}

func (w *Webhook) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return http.DefaultClient
}

func (w *Webhook) Notify(ctx context.Context, c Completion) error {
	if w.URL == "" {
		return fmt.Errorf("webhook URL not set")
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
