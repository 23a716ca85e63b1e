package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Notifier is the moderator notification sink. Best-effort: calls run on the
// async runner, failures are logged and dropped.
type Notifier interface {
	NotifyModerators(ctx context.Context, msg string) error
}

// SlackNotifier posts moderator alerts to a slack channel via "incoming
// webhook". The webhook must already be configured in the slack workspace.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

var _ Notifier = (*SlackNotifier)(nil)

type slackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) NotifyModerators(ctx context.Context, msg string) error {
	body, err := json.Marshal(slackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// CollectingNotifier records notifications for tests.
type CollectingNotifier struct {
	mu       sync.Mutex
	Messages []string
	Err      error
}

var _ Notifier = (*CollectingNotifier)(nil)

func (n *CollectingNotifier) NotifyModerators(ctx context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Messages = append(n.Messages, msg)
	return nil
}

func (n *CollectingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}
