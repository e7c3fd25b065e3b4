package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// minInterval is the shortest gap between two posted alerts.
const minInterval = 30 * time.Second

// Alerter posts session failure alerts to a Slack channel via chat.postMessage.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter creates a new Slack alerter.
func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// PostFailureAlert sends a Block Kit message describing a failed processing
// stage for a session. It rate-limits to at most one alert per 30 seconds.
func (a *Alerter) PostFailureAlert(ctx context.Context, sessionID, stage string, cause error) error {
	a.mu.Lock()
	if time.Since(a.lastSent) < minInterval {
		a.mu.Unlock()
		return nil
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	if sessionID == "" {
		sessionID = "n/a"
	}
	errMsg := "unknown"
	if cause != nil {
		errMsg = cause.Error()
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Diarization Failure",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Session:*\n%s", sessionID)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Stage:*\n%s", stage)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Error:*\n%s", errMsg)},
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fmt.Sprintf("diarist %s failed for %s: %s", stage, sessionID, errMsg),
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("failure alert posted to Slack", "channel", a.channel, "session_id", sessionID, "stage", stage)
	return nil
}

// Notify posts an alert in the background. Its signature matches
// transcript.AlertFunc so it can be registered on the assembler directly.
func (a *Alerter) Notify(sessionID, stage string, cause error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.PostFailureAlert(ctx, sessionID, stage, cause); err != nil {
			slog.Warn("failed to post Slack alert", "session_id", sessionID, "stage", stage, "error", err)
		}
	}()
}
