// Package delivery fans out committed alert events to configured channels.
// Each channel tracks its own cursor into the events log, so a failing
// webhook never blocks the local outbox.
package delivery

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"time"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// Sink delivers one alert event to one channel.
type Sink interface {
	Deliver(channel storage.Doc, envelope storage.Doc) error
}

// OutboxSink appends envelopes to the local outbox JSONL file.
type OutboxSink struct {
	Layout layout.Layout
}

func (s OutboxSink) Deliver(_ storage.Doc, envelope storage.Doc) error {
	return storage.AppendJSONL(s.Layout.AlertOutboxPath(), envelope)
}

// StdoutSink prints each envelope as one JSON line.
type StdoutSink struct{}

func (StdoutSink) Deliver(_ storage.Doc, envelope storage.Doc) error {
	line, err := storage.MarshalLine(envelope)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(line, '\n'))
	return err
}

// WebhookSink POSTs envelopes to the channel's URL.
type WebhookSink struct {
	Client *http.Client
}

func NewWebhookSink() *WebhookSink {
	return &WebhookSink{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Deliver(channel storage.Doc, envelope storage.Doc) error {
	url, _ := channel["url"].(string)
	if url == "" {
		return fmt.Errorf("webhook channel has no url")
	}
	payload, err := storage.MarshalLine(envelope)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := channel["headers"].(map[string]any); ok {
		for k, v := range headers {
			if sv, ok := v.(string); ok {
				req.Header.Set(k, sv)
			}
		}
	}

	client := s.Client
	if secs, ok := channel["timeoutSeconds"].(float64); ok && secs > 0 {
		client = &http.Client{Timeout: time.Duration(secs * float64(time.Second))}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
