// Package notify delivers alert events to an operator-facing channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mercatorlabs/marketsync/internal/monitor"
)

// Channel names accepted in configuration
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
)

// Config holds notification channel settings
type Config struct {
	Channel    string        `toml:"channel"`
	WebhookURL string        `toml:"webhook_url"`
	Timeout    time.Duration `toml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Channel: ChannelLog,
		Timeout: 10 * time.Second,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Channel {
	case ChannelLog:
		return nil
	case ChannelWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("notify: webhook channel requires webhook_url")
		}
		if _, err := url.Parse(c.WebhookURL); err != nil {
			return fmt.Errorf("notify: invalid webhook_url: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("notify: unknown channel %q", c.Channel)
	}
}

// New creates the notifier selected by the configuration
func New(config Config, logger *slog.Logger) (monitor.Notifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Channel {
	case ChannelWebhook:
		return NewWebhookNotifier(config), nil
	default:
		return NewLogNotifier(logger), nil
	}
}

// =============================================================================
// Log Notifier
// =============================================================================

// LogNotifier emits alert events through the structured logger.
// It never fails, which makes it the safe default channel.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by the given logger
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the event at a level matching its severity
func (n *LogNotifier) Send(ctx context.Context, event monitor.AlertEvent) error {
	attrs := []any{
		"subject", event.Subject,
		"metric", event.Metric,
		"severity", string(event.Severity),
	}
	for key, value := range event.Context {
		attrs = append(attrs, key, value)
	}

	switch event.Severity {
	case monitor.SeverityHigh:
		n.logger.Error(event.Message, attrs...)
	case monitor.SeverityMedium:
		n.logger.Warn(event.Message, attrs...)
	default:
		n.logger.Info(event.Message, attrs...)
	}

	return nil
}

// =============================================================================
// Webhook Notifier
// =============================================================================

// WebhookNotifier posts alert events as JSON to a configured endpoint
type WebhookNotifier struct {
	url  string
	http *http.Client
}

// NewWebhookNotifier creates a notifier posting to config.WebhookURL
func NewWebhookNotifier(config Config) *WebhookNotifier {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	return &WebhookNotifier{
		url: config.WebhookURL,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// webhookPayload is the wire shape posted to the endpoint
type webhookPayload struct {
	Subject  string            `json:"subject"`
	Metric   string            `json:"metric"`
	Severity string            `json:"severity"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Send posts the event and fails on any non-2xx response
func (n *WebhookNotifier) Send(ctx context.Context, event monitor.AlertEvent) error {
	payload := webhookPayload{
		Subject:  event.Subject,
		Metric:   event.Metric,
		Severity: string(event.Severity),
		Message:  event.Message,
		Context:  event.Context,
		SentAt:   event.SentAt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}

	return nil
}
