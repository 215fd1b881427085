package monitor

import (
	"context"
	"log/slog"
	"time"
)

// Notifier delivers alert events over a concrete transport.
// Implementations live outside this package; delivery is synchronous.
type Notifier interface {
	Send(ctx context.Context, event AlertEvent) error
}

// AlertManager dispatches evaluated events.
// It keeps no queue: each call either delivers or reports a failure that
// the caller logs and moves past. Alerting must never itself become a
// source of cascading failure, so delivery errors are not retried.
type AlertManager struct {
	notifier Notifier
	logger   *slog.Logger

	// Overridable in tests
	now func() time.Time
}

// NewAlertManager creates an alert manager over the given notifier
func NewAlertManager(notifier Notifier, logger *slog.Logger) *AlertManager {
	return &AlertManager{
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch deduplicates events by subject and metric, then delivers each
// remaining event exactly once. Within one evaluation pass a breached
// threshold therefore produces exactly one notification; when duplicates
// carry different severities the highest wins.
//
// The returned counts cover delivered and failed events; failures are
// logged here and never retried.
func (a *AlertManager) Dispatch(ctx context.Context, events []AlertEvent) (sent int, failed int) {
	deduped := Deduplicate(events)

	for _, event := range deduped {
		event.SentAt = a.now()

		if err := a.notifier.Send(ctx, event); err != nil {
			failed++
			a.logger.Error("alert delivery failed",
				"subject", event.Subject,
				"metric", event.Metric,
				"severity", event.Severity,
				"error", err)
			continue
		}

		sent++
		a.logger.Info("alert dispatched",
			"subject", event.Subject,
			"metric", event.Metric,
			"severity", event.Severity)
	}

	return sent, failed
}

// Deduplicate collapses events sharing subject+metric, keeping the
// highest severity and preserving first-seen order
func Deduplicate(events []AlertEvent) []AlertEvent {
	type key struct {
		subject string
		metric  string
	}

	index := make(map[key]int)
	result := make([]AlertEvent, 0, len(events))

	for _, event := range events {
		k := key{subject: event.Subject, metric: event.Metric}
		if i, ok := index[k]; ok {
			if event.Severity.Rank() > result[i].Severity.Rank() {
				result[i] = event
			}
			continue
		}
		index[k] = len(result)
		result = append(result, event)
	}

	return result
}
