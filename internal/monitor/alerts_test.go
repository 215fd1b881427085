package monitor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier is a local notifier double; testutil cannot be used
// here because it imports this package
type recordingNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
	err    error
}

func (n *recordingNotifier) Send(ctx context.Context, event AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func newTestManager(n Notifier) *AlertManager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return NewAlertManager(n, logger)
}

// ==============================================================================
// Dispatch Tests
// ==============================================================================

func TestDispatch_SendsEachEventOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	manager := newTestManager(notifier)

	events := []AlertEvent{
		{Subject: "catalog_sync", Metric: MetricDuration, Severity: SeverityMedium},
		{Subject: "sales_sync", Metric: MetricThroughput, Severity: SeverityLow},
	}

	sent, failed := manager.Dispatch(context.Background(), events)

	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, failed)
	require.Len(t, notifier.events, 2)
	assert.False(t, notifier.events[0].SentAt.IsZero(), "SentAt must be stamped before delivery")
}

// TestDispatch_DeduplicatesWithinPass verifies one breached threshold
// produces exactly one notification per evaluation pass.
func TestDispatch_DeduplicatesWithinPass(t *testing.T) {
	notifier := &recordingNotifier{}
	manager := newTestManager(notifier)

	events := []AlertEvent{
		{Subject: "catalog_sync", Metric: MetricDuration, Severity: SeverityMedium},
		{Subject: "catalog_sync", Metric: MetricDuration, Severity: SeverityHigh},
		{Subject: "catalog_sync", Metric: MetricDuration, Severity: SeverityLow},
	}

	sent, failed := manager.Dispatch(context.Background(), events)

	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, failed)
	require.Len(t, notifier.events, 1)
	// Highest severity wins among duplicates
	assert.Equal(t, SeverityHigh, notifier.events[0].Severity)
}

func TestDispatch_DifferentMetricsNotDeduplicated(t *testing.T) {
	notifier := &recordingNotifier{}
	manager := newTestManager(notifier)

	events := []AlertEvent{
		{Subject: "catalog_sync", Metric: MetricDuration, Severity: SeverityMedium},
		{Subject: "catalog_sync", Metric: MetricThroughput, Severity: SeverityMedium},
	}

	sent, _ := manager.Dispatch(context.Background(), events)
	assert.Equal(t, 2, sent)
}

// TestDispatch_DeliveryFailureContained verifies a failing channel is
// counted and logged but never retried and never panics the pass.
func TestDispatch_DeliveryFailureContained(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("webhook unreachable")}
	manager := newTestManager(notifier)

	events := []AlertEvent{
		{Subject: "catalog_sync", Metric: MetricDuration, Severity: SeverityMedium},
	}

	sent, failed := manager.Dispatch(context.Background(), events)

	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, failed)
}

func TestDispatch_Empty(t *testing.T) {
	notifier := &recordingNotifier{}
	manager := newTestManager(notifier)

	sent, failed := manager.Dispatch(context.Background(), nil)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, failed)
}

// ==============================================================================
// Deduplicate Tests
// ==============================================================================

func TestDeduplicate_PreservesOrder(t *testing.T) {
	events := []AlertEvent{
		{Subject: "b", Metric: MetricDuration},
		{Subject: "a", Metric: MetricDuration},
		{Subject: "b", Metric: MetricDuration, Severity: SeverityHigh},
	}

	deduped := Deduplicate(events)

	require.Len(t, deduped, 2)
	assert.Equal(t, "b", deduped[0].Subject)
	assert.Equal(t, SeverityHigh, deduped[0].Severity)
	assert.Equal(t, "a", deduped[1].Subject)
}

func TestSeverityRank(t *testing.T) {
	assert.True(t, SeverityHigh.Rank() > SeverityMedium.Rank())
	assert.True(t, SeverityMedium.Rank() > SeverityLow.Rank())
	assert.True(t, SeverityLow.Rank() > Severity("").Rank())
}

func TestDispatch_StampsDeterministicTime(t *testing.T) {
	notifier := &recordingNotifier{}
	manager := newTestManager(notifier)

	fixed := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return fixed }

	manager.Dispatch(context.Background(), []AlertEvent{
		{Subject: "catalog_sync", Metric: MetricDuration},
	})

	require.Len(t, notifier.events, 1)
	assert.Equal(t, fixed, notifier.events[0].SentAt)
}
