package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mercatorlabs/marketsync/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))
}

// fakeClient serves canned pages and report states
type fakeClient struct {
	pages       map[string][]Page
	fetchCalls  int
	fetchErr    error
	reportID    string
	reportErr   error
	pollStates  []ReportStatus
	pollCalls   int
}

func (f *fakeClient) FetchPage(ctx context.Context, kind, cursor string) (*Page, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	pages := f.pages[kind]
	index := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "page-%d", &index)
	}
	if index >= len(pages) {
		return &Page{}, nil
	}
	return &pages[index], nil
}

func (f *fakeClient) CreateReport(ctx context.Context, kind string) (string, error) {
	if f.reportErr != nil {
		return "", f.reportErr
	}
	return f.reportID, nil
}

func (f *fakeClient) PollReport(ctx context.Context, handle string) (*ReportStatus, error) {
	if f.pollCalls >= len(f.pollStates) {
		return &ReportStatus{State: ReportPending}, nil
	}
	status := f.pollStates[f.pollCalls]
	f.pollCalls++
	return &status, nil
}

// fakeSink collects written items
type fakeSink struct {
	written  map[string]int
	writeErr error
}

func newFakeSink() *fakeSink {
	return &fakeSink{written: make(map[string]int)}
}

func (f *fakeSink) Write(ctx context.Context, kind string, items []json.RawMessage) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written[kind] += len(items)
	return nil
}

func items(n int) []json.RawMessage {
	result := make([]json.RawMessage, n)
	for i := range result {
		result[i] = json.RawMessage(`{}`)
	}
	return result
}

func newTestSyncer(client Client, sink Sink) *Syncer {
	s := NewSyncer(client, sink, Config{PollInterval: time.Millisecond, MaxPollAttempts: 5}, testLogger())
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

// =============================================================================
// Paged Sync Tests
// =============================================================================

func TestSyncCatalog_DrainsAllPages(t *testing.T) {
	client := &fakeClient{
		pages: map[string][]Page{
			KindCatalog: {
				{Items: items(200), NextCursor: "page-1"},
				{Items: items(200), NextCursor: "page-2"},
				{Items: items(37)},
			},
		},
	}
	sink := newFakeSink()

	processed, err := newTestSyncer(client, sink).SyncCatalog(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if processed != 437 {
		t.Errorf("expected 437 records processed, got %d", processed)
	}
	if sink.written[KindCatalog] != 437 {
		t.Errorf("expected 437 items written, got %d", sink.written[KindCatalog])
	}
	if client.fetchCalls != 3 {
		t.Errorf("expected 3 page fetches, got %d", client.fetchCalls)
	}
}

func TestSyncInventory_EmptyResult(t *testing.T) {
	client := &fakeClient{pages: map[string][]Page{}}
	sink := newFakeSink()

	processed, err := newTestSyncer(client, sink).SyncInventory(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if processed != 0 {
		t.Errorf("expected 0 records, got %d", processed)
	}
	if sink.written[KindInventory] != 0 {
		t.Errorf("expected no writes for empty result")
	}
}

func TestPageThrough_FetchErrorPropagatesClassification(t *testing.T) {
	client := &fakeClient{fetchErr: retry.Transient(errors.New("gateway timeout"))}
	sink := newFakeSink()

	_, err := newTestSyncer(client, sink).SyncCatalog(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !retry.IsTransient(err) {
		t.Error("expected transient classification to survive the sync layer")
	}
}

func TestPageThrough_SinkErrorStops(t *testing.T) {
	client := &fakeClient{
		pages: map[string][]Page{
			KindCatalog: {{Items: items(10), NextCursor: "page-1"}, {Items: items(10)}},
		},
	}
	sink := newFakeSink()
	sink.writeErr = errors.New("sink unavailable")

	processed, err := newTestSyncer(client, sink).SyncCatalog(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if processed != 0 {
		t.Errorf("expected no records counted past the failed write, got %d", processed)
	}
	if client.fetchCalls != 1 {
		t.Errorf("expected paging to stop after failed write, got %d fetches", client.fetchCalls)
	}
}

// =============================================================================
// Report Flow Tests
// =============================================================================

func TestSyncSales_WaitsForReport(t *testing.T) {
	client := &fakeClient{
		reportID: "rep-81",
		pollStates: []ReportStatus{
			{State: ReportPending},
			{State: ReportPending},
			{State: ReportReady},
		},
		pages: map[string][]Page{
			KindSales: {{Items: items(25)}},
		},
	}
	sink := newFakeSink()

	processed, err := newTestSyncer(client, sink).SyncSales(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if processed != 25 {
		t.Errorf("expected 25 records, got %d", processed)
	}
	if client.pollCalls != 3 {
		t.Errorf("expected 3 polls, got %d", client.pollCalls)
	}
}

func TestSyncSales_ReportFailedIsFatal(t *testing.T) {
	client := &fakeClient{
		reportID:   "rep-82",
		pollStates: []ReportStatus{{State: ReportFailed}},
	}

	_, err := newTestSyncer(client, newFakeSink()).SyncSales(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if retry.IsTransient(err) {
		t.Error("a failed report must not be retried")
	}
}

// TestSyncSales_PollingExhaustedIsTransient verifies a slow report is
// left for the next cycle rather than treated as a permanent failure.
func TestSyncSales_PollingExhaustedIsTransient(t *testing.T) {
	client := &fakeClient{reportID: "rep-83"} // every poll reports pending

	_, err := newTestSyncer(client, newFakeSink()).SyncSales(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !retry.IsTransient(err) {
		t.Error("exhausted polling must be transient")
	}
}

func TestSyncSales_CreateReportError(t *testing.T) {
	client := &fakeClient{reportErr: retry.Fatal(errors.New("report kind not enabled"))}

	_, err := newTestSyncer(client, newFakeSink()).SyncSales(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

// =============================================================================
// Registration Tests
// =============================================================================

func TestEntrypoints_Complete(t *testing.T) {
	syncer := newTestSyncer(&fakeClient{}, newFakeSink())
	entrypoints := syncer.Entrypoints()

	for _, name := range []string{EntrypointCatalog, EntrypointSales, EntrypointInventory} {
		if _, ok := entrypoints[name]; !ok {
			t.Errorf("expected entrypoint %q to be registered", name)
		}
	}
}
