package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mercatorlabs/marketsync/internal/retry"
	"github.com/mercatorlabs/marketsync/internal/workflow"
)

// Entrypoint names registered with the workflow orchestrator
const (
	EntrypointCatalog   = "sync_catalog"
	EntrypointSales     = "sync_sales"
	EntrypointInventory = "sync_inventory"
)

// Data kinds exposed by the marketplace API
const (
	KindCatalog   = "catalog"
	KindSales     = "sales"
	KindInventory = "inventory"
)

// Sink receives fetched items for persistence.
// The business transformation behind it is not this package's concern.
type Sink interface {
	Write(ctx context.Context, kind string, items []json.RawMessage) error
}

// Syncer provides the ETL job bodies the workflow executes.
// Each body pages through one marketplace data kind and hands every page
// to the sink, reporting the number of records processed.
type Syncer struct {
	client Client
	sink   Sink
	config Config
	logger *slog.Logger

	// Overridable in tests to avoid real poll delays
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSyncer creates the job bodies over the given client and sink
func NewSyncer(client Client, sink Sink, config Config, logger *slog.Logger) *Syncer {
	return &Syncer{
		client: client,
		sink:   sink,
		config: config,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Entrypoints returns the job bodies keyed by entrypoint name, for
// registration with the workflow orchestrator
func (s *Syncer) Entrypoints() map[string]workflow.JobFunc {
	return map[string]workflow.JobFunc{
		EntrypointCatalog:   s.SyncCatalog,
		EntrypointSales:     s.SyncSales,
		EntrypointInventory: s.SyncInventory,
	}
}

// SyncCatalog pulls the full product catalog
func (s *Syncer) SyncCatalog(ctx context.Context) (int64, error) {
	return s.pageThrough(ctx, KindCatalog)
}

// SyncInventory pulls current stock levels
func (s *Syncer) SyncInventory(ctx context.Context) (int64, error) {
	return s.pageThrough(ctx, KindInventory)
}

// SyncSales requests a sales report, waits for the marketplace to
// generate it, then pages through the result. Sales data is only
// available through the report flow.
func (s *Syncer) SyncSales(ctx context.Context) (int64, error) {
	handle, err := s.client.CreateReport(ctx, KindSales)
	if err != nil {
		return 0, err
	}

	s.logger.Info("sales report requested", "handle", handle)

	if err := s.awaitReport(ctx, handle); err != nil {
		return 0, err
	}

	return s.pageThrough(ctx, KindSales)
}

// awaitReport polls until the report is ready or polling is exhausted.
// Exhausted polling is transient: the report may simply need longer than
// this run allows, and the next cycle can try again.
func (s *Syncer) awaitReport(ctx context.Context, handle string) error {
	maxAttempts := s.config.MaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig().MaxPollAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := s.client.PollReport(ctx, handle)
		if err != nil {
			return err
		}

		switch status.State {
		case ReportReady:
			s.logger.Info("sales report ready", "handle", handle, "polls", attempt)
			return nil
		case ReportFailed:
			return retry.Fatal(fmt.Errorf("market: report %s failed on the marketplace side", handle))
		case ReportPending:
			// keep polling
		default:
			return retry.Fatal(fmt.Errorf("market: report %s in unknown state %q", handle, status.State))
		}

		if err := s.sleep(ctx, s.config.PollInterval); err != nil {
			return err
		}
	}

	return retry.Transient(fmt.Errorf("market: report %s not ready after %d polls", handle, maxAttempts))
}

// pageThrough drains all pages of a kind into the sink
func (s *Syncer) pageThrough(ctx context.Context, kind string) (int64, error) {
	var processed int64
	cursor := ""

	for {
		page, err := s.client.FetchPage(ctx, kind, cursor)
		if err != nil {
			return processed, err
		}

		if len(page.Items) > 0 {
			if err := s.sink.Write(ctx, kind, page.Items); err != nil {
				return processed, err
			}
			processed += int64(len(page.Items))
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	s.logger.Info("sync finished", "kind", kind, "records", processed)
	return processed, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
