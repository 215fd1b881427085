package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mercatorlabs/marketsync/internal/db"
	"github.com/mercatorlabs/marketsync/internal/lock"
	"github.com/mercatorlabs/marketsync/internal/monitor"
	"github.com/mercatorlabs/marketsync/internal/notify"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Evaluate recent execution records and dispatch alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		records, err := database.GetExecutionRecords(db.RecordFilter{
			Since: time.Now().UTC().Add(-cfg.Monitor.LookbackWindow),
		})
		if err != nil {
			return err
		}

		jobs := make([]monitor.JobSpec, 0, len(cfg.Workflow.Jobs))
		for _, job := range cfg.Workflow.Jobs {
			jobs = append(jobs, monitor.JobSpec{
				Name:                job.Name,
				MaxExecutionSeconds: job.MaxExecutionSeconds,
			})
		}

		// Failure streaks come from the full execution history; the
		// lookback window bounds only duration and throughput evaluation
		failures := make(map[string]int, len(jobs))
		for _, job := range jobs {
			count, err := database.CountConsecutiveFailures(job.Name)
			if err != nil {
				return err
			}
			failures[job.Name] = count
		}

		events := monitor.New(cfg.Monitor).Evaluate(records, jobs, failures)

		locker, err := lock.NewLocker(cfg.Locks, logger)
		if err != nil {
			return err
		}
		stale, err := lock.NewManager(locker, logger).ListStale()
		if err != nil {
			return err
		}
		events = append(events, monitor.StaleLockEvents(stale)...)

		if len(events) == 0 {
			logger.Info("no alerts raised", "records_evaluated", len(records))
			return nil
		}

		notifier, err := notify.New(cfg.Notify, logger)
		if err != nil {
			return err
		}

		ctx := context.Background()
		sent, failed := monitor.NewAlertManager(notifier, logger).Dispatch(ctx, events)
		logger.Info("alerts dispatched", "sent", sent, "failed", failed)

		return fmt.Errorf("%w: %d alert(s)", errAlertsRaised, sent+failed)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
