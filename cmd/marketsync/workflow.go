package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mercatorlabs/marketsync/internal/workflow"
	"github.com/spf13/cobra"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run one full workflow cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		orchestrator, err := buildOrchestrator(database)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result := orchestrator.Run(ctx)

		for _, outcome := range result.Outcomes {
			switch outcome.Status {
			case workflow.StatusSkipped:
				fmt.Printf("%-20s %s (%s)\n", outcome.JobName, outcome.Status, outcome.SkipReason)
			case workflow.StatusFailed:
				fmt.Printf("%-20s %s after %d attempt(s): %v\n", outcome.JobName, outcome.Status, outcome.Attempts, outcome.Err)
			default:
				fmt.Printf("%-20s %s in %s (%d records, %d attempt(s))\n",
					outcome.JobName, outcome.Status, outcome.Duration.Round(time.Millisecond), outcome.RecordsProcessed, outcome.Attempts)
			}
		}

		if result.Status != workflow.WorkflowSuccess {
			return fmt.Errorf("workflow %s finished with status %s", result.WorkflowID, result.Status)
		}
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <name>",
	Short: "Run a single job, ignoring its dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		orchestrator, err := buildOrchestrator(database)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := orchestrator.RunSingle(ctx, args[0])
		if err != nil {
			return err
		}

		switch outcome.Status {
		case workflow.StatusSkipped:
			fmt.Printf("%s skipped (%s)\n", outcome.JobName, outcome.SkipReason)
		case workflow.StatusFailed:
			return fmt.Errorf("job %s failed after %d attempt(s): %w", outcome.JobName, outcome.Attempts, outcome.Err)
		default:
			fmt.Printf("%s %s in %s (%d records, %d attempt(s))\n",
				outcome.JobName, outcome.Status, outcome.Duration.Round(time.Millisecond), outcome.RecordsProcessed, outcome.Attempts)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(jobCmd)
}
