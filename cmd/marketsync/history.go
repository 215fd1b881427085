package main

import (
	"fmt"
	"time"

	"github.com/mercatorlabs/marketsync/internal/db"
	"github.com/spf13/cobra"
)

var (
	historyWorkflowID string
	historyLimit      int
)

var historyCmd = &cobra.Command{
	Use:   "history [job]",
	Short: "Show execution history for a job or a single workflow run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		if historyWorkflowID != "" {
			records, err := database.GetRecordsForWorkflow(historyWorkflowID)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Printf("no records for workflow %s\n", historyWorkflowID)
				return nil
			}
			for _, rec := range records {
				printRecord(rec)
			}
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("specify a job name or --workflow")
		}
		jobName := args[0]

		records, err := database.GetExecutionRecords(db.RecordFilter{
			JobName: jobName,
			Limit:   historyLimit,
		})
		if err != nil {
			return err
		}
		for _, rec := range records {
			printRecord(rec)
		}

		last, err := database.GetLastSuccess(jobName)
		switch {
		case db.IsNotFound(err):
			fmt.Printf("%s has never succeeded\n", jobName)
		case err != nil:
			return err
		default:
			fmt.Printf("last success %s (workflow %s)\n",
				last.StartedAt.Format(time.RFC3339), last.WorkflowID)
		}
		return nil
	},
}

func printRecord(rec db.ExecutionRecord) {
	errMsg := ""
	if rec.Error != nil {
		errMsg = " " + *rec.Error
	}
	fmt.Printf("%s  %s%s\n", rec.StartedAt.Format(time.RFC3339), rec.String(), errMsg)
}

func init() {
	historyCmd.Flags().StringVar(&historyWorkflowID, "workflow", "", "Show records for one workflow run")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum records to show")
	rootCmd.AddCommand(historyCmd)
}
