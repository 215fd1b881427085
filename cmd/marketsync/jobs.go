package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/mercatorlabs/marketsync/internal/cron"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List configured jobs and their next scheduled runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()

		for _, job := range cfg.Workflow.Jobs {
			dependsOn := "-"
			if len(job.DependsOn) > 0 {
				dependsOn = strings.Join(job.DependsOn, ",")
			}

			nextRun := "on demand"
			if job.Schedule != "" {
				schedule, err := cron.Parse(job.Schedule)
				if err != nil {
					return fmt.Errorf("job %s: %w", job.Name, err)
				}
				nextRun = schedule.Next(now).Format(time.RFC3339)
			}

			fmt.Printf("%-20s %-18s depends_on=%-25s max=%-5ds next=%s\n",
				job.Name, job.Entrypoint, dependsOn, job.MaxExecutionSeconds, nextRun)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}
