package main

import (
	"fmt"
	"time"

	"github.com/mercatorlabs/marketsync/internal/lock"
	"github.com/spf13/cobra"
)

var cleanLocks bool

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List process locks, optionally removing stale ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		locker, err := lock.NewLocker(cfg.Locks, logger)
		if err != nil {
			return err
		}
		manager := lock.NewManager(locker, logger)

		if cleanLocks {
			removed, err := manager.RemoveStale()
			if err != nil {
				return err
			}
			for _, lk := range removed {
				fmt.Printf("removed stale lock for %s (pid %d)\n", lk.JobName, lk.OwnerPID)
			}
			fmt.Printf("%d stale lock(s) removed\n", len(removed))
			return nil
		}

		locks, err := manager.List()
		if err != nil {
			return err
		}
		if len(locks) == 0 {
			fmt.Println("no locks held")
			return nil
		}

		for _, lk := range locks {
			state := "live"
			if locker.IsStale(&lk) {
				state = "stale"
			}
			fmt.Printf("%-20s pid %-8d held %-12s %s\n",
				lk.JobName, lk.OwnerPID, time.Since(lk.AcquiredAt).Round(time.Second), state)
		}
		return nil
	},
}

func init() {
	locksCmd.Flags().BoolVar(&cleanLocks, "clean", false, "Remove stale locks")
	rootCmd.AddCommand(locksCmd)
}
