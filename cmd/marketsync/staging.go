package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mercatorlabs/marketsync/internal/market"
	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var stagingCmd = &cobra.Command{
	Use:   "staging",
	Short: "Show staged item counts, optionally purging old items",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := context.Background()
		kinds := []string{market.KindCatalog, market.KindSales, market.KindInventory}

		if purgeOlderThan > 0 {
			cutoff := time.Now().UTC().Add(-purgeOlderThan)
			for _, kind := range kinds {
				removed, err := database.PurgeStagedItems(ctx, kind, cutoff)
				if err != nil {
					return err
				}
				fmt.Printf("%-12s purged %d item(s) fetched before %s\n",
					kind, removed, cutoff.Format(time.RFC3339))
			}
		}

		for _, kind := range kinds {
			count, err := database.CountStagedItems(ctx, kind)
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %d staged item(s)\n", kind, count)
		}
		return nil
	},
}

func init() {
	stagingCmd.Flags().DurationVar(&purgeOlderThan, "purge-older-than", 0, "Purge staged items fetched longer ago than this")
	rootCmd.AddCommand(stagingCmd)
}
