package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulseworks/reviewpulse/pkg/store"
	"github.com/spf13/cobra"
)

var purgeConfirm string

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all cached reviews, scrape history, and run records",
	Long: `Delete every row from the reviews, scrape_history, and run_history
tables and re-initialize the schema. Refused while any run is still in
a non-terminal state. Requires --confirm purge-all-data.`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().StringVar(&purgeConfirm, "confirm", "",
		"must be exactly 'purge-all-data'")

	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	if purgeConfirm != "purge-all-data" {
		return fmt.Errorf("refusing to purge without --confirm purge-all-data")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}
	defer func() { _ = st.Stop() }()

	if err := st.Purge(ctx); err != nil {
		var blocked *store.PurgeBlockedError
		if errors.As(err, &blocked) {
			return fmt.Errorf(
				"%d run(s) still active, wait for them to finish or fail",
				blocked.ActiveRuns,
			)
		}

		return fmt.Errorf("purging store: %w", err)
	}

	log.Info("All data purged, schema re-initialized")

	return nil
}
