package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulseworks/reviewpulse/pkg/api"
	"github.com/pulseworks/reviewpulse/pkg/pipeline"
	"github.com/pulseworks/reviewpulse/pkg/scheduler"
	"github.com/pulseworks/reviewpulse/pkg/scraper"
	"github.com/pulseworks/reviewpulse/pkg/store"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Start the reviewpulse API server serving run history, cached
reviews, pipeline triggering, and the guarded purge endpoint. The
background scheduler runs in the same process when enabled.`,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// One store handle for the whole process, passed into every
	// component.
	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	pipe := pipeline.New(
		log, st,
		scraper.New(log, cfg.Pipeline.Feeds),
		nil, // theme clustering runs out of process
		&cfg.Pipeline,
	)

	srv := api.NewServer(log, cfg, st, pipe)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	var sched scheduler.Scheduler

	if cfg.Scheduler.Enabled {
		interval, err := cfg.SchedulerInterval()
		if err != nil {
			return err
		}

		staleTimeout, err := cfg.StaleRunTimeout()
		if err != nil {
			return err
		}

		sched = scheduler.New(log, st, pipe, interval, staleTimeout)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.WithError(err).Warn("Scheduler stop error")
		}
	}

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	if err := st.Stop(); err != nil {
		return fmt.Errorf("stopping store: %w", err)
	}

	return nil
}
