package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseworks/reviewpulse/pkg/config"
	"github.com/pulseworks/reviewpulse/pkg/export"
	"github.com/pulseworks/reviewpulse/pkg/store"
	"github.com/spf13/cobra"
)

var (
	exportStart string
	exportEnd   string
	exportDir   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cached reviews as a JSON archive",
	Long: `Export the cached reviews for a date range as a JSON archive.
The archive goes to the configured S3 bucket, or to a local directory
with --dir (which also works without any export configuration).`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportStart, "start", "",
		"range start (YYYY-MM-DD, required)")
	exportCmd.Flags().StringVar(&exportEnd, "end", "",
		"range end (YYYY-MM-DD, required)")
	exportCmd.Flags().StringVar(&exportDir, "dir", "",
		"write the archive to this directory instead of S3")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if exportStart == "" || exportEnd == "" {
		return fmt.Errorf("--start and --end are required")
	}

	start, err := time.Parse("2006-01-02", exportStart)
	if err != nil {
		return fmt.Errorf("parsing --start: %w", err)
	}

	end, err := time.Parse("2006-01-02", exportEnd)
	if err != nil {
		return fmt.Errorf("parsing --end: %w", err)
	}

	uploader, err := buildUploader(cfg.Export)
	if err != nil {
		return err
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}
	defer func() { _ = st.Stop() }()

	data, archive, err := export.BuildArchive(ctx, st, start, end)
	if err != nil {
		return err
	}

	key := export.ArchiveKey(start, end)

	if err := uploader.Upload(ctx, key, data); err != nil {
		return err
	}

	log.WithField("key", key).
		WithField("reviews", archive.Count).
		Info("Export complete")

	return nil
}

func buildUploader(cfg *config.ExportConfig) (export.Uploader, error) {
	if exportDir != "" {
		return export.NewLocalUploader(log, exportDir), nil
	}

	switch {
	case cfg == nil:
		return nil, fmt.Errorf("no export configuration, use --dir for a local archive")
	case cfg.S3 != nil:
		return export.NewS3Uploader(log, cfg.S3), nil
	case cfg.Local != "":
		return export.NewLocalUploader(log, cfg.Local), nil
	default:
		return nil, fmt.Errorf("export configuration has no destination")
	}
}
