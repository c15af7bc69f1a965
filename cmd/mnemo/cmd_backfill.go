package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/mnemo/internal/backfill"
	"github.com/MikeSquared-Agency/mnemo/internal/config"
	"github.com/MikeSquared-Agency/mnemo/internal/ingest"
)

var (
	backfillFile      string
	backfillStatePath string
	backfillDryRun    bool
)

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().StringVar(&backfillFile, "file", "", "process a single export instead of a directory")
	backfillCmd.Flags().StringVar(&backfillStatePath, "state", "", "state file (default ~/.mnemo/backfill-state.json)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "list exports that would be ingested")
}

var backfillCmd = &cobra.Command{
	Use:   "backfill [dir]",
	Short: "Ingest every LINE export under a directory, resuming across runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg.LogLevel)
		logger := slog.Default()

		if len(args) == 0 && backfillFile == "" {
			return fmt.Errorf("give a directory or --file")
		}
		bcfg := backfill.Config{
			SingleFile: backfillFile,
			StatePath:  backfillStatePath,
			DryRun:     backfillDryRun,
		}
		if len(args) == 1 {
			bcfg.Dir = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var svc *ingest.Service
		if backfillDryRun {
			svc = ingest.NewService(ingestConfig(cfg, logger), nil, logger)
		} else {
			index, db, err := openIndex(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if index == nil {
				return fmt.Errorf("no vector index configured; set DATABASE_URL or use --dry-run")
			}
			defer db.Close()
			svc = ingest.NewService(ingestConfig(cfg, logger), index, logger)
		}

		rep, err := backfill.NewRunner(bcfg, svc, logger).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "discovered %d, ingested %d, skipped %d, duplicates %d, empty %d, failed %d (%d messages, %d documents)\n",
			rep.Discovered, rep.Ingested, rep.Skipped, rep.Duplicates, rep.Empty, rep.Failed, rep.Messages, rep.Documents)
		return nil
	},
}
