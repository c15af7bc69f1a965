package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/mnemo/internal/config"
	"github.com/MikeSquared-Agency/mnemo/internal/ingest"
)

var (
	ingestChunkSize    int
	ingestChunkOverlap int
	ingestDryRun       bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", 0, "maximum document size (0 = default)")
	ingestCmd.Flags().IntVar(&ingestChunkOverlap, "chunk-overlap", 0, "overlap between split documents (0 = default)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "parse and split without indexing")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <export.txt>",
	Short: "Parse a LINE export and index it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg.LogLevel)
		logger := slog.Default()
		ctx := context.Background()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read export: %w", err)
		}

		var svc *ingest.Service
		if ingestDryRun {
			svc = ingest.NewService(ingestConfig(cfg, logger), nil, logger)
		} else {
			index, db, err := openIndex(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}
			if index == nil {
				return fmt.Errorf("no vector index configured; set DATABASE_URL or use --dry-run")
			}
			svc = ingest.NewService(ingestConfig(cfg, logger), index, logger)
		}

		res, err := svc.Ingest(ctx, string(raw), ingest.Options{
			ChunkSize:    ingestChunkSize,
			ChunkOverlap: ingestChunkOverlap,
		})
		if err != nil {
			return err
		}
		if res.Summary.NothingParsed {
			return fmt.Errorf("no messages found in %s", args[0])
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}
