package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/mnemo/internal/config"
)

func init() {
	rootCmd.AddCommand(clearCmd)
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every indexed document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg.LogLevel)
		ctx := context.Background()

		index, db, err := openIndex(ctx, cfg, slog.Default())
		if err != nil {
			return err
		}
		if index == nil {
			return fmt.Errorf("no vector index configured")
		}
		defer db.Close()

		deleted, err := index.Clear(ctx)
		if err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
		if deleted == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Index is already empty.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d documents.\n", deleted)
		return nil
	},
}
