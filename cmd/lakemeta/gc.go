package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakemeta/lakemeta/internal/app"
)

func gcCommand(flags *configFlags) *cobra.Command {
	var minAge time.Duration
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run one garbage collection sweep and exit",
		Long:  "Remove data commits no partition version references, together with their files, once they are older than --min-age.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("min-age") {
				cfg.GC.MinAge = minAge
			}

			application, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer application.Stop(context.Background())

			ctx := cmd.Context()
			if err := application.Open(ctx); err != nil {
				return err
			}
			collector, err := application.Collector(ctx)
			if err != nil {
				return err
			}
			result, err := collector.Collect(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"tables=%d partitions=%d commits_removed=%d files_removed=%d skipped=%d errors=%d\n",
				result.Tables, result.Partitions, len(result.DeletedCommits), len(result.DeletedFiles), result.Skipped, len(result.Errors))
			return nil
		},
	}
	cmd.Flags().DurationVar(&minAge, "min-age", 0, "Grace period before an unreferenced commit is removed")
	return cmd
}
