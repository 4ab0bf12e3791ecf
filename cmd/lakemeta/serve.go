package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakemeta/lakemeta/internal/app"
)

func serveCommand(flags *configFlags) *cobra.Command {
	var withGC bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC metadata servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("gc") {
				cfg.GC.Enabled = withGC
			}

			application, err := app.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := application.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			application.Logger().Info("received shutdown signal", zap.Error(context.Cause(ctx)))
			return application.Stop(context.Background())
		},
	}
	cmd.Flags().BoolVar(&withGC, "gc", false, "Run the garbage collection daemon alongside the servers")
	return cmd
}
