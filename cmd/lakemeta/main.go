// Package main implements the lakemeta binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	flags := &configFlags{}
	cmd := &cobra.Command{
		Use:           "lakemeta",
		Short:         "Versioned partition metadata service for lakehouse tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(cmd)

	cmd.AddCommand(serveCommand(flags), gcCommand(flags), versionCommand())
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lakemeta version %s (commit: %s)\n", version, commit)
		},
	}
}
