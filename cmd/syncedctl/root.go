package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var backendFlag string
	var compactFlag bool

	ctx := newCommandContext(&configFlag, &backendFlag)

	rootCmd := &cobra.Command{
		Use:           "syncedctl",
		Short:         "Inspect synced documents and fetch remote resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Override the persistence backend (file, bolt, sqlite, redis, memory)")

	rootCmd.PersistentFlags().BoolVar(&compactFlag, "compact", false, "Print JSON output on a single line")

	rootCmd.AddCommand(newDocsCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newResourcesCommand(ctx))

	return rootCmd
}
