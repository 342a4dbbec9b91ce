package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "everest",
		Short:         "Everest portal gateway",
		Long:          "Gateway between the Everest portal UI and its hosted backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(serveCmd(), pagesCmd(), checkCmd(), versionCmd())
	return cmd
}
