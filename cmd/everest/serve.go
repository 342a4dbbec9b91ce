package main

import (
	"github.com/spf13/cobra"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/service"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  "Run the HTTP gateway until SIGINT, SIGTERM or SIGQUIT",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.NewService(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			return svc.Start()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yml", "Path to the configuration file")
	return cmd
}
