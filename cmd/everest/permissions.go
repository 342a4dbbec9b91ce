package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/config"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

func pagesCmd() *cobra.Command {
	var (
		role       string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List the pages a role may open",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(cmd.Context(), configPath)
			if err != nil {
				return err
			}

			parsed, err := access.ParseRole(role)
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]interface{}{
				"role":  parsed,
				"pages": table.AllowedPages(parsed),
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Role name (administrator, instructor, learner)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Read permissions from this configuration file")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func checkCmd() *cobra.Command {
	var (
		role       string
		area       string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a role may open a feature area",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(cmd.Context(), configPath)
			if err != nil {
				return err
			}

			parsed, err := access.ParseRole(role)
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]interface{}{
				"role":    parsed,
				"area":    area,
				"allowed": table.HasPermission(parsed, access.FeatureArea(area)),
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Role name")
	cmd.Flags().StringVar(&area, "area", "", "Feature area, e.g. membros")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Read permissions from this configuration file")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("area")
	return cmd
}

func loadTable(ctx context.Context, configPath string) (*access.Table, error) {
	if configPath == "" {
		return access.DefaultTable(), nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	cm, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	permissions := cm.GetConfig().Permissions
	if permissions == nil || len(permissions.Roles) == 0 {
		return access.DefaultTable(), nil
	}
	return access.NewTableFromConfig(permissions.Roles)
}

func printJSON(cmd *cobra.Command, payload interface{}) error {
	data, err := utils.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
