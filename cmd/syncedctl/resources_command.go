package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newResourcesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the remote resources declared in the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(cfg.Resources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No resources configured")
				return nil
			}
			rows := make([][]string, 0, len(cfg.Resources))
			for _, res := range cfg.Resources {
				auth := "token"
				if res.Public {
					auth = "public"
				}
				transform := "-"
				if res.Transform != "" {
					transform = engineName(res.Engine)
				}
				rows = append(rows, []string{res.Name, res.Kind, res.Path, auth, strings.Join(res.PickFields, ","), transform})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Kind", "Path", "Auth", "Fields", "Transform"},
				rows,
				nil,
			))
			return nil
		},
	}
}

func engineName(engine string) string {
	if strings.TrimSpace(engine) == "" {
		return "expr"
	}
	return strings.ToLower(engine)
}
