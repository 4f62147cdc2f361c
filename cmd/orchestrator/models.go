package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-orchestrator/internal/policy"
	"github.com/tjfontaine/polyglot-orchestrator/internal/provider/registry"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show the model policy and configured providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := policy.FromConfig(a.cfg.Policy)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "allowed models:\t%s\n", strings.Join(p.Allowed(), ", "))
			fmt.Fprintf(tw, "default model:\t%s\n", p.Default())
			fmt.Fprintf(tw, "provider types:\t%s\n", strings.Join(registry.ListProviderTypes(), ", "))
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "PREFIX\tTYPE\tBASE URL")
			for _, pc := range a.cfg.Providers {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", pc.Prefix, pc.Type, pc.BaseURL)
			}
			return tw.Flush()
		},
	}
}
