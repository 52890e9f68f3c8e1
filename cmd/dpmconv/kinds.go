package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dpmconv/internal/core"
)

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the registered kinds in processing order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tKIND\tSECTION\tFILE")
			for _, r := range core.Rules() {
				section := r.Section
				if section == "" {
					section = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Order, r.Kind, section, r.File)
			}
			return tw.Flush()
		},
	}
}
