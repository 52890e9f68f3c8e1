package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dpmconv/internal/admin"
)

func newResetCmd(g *globalFlags) *cobra.Command {
	var entitiesOnly bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted rows and reference entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			st, err := requireStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if entitiesOnly {
				if err := admin.ResetEntities(cmd.Context(), st); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "entities reset")
				return nil
			}
			if err := admin.ResetAll(cmd.Context(), st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "entities and references reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&entitiesOnly, "entities-only", false, "Keep the reference entries")
	return cmd
}
