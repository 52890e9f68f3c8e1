package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRowsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rows <section>",
		Short: "Print the persisted rows of a section as JSON lines",
		Args:  cobra.ExactArgs(1),
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

			rows, err := st.Rows(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range rows {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
