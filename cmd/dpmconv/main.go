// Command dpmconv converts a DPM CSV export into a JSON document from the
// command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dpmconv/internal/config"
	"github.com/JonMunkholm/dpmconv/internal/core"
	_ "github.com/JonMunkholm/dpmconv/internal/core/rules" // Register all kinds
	"github.com/JonMunkholm/dpmconv/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		msg := err.Error()
		if core.IsUserFacing(err) {
			msg = core.FormatUserError(err) + "\n  " + msg
		}
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	dbPath  string
	envFile string
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "dpmconv",
		Short:         "Convert DPM regulatory metadata exports to JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.dbPath, "db", "d", "", "SQLite database to persist into or read from (overrides DB_DRIVER)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "Environment file to load before reading configuration")

	root.AddCommand(newConvertCmd(&g))
	root.AddCommand(newKindsCmd())
	root.AddCommand(newRowsCmd(&g))
	root.AddCommand(newResetCmd(&g))
	return root
}

// loadConfig reads the environment, an optional env file, and applies the
// global flags. Existing variables win over the file.
func loadConfig(g *globalFlags) (*config.Config, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil {
			return nil, fmt.Errorf("invalid configuration: env file: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if g.dbPath != "" {
		cfg.Database.Driver, cfg.Database.URL = config.DriverSQLite, g.dbPath
	}
	return cfg, nil
}

var errNoStore = errors.New("invalid configuration: no database configured; pass --db or set DB_DRIVER")

// requireStore opens the configured store and fails when there is none.
func requireStore(cmd *cobra.Command, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(cmd.Context(), cfg.Database, nil)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errNoStore
	}
	return st, nil
}
