package cli

import (
	"fmt"

	"github.com/couchcryptid/incident-heat-etl/internal/store"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Migrate the incidents, zones and geocode_cache schema of DATABASE_URL.
Without --version the schema moves to the latest version; --version 0 rolls
everything back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			backend, err := store.ParseBackend(cfg.DatabaseBackend)
			if err != nil {
				return WrapExitError(ExitConfigError, "invalid database backend", err)
			}
			res, err := store.Migrate(backend, cfg.DatabaseURL, version)
			if err != nil {
				return WrapExitError(ExitFailure, "migration failed", err)
			}
			logger.Info("migration finished", "from", res.From, "to", res.To, "changed", res.Changed)

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			if !res.Changed {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema already at version %d\n", res.To)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema migrated from version %d to %d\n", res.From, res.To)
			return err
		},
	}

	cmd.Flags().IntVar(&version, "version", -1, "target schema version (-1 = latest, 0 = roll back all)")
	return cmd
}
