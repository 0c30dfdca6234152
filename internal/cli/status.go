package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show incident counts per geocode status and the cache size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			db, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			counts, err := db.StatusCounts(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "count incidents", err)
			}
			entries, err := db.CountCacheEntries(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "count cache entries", err)
			}
			return writeStatus(cmd.OutOrStdout(), rootOpts.Format, counts, entries)
		},
	}
}
