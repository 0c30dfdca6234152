package cli

import (
	"fmt"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/export"
	"github.com/spf13/cobra"
)

// parseSince accepts a date (2006-01-02, UTC midnight) or an RFC 3339 timestamp.
func parseSince(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --since %q: want YYYY-MM-DD or RFC 3339", s)
	}
	t = t.UTC()
	return &t, nil
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		out   string
		since string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write geocoded heat points to a Parquet file",
		Long: `Export every incident with status ok or approx as a heat point (id,
coordinates, weight, status, precision, timestamps and S2 cell id) to Parquet.

Example:
  incident-enrich export --out heat.parquet --since 2025-01-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceTime, err := parseSince(since)
			if err != nil {
				return WrapExitError(ExitConfigError, "invalid flags", err)
			}

			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			db, err := openStore(commandContext(cmd), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			points, err := db.HeatPoints(commandContext(cmd), sinceTime)
			if err != nil {
				return WrapExitError(ExitFailure, "read heat points", err)
			}
			if err := export.WriteParquetFile(out, points); err != nil {
				return WrapExitError(ExitFailure, "export failed", err)
			}
			logger.Info("heat points exported", "path", out, "count", len(points))

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"path": out, "points": len(points)})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d heat points to %s\n", len(points), out)
			return err
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output Parquet path (required)")
	cmd.Flags().StringVar(&since, "since", "", "only incidents that occurred on or after this date")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
