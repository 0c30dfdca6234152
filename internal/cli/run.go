package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/incident-heat-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// RunCommandOptions holds flags for the run command.
type RunCommandOptions struct {
	*RootOptions
	pipeline.RunOptions
}

func bindRunFlags(cmd *cobra.Command, opts *pipeline.RunOptions) {
	f := cmd.Flags()
	f.IntVar(&opts.BatchSize, "batch-size", 0, "maximum incidents to process (default ENRICH_BATCH_SIZE)")
	f.IntVar(&opts.Offset, "offset", 0, "skip the first N candidates")
	f.BoolVar(&opts.Force, "force", false, "re-geocode settled incidents, bypassing the cache")
	f.BoolVar(&opts.IncludeApprox, "include-approx", false, "with --force, also revisit approx incidents")
	f.BoolVar(&opts.WeightOnly, "only-weight", false, "recompute heat weights only, no geocoding")
	f.BoolVar(&opts.CentroidOnly, "centroid-only", false, "assign zone centroids to incidents without coordinates")
	f.BoolVar(&opts.DryRun, "dry-run", false, "compute everything, persist nothing")
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunCommandOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich one batch of incidents and exit",
		Long: `Select incidents that still need a geocode (null coordinates, or status
pending/fail) in id order, geocode them, weigh them and commit every
ENRICH_COMMIT_EVERY records.

Record-level geocode failures never fail the command; they are stored as
geocode_status = fail. Interrupting keeps the sub-batches already committed.

Example:
  incident-enrich run --batch-size 500
  incident-enrich run --only-weight
  incident-enrich run --force --include-approx --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}
	bindRunFlags(cmd, &opts.RunOptions)
	return cmd
}

func runBatch(cmd *cobra.Command, opts *RunCommandOptions) error {
	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.runner.Run(ctx, opts.RunOptions)
	switch {
	case errors.Is(err, pipeline.ErrInterrupted):
		logger.Warn("run interrupted, committed sub-batches kept", "commits", summary.Commits)
	case err != nil:
		if summary.RunID == "" {
			return WrapExitError(ExitConfigError, "invalid run", err)
		}
		return WrapExitError(ExitFailure, "batch run failed", err)
	}
	return writeRunSummary(cmd.OutOrStdout(), opts.Format, summary)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
