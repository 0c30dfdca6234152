package cli

import (
	"errors"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/incident-heat-etl/internal/adapter/http"
	"github.com/couchcryptid/incident-heat-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunCommandOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a batch every ENRICH_INTERVAL until interrupted",
		Long: `Run the batch runner on a fixed interval and expose /healthz, /readyz,
/metrics and /runs/last on HTTP_ADDR. /readyz turns ready after the first
completed run. SIGINT or SIGTERM stops between sub-batch commits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts)
		},
	}
	bindRunFlags(cmd, &opts.RunOptions)
	return cmd
}

func serve(cmd *cobra.Command, opts *RunCommandOptions) error {
	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httpadapter.NewServer(httpadapter.Config{
		Addr:            cfg.HTTPAddr,
		Gatherer:        reg,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, a.runner, logger)

	srvErr := make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		if err != nil {
			logger.Error("ops server error", "error", err)
			stop()
		}
		srvErr <- err
	}()

	runErr := a.runner.Serve(ctx, opts.RunOptions, cfg.RunInterval)
	stop()
	if err := <-srvErr; err != nil {
		return WrapExitError(ExitFailure, "ops server failed", err)
	}

	logger.Info("shutdown complete")
	if runErr != nil && !errors.Is(runErr, pipeline.ErrInterrupted) {
		return WrapExitError(ExitFailure, "batch runner failed", runErr)
	}
	return nil
}
