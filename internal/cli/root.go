// Package cli implements the incident-enrich command tree.
package cli

import (
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	NoColor bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Settings come from the
// environment; flags only shape a single invocation.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "incident-enrich",
		Short: "Geocode and weigh security incidents for heat maps",
		Long: `incident-enrich resolves incident addresses to coordinates through a
two-tier cache, a rate-limited Nominatim provider and zone centroids,
and scores every incident with a decaying heat weight.

Configuration is read from the environment (DATABASE_URL, GEOCODER_*, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitConfigError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.NoColor {
				color.NoColor = true
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedZonesCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}
