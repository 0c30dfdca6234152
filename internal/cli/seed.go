package cli

import (
	"fmt"
	"os"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// zoneFile is the YAML layout accepted by seed-zones:
//
//	zones:
//	  - id: 1
//	    name: Z1
//	    lat: -16.409
//	    lon: -71.535
type zoneFile struct {
	Zones []domain.Zone `yaml:"zones"`
}

// loadZones reads zones from path, or returns the demo grid when path is empty.
func loadZones(path string) ([]domain.Zone, error) {
	if path == "" {
		return domain.DemoZones(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}
	var f zoneFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse zone file %s: %w", path, err)
	}
	if len(f.Zones) == 0 {
		return nil, fmt.Errorf("zone file %s has no zones", path)
	}
	return f.Zones, nil
}

// NewSeedZonesCommand creates the seed-zones command.
func NewSeedZonesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-zones [file]",
		Short: "Upsert zone centroids used by the fallback",
		Long: `Upsert zones from a YAML file, or with no file, seven demo zones on a
0.01 degree grid around the district center.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			zones, err := loadZones(path)
			if err != nil {
				return WrapExitError(ExitConfigError, "invalid zones", err)
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

			inserted, err := db.UpsertZones(commandContext(cmd), zones)
			if err != nil {
				return WrapExitError(ExitFailure, "seed zones failed", err)
			}
			logger.Info("zones seeded", "total", len(zones), "inserted", inserted)

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"zones": len(zones), "inserted": inserted})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d zones (%d new)\n", len(zones), inserted)
			return err
		},
	}
	return cmd
}
