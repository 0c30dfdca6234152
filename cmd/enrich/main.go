// Command incident-enrich geocodes and weighs security incidents for heat maps.
package main

import (
	"fmt"
	"os"

	"github.com/couchcryptid/incident-heat-etl/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
