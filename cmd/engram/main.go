// Command engram watches for meetings, records them, and turns the recordings
// into transcripts, summaries and action items.
package main

import (
	"os"

	"github.com/GriffinCanCode/engram/internal/cli"
	"github.com/GriffinCanCode/engram/internal/config"
)

func main() {
	deps := &cli.Dependencies{Config: config.Load()}
	if err := cli.NewRootCmd(deps).Execute(); err != nil {
		cli.PrintError(err)
		os.Exit(1)
	}
}
