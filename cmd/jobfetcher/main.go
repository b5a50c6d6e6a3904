package main

import (
	"os"

	"github.com/gridedge/harvester/cmd/jobfetcher/cmd"
	"github.com/gridedge/harvester/internal/common/logging"
)

func main() {
	logging.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
