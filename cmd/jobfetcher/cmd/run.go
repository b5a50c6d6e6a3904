package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gridedge/harvester/internal/common/logging"
	"github.com/gridedge/harvester/internal/jobfetcher"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the job fetcher",
		RunE:  runJobFetcher,
	}
	return cmd
}

func runJobFetcher(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	logging.MustConfigureApplicationLogging(config.Logging)
	return jobfetcher.Run(config)
}
