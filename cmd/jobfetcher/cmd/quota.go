package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gridedge/harvester/internal/jobfetcher"
)

func quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Prints how each queue's jobs would be split across resource types, without fetching",
		RunE:  printQuota,
	}
	cmd.Flags().Int(
		"jobs",
		0,
		"Number of eligible jobs to plan for every queue; defaults to each queue's job limit")
	cmd.Flags().Int64(
		"seed",
		0,
		"Seed for the resource type order and source label draw; defaults to the current time")
	return cmd
}

func printQuota(cmd *cobra.Command, _ []string) error {
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return errors.WithStack(err)
	}
	seed, err := cmd.Flags().GetInt64("seed")
	if err != nil {
		return errors.WithStack(err)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return jobfetcher.PrintQuotaPlan(config, jobs, seed)
}
