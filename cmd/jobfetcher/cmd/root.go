package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/gridedge/harvester/internal/common/config"
	"github.com/gridedge/harvester/internal/jobfetcher/configuration"
)

const customConfigLocation = "config"

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "jobfetcher",
		SilenceUsage: true,
		Short:        "Fetches jobs from the central scheduler for the configured queues",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindConfigFlag(cmd.Flags())
		},
	}

	cmd.PersistentFlags().StringSlice(
		customConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")

	cmd.AddCommand(
		runCmd(),
		migrateDbCmd(),
		quotaCmd(),
	)

	return cmd
}

// bindConfigFlag makes the --config flag readable through viper
func bindConfigFlag(flags *pflag.FlagSet) error {
	return errors.WithStack(viper.BindPFlag(customConfigLocation, flags.Lookup(customConfigLocation)))
}

func loadConfig() (configuration.JobFetcherConfiguration, error) {
	var config configuration.JobFetcherConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(customConfigLocation)

	if err := commonconfig.LoadConfig(&config, configuration.DefaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}
	err := commonconfig.Validate(config)
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}
