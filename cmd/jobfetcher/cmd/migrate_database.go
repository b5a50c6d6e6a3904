package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gridedge/harvester/internal/jobfetcher/configuration"
	"github.com/gridedge/harvester/internal/jobfetcher/database"
)

func migrateDbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrateDatabase",
		Short: "migrates the job fetcher postgres database to the latest version",
		RunE:  migrateDatabase,
	}
	cmd.Flags().Duration(
		"timeout",
		5*time.Minute,
		"Duration after which the migration will fail if it has not completed")
	return cmd
}

func migrateDatabase(cmd *cobra.Command, _ []string) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return errors.WithStack(err)
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if config.Store.Type != configuration.StoreTypePostgres {
		log.Infof("Store type is %s, which creates its schema on startup; nothing to migrate", config.Store.Type)
		return nil
	}

	start := time.Now()
	log.Info("Beginning job fetcher database migration")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := database.Migrate(ctx, config.Store.Postgres.Connection); err != nil {
		return errors.WithMessage(err, "failed to migrate job fetcher database")
	}
	log.Infof("Job fetcher database migrated in %s", time.Since(start))
	return nil
}
