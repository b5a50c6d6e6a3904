package database

import (
	"context"
	"os"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gridedge/harvester/internal/common/util"
)

// ErrNoTestDatabase is returned by WithTestDb when no postgres server is reachable
var ErrNoTestDatabase = errors.New("no postgres server available for tests")

const defaultTestConnectionString = "host=localhost port=5432 user=postgres password=psw sslmode=disable"

// WithTestDb creates a throwaway database, applies migrations and runs action against it.
// The server is taken from HARVESTER_TEST_POSTGRES, falling back to localhost.
// The database is dropped afterwards.
func WithTestDb(migrations []Migration, action func(db *pgxpool.Pool) error) error {
	ctx := context.Background()

	connectionString := os.Getenv("HARVESTER_TEST_POSTGRES")
	if connectionString == "" {
		connectionString = defaultTestConnectionString
	}

	admin, err := pgx.Connect(ctx, connectionString)
	if err != nil {
		return errors.Wrap(ErrNoTestDatabase, err.Error())
	}
	defer admin.Close(ctx)

	dbName := "test_" + util.NewULID()
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		_, err := admin.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = $1`, dbName)
		if err != nil {
			log.WithError(err).Warn("Failed to disconnect test database users")
		}
		if _, err := admin.Exec(ctx, "DROP DATABASE "+dbName); err != nil {
			log.WithError(err).Warnf("Failed to drop test database %s", dbName)
		}
	}()

	pool, err := pgxpool.Connect(ctx, connectionString+" dbname="+dbName)
	if err != nil {
		return errors.WithStack(err)
	}
	defer pool.Close()

	if err := UpdateDatabase(ctx, pool, migrations); err != nil {
		return errors.WithStack(err)
	}
	return action(pool)
}
