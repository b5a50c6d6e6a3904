package database

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	commondb "github.com/gridedge/harvester/internal/common/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the postgres schema migrations in the order they must be applied.
func Migrations() ([]commondb.Migration, error) {
	return commondb.ReadMigrations(migrationFiles, "migrations")
}

// Migrate brings the postgres schema up to date.
func Migrate(ctx context.Context, connection map[string]string) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}
	pool, err := commondb.OpenPgxPool(ctx, connection)
	if err != nil {
		return err
	}
	defer pool.Close()
	return commondb.UpdateDatabase(ctx, pool, migrations)
}

// NewPostgresStore connects through the pgx database/sql driver. The schema must already be migrated.
func NewPostgresStore(ctx context.Context, connection map[string]string, clk clock.Clock, batchSize int) (*SqlStore, error) {
	db, err := sql.Open("pgx", commondb.CreateConnectionString(connection))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	log.Info("Connected to postgres")
	return newSqlStore("postgres", db, clk, batchSize, isPostgresUniqueViolation), nil
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
