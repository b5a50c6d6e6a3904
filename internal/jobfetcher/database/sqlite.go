package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queues (
    queue_name        TEXT PRIMARY KEY,
    site_name         TEXT NOT NULL,
    n_queue_limit_job INTEGER NOT NULL DEFAULT 0,
    job_fetch_time    TIMESTAMP NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    panda_id          INTEGER PRIMARY KEY,
    task_id           INTEGER NOT NULL,
    attempt_nr        INTEGER NOT NULL DEFAULT 0,
    current_priority  INTEGER NOT NULL DEFAULT 0,
    computing_site    TEXT NOT NULL,
    resource_type     TEXT NOT NULL DEFAULT '',
    core_count        INTEGER NOT NULL DEFAULT 0,
    creation_time     TIMESTAMP NOT NULL,
    modification_time TIMESTAMP NOT NULL,
    state_change_time TIMESTAMP NOT NULL,
    status            TEXT NOT NULL,
    sub_status        TEXT NOT NULL,
    propagator_time   TIMESTAMP NULL,
    aux_input         BOOLEAN NOT NULL DEFAULT 0,
    config_id         INTEGER NOT NULL DEFAULT 0,
    scheduler_id      TEXT NOT NULL DEFAULT '',
    source_label      TEXT NOT NULL DEFAULT '',
    zip_per_mb        INTEGER NULL,
    job_params        TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_jobs_site_status ON jobs (computing_site, status);

CREATE TABLE IF NOT EXISTS files (
    file_id   INTEGER PRIMARY KEY AUTOINCREMENT,
    panda_id  INTEGER NOT NULL REFERENCES jobs (panda_id) ON DELETE CASCADE,
    task_id   INTEGER NOT NULL,
    lfn       TEXT NOT NULL,
    scope     TEXT NOT NULL DEFAULT '',
    endpoint  TEXT NOT NULL DEFAULT '',
    file_type TEXT NOT NULL,
    status    TEXT NOT NULL,
    url       TEXT NOT NULL DEFAULT '',
    fsize     INTEGER NOT NULL DEFAULT 0,
    checksum  TEXT NOT NULL DEFAULT '',
    dataset   TEXT NOT NULL DEFAULT '',
    guid      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_files_lfn ON files (lfn, file_type, endpoint);
`

// NewSqliteStore opens, creating if needed, a sqlite database file and makes sure the schema exists.
func NewSqliteStore(ctx context.Context, path string, clk clock.Clock, batchSize int) (*SqlStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "could not create directory for sqlite database %s", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening sqlite database %s", path)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	for _, statement := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", sqliteSchema} {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "error preparing sqlite database %s", path)
		}
	}
	log.Infof("Opened sqlite database %s", path)
	return newSqlStore("sqlite3", db, clk, batchSize, isSqliteConstraintViolation), nil
}

func isSqliteConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	default:
		return false
	}
}
