package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/gridedge/harvester/internal/common/util"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
)

var (
	queuesTable = goqu.T("queues")
	jobsTable   = goqu.T("jobs")
	filesTable  = goqu.T("files")

	queue_queueName      = goqu.C("queue_name")
	queue_siteName       = goqu.C("site_name")
	queue_nQueueLimitJob = goqu.C("n_queue_limit_job")
	queue_jobFetchTime   = goqu.C("job_fetch_time")

	job_pandaId       = goqu.I("jobs.panda_id")
	job_computingSite = goqu.I("jobs.computing_site")
	job_resourceType  = goqu.I("jobs.resource_type")
	job_status        = goqu.I("jobs.status")
	job_coreCount     = goqu.I("jobs.core_count")

	file_pandaId  = goqu.I("files.panda_id")
	file_lfn      = goqu.I("files.lfn")
	file_fileType = goqu.I("files.file_type")
	file_endpoint = goqu.I("files.endpoint")
	file_status   = goqu.I("files.status")
)

// isDuplicateFunc reports whether an insert failed because of a primary key violation
type isDuplicateFunc func(err error) bool

// SqlStore implements Store on top of database/sql, building dialect specific SQL with goqu.
type SqlStore struct {
	sqlDb       *sql.DB
	db          *goqu.Database
	clock       clock.Clock
	batchSize   int
	isDuplicate isDuplicateFunc
}

func newSqlStore(dialect string, db *sql.DB, clk clock.Clock, batchSize int, isDuplicate isDuplicateFunc) *SqlStore {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SqlStore{
		sqlDb:       db,
		db:          goqu.New(dialect, db),
		clock:       clk,
		batchSize:   batchSize,
		isDuplicate: isDuplicate,
	}
}

func (s *SqlStore) Close() error {
	return s.sqlDb.Close()
}

// Ping checks the database can be reached; it is used as a health check.
func (s *SqlStore) Ping(ctx context.Context) error {
	return errors.WithStack(s.sqlDb.PingContext(ctx))
}

func (s *SqlStore) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *SqlStore) UpsertQueues(ctx context.Context, queues []model.QueueLimit) error {
	if len(queues) == 0 {
		return nil
	}
	rows := make([]interface{}, 0, len(queues))
	for _, q := range queues {
		rows = append(rows, goqu.Record{
			"queue_name":        q.QueueName,
			"site_name":         q.SiteName,
			"n_queue_limit_job": q.NQueueLimitJob,
		})
	}
	query, args, err := s.db.Insert(queuesTable).
		Prepared(true).
		Rows(rows...).
		OnConflict(goqu.DoUpdate("queue_name", goqu.Record{
			"site_name":         goqu.L("EXCLUDED.site_name"),
			"n_queue_limit_job": goqu.L("EXCLUDED.n_queue_limit_job"),
		})).
		ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return errors.WithStack(err)
}

type queueRow struct {
	QueueName      string `db:"queue_name"`
	NQueueLimitJob int    `db:"n_queue_limit_job"`
}

func (s *SqlStore) CountEligibleJobs(ctx context.Context, maxQueues int, lookupWindow time.Duration) (map[string]int, error) {
	result := map[string]int{}
	now := s.now()
	err := s.db.WithTx(func(tx *goqu.TxDatabase) error {
		var queues []queueRow
		err := tx.From(queuesTable).
			Prepared(true).
			Select(queue_queueName, queue_nQueueLimitJob).
			Where(goqu.Or(
				queue_jobFetchTime.IsNull(),
				queue_jobFetchTime.Lt(now.Add(-lookupWindow)),
			)).
			Order(queue_jobFetchTime.Asc().NullsFirst(), queue_queueName.Asc()).
			ScanStructsContext(ctx, &queues)
		if err != nil {
			return errors.WithStack(err)
		}

		selected := make([]interface{}, 0, maxQueues)
		for _, q := range queues {
			if len(result) >= maxQueues {
				break
			}
			var starting int
			_, err := tx.From(jobsTable).
				Prepared(true).
				Select(goqu.COUNT(goqu.Star())).
				Where(job_computingSite.Eq(q.QueueName), job_status.Eq(model.JobStatusStarting)).
				ScanValContext(ctx, &starting)
			if err != nil {
				return errors.WithStack(err)
			}
			if n := q.NQueueLimitJob - starting; n > 0 {
				result[q.QueueName] = n
				selected = append(selected, q.QueueName)
			}
		}
		if len(selected) == 0 {
			return nil
		}

		query, args, err := tx.Update(queuesTable).
			Prepared(true).
			Set(goqu.Record{"job_fetch_time": now}).
			Where(queue_queueName.In(selected...)).
			ToSQL()
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type jobStatsRow struct {
	ComputingSite string `db:"computing_site"`
	ResourceType  string `db:"resource_type"`
	Status        string `db:"status"`
	Jobs          int    `db:"n_jobs"`
	Cores         int    `db:"n_cores"`
}

func (s *SqlStore) JobStatsSnapshot(ctx context.Context) (model.JobStats, error) {
	var rows []jobStatsRow
	err := s.db.From(jobsTable).
		Prepared(true).
		Select(
			job_computingSite.As("computing_site"),
			job_resourceType.As("resource_type"),
			job_status.As("status"),
			goqu.COUNT(goqu.Star()).As("n_jobs"),
			goqu.COALESCE(goqu.SUM(job_coreCount), 0).As("n_cores"),
		).
		Where(job_status.In(model.JobStatusStarting, model.JobStatusRunning)).
		GroupBy(job_computingSite, job_resourceType, job_status).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	stats := model.JobStats{}
	for _, row := range rows {
		stats.Add(row.ComputingSite, row.ResourceType, row.Status, row.Jobs, row.Cores)
	}
	return stats, nil
}

type fileStatusRow struct {
	Status string `db:"status"`
	Count  int    `db:"n_files"`
}

func (s *SqlStore) FileStatus(ctx context.Context, lfn, fileType, endpoint, jobStatus string) (map[string]int, error) {
	conditions := []exp.Expression{
		file_lfn.Eq(lfn),
		file_fileType.Eq(fileType),
		job_status.Eq(jobStatus),
	}
	if endpoint != "" {
		conditions = append(conditions, file_endpoint.Eq(endpoint))
	}

	var rows []fileStatusRow
	err := s.db.From(filesTable).
		Prepared(true).
		InnerJoin(jobsTable, goqu.On(file_pandaId.Eq(job_pandaId))).
		Select(file_status.As("status"), goqu.COUNT(goqu.Star()).As("n_files")).
		Where(conditions...).
		GroupBy(file_status).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	result := make(map[string]int, len(rows))
	for _, row := range rows {
		result[row.Status] = row.Count
	}
	return result, nil
}

func (s *SqlStore) InsertJobs(ctx context.Context, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	jobRows := make([]interface{}, 0, len(jobs))
	var fileRows []interface{}
	for _, job := range jobs {
		record, err := jobRecord(job)
		if err != nil {
			return err
		}
		jobRows = append(jobRows, record)
		for _, f := range job.InFiles {
			fileRows = append(fileRows, fileRecord(f))
		}
	}

	err := s.db.WithTx(func(tx *goqu.TxDatabase) error {
		if err := s.insertBatched(ctx, tx, jobsTable, jobRows); err != nil {
			return err
		}
		return s.insertBatched(ctx, tx, filesTable, fileRows)
	})
	if err != nil && s.isDuplicate != nil && s.isDuplicate(err) {
		return errors.Wrap(ErrDuplicateJob, err.Error())
	}
	return err
}

func (s *SqlStore) insertBatched(ctx context.Context, tx *goqu.TxDatabase, table exp.IdentifierExpression, rows []interface{}) error {
	for _, batch := range util.Batch(rows, s.batchSize) {
		query, args, err := tx.Insert(table).Prepared(true).Rows(batch...).ToSQL()
		if err != nil {
			return errors.WithStack(err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.WithStack(err)
		}
		log.Debugf("Inserted %d rows into %s", len(batch), table.GetTable())
	}
	return nil
}

func jobRecord(job *model.Job) (goqu.Record, error) {
	params, err := json.Marshal(job.JobParams)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot serialise parameters of job %d", job.PandaID)
	}
	var zipPerMB interface{}
	if job.ZipPerMB != nil {
		zipPerMB = *job.ZipPerMB
	}
	var propagatorTime interface{}
	if !job.PropagatorTime.IsZero() {
		propagatorTime = job.PropagatorTime.UTC()
	}
	return goqu.Record{
		"panda_id":          job.PandaID,
		"task_id":           job.TaskID,
		"attempt_nr":        job.AttemptNr,
		"current_priority":  job.CurrentPriority,
		"computing_site":    job.ComputingSite,
		"resource_type":     job.ResourceType,
		"core_count":        job.CoreCount,
		"creation_time":     job.CreationTime.UTC(),
		"modification_time": job.ModificationTime.UTC(),
		"state_change_time": job.StateChangeTime.UTC(),
		"status":            job.Status,
		"sub_status":        job.SubStatus,
		"propagator_time":   propagatorTime,
		"aux_input":         job.AuxInput,
		"config_id":         job.ConfigID,
		"scheduler_id":      job.SchedulerID,
		"source_label":      job.SourceLabel,
		"zip_per_mb":        zipPerMB,
		"job_params":        string(params),
	}, nil
}

func fileRecord(f *model.File) goqu.Record {
	return goqu.Record{
		"panda_id":  f.PandaID,
		"task_id":   f.TaskID,
		"lfn":       f.LFN,
		"scope":     f.Scope,
		"endpoint":  f.Endpoint,
		"file_type": f.FileType,
		"status":    f.Status,
		"url":       f.URL,
		"fsize":     f.FSize,
		"checksum":  f.Checksum,
		"dataset":   f.Dataset,
		"guid":      f.GUID,
	}
}
