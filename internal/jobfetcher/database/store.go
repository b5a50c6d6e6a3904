package database

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/gridedge/harvester/internal/jobfetcher/model"
)

// ErrDuplicateJob is returned by InsertJobs when a job with the same PandaID is already stored
var ErrDuplicateJob = errors.New("job already exists")

// Store is the durable state the job fetcher reads from and writes to.
type Store interface {
	// UpsertQueues registers queues and their job limits. Existing fetch times are kept.
	UpsertQueues(ctx context.Context, queues []model.QueueLimit) error
	// CountEligibleJobs returns how many jobs each queue may fetch, for at most maxQueues queues
	// not selected within lookupWindow, and marks the returned queues as selected now.
	CountEligibleJobs(ctx context.Context, maxQueues int, lookupWindow time.Duration) (map[string]int, error)
	// JobStatsSnapshot counts starting and running jobs and their cores per queue and resource type.
	JobStatsSnapshot(ctx context.Context) (model.JobStats, error)
	// FileStatus counts files with the given lfn, type and endpoint by status, among jobs in jobStatus.
	// An empty endpoint matches every endpoint.
	FileStatus(ctx context.Context, lfn, fileType, endpoint, jobStatus string) (map[string]int, error)
	// InsertJobs stores the jobs together with their input files atomically.
	InsertJobs(ctx context.Context, jobs []*model.Job) error
}
