package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	commondb "github.com/gridedge/harvester/internal/common/database"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// withStores runs action once for every store implementation.
func withStores(t *testing.T, action func(t *testing.T, store Store, clk *clock.FakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clk := clock.NewFakeClock(baseTime)
		store, err := NewMemStore(clk)
		require.NoError(t, err)
		action(t, store, clk)
	})
	t.Run("sqlite", func(t *testing.T) {
		clk := clock.NewFakeClock(baseTime)
		store, err := NewSqliteStore(context.Background(), filepath.Join(t.TempDir(), "harvester.db"), clk, 2)
		require.NoError(t, err)
		defer func() { assert.NoError(t, store.Close()) }()
		action(t, store, clk)
	})
	t.Run("postgres", func(t *testing.T) {
		migrations, err := Migrations()
		require.NoError(t, err)
		err = commondb.WithTestDb(migrations, func(pool *pgxpool.Pool) error {
			clk := clock.NewFakeClock(baseTime)
			db := stdlib.OpenDB(*pool.Config().ConnConfig)
			defer db.Close()
			action(t, newSqlStore("postgres", db, clk, 2, isPostgresUniqueViolation), clk)
			return nil
		})
		if errors.Is(err, commondb.ErrNoTestDatabase) {
			t.Skip("postgres is not available")
		}
		require.NoError(t, err)
	})
}

func testJob(pandaID int64, site, resourceType, status string, cores int, files ...*model.File) *model.Job {
	job := &model.Job{
		PandaID:          pandaID,
		TaskID:           100,
		ComputingSite:    site,
		ResourceType:     resourceType,
		CoreCount:        cores,
		Status:           status,
		SubStatus:        model.JobSubStatusFetched,
		CreationTime:     baseTime,
		ModificationTime: baseTime,
		StateChangeTime:  baseTime,
		PropagatorTime:   baseTime.Add(-time.Hour),
		SchedulerID:      "harvester-test",
		JobParams:        model.RawJob{"PandaID": pandaID},
	}
	for _, f := range files {
		f.PandaID = pandaID
		f.TaskID = job.TaskID
		job.AddInFile(f)
	}
	return job
}

func testFile(lfn, endpoint, status string) *model.File {
	return &model.File{LFN: lfn, Scope: "mc16", Endpoint: endpoint, FileType: model.FileTypeInput, Status: status}
}

func TestStore_CountEligibleJobs(t *testing.T) {
	withStores(t, func(t *testing.T, store Store, clk *clock.FakeClock) {
		ctx := context.Background()
		require.NoError(t, store.UpsertQueues(ctx, []model.QueueLimit{
			{QueueName: "A", SiteName: "SITE_A", NQueueLimitJob: 5},
			{QueueName: "B", SiteName: "SITE_B", NQueueLimitJob: 2},
			{QueueName: "C", SiteName: "SITE_C", NQueueLimitJob: 0},
		}))
		require.NoError(t, store.InsertJobs(ctx, []*model.Job{
			testJob(1, "A", "SCORE", model.JobStatusStarting, 1),
			testJob(2, "A", "SCORE", model.JobStatusRunning, 1),
		}))

		counts, err := store.CountEligibleJobs(ctx, 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 4, "B": 2}, counts)

		counts, err = store.CountEligibleJobs(ctx, 10, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, counts)

		clk.Step(2 * time.Minute)
		counts, err = store.CountEligibleJobs(ctx, 1, time.Minute)
		require.NoError(t, err)
		assert.Len(t, counts, 1)

		// Re-registering a queue updates its limit but keeps its fetch time
		require.NoError(t, store.UpsertQueues(ctx, []model.QueueLimit{{QueueName: "C", SiteName: "SITE_C", NQueueLimitJob: 3}}))
		counts, err = store.CountEligibleJobs(ctx, 10, time.Minute)
		require.NoError(t, err)
		assert.Contains(t, counts, "C")
		assert.Equal(t, 3, counts["C"])
		assert.Len(t, counts, 2)
	})
}

func TestStore_JobStatsSnapshot(t *testing.T) {
	withStores(t, func(t *testing.T, store Store, _ *clock.FakeClock) {
		ctx := context.Background()
		require.NoError(t, store.InsertJobs(ctx, []*model.Job{
			testJob(1, "A", "SCORE", model.JobStatusStarting, 1),
			testJob(2, "A", "MCORE", model.JobStatusRunning, 8),
			testJob(3, "A", "MCORE", model.JobStatusRunning, 8),
			testJob(4, "A", "MCORE", model.JobStatusStarting, 8),
			testJob(5, "B", "SCORE_HIMEM", model.JobStatusRunning, 1),
			testJob(6, "B", "SCORE_HIMEM", "finished", 1),
		}))

		stats, err := store.JobStatsSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.JobStats{
			"A": {
				"SCORE": {Jobs: model.StatusCounts{Starting: 1}, Cores: model.StatusCounts{Starting: 1}},
				"MCORE": {Jobs: model.StatusCounts{Starting: 1, Running: 2}, Cores: model.StatusCounts{Starting: 8, Running: 16}},
			},
			"B": {
				"SCORE_HIMEM": {Jobs: model.StatusCounts{Running: 1}, Cores: model.StatusCounts{Running: 1}},
			},
		}, stats)
	})
}

func TestStore_FileStatus(t *testing.T) {
	withStores(t, func(t *testing.T, store Store, _ *clock.FakeClock) {
		ctx := context.Background()
		require.NoError(t, store.InsertJobs(ctx, []*model.Job{
			testJob(1, "A", "SCORE", model.JobStatusStarting, 1,
				testFile("X", "DISK_A", model.FileStatusToPrepare),
				testFile("Y", "DISK_A", model.FileStatusTriggered)),
			testJob(2, "A", "SCORE", model.JobStatusStarting, 1,
				testFile("X", "DISK_A", model.FileStatusPreparing)),
			testJob(3, "A", "SCORE", model.JobStatusRunning, 1,
				testFile("X", "DISK_A", model.FileStatusReady)),
		}))

		tests := map[string]struct {
			lfn       string
			fileType  string
			endpoint  string
			jobStatus string
			expected  map[string]int
		}{
			"matching files":   {lfn: "X", fileType: model.FileTypeInput, endpoint: "DISK_A", jobStatus: model.JobStatusStarting, expected: map[string]int{model.FileStatusToPrepare: 1, model.FileStatusPreparing: 1}},
			"other job status": {lfn: "X", fileType: model.FileTypeInput, endpoint: "DISK_A", jobStatus: model.JobStatusRunning, expected: map[string]int{model.FileStatusReady: 1}},
			"other endpoint":   {lfn: "X", fileType: model.FileTypeInput, endpoint: "DISK_B", jobStatus: model.JobStatusStarting, expected: map[string]int{}},
			"any endpoint":     {lfn: "Y", fileType: model.FileTypeInput, jobStatus: model.JobStatusStarting, expected: map[string]int{model.FileStatusTriggered: 1}},
			"other file type":  {lfn: "X", fileType: model.FileTypeAuxInput, endpoint: "DISK_A", jobStatus: model.JobStatusStarting, expected: map[string]int{}},
			"unknown lfn":      {lfn: "Z", fileType: model.FileTypeInput, endpoint: "DISK_A", jobStatus: model.JobStatusStarting, expected: map[string]int{}},
		}
		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				statuses, err := store.FileStatus(ctx, tc.lfn, tc.fileType, tc.endpoint, tc.jobStatus)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, statuses)
			})
		}
	})
}

func TestStore_InsertJobsIsAtomic(t *testing.T) {
	withStores(t, func(t *testing.T, store Store, _ *clock.FakeClock) {
		ctx := context.Background()
		require.NoError(t, store.InsertJobs(ctx, []*model.Job{testJob(1, "A", "SCORE", model.JobStatusStarting, 1)}))

		err := store.InsertJobs(ctx, []*model.Job{
			testJob(2, "A", "SCORE", model.JobStatusStarting, 1, testFile("X", "DISK_A", model.FileStatusToPrepare)),
			testJob(1, "A", "SCORE", model.JobStatusStarting, 1),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicateJob))

		stats, err := store.JobStatsSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats["A"]["SCORE"].Jobs.Starting)

		statuses, err := store.FileStatus(ctx, "X", model.FileTypeInput, "DISK_A", model.JobStatusStarting)
		require.NoError(t, err)
		assert.Empty(t, statuses)
	})
}

func TestStore_InsertManyJobsInBatches(t *testing.T) {
	withStores(t, func(t *testing.T, store Store, _ *clock.FakeClock) {
		ctx := context.Background()
		var jobs []*model.Job
		for i := int64(1); i <= 7; i++ {
			jobs = append(jobs, testJob(i, "A", "MCORE", model.JobStatusStarting, 8, testFile("shared", "DISK_A", model.FileStatusPreparing)))
		}
		zip := 100
		jobs[0].ZipPerMB = &zip
		jobs[0].AuxInput = true
		require.NoError(t, store.InsertJobs(ctx, jobs))

		stats, err := store.JobStatsSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, stats["A"]["MCORE"].Jobs.Starting)
		assert.Equal(t, 56, stats["A"]["MCORE"].Cores.Starting)

		statuses, err := store.FileStatus(ctx, "shared", model.FileTypeInput, "DISK_A", model.JobStatusStarting)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{model.FileStatusPreparing: 7}, statuses)
	})
}

func TestStore_InsertNoJobs(t *testing.T) {
	withStores(t, func(t *testing.T, store Store, _ *clock.FakeClock) {
		assert.NoError(t, store.InsertJobs(context.Background(), nil))
		assert.NoError(t, store.UpsertQueues(context.Background(), nil))
	})
}

func TestMemStore_Jobs(t *testing.T) {
	store, err := NewMemStore(clock.NewFakeClock(baseTime))
	require.NoError(t, err)
	require.NoError(t, store.InsertJobs(context.Background(), []*model.Job{
		testJob(2, "A", "SCORE", model.JobStatusStarting, 1, testFile("X", "DISK_A", model.FileStatusToPrepare)),
		testJob(1, "A", "SCORE", model.JobStatusStarting, 1),
	}))
	jobs := store.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, int64(1), jobs[0].PandaID)
	assert.Empty(t, jobs[0].InFiles)
	require.Len(t, jobs[1].InFiles, 1)
	assert.Equal(t, "X", jobs[1].InFiles[0].LFN)
}

func TestPostgresUniqueViolation(t *testing.T) {
	assert.False(t, isPostgresUniqueViolation(errors.New("boom")))
	assert.False(t, isSqliteConstraintViolation(sql.ErrNoRows))
}
