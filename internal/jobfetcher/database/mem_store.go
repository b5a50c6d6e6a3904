package database

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/gridedge/harvester/internal/jobfetcher/model"
)

const (
	memQueuesTable = "queues"
	memJobsTable   = "jobs"
	memFilesTable  = "files"

	idIndex   = "id"
	siteIndex = "site"
	lfnIndex  = "lfn"
)

type memQueue struct {
	QueueName      string
	SiteName       string
	NQueueLimitJob int
	// zero when the queue has never been selected
	JobFetchTime time.Time
}

// memJob is stored in the MemDB and must not be modified after insertion
type memJob struct {
	PandaID       int64
	ComputingSite string
	ResourceType  string
	CoreCount     int
	Status        string
	Job           model.Job
}

type memFile struct {
	FileID  uint64
	PandaID int64
	LFN     string
	File    model.File
}

// MemStore is a Store held in memory on top of go-memdb. Nothing survives a restart.
type MemStore struct {
	db         *memdb.MemDB
	clock      clock.Clock
	nextFileID uint64
}

func memStoreSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memQueuesTable: {
				Name: memQueuesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {Name: idIndex, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "QueueName"}},
				},
			},
			memJobsTable: {
				Name: memJobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex:   {Name: idIndex, Unique: true, Indexer: &memdb.IntFieldIndex{Field: "PandaID"}},
					siteIndex: {Name: siteIndex, Indexer: &memdb.StringFieldIndex{Field: "ComputingSite"}},
				},
			},
			memFilesTable: {
				Name: memFilesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex:  {Name: idIndex, Unique: true, Indexer: &memdb.UintFieldIndex{Field: "FileID"}},
					lfnIndex: {Name: lfnIndex, Indexer: &memdb.StringFieldIndex{Field: "LFN"}},
				},
			},
		},
	}
}

func NewMemStore(clk clock.Clock) (*MemStore, error) {
	db, err := memdb.NewMemDB(memStoreSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemStore{db: db, clock: clk}, nil
}

func (s *MemStore) UpsertQueues(_ context.Context, queues []model.QueueLimit) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, q := range queues {
		record := &memQueue{QueueName: q.QueueName, SiteName: q.SiteName, NQueueLimitJob: q.NQueueLimitJob}
		existing, err := txn.First(memQueuesTable, idIndex, q.QueueName)
		if err != nil {
			return errors.WithStack(err)
		}
		if existing != nil {
			record.JobFetchTime = existing.(*memQueue).JobFetchTime
		}
		if err := txn.Insert(memQueuesTable, record); err != nil {
			return errors.WithStack(err)
		}
	}
	txn.Commit()
	return nil
}

func (s *MemStore) CountEligibleJobs(_ context.Context, maxQueues int, lookupWindow time.Duration) (map[string]int, error) {
	now := s.clock.Now()
	txn := s.db.Txn(true)
	defer txn.Abort()

	iter, err := txn.Get(memQueuesTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var candidates []*memQueue
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		q := obj.(*memQueue)
		if q.JobFetchTime.IsZero() || q.JobFetchTime.Before(now.Add(-lookupWindow)) {
			candidates = append(candidates, q)
		}
	}
	// never selected first, then least recently selected
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].JobFetchTime.Before(candidates[j].JobFetchTime)
	})

	result := map[string]int{}
	for _, q := range candidates {
		if len(result) >= maxQueues {
			break
		}
		starting, err := s.countJobs(txn, q.QueueName, model.JobStatusStarting)
		if err != nil {
			return nil, err
		}
		n := q.NQueueLimitJob - starting
		if n <= 0 {
			continue
		}
		result[q.QueueName] = n
		updated := *q
		updated.JobFetchTime = now
		if err := txn.Insert(memQueuesTable, &updated); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	txn.Commit()
	return result, nil
}

func (s *MemStore) countJobs(txn *memdb.Txn, site string, status string) (int, error) {
	iter, err := txn.Get(memJobsTable, siteIndex, site)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	count := 0
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		if obj.(*memJob).Status == status {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) JobStatsSnapshot(_ context.Context) (model.JobStats, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(memJobsTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stats := model.JobStats{}
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		job := obj.(*memJob)
		stats.Add(job.ComputingSite, job.ResourceType, job.Status, 1, job.CoreCount)
	}
	return stats, nil
}

func (s *MemStore) FileStatus(_ context.Context, lfn, fileType, endpoint, jobStatus string) (map[string]int, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(memFilesTable, lfnIndex, lfn)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := map[string]int{}
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		f := obj.(*memFile)
		if f.File.FileType != fileType || (endpoint != "" && f.File.Endpoint != endpoint) {
			continue
		}
		job, err := txn.First(memJobsTable, idIndex, f.PandaID)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if job == nil || job.(*memJob).Status != jobStatus {
			continue
		}
		result[f.File.Status]++
	}
	return result, nil
}

func (s *MemStore) InsertJobs(_ context.Context, jobs []*model.Job) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	nextFileID := s.nextFileID
	for _, job := range jobs {
		existing, err := txn.First(memJobsTable, idIndex, job.PandaID)
		if err != nil {
			return errors.WithStack(err)
		}
		if existing != nil {
			return errors.Wrapf(ErrDuplicateJob, "PandaID %d", job.PandaID)
		}

		stored := *job
		stored.InFiles = nil
		record := &memJob{
			PandaID:       job.PandaID,
			ComputingSite: job.ComputingSite,
			ResourceType:  job.ResourceType,
			CoreCount:     job.CoreCount,
			Status:        job.Status,
			Job:           stored,
		}
		if err := txn.Insert(memJobsTable, record); err != nil {
			return errors.WithStack(err)
		}
		for _, f := range job.InFiles {
			nextFileID++
			if err := txn.Insert(memFilesTable, &memFile{FileID: nextFileID, PandaID: f.PandaID, LFN: f.LFN, File: *f}); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	s.nextFileID = nextFileID
	txn.Commit()
	return nil
}

// Jobs returns copies of every stored job with its files, ordered by PandaID.
func (s *MemStore) Jobs() []*model.Job {
	txn := s.db.Txn(false)
	iter, err := txn.Get(memJobsTable, idIndex)
	if err != nil {
		return nil
	}
	var result []*model.Job
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		job := obj.(*memJob).Job
		files, err := txn.Get(memFilesTable, idIndex)
		if err != nil {
			return nil
		}
		for f := files.Next(); f != nil; f = files.Next() {
			if mf := f.(*memFile); mf.PandaID == job.PandaID {
				file := mf.File
				job.InFiles = append(job.InFiles, &file)
			}
		}
		result = append(result, &job)
	}
	return result
}
