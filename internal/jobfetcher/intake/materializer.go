package intake

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/utils/clock"

	"github.com/gridedge/harvester/internal/common/agentcontext"
	"github.com/gridedge/harvester/internal/jobfetcher/extractor"
	"github.com/gridedge/harvester/internal/jobfetcher/metrics"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
	"github.com/gridedge/harvester/internal/jobfetcher/queueconfig"
)

// propagationDelay is subtracted from now so that new jobs are due for propagation immediately
const propagationDelay = time.Hour

type JobInserter interface {
	InsertJobs(ctx context.Context, jobs []*model.Job) error
}

// Materializer turns raw job records into stored jobs with their input files.
type Materializer struct {
	inserter    JobInserter
	extractors  *extractor.Registry
	clock       clock.Clock
	schedulerID string
}

func NewMaterializer(inserter JobInserter, extractors *extractor.Registry, clk clock.Clock, agentId string) *Materializer {
	return &Materializer{
		inserter:    inserter,
		extractors:  extractors,
		clock:       clk,
		schedulerID: model.SchedulerID(agentId),
	}
}

// Materialize converts rawJobs and stores them in a single InsertJobs call, returning how many jobs were stored.
// Records that cannot be converted are logged and skipped. A failed insert is returned as is and leaves
// the file statuses in cache untouched.
func (m *Materializer) Materialize(
	ctx *agentcontext.Context,
	rawJobs []model.RawJob,
	queue queueconfig.QueueConfig,
	sourceLabel string,
	cache *FileStatusCache,
) (int, error) {
	aux := m.extractorFor(ctx, queue)

	jobs := make([]*model.Job, 0, len(rawJobs))
	fileStatuses := map[string]int{}
	for _, raw := range rawJobs {
		job, err := model.ConvertRawJob(raw)
		if err != nil {
			ctx.Log.WithError(err).Error("Skipping malformed job record")
			continue
		}
		now := m.clock.Now().UTC()
		job.ComputingSite = queue.QueueName
		job.Status = model.JobStatusStarting
		job.SubStatus = model.JobSubStatusFetched
		job.CreationTime = now
		job.ModificationTime = now
		job.StateChangeTime = now
		job.ConfigID = queue.ConfigID
		job.SchedulerID = m.schedulerID
		job.SourceLabel = sourceLabel
		if job.ZipPerMB == nil && queue.ZipPerMB != nil {
			zip := *queue.ZipPerMB
			job.ZipPerMB = &zip
		}

		fileGroups := []map[string]model.FileAttributes{raw.InputFileAttributes()}
		if aux != nil {
			fileGroups = append(fileGroups, aux.GetAuxInputs(job))
		}
		for _, group := range fileGroups {
			lfns := maps.Keys(group)
			sort.Strings(lfns)
			for _, lfn := range lfns {
				f, err := m.newFile(ctx, job, lfn, group[lfn], queue, cache)
				if err != nil {
					cache.Discard()
					return 0, err
				}
				fileStatuses[f.Status]++
				job.AddInFile(f)
			}
		}
		job.PropagatorTime = now.Add(-propagationDelay)
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		cache.Discard()
		return 0, nil
	}

	start := m.clock.Now()
	if err := m.inserter.InsertJobs(ctx, jobs); err != nil {
		cache.Discard()
		return 0, errors.WithMessagef(err, "failed to store %d jobs", len(jobs))
	}
	cache.Commit()
	ctx.Log.Debugf("Stored %d jobs in %s", len(jobs), m.clock.Since(start))
	for status, n := range fileStatuses {
		metrics.FilesMaterialized.WithLabelValues(queue.QueueName, status).Add(float64(n))
	}
	return len(jobs), nil
}

func (m *Materializer) newFile(
	ctx context.Context,
	job *model.Job,
	lfn string,
	attrs model.FileAttributes,
	queue queueconfig.QueueConfig,
	cache *FileStatusCache,
) (*model.File, error) {
	endpoint := queue.DdmEndpointIn
	if endpoint == "" {
		endpoint = attrs.Endpoint
	}
	fileType := model.FileTypeInput
	if attrs.FileType != "" {
		fileType = attrs.FileType
		job.AuxInput = true
	}
	status, err := cache.Assign(ctx, lfn, fileType, endpoint)
	if err != nil {
		return nil, err
	}
	return &model.File{
		PandaID:  job.PandaID,
		TaskID:   job.TaskID,
		LFN:      lfn,
		Scope:    attrs.Scope,
		Endpoint: endpoint,
		FileType: fileType,
		Status:   status,
		URL:      attrs.URL,
		FSize:    attrs.FSize,
		Checksum: attrs.Checksum,
		Dataset:  attrs.Dataset,
		GUID:     attrs.GUID,
	}, nil
}

// extractorFor returns nil when the queue has no extractor or it cannot be built.
func (m *Materializer) extractorFor(ctx *agentcontext.Context, queue queueconfig.QueueConfig) extractor.Extractor {
	if queue.Extractor == nil || m.extractors == nil {
		return nil
	}
	e, err := m.extractors.New(queue.Extractor.Name, queue.Extractor.Params)
	if err != nil {
		ctx.Log.WithError(err).Warn("Ignoring extractor")
		return nil
	}
	return e
}
