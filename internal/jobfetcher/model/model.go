package model

import (
	"time"
)

const (
	JobStatusStarting = "starting"
	JobStatusRunning  = "running"

	JobSubStatusFetched = "fetched"
)

const (
	FileStatusToPrepare = "to_prepare"
	FileStatusPreparing = "preparing"
	FileStatusReady     = "ready"
	FileStatusTriggered = "triggered"

	FileTypeInput    = "input"
	FileTypeAuxInput = "aux_input"
)

// InFlightFileStatuses are the statuses meaning somebody is already taking care of staging a file in.
var InFlightFileStatuses = []string{FileStatusReady, FileStatusPreparing, FileStatusToPrepare, FileStatusTriggered}

// Job is a unit of work fetched from the central scheduler.
type Job struct {
	PandaID          int64
	TaskID           int64
	AttemptNr        int
	CurrentPriority  int
	ComputingSite    string
	ResourceType     string
	CoreCount        int
	CreationTime     time.Time
	ModificationTime time.Time
	StateChangeTime  time.Time
	Status           string
	SubStatus        string
	PropagatorTime   time.Time
	AuxInput         bool
	ConfigID         int64
	SchedulerID      string
	SourceLabel      string
	// nil when neither the job nor its queue define one
	ZipPerMB  *int
	JobParams RawJob
	InFiles   []*File
}

// SchedulerID is the tag identifying an agent on its jobs and requests
func SchedulerID(agentId string) string {
	return "harvester-" + agentId
}

func (j *Job) AddInFile(f *File) {
	j.InFiles = append(j.InFiles, f)
}

// File is one input dependency of a Job.
type File struct {
	PandaID  int64
	TaskID   int64
	LFN      string
	Scope    string
	Endpoint string
	FileType string
	Status   string
	URL      string
	FSize    int64
	Checksum string
	Dataset  string
	GUID     string
}

// FileAttributes describes an input file before it becomes a File.
// An empty FileType means a regular input file.
type FileAttributes struct {
	Scope    string
	FileType string
	URL      string
	GUID     string
	FSize    int64
	Checksum string
	Dataset  string
	Endpoint string
}

// QueueLimit is the registration record for one configured queue.
type QueueLimit struct {
	QueueName      string
	SiteName       string
	NQueueLimitJob int
}

type StatusCounts struct {
	Starting int
	Running  int
}

func (c StatusCounts) Active() int {
	return c.Starting + c.Running
}

type ResourceTypeStats struct {
	Jobs  StatusCounts
	Cores StatusCounts
}

// JobStats is keyed by queue name and then resource type. A nil JobStats means no data.
type JobStats map[string]map[string]ResourceTypeStats

// Add accumulates count jobs with the given total cores into the snapshot.
func (s JobStats) Add(queue, resourceType, status string, count int, cores int) {
	if status != JobStatusStarting && status != JobStatusRunning {
		return
	}
	perType, ok := s[queue]
	if !ok {
		perType = map[string]ResourceTypeStats{}
		s[queue] = perType
	}
	stats := perType[resourceType]
	if status == JobStatusStarting {
		stats.Jobs.Starting += count
		stats.Cores.Starting += cores
	} else {
		stats.Jobs.Running += count
		stats.Cores.Running += cores
	}
	perType[resourceType] = stats
}
