package intake

import (
	"context"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/gridedge/harvester/internal/common/agentcontext"
	"github.com/gridedge/harvester/internal/common/logging"
	"github.com/gridedge/harvester/internal/jobfetcher/metrics"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
	"github.com/gridedge/harvester/internal/jobfetcher/pandaclient"
	"github.com/gridedge/harvester/internal/jobfetcher/queueconfig"
	"github.com/gridedge/harvester/internal/jobfetcher/quota"
	"github.com/gridedge/harvester/internal/jobfetcher/resourcetype"
)

// anyResourceType labels metrics for fetches that are not restricted to one resource type
const anyResourceType = "any"

// JobSource hands out jobs. A nil error means the request succeeded, possibly with no jobs.
type JobSource interface {
	GetJobs(ctx context.Context, req pandaclient.FetchRequest) ([]model.RawJob, error)
}

// Plan is how many jobs of each resource type a queue will ask for in one cycle.
type Plan struct {
	Queue        queueconfig.QueueConfig
	SourceLabel  string
	EligibleJobs int
	Allocation   quota.Allocation
}

// Intake fetches jobs for one queue at a time and stores them.
type Intake struct {
	provider     queueconfig.Provider
	catalog      *resourcetype.Catalog
	allocator    *quota.Allocator
	source       JobSource
	lookup       FileStatusLookup
	materializer *Materializer
	random       *rand.Rand
	clock        clock.Clock
	nodeName     string
	maxJobs      int
}

func NewIntake(
	provider queueconfig.Provider,
	catalog *resourcetype.Catalog,
	source JobSource,
	lookup FileStatusLookup,
	materializer *Materializer,
	permuter quota.Permuter,
	random *rand.Rand,
	clk clock.Clock,
	nodeName string,
	maxJobs int,
) *Intake {
	return &Intake{
		provider:     provider,
		catalog:      catalog,
		allocator:    quota.NewAllocator(catalog, permuter),
		source:       source,
		lookup:       lookup,
		materializer: materializer,
		random:       random,
		clock:        clk,
		nodeName:     nodeName,
		maxJobs:      maxJobs,
	}
}

// Plan works out the source label and per resource type shares for a queue with eligibleJobs free slots.
// It returns false when the queue is unknown or has nothing to fetch. stats may be nil.
func (i *Intake) Plan(ctx *agentcontext.Context, queueName string, eligibleJobs int, stats model.JobStats) (Plan, bool) {
	queue, ok := i.provider.Get(queueName)
	if !ok {
		ctx.Log.Warnf("No configuration for queue %s, skipping", queueName)
		return Plan{}, false
	}
	if i.maxJobs > 0 && eligibleJobs > i.maxJobs {
		eligibleJobs = i.maxJobs
	}
	if eligibleJobs <= 0 {
		return Plan{}, false
	}

	isUnified, err := i.provider.IsUnifiedQueue(queue.SiteName)
	if err != nil {
		ctx.Log.WithError(err).Warnf("Could not tell whether site %s is unified, assuming it is not", queue.SiteName)
		isUnified = false
	}
	sourceLabel := queue.ChooseSourceLabel(i.random, queue.SourceLabel(isUnified))

	perTypeLimits, himemLimit := queueconfig.ParseResourceTypeLimits(i.provider.SiteParams(queue.SiteName))

	var active map[string]model.ResourceTypeStats
	if stats == nil {
		ctx.Log.Warn("No job statistics available, only per resource type limits apply")
	} else {
		active = stats[queueName]
		if active == nil {
			active = map[string]model.ResourceTypeStats{}
		}
	}

	allocation := i.allocator.Allocate(quota.Request{
		EligibleJobs:      eligibleJobs,
		ResourceTypes:     i.catalog.Names(),
		PerTypeLimits:     perTypeLimits,
		HimemLimit:        himemLimit,
		Active:            active,
		DefaultMcoreCores: i.provider.CoreCount(queue.SiteName),
	})
	return Plan{
		Queue:        queue,
		SourceLabel:  sourceLabel,
		EligibleJobs: eligibleJobs,
		Allocation:   allocation,
	}, true
}

// ProcessQueue fetches and stores jobs for one queue and returns how many jobs were received.
// Failures are logged and never stop the cycle.
func (i *Intake) ProcessQueue(ctx *agentcontext.Context, queueName string, eligibleJobs int, stats model.JobStats) int {
	ctx = agentcontext.WithLogField(ctx, "queue", queueName)
	plan, ok := i.Plan(ctx, queueName, eligibleJobs, stats)
	if !ok {
		return 0
	}
	ctx = agentcontext.WithLogFields(ctx, logrus.Fields{
		"site":        plan.Queue.SiteName,
		"sourceLabel": plan.SourceLabel,
	})
	for resourceType, share := range plan.Allocation.Shares {
		metrics.QuotaShare.WithLabelValues(queueName, resourceType).Set(share)
	}

	cycle := &IntakeCycle{
		intake:      i,
		queue:       plan.Queue,
		sourceLabel: plan.SourceLabel,
		remaining:   plan.EligibleJobs,
		cache:       NewFileStatusCache(i.lookup),
	}
	return cycle.run(ctx, plan.Allocation)
}

// IntakeCycle is one queue's fetch in one cycle. It owns the file status cache shared by all its calls.
type IntakeCycle struct {
	intake      *Intake
	queue       queueconfig.QueueConfig
	sourceLabel string
	remaining   int
	cache       *FileStatusCache
}

func (c *IntakeCycle) run(ctx *agentcontext.Context, allocation quota.Allocation) int {
	if allocation.AllPositive() {
		got := c.fetch(ctx, anyResourceType, c.queue.GetJobCriteria, c.remaining)
		c.remaining -= got
		return got
	}

	total := 0
	for _, resourceType := range allocation.Order {
		if c.remaining <= 0 {
			break
		}
		n := int(math.RoundToEven(allocation.Shares[resourceType]))
		if n > c.remaining {
			n = c.remaining
		}
		got := c.fetch(
			agentcontext.WithLogField(ctx, "resourceType", resourceType),
			resourceType,
			map[string]string{"resourceType": resourceType},
			n)
		c.remaining -= got
		total += got
	}
	return total
}

// fetch requests up to n jobs and stores them. It returns the number of jobs received, which is
// also what is returned when storing them fails.
func (c *IntakeCycle) fetch(ctx *agentcontext.Context, resourceType string, criteria map[string]string, n int) int {
	if n <= 0 {
		return 0
	}
	i := c.intake
	start := i.clock.Now()
	rawJobs, err := i.source.GetJobs(ctx, pandaclient.FetchRequest{
		SiteName:         c.queue.SiteName,
		Node:             i.nodeName,
		SourceLabel:      c.sourceLabel,
		ComputingElement: i.nodeName,
		NJobs:            n,
		Criteria:         criteria,
	})
	elapsed := i.clock.Since(start)
	metrics.FetchLatency.WithLabelValues(c.queue.QueueName).Observe(elapsed.Seconds())
	if err != nil {
		ctx.Log.WithError(err).Warnf("Failed to fetch %d jobs after %s", n, elapsed)
		metrics.FetchFailures.WithLabelValues(c.queue.QueueName).Inc()
		return 0
	}
	ctx.Log.Infof("Asked for %d jobs, got %d in %s", n, len(rawJobs), elapsed)
	if len(rawJobs) == 0 {
		return 0
	}
	metrics.JobsFetched.WithLabelValues(c.queue.QueueName, resourceType, c.sourceLabel).Add(float64(len(rawJobs)))

	if _, err := i.materializer.Materialize(ctx, rawJobs, c.queue, c.sourceLabel, c.cache); err != nil {
		logging.WithStacktrace(ctx.Log, err).Errorf("Failed to store %d fetched jobs", len(rawJobs))
		metrics.InsertFailures.WithLabelValues(c.queue.QueueName).Inc()
	}
	return len(rawJobs)
}
