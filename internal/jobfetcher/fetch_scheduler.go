package jobfetcher

import (
	"context"
	"sort"
	"time"

	"golang.org/x/exp/maps"
	"k8s.io/utils/clock"

	"github.com/gridedge/harvester/internal/common/agentcontext"
	"github.com/gridedge/harvester/internal/common/logging"
	"github.com/gridedge/harvester/internal/jobfetcher/configuration"
	"github.com/gridedge/harvester/internal/jobfetcher/metrics"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
)

// QueueDemand reports which queues need jobs and the current job statistics.
type QueueDemand interface {
	CountEligibleJobs(ctx context.Context, maxQueues int, lookupWindow time.Duration) (map[string]int, error)
	JobStatsSnapshot(ctx context.Context) (model.JobStats, error)
}

// ConfigRefresher reloads the queue configuration, keeping the previous one when that fails.
type ConfigRefresher interface {
	RefreshOrLog()
}

type QueueProcessor interface {
	ProcessQueue(ctx *agentcontext.Context, queueName string, eligibleJobs int, stats model.JobStats) int
}

// FetchScheduler drives the fetch loop: every cycle it reloads the queue configuration, picks the
// queues that need jobs and fetches for each of them in turn, then sleeps.
type FetchScheduler struct {
	demand    QueueDemand
	processor QueueProcessor
	refresher ConfigRefresher
	clock     clock.Clock
	config    configuration.FetcherConfig
}

// NewFetchScheduler creates a FetchScheduler. refresher may be nil when the configuration is static.
func NewFetchScheduler(
	demand QueueDemand,
	processor QueueProcessor,
	refresher ConfigRefresher,
	clk clock.Clock,
	config configuration.FetcherConfig,
) *FetchScheduler {
	return &FetchScheduler{
		demand:    demand,
		processor: processor,
		refresher: refresher,
		clock:     clk,
		config:    config,
	}
}

// Run executes cycles until ctx is cancelled. Cancellation is noticed between cycles, never in the middle of one.
func (s *FetchScheduler) Run(ctx *agentcontext.Context) error {
	ctx.Log.Infof("Starting fetch loop with a sleep time of %s", s.config.SleepTime)
	for {
		s.RunCycle(ctx)
		if ctx.Err() != nil {
			ctx.Log.Info("Fetch loop stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			ctx.Log.Info("Fetch loop stopped")
			return nil
		case <-s.clock.After(s.config.SleepTime):
		}
	}
}

// RunCycle processes every queue with free slots once and returns the number of jobs fetched.
func (s *FetchScheduler) RunCycle(ctx *agentcontext.Context) int {
	start := s.clock.Now()
	defer func() {
		metrics.CycleLatency.Observe(s.clock.Since(start).Seconds())
	}()

	if s.refresher != nil {
		s.refresher.RefreshOrLog()
	}

	eligible, err := s.demand.CountEligibleJobs(ctx, s.config.NQueues, s.config.LookupTime)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Error("Failed to find queues needing jobs")
		return 0
	}
	if len(eligible) == 0 {
		ctx.Log.Debug("No queues need jobs")
		return 0
	}

	stats, err := s.demand.JobStatsSnapshot(ctx)
	if err != nil {
		ctx.Log.WithError(err).Warn("Failed to read job statistics, continuing without them")
		stats = nil
	}

	queues := maps.Keys(eligible)
	sort.Strings(queues)
	total := 0
	for _, queue := range queues {
		total += s.processor.ProcessQueue(ctx, queue, eligible[queue], stats)
	}
	ctx.Log.Infof("Fetched %d jobs for %d queues in %s", total, len(queues), s.clock.Since(start))
	return total
}
