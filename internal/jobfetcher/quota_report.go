package jobfetcher

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/gridedge/harvester/internal/common/agentcontext"
	"github.com/gridedge/harvester/internal/common/util"
	"github.com/gridedge/harvester/internal/jobfetcher/configuration"
	"github.com/gridedge/harvester/internal/jobfetcher/intake"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
	"github.com/gridedge/harvester/internal/jobfetcher/queueconfig"
	"github.com/gridedge/harvester/internal/jobfetcher/resourcetype"
)

type Planner interface {
	Plan(ctx *agentcontext.Context, queueName string, eligibleJobs int, stats model.JobStats) (intake.Plan, bool)
}

// QuotaReport plans every queue without fetching anything and renders the shares as a table.
// eligibleJobs overrides each queue's job limit when positive.
func QuotaReport(
	ctx *agentcontext.Context,
	planner Planner,
	catalog *resourcetype.Catalog,
	queues []queueconfig.QueueConfig,
	stats model.JobStats,
	eligibleJobs int,
) string {
	names := catalog.Names()
	w := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	header := []any{"QUEUE", "SITE", "LABEL", "ELIGIBLE"}
	for _, name := range names {
		header = append(header, name)
	}
	w.Row(append(header, "FETCH")...)

	for _, queue := range queues {
		eligible := queue.NQueueLimitJob
		if eligibleJobs > 0 {
			eligible = eligibleJobs
		}
		plan, ok := planner.Plan(ctx, queue.QueueName, eligible, stats)
		if !ok {
			row := []any{queue.QueueName, queue.SiteName, "-", eligible}
			for range names {
				row = append(row, "-")
			}
			w.Row(append(row, "skipped")...)
			continue
		}
		row := []any{queue.QueueName, queue.SiteName, plan.SourceLabel, plan.EligibleJobs}
		for _, name := range names {
			row = append(row, fmt.Sprintf("%.2f", plan.Allocation.Shares[name]))
		}
		mode := "per type"
		if plan.Allocation.AllPositive() {
			mode = "single"
		}
		w.Row(append(row, mode)...)
	}
	return w.String()
}

// PrintQuotaPlan loads configuration and current job statistics and prints the quota table.
func PrintQuotaPlan(config configuration.JobFetcherConfiguration, eligibleJobs int, seed int64) error {
	ctx := agentcontext.Background()
	clk := clock.RealClock{}

	provider, err := queueconfig.NewFileProvider(config.QueueConfig.Path)
	if err != nil {
		return errors.WithMessage(err, "error loading queue configuration")
	}
	catalog, err := LoadCatalog(ctx, configuration.ResourceTypesConfig{Types: config.ResourceTypes.Types}, nil)
	if err != nil {
		return err
	}

	var stats model.JobStats
	if config.Store.Type != configuration.StoreTypeMemory {
		store, closeStore, err := OpenStore(ctx, config.Store, clk)
		if err != nil {
			return errors.WithMessage(err, "error opening store")
		}
		defer closeStore()
		stats, err = store.JobStatsSnapshot(ctx)
		if err != nil {
			ctx.Log.WithError(err).Warn("Failed to read job statistics, planning without them")
			stats = nil
		}
	}

	random := rand.New(rand.NewSource(seed))
	planner := intake.NewIntake(provider, catalog, nil, nil, nil, random, random, clk, config.NodeName, config.Fetcher.MaxJobs)
	fmt.Print(QuotaReport(ctx, planner, catalog, provider.Queues(), stats, eligibleJobs))
	return nil
}
