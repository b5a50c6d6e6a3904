package jobfetcher

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/gridedge/harvester/internal/common/agentcontext"
	"github.com/gridedge/harvester/internal/common/app"
	"github.com/gridedge/harvester/internal/common/health"
	"github.com/gridedge/harvester/internal/common/serve"
	"github.com/gridedge/harvester/internal/common/task"
	"github.com/gridedge/harvester/internal/common/util"
	"github.com/gridedge/harvester/internal/jobfetcher/configuration"
	"github.com/gridedge/harvester/internal/jobfetcher/database"
	"github.com/gridedge/harvester/internal/jobfetcher/extractor"
	"github.com/gridedge/harvester/internal/jobfetcher/intake"
	"github.com/gridedge/harvester/internal/jobfetcher/metrics"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
	"github.com/gridedge/harvester/internal/jobfetcher/pandaclient"
	"github.com/gridedge/harvester/internal/jobfetcher/queueconfig"
	"github.com/gridedge/harvester/internal/jobfetcher/resourcetype"
)

const taskShutdownTimeout = 2 * time.Second

// Run sets up the job fetcher and runs it until a SIGTERM is received
func Run(config configuration.JobFetcherConfiguration) error {
	g, ctx := agentcontext.ErrGroup(app.CreateContextWithShutdown())
	clk := clock.RealClock{}

	//////////////////////////////////////////////////////////////////////////
	// Health Checks
	//////////////////////////////////////////////////////////////////////////
	mux := http.NewServeMux()
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)
	health.Register(mux, healthChecks)
	shutdownHttpServer := serve.ServeHttp(config.Http.Port, mux)
	defer shutdownHttpServer()

	shutdownMetricsServer := serve.ServeMetrics(config.Metrics.Port)
	defer shutdownMetricsServer()

	agentId, nodeName := identity(config)
	ctx = agentcontext.WithLogField(ctx, "agent", agentId)

	//////////////////////////////////////////////////////////////////////////
	// Queue configuration and storage
	//////////////////////////////////////////////////////////////////////////
	provider, err := queueconfig.NewFileProvider(config.QueueConfig.Path)
	if err != nil {
		return errors.WithMessage(err, "error loading queue configuration")
	}

	ctx.Log.Infof("Opening %s store", config.Store.Type)
	store, closeStore, err := OpenStore(ctx, config.Store, clk)
	if err != nil {
		return errors.WithMessage(err, "error opening store")
	}
	defer closeStore()
	if err := store.UpsertQueues(ctx, QueueLimits(provider.Queues())); err != nil {
		return errors.WithMessage(err, "error registering queues")
	}
	if pinger, ok := store.(interface{ Ping(ctx context.Context) error }); ok {
		healthChecks.Add(health.FunctionChecker(func() error { return pinger.Ping(ctx) }))
	}

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix)
	defer func() {
		if taskManager.StopAll(taskShutdownTimeout) {
			log.Warn("Background tasks did not stop in time")
		}
	}()
	// the fetch loop reloads the queue configuration every cycle, this only keeps the stored limits in line
	taskManager.Register(func() {
		if err := store.UpsertQueues(ctx, QueueLimits(provider.Queues())); err != nil {
			ctx.Log.WithError(err).Error("Failed to register queues")
		}
	}, config.QueueConfig.RefreshInterval, "queue_registration")

	//////////////////////////////////////////////////////////////////////////
	// Central scheduler
	//////////////////////////////////////////////////////////////////////////
	client, err := pandaclient.NewClient(config.Panda, agentId)
	if err != nil {
		return errors.WithMessage(err, "error creating scheduler client")
	}
	catalog, err := LoadCatalog(ctx, config.ResourceTypes, client)
	if err != nil {
		return errors.WithMessage(err, "error loading resource types")
	}
	ctx.Log.Infof("Using resource types %v", catalog.Names())

	//////////////////////////////////////////////////////////////////////////
	// Fetch loop
	//////////////////////////////////////////////////////////////////////////
	random := util.NewThreadsafeRand(clk.Now().UnixNano())
	materializer := intake.NewMaterializer(store, extractor.DefaultRegistry(), clk, agentId)
	jobIntake := intake.NewIntake(
		provider,
		catalog,
		client,
		store,
		materializer,
		random,
		random,
		clk,
		nodeName,
		config.Fetcher.MaxJobs)
	fetchScheduler := NewFetchScheduler(store, jobIntake, provider, clk, config.Fetcher)
	g.Go(func() error { return fetchScheduler.Run(ctx) })

	startupCompleteCheck.MarkComplete()
	return g.Wait()
}

// OpenStore opens the configured store. The returned function releases it.
func OpenStore(ctx context.Context, config configuration.StoreConfig, clk clock.Clock) (database.Store, func(), error) {
	switch config.Type {
	case configuration.StoreTypePostgres:
		store, err := database.NewPostgresStore(ctx, config.Postgres.Connection, clk, config.BatchSize)
		if err != nil {
			return nil, nil, err
		}
		return store, closeOrLog(store), nil
	case configuration.StoreTypeSqlite:
		store, err := database.NewSqliteStore(ctx, config.Sqlite.Path, clk, config.BatchSize)
		if err != nil {
			return nil, nil, err
		}
		return store, closeOrLog(store), nil
	case configuration.StoreTypeMemory:
		store, err := database.NewMemStore(clk)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown store type %q", config.Type)
	}
}

func closeOrLog(store *database.SqlStore) func() {
	return func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Store didn't close down cleanly")
		}
	}
}

type resourceTypeSource interface {
	GetResourceTypes(ctx context.Context) ([]resourcetype.Definition, error)
}

// LoadCatalog builds the resource type catalog from configuration, falling back to the standard types.
// When configured, the list served by the central scheduler replaces it; if that fails the
// configured list is kept.
func LoadCatalog(ctx *agentcontext.Context, config configuration.ResourceTypesConfig, source resourceTypeSource) (*resourcetype.Catalog, error) {
	definitions := config.Types
	if len(definitions) == 0 {
		definitions = resourcetype.DefaultDefinitions()
	}
	if config.LoadFromServer && source != nil {
		fromServer, err := source.GetResourceTypes(ctx)
		switch {
		case err != nil:
			ctx.Log.WithError(err).Warn("Failed to load resource types from the central scheduler, using configured ones")
		case len(fromServer) == 0:
			ctx.Log.Warn("Central scheduler returned no resource types, using configured ones")
		default:
			definitions = fromServer
		}
	}
	return resourcetype.NewCatalog(definitions)
}

// QueueLimits extracts what the store needs to know about each queue
func QueueLimits(queues []queueconfig.QueueConfig) []model.QueueLimit {
	limits := make([]model.QueueLimit, len(queues))
	for i, q := range queues {
		limits[i] = model.QueueLimit{
			QueueName:      q.QueueName,
			SiteName:       q.SiteName,
			NQueueLimitJob: q.NQueueLimitJob,
		}
	}
	return limits
}

func identity(config configuration.JobFetcherConfiguration) (agentId string, nodeName string) {
	agentId = config.AgentId
	if agentId == "" {
		agentId = uuid.NewString()
		log.Warnf("No agent id configured, using %s", agentId)
	}
	nodeName = config.NodeName
	if nodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.WithError(err).Warn("Could not determine hostname")
			hostname = "unknown"
		}
		nodeName = hostname
	}
	return agentId, nodeName
}
