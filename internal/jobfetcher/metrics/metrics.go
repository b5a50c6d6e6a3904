package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "harvester_jobfetcher_"

var FetchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "fetch_latency_seconds",
		Help:    "Latency of getJob calls to the central scheduler",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	},
	[]string{"queue"})

var JobsFetched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_fetched_total",
		Help: "Number of jobs received from the central scheduler",
	},
	[]string{"queue", "resourceType", "sourceLabel"})

var FetchFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "fetch_failures_total",
		Help: "Number of getJob calls that failed",
	},
	[]string{"queue"})

var InsertFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "insert_failures_total",
		Help: "Number of fetched job batches that could not be stored",
	},
	[]string{"queue"})

var FilesMaterialized = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "files_materialized_total",
		Help: "Number of input files created for fetched jobs, by initial status",
	},
	[]string{"queue", "status"})

var QuotaShare = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: MetricPrefix + "quota_share",
		Help: "Number of jobs allocated to a resource type in the last cycle",
	},
	[]string{"queue", "resourceType"})

var CycleLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "cycle_latency_seconds",
		Help:    "Duration of one pass over every eligible queue",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
