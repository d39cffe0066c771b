package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BootStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appboot_boot_step_duration_seconds",
			Help:    "Time taken by each bootstrap step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	MigrationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "appboot_migrations_applied_total",
			Help: "Total number of schema migrations applied",
		},
	)

	StaticFilesCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "appboot_static_files_copied_total",
			Help: "Total number of static files copied into the serving root",
		},
	)

	WorkersAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "appboot_workers_alive",
			Help: "Number of serving worker processes currently alive",
		},
	)

	WorkerSpawns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appboot_worker_spawns_total",
			Help: "Total number of worker processes spawned",
		},
		[]string{"reason"},
	)

	WorkerRecycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "appboot_worker_recycles_total",
			Help: "Total number of workers recycled after reaching their request threshold",
		},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appboot_requests_total",
			Help: "Total number of requests served",
		},
		[]string{"code"},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "appboot_request_duration_seconds",
			Help:    "Time taken to serve requests",
			Buckets: prometheus.DefBuckets,
		},
	)
)
