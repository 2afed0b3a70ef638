package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelscout_import_jobs_finished_total",
		Help: "Import jobs reaching a terminal status, by status.",
	}, []string{"status"})

	dependenciesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelscout_dependencies_resolved_total",
		Help: "Dependencies resolved or scheduled, by resolution source.",
	}, []string{"source"})

	dependenciesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelscout_dependencies_failed_total",
		Help: "Dependencies no tier could resolve or that policy denied.",
	})
)
