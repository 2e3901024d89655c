package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logbridge_records_total",
		Help: "The total number of client log records processed",
	}, []string{"level"})

	RecordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logbridge_record_failures_total",
		Help: "Client log records that failed to resolve or forward",
	})

	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logbridge_frames_total",
		Help: "Stack frames seen by the deobfuscator",
	}, []string{"outcome"})

	SymbolMapLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logbridge_symbolmap_loads_total",
		Help: "Symbol map load attempts per source",
	}, []string{"result"})

	IneffectiveWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logbridge_deobfuscation_ineffective_total",
		Help: "Permutations whose first trace came back unchanged",
	})

	SinkDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logbridge_sink_dropped_total",
		Help: "Records dropped by an async sink because its queue was full or closed",
	}, []string{"sink"})

	Responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logbridge_responses_total",
		Help: "HTTP responses by route template and status class",
	}, []string{"endpoint", "status"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logbridge_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
