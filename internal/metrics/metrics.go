package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MalformedLines counts journal lines skipped by the reader.
	MalformedLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlens_journal_malformed_lines_total",
		Help: "Journal lines skipped because they were not a JSON object",
	}, []string{"reason"})

	AppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanlens_journal_append_failures_total",
		Help: "Journal appends dropped because of open or write errors",
	})

	RecordsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlens_journal_records_appended_total",
		Help: "Records appended to run journals by type",
	}, []string{"type"})

	RecordsStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanlens_stream_records_total",
		Help: "Records delivered to live tail consumers",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanlens_stream_active",
		Help: "Live tail consumers currently attached",
	})

	SnapshotBuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scanlens_snapshot_build_seconds",
		Help:    "Time to replay a journal into a snapshot",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	IngestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlens_ingest_messages_total",
		Help: "Ingested messages by outcome",
	}, []string{"outcome"})

	FindingsNotified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlens_findings_notified_total",
		Help: "Finding notifications by outcome",
	}, []string{"outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlens_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})
)
