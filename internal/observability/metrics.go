package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citetrail_ingest_steps_total",
		Help: "Ingestion pipeline steps by step name and outcome",
	}, []string{"step", "outcome"})

	PapersByTerminalState = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citetrail_papers_terminal_total",
		Help: "Papers reaching a terminal ingestion state",
	}, []string{"state"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "citetrail_gateway_request_duration_seconds",
		Help:    "Duration of RAG gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	SynthesesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citetrail_syntheses_recorded_total",
		Help: "RAG query round trips persisted to the audit log",
	})

	CitationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citetrail_citations_created_total",
		Help: "Citations linked into user documents",
	})

	CitationVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citetrail_citation_verifications_total",
		Help: "Citation accuracy checks by result",
	}, []string{"result"})

	StalePapersReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citetrail_stale_papers_reclaimed_total",
		Help: "Papers reset to pending after exceeding the stale threshold",
	})
)
