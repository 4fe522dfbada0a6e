package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feedback metrics
	FeedbackPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answers_feedback_persisted_total",
			Help: "Total number of feedback values persisted, by resulting kind",
		},
		[]string{"kind"},
	)

	FeedbackPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answers_feedback_persist_failures_total",
			Help: "Total number of feedback writes that failed and were dropped",
		},
	)

	FeedbackUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answers_feedback_updates_total",
			Help: "Feedback updates received by the API",
		},
		[]string{"status"},
	)

	// Citation content metrics
	CitationFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answers_citation_fetches_total",
			Help: "Citation content fetches by outcome (result, error, stale)",
		},
		[]string{"outcome"},
	)

	CitationFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answers_citation_fetch_duration_seconds",
			Help:    "Citation content fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answers_content_lookups_total",
			Help: "Server-side citation content lookups by source (store, search, miss)",
		},
		[]string{"source"},
	)

	// Generation metrics
	AnswersGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answers_generated_total",
			Help: "Assistant answers generated",
		},
		[]string{"status"},
	)

	AnswerCitations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answers_citations_per_answer",
			Help:    "Number of raw citations attached to each generated answer",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
	)
)
