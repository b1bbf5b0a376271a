// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterCandidatesTotal  *prometheus.CounterVec
	harvesterReservedTotal    *prometheus.CounterVec
	harvesterDispatchTotal    *prometheus.CounterVec
	harvesterPriorityHits     *prometheus.CounterVec
	harvesterUpsertRowsTotal  *prometheus.CounterVec
	harvesterPassDuration     *prometheus.HistogramVec
	harvesterActivePasses     prometheus.Gauge
	harvesterPublishFailTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_candidates_total",
				Help: "Candidates considered by the selector, labeled by source and stream.",
			},
			[]string{"source", "stream"},
		)

		harvesterReservedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_reserved_total",
				Help: "Records reserved for dispatch, labeled by source and media type.",
			},
			[]string{"source", "media_type"},
		)

		harvesterDispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_dispatch_total",
				Help: "Dispatch attempts, labeled by source, media type and outcome.",
			},
			[]string{"source", "media_type", "status"},
		)

		harvesterPriorityHits = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_priority_hits_total",
				Help: "Priority overlay entries pulled ahead of the queue, labeled by media type.",
			},
			[]string{"media_type"},
		)

		harvesterUpsertRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_upsert_rows_total",
				Help: "Ledger bulk upsert rows, labeled by source and operation.",
			},
			[]string{"source", "op"},
		)

		harvesterPassDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_pass_duration_seconds",
				Help:    "Histogram of scheduling pass durations, labeled by source.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"source"},
		)

		harvesterActivePasses = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_passes",
				Help: "Number of scheduling passes currently executing.",
			},
		)

		harvesterPublishFailTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_publish_failures_total",
				Help: "Completion events that failed to publish, labeled by source.",
			},
			[]string{"source"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSelected records candidate stream sizes for one selector pass.
func ObserveSelected(source string, neverFetched, oldestFetched int) {
	if harvesterCandidatesTotal == nil {
		return
	}
	harvesterCandidatesTotal.WithLabelValues(source, "never_fetched").Add(float64(neverFetched))
	harvesterCandidatesTotal.WithLabelValues(source, "oldest_fetched").Add(float64(oldestFetched))
}

// ObserveReserved records how many records a pass reserved per category.
func ObserveReserved(source string, movies, shows int) {
	if harvesterReservedTotal == nil {
		return
	}
	harvesterReservedTotal.WithLabelValues(source, "movie").Add(float64(movies))
	harvesterReservedTotal.WithLabelValues(source, "tv").Add(float64(shows))
}

// ObserveDispatch increments the dispatch outcome counter.
func ObserveDispatch(source, mediaType, status string) {
	if harvesterDispatchTotal == nil {
		return
	}
	harvesterDispatchTotal.WithLabelValues(source, mediaType, status).Inc()
}

// ObservePriorityHits records overlay entries that reached dispatch.
func ObservePriorityHits(mediaType string, count int) {
	if harvesterPriorityHits == nil || count == 0 {
		return
	}
	harvesterPriorityHits.WithLabelValues(mediaType).Add(float64(count))
}

// ObserveUpsert records created/updated row counts for a bulk upsert.
func ObserveUpsert(source string, created, updated int) {
	if harvesterUpsertRowsTotal == nil {
		return
	}
	harvesterUpsertRowsTotal.WithLabelValues(source, "created").Add(float64(created))
	harvesterUpsertRowsTotal.WithLabelValues(source, "updated").Add(float64(updated))
}

// ObservePassDuration records how long a scheduling pass took.
func ObservePassDuration(source string, duration time.Duration) {
	if harvesterPassDuration == nil {
		return
	}
	harvesterPassDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// IncActivePasses increments the active passes gauge.
func IncActivePasses() {
	if harvesterActivePasses != nil {
		harvesterActivePasses.Inc()
	}
}

// DecActivePasses decrements the active passes gauge.
func DecActivePasses() {
	if harvesterActivePasses != nil {
		harvesterActivePasses.Dec()
	}
}

// ObservePublishFailure counts completion events that could not be sent.
func ObservePublishFailure(source string) {
	if harvesterPublishFailTotal != nil {
		harvesterPublishFailTotal.WithLabelValues(source).Inc()
	}
}
