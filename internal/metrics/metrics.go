package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksEmitted counts chunks produced by the chunker.
	ChunksEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidsearch_chunks_emitted_total",
		Help: "Total number of transcript chunks produced",
	})

	// EmbedDuration tracks the latency of a single chunk embedding call.
	EmbedDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidsearch_embed_duration_seconds",
		Help:    "Latency of embedding calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"result"})

	// RetrieveDuration tracks the end-to-end latency of an excerpt retrieval.
	RetrieveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidsearch_retrieve_duration_seconds",
		Help:    "Latency of context-expansion retrieval",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"result"})

	// RetrievedChunks counts chunks rendered into excerpts by origin (seed or neighbor).
	RetrievedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidsearch_retrieved_chunks_total",
		Help: "Chunks rendered into excerpts by origin",
	}, []string{"origin"})

	// MediaIndexed counts ingestion runs by result.
	MediaIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidsearch_media_indexed_total",
		Help: "Media ingestion runs by result",
	}, []string{"result"})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveEmbed records one embedding call.
func ObserveEmbed(start time.Time, err error) {
	EmbedDuration.WithLabelValues(result(err)).Observe(time.Since(start).Seconds())
}

// ObserveRetrieve records one retrieval.
func ObserveRetrieve(start time.Time, err error) {
	RetrieveDuration.WithLabelValues(result(err)).Observe(time.Since(start).Seconds())
}

// ObserveIndexed records one ingestion run.
func ObserveIndexed(err error) {
	MediaIndexed.WithLabelValues(result(err)).Inc()
}
