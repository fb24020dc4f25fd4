// Package metrics exposes Prometheus collectors for the analysis pipeline.
// Collectors register on the default registry; cmd/perplexd serves them at
// /metrics via promhttp.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perplex_analyses_total",
		Help: "Total number of completed analyses",
	})

	AnalysisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perplex_analysis_errors_total",
		Help: "Total number of failed analyses",
	}, []string{"stage"})

	AnalysisDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "perplex_analysis_duration_seconds",
		Help: "Wall-clock duration of full analyses",
	})

	TokensAnalyzedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perplex_tokens_analyzed_total",
		Help: "Total number of tokens scored",
	})

	TextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perplex_text_length_tokens",
		Help:    "Distribution of analyzed text lengths",
		Buckets: []float64{16, 64, 256, 1024, 4096, 16384, 65536},
	})

	AverageRank = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perplex_average_rank",
		Help:    "Average actual-token rank per analysis",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
	})

	Perplexity = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perplex_perplexity",
		Help:    "Perplexity per analysis (infinite values excluded)",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 500, 5000},
	})

	ModelLoadDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "perplex_model_load_duration_seconds",
		Help: "Time spent loading the model",
	})
)

// RecordAnalysis records a completed analysis.
func RecordAnalysis(tokens int, duration time.Duration) {
	AnalysesTotal.Inc()
	AnalysisDuration.Observe(duration.Seconds())
	TokensAnalyzedTotal.Add(float64(tokens))
	TextLengthHistogram.Observe(float64(tokens))
}

// RecordResultStats records per-analysis aggregates. An infinite perplexity
// (a zero-probability token occurred) is a legitimate outcome but would
// poison the histogram, so it is skipped.
func RecordResultStats(averageRank, perplexity float64) {
	AverageRank.Observe(averageRank)
	if !math.IsInf(perplexity, 0) && !math.IsNaN(perplexity) {
		Perplexity.Observe(perplexity)
	}
}

// RecordAnalysisError counts a failed analysis by stage
// (tokenize, context, decode, load).
func RecordAnalysisError(stage string) {
	AnalysisErrors.WithLabelValues(stage).Inc()
}

// RecordModelLoad records how long an engine took to construct.
func RecordModelLoad(duration time.Duration) {
	ModelLoadDuration.Observe(duration.Seconds())
}
