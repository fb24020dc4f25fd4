package metrics

import (
	"math"
	"testing"
	"time"
)

func TestRecordAnalysis(t *testing.T) {
	// Collectors are registered once at init; just verify recording does
	// not panic and counters accept accumulation.
	RecordAnalysis(10, 100*time.Millisecond)
	RecordAnalysis(512, 3*time.Second)
	RecordAnalysis(0, 0)
}

func TestRecordResultStats(t *testing.T) {
	RecordResultStats(1.0, 1.0)
	RecordResultStats(7.5, 14.14)
}

func TestRecordResultStatsInfinite(t *testing.T) {
	// Infinite perplexity is a valid analysis outcome but must not reach
	// the histogram.
	RecordResultStats(3.0, math.Inf(1))
	RecordResultStats(3.0, math.NaN())
}

func TestRecordAnalysisError(t *testing.T) {
	RecordAnalysisError("tokenize")
	RecordAnalysisError("decode")
	RecordAnalysisError("decode")
}

func TestRecordModelLoad(t *testing.T) {
	RecordModelLoad(2 * time.Second)
}
