package analysis

import (
	"math"
	"sort"

	"github.com/perplexdev/perplex/internal/engine"
)

// topPredictionCount bounds the alternatives reported per position.
const topPredictionCount = 5

// rankedPrediction is a candidate id with its normalized probability.
type rankedPrediction struct {
	ID          engine.TokenID
	Probability float32
}

// scoreCandidates computes, for one position, the rank and probability of the
// actual next token plus the top alternatives, from raw candidate logits.
//
// Softmax uses the max-trick: exponentials are taken of (logit - max) so the
// largest term is exp(0), which cannot overflow for any logit magnitude, and
// every probability shares the same sum for normalization. Vocabularies run
// 30k-128k candidates, so the sort dominates; ties keep their original
// relative order to stay deterministic.
//
// A missing actual token (final position, or an engine that did not surface
// it among the candidates) degrades to rank 1 / probability 0 rather than an
// error. Top predictions are always reported when candidates exist.
func scoreCandidates(cands []engine.Candidate, actual engine.TokenID, hasActual bool) (int, float32, []rankedPrediction) {
	if len(cands) == 0 {
		return 1, 0, nil
	}

	maxLogit := cands[0].Logit
	for _, c := range cands[1:] {
		if c.Logit > maxLogit {
			maxLogit = c.Logit
		}
	}

	sumExp := 0.0
	for _, c := range cands {
		sumExp += math.Exp(float64(c.Logit - maxLogit))
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Logit > cands[j].Logit
	})

	softmax := func(logit float32) float32 {
		return float32(math.Exp(float64(logit-maxLogit)) / sumExp)
	}

	rank, probability := 1, float32(0)
	if hasActual {
		for i, c := range cands {
			if c.ID == actual {
				rank = i + 1
				probability = softmax(c.Logit)
				break
			}
		}
	}

	n := topPredictionCount
	if n > len(cands) {
		n = len(cands)
	}
	top := make([]rankedPrediction, n)
	for i := 0; i < n; i++ {
		top[i] = rankedPrediction{ID: cands[i].ID, Probability: softmax(cands[i].Logit)}
	}

	return rank, probability, top
}
