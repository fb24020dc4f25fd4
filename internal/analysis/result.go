package analysis

import (
	"math"
	"time"
)

// Result is the ordered per-token output of one analysis plus its wall-clock
// duration. It is immutable once constructed; the aggregate statistics below
// are pure functions recomputed on demand.
//
// All aggregates exclude the first token (it has no prior context, see
// AnalyzedToken) and are defined as 0 for sequences of one token or fewer.
type Result struct {
	Tokens         []AnalyzedToken
	ProcessingTime time.Duration
}

func NewResult(tokens []AnalyzedToken, elapsed time.Duration) *Result {
	return &Result{Tokens: tokens, ProcessingTime: elapsed}
}

// scored returns the tokens that carry predictive signal.
func (r *Result) scored() []AnalyzedToken {
	if len(r.Tokens) <= 1 {
		return nil
	}
	return r.Tokens[1:]
}

// AverageRank is the mean rank of the actual token among the model's
// candidates.
func (r *Result) AverageRank() float64 {
	scored := r.scored()
	if len(scored) == 0 {
		return 0
	}
	sum := 0
	for _, t := range scored {
		sum += t.Rank
	}
	return float64(sum) / float64(len(scored))
}

// ExactPredictionPercentage is the share of tokens the model ranked first.
func (r *Result) ExactPredictionPercentage() float64 {
	scored := r.scored()
	if len(scored) == 0 {
		return 0
	}
	exact := 0
	for _, t := range scored {
		if t.Rank == 1 {
			exact++
		}
	}
	return float64(exact) / float64(len(scored)) * 100
}

// Perplexity is exp of the mean negative log-probability assigned to the
// actually occurring tokens. A token with probability 0 makes this +Inf;
// that is an observable outcome, not a fault.
func (r *Result) Perplexity() float64 {
	scored := r.scored()
	if len(scored) == 0 {
		return 0
	}
	sumNegLog := 0.0
	for _, t := range scored {
		sumNegLog += -math.Log(float64(t.Probability))
	}
	return math.Exp(sumNegLog / float64(len(scored)))
}

// TextEntropy is the total information content of the text in bits,
// token count times log2 of the perplexity.
func (r *Result) TextEntropy() float64 {
	if len(r.Tokens) <= 1 {
		return 0
	}
	return float64(len(r.Tokens)) * math.Log2(r.Perplexity())
}
