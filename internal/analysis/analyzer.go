package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/perplexdev/perplex/internal/engine"
	"github.com/perplexdev/perplex/internal/logger"
	"github.com/perplexdev/perplex/internal/metrics"
)

const (
	// DefaultBatchSize is the decode chunk capacity.
	DefaultBatchSize = 512
	// contextMargin is headroom requested beyond the token count.
	contextMargin = 512
	// minContextSize floors the requested context capacity.
	minContextSize = 4096
)

// positionScore is the prediction extracted for one position: what the model
// expected to follow it.
type positionScore struct {
	rank        int
	probability float32
	top         []rankedPrediction
}

// Analyzer walks a tokenized text through an engine in fixed-capacity
// batches and scores every position. It is not safe for concurrent use; the
// worker serializes access.
type Analyzer struct {
	eng       engine.Engine
	batchSize int
	log       *logger.Logger
}

func NewAnalyzer(eng engine.Engine) *Analyzer {
	return &Analyzer{
		eng:       eng,
		batchSize: DefaultBatchSize,
		log:       logger.Log.With("analyzer"),
	}
}

// WithBatchSize overrides the decode chunk capacity. Values below 1 keep the
// default. Batch size must not change analysis output, only memory use.
func (a *Analyzer) WithBatchSize(n int) *Analyzer {
	if n >= 1 {
		a.batchSize = n
	}
	return a
}

// Analyze scores every token of text against the model's prediction for it.
//
// progress, if non-nil, observes (processed, total) before each chunk is
// submitted, so it reports "about to process" rather than "just finished".
// Cancelling ctx aborts the chunk loop at the next chunk boundary. Any
// engine failure aborts the whole analysis; no partial result is returned.
func (a *Analyzer) Analyze(ctx context.Context, text string, progress func(current, total int)) (*Result, error) {
	start := time.Now()

	tokens, err := a.eng.Tokenize(text, true)
	if err != nil {
		metrics.RecordAnalysisError("tokenize")
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	if len(tokens) == 0 {
		return NewResult(nil, time.Since(start)), nil
	}

	total := len(tokens)
	a.log.Info("analyzing", "tokens", total, "batch_size", a.batchSize)

	capacity := total + contextMargin
	if capacity < minContextSize {
		capacity = minContextSize
	}

	dctx, err := a.eng.NewContext(capacity, a.batchSize)
	if err != nil {
		metrics.RecordAnalysisError("context")
		return nil, fmt.Errorf("create context (capacity %d): %w", capacity, err)
	}
	defer dctx.Close()

	// scores[i] holds the model's prediction for the token after position i.
	scores := make([]positionScore, 0, total)
	batch := make([]engine.BatchItem, 0, a.batchSize)
	processed := 0

	for processed < total {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analysis cancelled: %w", err)
		}
		if progress != nil {
			progress(processed, total)
		}

		end := processed + a.batchSize
		if end > total {
			end = total
		}
		chunk := tokens[processed:end]

		batch = batch[:0]
		for i, tok := range chunk {
			batch = append(batch, engine.BatchItem{ID: tok.ID, Pos: processed + i})
		}

		if err := dctx.Decode(batch); err != nil {
			metrics.RecordAnalysisError("decode")
			return nil, fmt.Errorf("decode batch at position %d: %w", processed, err)
		}

		for i := range chunk {
			global := processed + i
			hasNext := global+1 < total

			var score positionScore
			if hasNext {
				cands := dctx.Candidates(i)
				score.rank, score.probability, score.top =
					scoreCandidates(cands, tokens[global+1].ID, true)
			} else {
				score = positionScore{rank: 1}
			}
			scores = append(scores, score)
		}

		processed = end
	}

	if progress != nil {
		progress(total, total)
	}

	analyzed := make([]AnalyzedToken, total)
	for i, tok := range tokens {
		// Token i was predicted by position i-1. Position 0 has no
		// predecessor; it carries the placeholder convention.
		rank, probability := 1, float32(0)
		var top []Prediction
		if i > 0 {
			s := scores[i-1]
			rank, probability = s.rank, s.probability
			top = a.resolvePredictions(s.top)
		}
		analyzed[i] = NewAnalyzedToken(tok.Text, rank, top, probability)
	}

	elapsed := time.Since(start)
	a.log.Info("analysis complete", "tokens", total, "elapsed_ms", elapsed.Milliseconds())
	return NewResult(analyzed, elapsed), nil
}

// resolvePredictions decodes candidate ids to display text. Decode failures
// degrade to a bracketed-id placeholder per token, never an error.
func (a *Analyzer) resolvePredictions(top []rankedPrediction) []Prediction {
	if len(top) == 0 {
		return nil
	}
	preds := make([]Prediction, len(top))
	for i, p := range top {
		preds[i] = Prediction{
			Text:        engine.TokenText(a.eng, p.ID),
			Probability: p.Probability,
		}
	}
	return preds
}

// CountTokens tokenizes without the leading sequence marker and reports the
// count. Counting is advisory UI feedback; failures degrade to zero.
func (a *Analyzer) CountTokens(text string) int {
	tokens, err := a.eng.Tokenize(text, false)
	if err != nil {
		a.log.Warn("token count failed", "err", err.Error())
		return 0
	}
	return len(tokens)
}
