// Package engine defines the inference capability the analysis core runs
// against: tokenization, context creation and batched decoding with
// per-position candidate logits. Backends live in subpackages; tests use an
// in-memory double.
package engine

import (
	"errors"
	"fmt"
)

// TokenID is the backend vocabulary index of a token.
type TokenID int32

// Token is one unit from the backend tokenizer: an opaque id plus its
// decoded text form.
type Token struct {
	ID   TokenID
	Text string
}

// Candidate is one possible next token with its unnormalized score.
type Candidate struct {
	ID    TokenID
	Logit float32
}

// BatchItem tags a token with its absolute position in the full sequence.
// Positions are monotonically increasing with no gaps or reuse.
type BatchItem struct {
	ID  TokenID
	Pos int
}

var (
	// ErrNotLoaded is returned by calls on a closed or unloaded engine.
	ErrNotLoaded = errors.New("engine: model not loaded")
	// ErrContextFull is returned when a decode would exceed the context
	// capacity requested at creation.
	ErrContextFull = errors.New("engine: context capacity exceeded")
)

// Engine is a loaded model. An Engine is exclusively owned by one analysis
// worker for its lifetime and is not safe for concurrent use.
type Engine interface {
	// Tokenize splits text into tokens. addBOS controls whether the
	// backend's beginning-of-sequence marker is prepended.
	Tokenize(text string, addBOS bool) ([]Token, error)

	// Detokenize returns the text form of a single token id.
	Detokenize(id TokenID) (string, error)

	// NewContext allocates decode state for up to capacity positions,
	// processed in decode calls of at most batchSize tokens.
	NewContext(capacity, batchSize int) (Context, error)

	Close() error
}

// Context holds causally ordered decode state. Decode calls must submit
// positions in increasing order; Candidates reads back the logits produced
// by the most recent Decode.
type Context interface {
	// Decode runs the forward pass for one batch and retains logits for
	// every position in it.
	Decode(batch []BatchItem) error

	// Candidates returns the candidate set predicting the token that
	// follows the i-th position of the last decoded batch. The returned
	// slice is owned by the caller. An empty set is valid.
	Candidates(i int) []Candidate

	Close() error
}

// TokenText decodes a token id through e, substituting a bracketed-id
// placeholder when the backend cannot decode it. Display paths must never
// fail on a single bad token.
func TokenText(e Engine, id TokenID) string {
	text, err := e.Detokenize(id)
	if err != nil {
		return fmt.Sprintf("[%d]", id)
	}
	return text
}
