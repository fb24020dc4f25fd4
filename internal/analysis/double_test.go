package analysis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/perplexdev/perplex/internal/engine"
)

// fakeEngine is a deterministic engine double. Tokenization is
// whitespace-based over a fixed vocabulary, and candidate logits depend only
// on the absolute position, so output must be independent of batch size.
type fakeEngine struct {
	vocab []string

	failTokenize    bool
	emitNoTokens    bool
	failContext     bool
	failDecode      bool
	failDetokenize  bool
	emptyCandidates bool
	// excludeID, when set, is filtered out of every candidate set, so it
	// can never be found as the actual next token.
	excludeID  engine.TokenID
	excludeSet bool
	// decodeDelay simulates a slow forward pass.
	decodeDelay time.Duration

	tokenizeCalls int
	contextCalls  int
	lastCapacity  int
	lastBatchSize int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{vocab: []string{"<s>", "a", "b", "c", "d", "e", "f", "g", "h"}}
}

func (f *fakeEngine) lookup(word string) engine.TokenID {
	for i, w := range f.vocab {
		if w == word {
			return engine.TokenID(i)
		}
	}
	return 0
}

func (f *fakeEngine) Tokenize(text string, addBOS bool) ([]engine.Token, error) {
	f.tokenizeCalls++
	if f.failTokenize {
		return nil, errors.New("bad input bytes")
	}
	if f.emitNoTokens {
		return nil, nil
	}
	var tokens []engine.Token
	if addBOS {
		tokens = append(tokens, engine.Token{ID: 0, Text: f.vocab[0]})
	}
	for _, word := range strings.Fields(text) {
		id := f.lookup(word)
		tokens = append(tokens, engine.Token{ID: id, Text: f.vocab[id]})
	}
	return tokens, nil
}

func (f *fakeEngine) Detokenize(id engine.TokenID) (string, error) {
	if f.failDetokenize {
		return "", errors.New("unmapped id")
	}
	if int(id) < 0 || int(id) >= len(f.vocab) {
		return "", fmt.Errorf("id %d out of range", id)
	}
	return f.vocab[id], nil
}

func (f *fakeEngine) NewContext(capacity, batchSize int) (engine.Context, error) {
	f.contextCalls++
	f.lastCapacity = capacity
	f.lastBatchSize = batchSize
	if f.failContext {
		return nil, errors.New("allocation failed")
	}
	return &fakeContext{eng: f, capacity: capacity}, nil
}

func (f *fakeEngine) Close() error { return nil }

// logitAt is an arbitrary but fixed function of candidate id and absolute
// position, with deliberate tie potential.
func logitAt(id engine.TokenID, pos int) float32 {
	return float32((int(id)*7+pos*13)%29) - 14
}

type fakeContext struct {
	eng      *fakeEngine
	capacity int
	decoded  int
	last     []engine.BatchItem
}

func (c *fakeContext) Decode(batch []engine.BatchItem) error {
	if c.eng.failDecode {
		return errors.New("forward pass failed")
	}
	if c.eng.decodeDelay > 0 {
		time.Sleep(c.eng.decodeDelay)
	}
	if c.decoded+len(batch) > c.capacity {
		return engine.ErrContextFull
	}
	c.decoded += len(batch)
	c.last = append(c.last[:0], batch...)
	return nil
}

func (c *fakeContext) Candidates(i int) []engine.Candidate {
	if c.eng.emptyCandidates {
		return nil
	}
	pos := c.last[i].Pos
	cands := make([]engine.Candidate, 0, len(c.eng.vocab))
	for id := range c.eng.vocab {
		if c.eng.excludeSet && engine.TokenID(id) == c.eng.excludeID {
			continue
		}
		cands = append(cands, engine.Candidate{ID: engine.TokenID(id), Logit: logitAt(engine.TokenID(id), pos)})
	}
	return cands
}

func (c *fakeContext) Close() error { return nil }
