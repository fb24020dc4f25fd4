// Package onnx backs the engine capability with ONNX Runtime and a
// HuggingFace tokenizer. The exported model must accept an "input_ids"
// tensor of shape [1, seq] and produce "logits" of shape [1, seq, vocab];
// per-position logit rows become candidate sets.
package onnx

import (
	"fmt"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/perplexdev/perplex/internal/engine"
	"github.com/perplexdev/perplex/internal/logger"
)

const intraOpThreads = 4

// Engine implements engine.Engine over a model file and tokenizer file pair.
type Engine struct {
	modelPath string
	tk        *tokenizers.Tokenizer
	vocabSize int
	log       *logger.Logger
	closed    bool
}

// Load initializes the ONNX runtime once per process and opens the
// tokenizer. The model graph itself is loaded when a context is created.
func Load(modelPath, tokenizerPath string) (*Engine, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", tokenizerPath, err)
	}

	e := &Engine{
		modelPath: modelPath,
		tk:        tk,
		vocabSize: int(tk.VocabSize()),
		log:       logger.Log.With("onnx"),
	}
	e.log.Info("engine ready", "model", modelPath, "vocab_size", e.vocabSize)
	return e, nil
}

func (e *Engine) Tokenize(text string, addBOS bool) ([]engine.Token, error) {
	if e.closed {
		return nil, engine.ErrNotLoaded
	}
	ids, texts := e.tk.Encode(text, addBOS)
	tokens := make([]engine.Token, len(ids))
	for i, id := range ids {
		text := ""
		if i < len(texts) {
			text = texts[i]
		}
		tokens[i] = engine.Token{ID: engine.TokenID(id), Text: text}
	}
	return tokens, nil
}

func (e *Engine) Detokenize(id engine.TokenID) (string, error) {
	if e.closed {
		return "", engine.ErrNotLoaded
	}
	return e.tk.Decode([]uint32{uint32(id)}, false), nil
}

func (e *Engine) NewContext(capacity, batchSize int) (engine.Context, error) {
	if e.closed {
		return nil, engine.ErrNotLoaded
	}
	if capacity <= 0 || batchSize <= 0 {
		return nil, fmt.Errorf("invalid context dimensions: capacity %d, batch %d", capacity, batchSize)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(intraOpThreads); err != nil {
		return nil, fmt.Errorf("set threads: %w", err)
	}

	// The sequence length grows per decode, so the session is dynamic:
	// tensors are bound per run, the loaded graph is shared across runs.
	session, err := ort.NewDynamicAdvancedSession(
		e.modelPath,
		[]string{"input_ids"},
		[]string{"logits"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &decodeContext{
		eng:      e,
		capacity: capacity,
		session:  session,
	}, nil
}

func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.tk.Close()
	return nil
}

// decodeContext accumulates the token sequence and reruns the stateless
// forward pass per decode call. The exported graph has no KV cache, so
// causality comes from feeding the full prefix each time; logit rows are
// kept only for the most recent batch.
type decodeContext struct {
	eng      *Engine
	capacity int
	session  *ort.DynamicAdvancedSession
	seq      []int64
	// batchStart is the absolute position of the last batch's first item.
	batchStart int
	batchLen   int
	logits     []float32 // [seqLen * vocab], last run
}

func (c *decodeContext) Decode(batch []engine.BatchItem) error {
	if len(batch) == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(c.seq)+len(batch) > c.capacity {
		return engine.ErrContextFull
	}
	for i, item := range batch {
		if item.Pos != len(c.seq)+i {
			return fmt.Errorf("non-sequential position %d at batch index %d (expected %d)",
				item.Pos, i, len(c.seq)+i)
		}
	}

	c.batchStart = len(c.seq)
	c.batchLen = len(batch)
	for _, item := range batch {
		c.seq = append(c.seq, int64(item.ID))
	}

	return c.run()
}

func (c *decodeContext) run() error {
	seqLen := len(c.seq)
	vocab := c.eng.vocabSize

	inputShape := ort.NewShape(1, int64(seqLen))
	inputData := make([]int64, seqLen)
	copy(inputData, c.seq)
	inputTensor, err := ort.NewTensor(inputShape, inputData)
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputShape := ort.NewShape(1, int64(seqLen), int64(vocab))
	outputData := make([]float32, seqLen*vocab)
	outputTensor, err := ort.NewTensor(outputShape, outputData)
	if err != nil {
		return fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return fmt.Errorf("forward pass: %w", err)
	}

	c.logits = append(c.logits[:0], outputTensor.GetData()...)
	return nil
}

func (c *decodeContext) Candidates(i int) []engine.Candidate {
	if i < 0 || i >= c.batchLen || c.logits == nil {
		return nil
	}
	pos := c.batchStart + i
	row := c.logits[pos*c.eng.vocabSize : (pos+1)*c.eng.vocabSize]

	cands := make([]engine.Candidate, len(row))
	for id, logit := range row {
		cands[id] = engine.Candidate{ID: engine.TokenID(id), Logit: logit}
	}
	return cands
}

func (c *decodeContext) Close() error {
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	c.seq = nil
	c.logits = nil
	return nil
}
