package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/perplexdev/perplex/internal/engine"
	"github.com/perplexdev/perplex/internal/logger"
	"github.com/perplexdev/perplex/internal/metrics"
)

// CommandKind selects the worker operation.
type CommandKind int

const (
	CmdAnalyze CommandKind = iota
	CmdTokenize
	CmdShutdown
)

// Command is one caller request. Commands are drained one per loop
// iteration; there is no coalescing.
type Command struct {
	Kind CommandKind
	Text string
}

// MessageKind discriminates worker events.
type MessageKind int

const (
	MsgModelLoaded MessageKind = iota
	MsgStarted
	MsgProgress
	MsgTokenCount
	MsgCompleted
	MsgError
)

// Message is one worker event. The message channel is FIFO with the worker
// as sole producer: Started always precedes Progress for a run, and exactly
// one of Completed or Error terminates it.
type Message struct {
	Kind    MessageKind
	Current int // Progress
	Total   int // Progress
	Count   int // TokenCount
	Result  *Result
	Err     string
}

// EngineLoader constructs the engine inside the worker goroutine, which owns
// it for its whole lifetime. Loading can take seconds.
type EngineLoader func() (engine.Engine, error)

const (
	commandQueueSize = 16
	messageQueueSize = 512
)

// ErrCommandQueueFull is returned by Send when the caller outruns the
// worker's command intake.
var ErrCommandQueueFull = errors.New("worker: command queue full")

// Worker runs analyses on a background goroutine, owning its engine and the
// two channel ends. The caller never blocks: commands go through Send,
// results come back via Poll or Messages.
//
// Replacing the loaded model is join-before-spawn: Shutdown the old worker,
// then start a new one. Two workers must never share a model file.
type Worker struct {
	cmds   chan Command
	msgs   chan Message
	done   chan struct{}
	cancel context.CancelFunc

	// mu serializes Send against the channel close in Shutdown.
	mu     sync.RWMutex
	closed bool

	batchSize int
	log       *logger.Logger

	// Single-entry count memo keyed by text hash. Counting fires per
	// keystroke upstream with the same text repeated, so one slot is
	// enough and the memo cannot grow with input history.
	lastCountKey uint64
	lastCount    int
	hasLastCount bool
}

// StartWorker spawns the worker goroutine. The first message is either
// MsgModelLoaded or a terminal MsgError when loading fails (the worker never
// reaches its command loop in that case).
func StartWorker(load EngineLoader) *Worker {
	return StartWorkerWithBatchSize(load, DefaultBatchSize)
}

// StartWorkerWithBatchSize is StartWorker with an explicit decode chunk
// capacity, used by tests and tuning flags.
func StartWorkerWithBatchSize(load EngineLoader, batchSize int) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		cmds:      make(chan Command, commandQueueSize),
		msgs:      make(chan Message, messageQueueSize),
		done:      make(chan struct{}),
		cancel:    cancel,
		batchSize: batchSize,
		log:       logger.Log.With("worker"),
	}
	go w.run(ctx, load)
	return w
}

func (w *Worker) run(ctx context.Context, load EngineLoader) {
	defer close(w.done)
	defer close(w.msgs)

	w.log.Info("worker starting")

	loadStart := time.Now()
	eng, err := load()
	if err != nil {
		metrics.RecordAnalysisError("load")
		w.emit(Message{Kind: MsgError, Err: "failed to load model: " + err.Error()})
		return
	}
	defer eng.Close()
	metrics.RecordModelLoad(time.Since(loadStart))

	analyzer := NewAnalyzer(eng).WithBatchSize(w.batchSize)
	w.log.Info("model loaded, waiting for commands")
	w.emit(Message{Kind: MsgModelLoaded})

	for {
		cmd, ok := <-w.cmds
		if !ok {
			// Caller dropped its handle: implicit shutdown, not an error.
			w.log.Info("command channel closed, shutting down")
			return
		}

		switch cmd.Kind {
		case CmdAnalyze:
			w.emit(Message{Kind: MsgStarted})
			result, err := analyzer.Analyze(ctx, cmd.Text, w.emitProgress)
			if err != nil {
				w.emit(Message{Kind: MsgError, Err: err.Error()})
				continue
			}
			metrics.RecordAnalysis(len(result.Tokens), result.ProcessingTime)
			metrics.RecordResultStats(result.AverageRank(), result.Perplexity())
			w.emit(Message{Kind: MsgCompleted, Result: result})

		case CmdTokenize:
			key := xxhash.Sum64String(cmd.Text)
			var count int
			if w.hasLastCount && w.lastCountKey == key {
				count = w.lastCount
			} else {
				count = analyzer.CountTokens(cmd.Text)
				// Zero covers both empty text and a degraded tokenize
				// failure; neither is worth memoizing, and a transient
				// failure must not stick to its text.
				if count > 0 {
					w.lastCountKey, w.lastCount, w.hasLastCount = key, count, true
				}
			}
			w.emit(Message{Kind: MsgTokenCount, Count: count})

		case CmdShutdown:
			w.log.Info("worker received shutdown command")
			return
		}
	}
}

// emit delivers a lifecycle or terminal message, blocking until the consumer
// has room. FIFO ordering comes from the single channel.
func (w *Worker) emit(msg Message) {
	w.msgs <- msg
}

// emitProgress is best-effort: when the consumer lags, intermediate progress
// is dropped rather than stalling the decode loop. Terminal messages always
// go through emit.
func (w *Worker) emitProgress(current, total int) {
	select {
	case w.msgs <- Message{Kind: MsgProgress, Current: current, Total: total}:
	default:
	}
}

// ErrWorkerClosed is returned by Send after Shutdown.
var ErrWorkerClosed = errors.New("worker: shut down")

// Send enqueues a command without blocking.
func (w *Worker) Send(cmd Command) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWorkerClosed
	}
	select {
	case w.cmds <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// Analyze requests a full analysis of text.
func (w *Worker) Analyze(text string) error {
	return w.Send(Command{Kind: CmdAnalyze, Text: text})
}

// Tokenize requests a token count of text.
func (w *Worker) Tokenize(text string) error {
	return w.Send(Command{Kind: CmdTokenize, Text: text})
}

// Messages exposes the worker's event stream for callers that block on it.
func (w *Worker) Messages() <-chan Message {
	return w.msgs
}

// Poll drains all currently buffered messages without blocking, for callers
// that check once per refresh tick.
func (w *Worker) Poll() []Message {
	var out []Message
	for {
		select {
		case msg, ok := <-w.msgs:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Shutdown stops the worker and joins its goroutine. An in-flight analysis
// is cancelled at its next chunk boundary and reports a terminal error
// before the loop observes the shutdown command.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.cancel()
		// The cancelled context unwinds any in-flight analysis at its next
		// chunk boundary; closing the channel ends the command loop once
		// the queue drains.
		close(w.cmds)
	}
	w.mu.Unlock()
	<-w.done
}
