package handlers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/perplexdev/perplex/internal/analysis"
	"github.com/perplexdev/perplex/internal/logger"
)

// Server owns the analysis worker on behalf of the HTTP handlers. The
// worker's message stream has a single consumer, so every command/response
// cycle runs under the mutex; concurrent requests queue behind each other
// rather than interleaving their messages.
type Server struct {
	worker *analysis.Worker
	mu     sync.Mutex
	ready  atomic.Bool
	log    *logger.Logger
}

func NewServer(load analysis.EngineLoader, batchSize int) *Server {
	return &Server{
		worker: analysis.StartWorkerWithBatchSize(load, batchSize),
		log:    logger.Log.With("server"),
	}
}

// WaitReady blocks until the worker reports the model loaded, or fails.
// It must be called once, before the server starts accepting requests.
func (s *Server) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case msg, ok := <-s.worker.Messages():
		if !ok {
			return fmt.Errorf("worker exited during load")
		}
		switch msg.Kind {
		case analysis.MsgModelLoaded:
			s.ready.Store(true)
			return nil
		case analysis.MsgError:
			return fmt.Errorf("%s", msg.Err)
		default:
			return fmt.Errorf("unexpected message during load: %v", msg.Kind)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the model finished loading.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

func (s *Server) Shutdown() {
	s.worker.Shutdown()
}

// Analyze runs a full analysis, discarding progress, and returns the result.
func (s *Server) Analyze(text string) (*analysis.Result, error) {
	var result *analysis.Result
	err := s.AnalyzeStream(text, func(msg analysis.Message) error {
		if msg.Kind == analysis.MsgCompleted {
			result = msg.Result
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AnalyzeStream runs an analysis and relays every worker message to fn until
// the terminal one. A failing fn stops the relay but the stream is still
// drained so the next request starts clean. The terminal error, if any, is
// returned.
func (s *Server) AnalyzeStream(text string, fn func(msg analysis.Message) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.worker.Analyze(text); err != nil {
		return err
	}

	relay := true
	for msg := range s.worker.Messages() {
		if relay {
			if err := fn(msg); err != nil {
				s.log.Warn("message relay stopped", "error", err.Error())
				relay = false
			}
		}
		switch msg.Kind {
		case analysis.MsgCompleted:
			return nil
		case analysis.MsgError:
			return fmt.Errorf("%s", msg.Err)
		}
	}
	return fmt.Errorf("worker exited mid-analysis")
}

// Tokenize returns the token count of text.
func (s *Server) Tokenize(text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.worker.Tokenize(text); err != nil {
		return 0, err
	}
	for msg := range s.worker.Messages() {
		switch msg.Kind {
		case analysis.MsgTokenCount:
			return msg.Count, nil
		case analysis.MsgError:
			return 0, fmt.Errorf("%s", msg.Err)
		}
	}
	return 0, fmt.Errorf("worker exited mid-tokenize")
}
