package analysis

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/perplexdev/perplex/internal/engine"
)

func startFakeWorker(t *testing.T, eng *fakeEngine) *Worker {
	t.Helper()
	w := StartWorker(func() (engine.Engine, error) { return eng, nil })
	t.Cleanup(w.Shutdown)
	return w
}

func nextMessage(t *testing.T, w *Worker) Message {
	t.Helper()
	select {
	case msg, ok := <-w.Messages():
		if !ok {
			t.Fatal("message channel closed")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker message")
	}
	return Message{}
}

// nextNonProgress skips progress updates, which are best-effort.
func nextNonProgress(t *testing.T, w *Worker) Message {
	t.Helper()
	for {
		msg := nextMessage(t, w)
		if msg.Kind != MsgProgress {
			return msg
		}
	}
}

func TestWorkerLoadFailure(t *testing.T) {
	w := StartWorker(func() (engine.Engine, error) {
		return nil, errors.New("corrupt model file")
	})
	defer w.Shutdown()

	msg := nextMessage(t, w)
	if msg.Kind != MsgError {
		t.Fatalf("got kind %d, want MsgError", msg.Kind)
	}
	if !strings.Contains(msg.Err, "corrupt model file") {
		t.Errorf("error payload %q missing cause", msg.Err)
	}

	// The worker never reaches Ready; its channel closes.
	if _, ok := <-w.Messages(); ok {
		t.Error("expected closed message channel after load failure")
	}
}

func TestWorkerAnalyzeEmptyText(t *testing.T) {
	w := startFakeWorker(t, newFakeEngine())

	if msg := nextMessage(t, w); msg.Kind != MsgModelLoaded {
		t.Fatalf("first message kind %d, want MsgModelLoaded", msg.Kind)
	}

	if err := w.Analyze(""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg := nextMessage(t, w); msg.Kind != MsgStarted {
		t.Fatalf("got kind %d, want MsgStarted", msg.Kind)
	}
	msg := nextNonProgress(t, w)
	if msg.Kind != MsgCompleted {
		t.Fatalf("got kind %d, want MsgCompleted", msg.Kind)
	}
	if msg.Result == nil || len(msg.Result.Tokens) != 1 {
		t.Errorf("empty text result: %+v", msg.Result)
	}
}

func TestWorkerMessageOrdering(t *testing.T) {
	w := StartWorkerWithBatchSize(func() (engine.Engine, error) {
		return newFakeEngine(), nil
	}, 2)
	defer w.Shutdown()

	if msg := nextMessage(t, w); msg.Kind != MsgModelLoaded {
		t.Fatalf("first message kind %d, want MsgModelLoaded", msg.Kind)
	}
	if err := w.Analyze("a b c d e f"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if msg := nextMessage(t, w); msg.Kind != MsgStarted {
		t.Fatalf("got kind %d, want MsgStarted before any progress", msg.Kind)
	}

	lastCurrent := -1
	sawTerminal := false
	for !sawTerminal {
		msg := nextMessage(t, w)
		switch msg.Kind {
		case MsgProgress:
			if msg.Current < lastCurrent {
				t.Errorf("progress went backwards: %d after %d", msg.Current, lastCurrent)
			}
			lastCurrent = msg.Current
		case MsgCompleted:
			if msg.Result == nil || len(msg.Result.Tokens) != 7 {
				t.Errorf("result: %+v", msg.Result)
			}
			sawTerminal = true
		default:
			t.Fatalf("unexpected message kind %d during run", msg.Kind)
		}
	}
}

func TestWorkerAnalyzeError(t *testing.T) {
	eng := newFakeEngine()
	eng.failDecode = true
	w := startFakeWorker(t, eng)

	nextMessage(t, w) // ModelLoaded
	if err := w.Analyze("a b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg := nextMessage(t, w); msg.Kind != MsgStarted {
		t.Fatalf("got kind %d, want MsgStarted", msg.Kind)
	}
	msg := nextNonProgress(t, w)
	if msg.Kind != MsgError {
		t.Fatalf("got kind %d, want MsgError", msg.Kind)
	}
	if msg.Err == "" {
		t.Error("error message payload empty")
	}

	// The worker returns to Ready and accepts further commands.
	if err := w.Tokenize("a b c"); err != nil {
		t.Fatalf("send after error: %v", err)
	}
	if msg := nextMessage(t, w); msg.Kind != MsgTokenCount || msg.Count != 3 {
		t.Errorf("got kind %d count %d, want MsgTokenCount 3", msg.Kind, msg.Count)
	}
}

func TestWorkerTokenCountCached(t *testing.T) {
	eng := newFakeEngine()
	w := startFakeWorker(t, eng)
	nextMessage(t, w) // ModelLoaded

	for i := 0; i < 3; i++ {
		if err := w.Tokenize("a b"); err != nil {
			t.Fatalf("send: %v", err)
		}
		if msg := nextMessage(t, w); msg.Kind != MsgTokenCount || msg.Count != 2 {
			t.Fatalf("got kind %d count %d, want MsgTokenCount 2", msg.Kind, msg.Count)
		}
	}
	if eng.tokenizeCalls != 1 {
		t.Errorf("tokenize calls: got %d, want 1 (cached)", eng.tokenizeCalls)
	}
}

func TestWorkerTokenCountMemoSingleEntry(t *testing.T) {
	eng := newFakeEngine()
	w := startFakeWorker(t, eng)
	nextMessage(t, w) // ModelLoaded

	count := func(text string, want int) {
		t.Helper()
		if err := w.Tokenize(text); err != nil {
			t.Fatalf("send: %v", err)
		}
		if msg := nextMessage(t, w); msg.Kind != MsgTokenCount || msg.Count != want {
			t.Fatalf("count of %q: got kind %d count %d, want %d", text, msg.Kind, msg.Count, want)
		}
	}

	// Alternating texts evict each other; only the most recent count is
	// memoized, so every switch re-tokenizes.
	count("a b", 2)
	count("a b c", 3)
	count("a b", 2)
	if eng.tokenizeCalls != 3 {
		t.Errorf("tokenize calls: got %d, want 3 (single-entry memo)", eng.tokenizeCalls)
	}
}

func TestWorkerTokenizeFailureNotMemoized(t *testing.T) {
	eng := newFakeEngine()
	eng.failTokenize = true
	w := startFakeWorker(t, eng)
	nextMessage(t, w) // ModelLoaded

	if err := w.Tokenize("a b c"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg := nextMessage(t, w); msg.Kind != MsgTokenCount || msg.Count != 0 {
		t.Fatalf("got kind %d count %d, want MsgTokenCount 0", msg.Kind, msg.Count)
	}

	// The failure was transient; the same text must be re-counted, not
	// served a stale zero.
	eng.failTokenize = false
	if err := w.Tokenize("a b c"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg := nextMessage(t, w); msg.Kind != MsgTokenCount || msg.Count != 3 {
		t.Errorf("got kind %d count %d, want MsgTokenCount 3 after recovery", msg.Kind, msg.Count)
	}
}

func TestWorkerTokenizeFailureCountsZero(t *testing.T) {
	eng := newFakeEngine()
	eng.failTokenize = true
	w := startFakeWorker(t, eng)
	nextMessage(t, w) // ModelLoaded

	if err := w.Tokenize("a"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg := nextMessage(t, w); msg.Kind != MsgTokenCount || msg.Count != 0 {
		t.Errorf("got kind %d count %d, want MsgTokenCount 0", msg.Kind, msg.Count)
	}
}

func TestWorkerShutdownJoins(t *testing.T) {
	w := StartWorker(func() (engine.Engine, error) { return newFakeEngine(), nil })
	nextMessage(t, w) // ModelLoaded
	w.Shutdown()

	if err := w.Send(Command{Kind: CmdTokenize, Text: "a"}); !errors.Is(err, ErrWorkerClosed) {
		t.Errorf("send after shutdown: got %v, want ErrWorkerClosed", err)
	}
	// Channel closed, drained.
	if msgs := w.Poll(); len(msgs) != 0 {
		t.Errorf("unexpected buffered messages after shutdown: %v", msgs)
	}
	// Second shutdown is a no-op.
	w.Shutdown()
}

func TestWorkerCancelsInFlightAnalysis(t *testing.T) {
	eng := newFakeEngine()
	eng.decodeDelay = 20 * time.Millisecond
	w := StartWorkerWithBatchSize(func() (engine.Engine, error) { return eng, nil }, 1)

	nextMessage(t, w) // ModelLoaded
	if err := w.Analyze(strings.TrimSpace(strings.Repeat("a ", 200))); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg := nextMessage(t, w); msg.Kind != MsgStarted {
		t.Fatalf("got kind %d, want MsgStarted", msg.Kind)
	}

	done := make(chan struct{})
	go func() {
		w.Shutdown()
		close(done)
	}()

	// The in-flight analysis aborts at a chunk boundary with a single
	// terminal error.
	msg := nextNonProgress(t, w)
	if msg.Kind != MsgError {
		t.Fatalf("got kind %d, want MsgError after cancellation", msg.Kind)
	}
	if !strings.Contains(msg.Err, "cancelled") {
		t.Errorf("error payload %q does not mention cancellation", msg.Err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not join")
	}
}

func TestWorkerPoll(t *testing.T) {
	w := startFakeWorker(t, newFakeEngine())

	// Poll never blocks, even before any message arrives.
	deadline := time.Now().Add(2 * time.Second)
	var got []Message
	for len(got) == 0 {
		got = w.Poll()
		if time.Now().After(deadline) {
			t.Fatal("no messages observed via Poll")
		}
		time.Sleep(time.Millisecond)
	}
	if got[0].Kind != MsgModelLoaded {
		t.Errorf("first polled message kind %d, want MsgModelLoaded", got[0].Kind)
	}
}
