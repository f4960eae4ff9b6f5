package dispatcher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	called := false
	d.Register(":TEST:", func(e Event) (any, error) {
		called = true
		return "result", nil
	})

	result, err := d.Dispatch(Event{Command: ":TEST:", Args: []string{"arg1"}})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if result != "result" {
		t.Errorf("expected 'result', got %v", result)
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: ":UNKNOWN:"})

	if err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestDispatcher_QueuedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(":QUEUED:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Queued())

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: ":QUEUED:"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "queued" {
			t.Errorf("expected 'queued', got %v", result)
		}
	}

	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_QueuedPreservesOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got []string
	d.Register(":ORDER:", func(e Event) (any, error) {
		got = append(got, e.Args[0])
		return nil, nil
	}, Queued())

	for i := 0; i < 100; i++ {
		if _, err := d.Dispatch(Event{Command: ":ORDER:", Args: []string{strconv.Itoa(i)}}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(got) != 100 {
		t.Fatalf("expected 100 events, got %d", len(got))
	}
	for i, arg := range got {
		if arg != strconv.Itoa(i) {
			t.Fatalf("event %d out of order: %s", i, arg)
		}
	}
}

func TestDispatcher_QueuedNeverDrops(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	var processed atomic.Int32
	d.Register(":SLOW:", func(e Event) (any, error) {
		<-block
		processed.Add(1)
		return nil, nil
	}, Queued())

	// with the handler stuck, every dispatch still returns immediately
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if _, err := d.Dispatch(Event{Command: ":SLOW:"}); err != nil {
				t.Errorf("dispatch %d: %v", i, err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked behind a slow handler")
	}

	close(block)
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if processed.Load() != 1000 {
		t.Errorf("expected 1000 processed, got %d", processed.Load())
	}
}

func TestDispatcher_DispatchAfterClose(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":CLOSED:", func(e Event) (any, error) { return nil, nil }, Queued())

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := d.Dispatch(Event{Command: ":CLOSED:"})
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}

	if err := d.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestDispatcher_Producers(t *testing.T) {
	d, _ := newTestDispatcher(t)

	const producers = 4
	const perProducer = 250

	var mu sync.Mutex
	last := make(map[string]int)
	var outOfOrder atomic.Int32
	var processed atomic.Int32

	d.Register(":FANIN:", func(e Event) (any, error) {
		seq, _ := strconv.Atoi(e.Args[1])
		mu.Lock()
		if prev, ok := last[e.Args[0]]; ok && seq != prev+1 {
			outOfOrder.Add(1)
		}
		last[e.Args[0]] = seq
		mu.Unlock()
		processed.Add(1)
		return nil, nil
	}, Queued())

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		tx, err := d.Producer(":FANIN:")
		if err != nil {
			t.Fatalf("producer %d: %v", p, err)
		}
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			defer tx.Close()
			for i := 0; i < perProducer; i++ {
				e := Event{Command: ":FANIN:", Args: []string{strconv.Itoa(p), strconv.Itoa(i)}}
				if err := tx.Send(e); err != nil {
					t.Errorf("producer %d send %d: %v", p, i, err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if processed.Load() != producers*perProducer {
		t.Errorf("expected %d processed, got %d", producers*perProducer, processed.Load())
	}
	if outOfOrder.Load() != 0 {
		t.Errorf("expected per-producer order, %d events out of order", outOfOrder.Load())
	}
}

func TestDispatcher_ProducerErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":SYNC:", func(e Event) (any, error) { return nil, nil })
	d.Register(":ASYNC:", func(e Event) (any, error) { return nil, nil }, Queued())

	if _, err := d.Producer(":SYNC:"); err == nil {
		t.Error("expected error for a handler that is not queued")
	}
	if _, err := d.Producer(":MISSING:"); err == nil {
		t.Error("expected error for an unknown command")
	}

	d.Close()

	if _, err := d.Producer(":ASYNC:"); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":LOGGED:", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	d.Dispatch(Event{Command: ":LOGGED:", Args: []string{"a", "b"}})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":ERROR:", func(e Event) (any, error) {
		return nil, fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(Event{Command: ":ERROR:"})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
			break
		}
	}

	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_QueuedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":QERR:", func(e Event) (any, error) {
		return nil, fmt.Errorf("disk full")
	}, Queued())

	result, err := d.Dispatch(Event{Command: ":QERR:"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}
	d.Close()

	logger.mu.Lock()
	defer logger.mu.Unlock()

	found := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR: queued event failed") && strings.Contains(msg, "disk full") {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected the handler error to be logged, got %v", logger.messages)
	}
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	d.Register(":COMBINED:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return "done", nil
	}, Queued(), Logged())

	result, err := d.Dispatch(Event{Command: ":COMBINED:"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}

	wg.Wait()
	d.Close()

	if processed.Load() != 1 {
		t.Errorf("expected 1 processed, got %d", processed.Load())
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	// handling is logged on the consumer goroutine
	if len(logger.messages) < 2 {
		t.Errorf("expected log messages, got %d", len(logger.messages))
	}
}
