package mpsc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// receiveAsync runs Receive on its own goroutine so tests can observe
// whether it blocks.
func receiveAsync[T any](rx *Receiver[T]) <-chan result[T] {
	out := make(chan result[T], 1)
	go func() {
		v, err := rx.Receive()
		out <- result[T]{v: v, err: err}
	}()
	return out
}

type result[T any] struct {
	v   T
	err error
}

func TestSendReceive(t *testing.T) {
	tx, rx := New[int]()

	require.NoError(t, tx.Send(5))

	v, err := rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestReceive_ClosedWhenSenderClosed(t *testing.T) {
	tx, rx := New[struct{}]()

	require.NoError(t, tx.Close())

	_, err := rx.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSend_ReceiverClosedReturnsValue(t *testing.T) {
	tx, rx := New[int]()

	require.NoError(t, rx.Close())

	err := tx.Send(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.False(t, IsFatal(err))

	var sendErr *SendError[int]
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, 5, sendErr.Value)
}

func TestSend_ReturnsOriginalValueUnmodified(t *testing.T) {
	type payload struct {
		ID   int
		Tags []string
	}
	tx, rx := New[*payload]()
	require.NoError(t, rx.Close())

	p := &payload{ID: 7, Tags: []string{"a", "b"}}
	err := tx.Send(p)

	var sendErr *SendError[*payload]
	require.ErrorAs(t, err, &sendErr)
	assert.Same(t, p, sendErr.Value)
	assert.Equal(t, []string{"a", "b"}, sendErr.Value.Tags)
}

func TestClonedSendersFromGoroutines(t *testing.T) {
	tx, rx := New[int]()

	tx1, err := tx.Clone()
	require.NoError(t, err)
	tx2, err := tx.Clone()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, s := range []*Sender[int]{tx1, tx2} {
		wg.Add(1)
		go func(s *Sender[int]) {
			defer wg.Done()
			assert.NoError(t, s.Send(1))
			assert.NoError(t, s.Close())
		}(s)
	}
	require.NoError(t, tx.Close())

	for i := 0; i < 2; i++ {
		v, err := rx.Receive()
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	}
	_, err = rx.Receive()
	assert.ErrorIs(t, err, ErrClosed)

	wg.Wait()
}

func TestReceive_FIFO(t *testing.T) {
	tx, rx := New[int]()

	for i := 0; i < 1000; i++ {
		require.NoError(t, tx.Send(i))
	}
	require.NoError(t, tx.Close())

	for i := 0; i < 1000; i++ {
		v, err := rx.Receive()
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	_, err := rx.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceive_PerSenderOrderAcrossProducers(t *testing.T) {
	const producers = 8
	const perProducer = 2000

	type msg struct {
		producer int
		seq      int
	}

	tx, rx := New[msg]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		clone, err := tx.Clone()
		require.NoError(t, err)

		wg.Add(1)
		go func(p int, s *Sender[msg]) {
			defer wg.Done()
			defer s.Close()
			for i := 0; i < perProducer; i++ {
				if err := s.Send(msg{producer: p, seq: i}); err != nil {
					t.Errorf("producer %d: send %d: %v", p, i, err)
					return
				}
			}
		}(p, clone)
	}
	require.NoError(t, tx.Close())

	next := make([]int, producers)
	total := 0
	err := rx.Range(func(m msg) bool {
		assert.Equal(t, next[m.producer], m.seq, "producer %d out of order", m.producer)
		next[m.producer] = m.seq + 1
		total++
		return true
	})
	require.NoError(t, err)

	wg.Wait()
	assert.Equal(t, producers*perProducer, total)
	for p, n := range next {
		assert.Equal(t, perProducer, n, "producer %d", p)
	}
}

func TestClone_OriginalClosedKeepsChannelOpen(t *testing.T) {
	tx, rx := New[string]()

	clone, err := tx.Clone()
	require.NoError(t, err)
	require.NoError(t, tx.Close())

	results := receiveAsync(rx)
	select {
	case r := <-results:
		t.Fatalf("receive returned early: %v, %v", r.v, r.err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, clone.Send("still open"))

	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, "still open", r.v)

	require.NoError(t, clone.Close())
	_, err = rx.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceive_BlockedWokenByLastSenderClose(t *testing.T) {
	tx, rx := New[int]()

	results := receiveAsync(rx)
	select {
	case <-results:
		t.Fatal("receive should block on an empty open channel")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Close())

	select {
	case r := <-results:
		assert.ErrorIs(t, r.err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("receive was not woken by the last sender closing")
	}
}

func TestReceive_BlockedWokenBySend(t *testing.T) {
	tx, rx := New[int]()
	defer tx.Close()

	results := receiveAsync(rx)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tx.Send(42))

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, 42, r.v)
	case <-time.After(2 * time.Second):
		t.Fatal("receive was not woken by send")
	}
}

func TestReceive_ClosedIsTerminal(t *testing.T) {
	tx, rx := New[int]()
	require.NoError(t, tx.Send(1))
	require.NoError(t, tx.Close())

	v, err := rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	for i := 0; i < 5; i++ {
		_, err := rx.Receive()
		assert.ErrorIs(t, err, ErrClosed)
	}

	// a closed sender cannot reopen the channel
	_, err = tx.Clone()
	assert.ErrorIs(t, err, ErrHandleClosed)
	_, err = rx.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceive_DrainsAfterSendersClosed(t *testing.T) {
	tx, rx := New[int]()
	require.NoError(t, tx.Send(1))
	require.NoError(t, tx.Send(2))
	require.NoError(t, tx.Close())

	st, err := rx.Status()
	require.NoError(t, err)
	assert.Equal(t, StateDraining, st.State)

	var got []int
	require.NoError(t, rx.Range(func(v int) bool {
		got = append(got, v)
		return true
	}))
	assert.Equal(t, []int{1, 2}, got)

	st, err = rx.Status()
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st.State)
}

func TestReceive_BatchesRemainingQueue(t *testing.T) {
	tx, rx := New[int]()
	defer tx.Close()

	for i := 1; i <= 4; i++ {
		require.NoError(t, tx.Send(i))
	}

	v, err := rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// the rest of the queue moved to the private buffer in one step
	assert.Equal(t, 3, rx.buffer.Len())
	rx.shared.mu.Lock()
	assert.True(t, rx.shared.queue.Empty())
	rx.shared.mu.Unlock()

	// values sent after the transfer queue up behind the buffered ones
	require.NoError(t, tx.Send(5))
	for want := 2; want <= 5; want++ {
		v, err := rx.Receive()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestRange_StopsWhenFnReturnsFalse(t *testing.T) {
	tx, rx := New[int]()
	defer tx.Close()
	for i := 0; i < 5; i++ {
		require.NoError(t, tx.Send(i))
	}

	var got []int
	err := rx.Range(func(v int) bool {
		got = append(got, v)
		return len(got) < 3
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)

	v, err := rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestClose_Idempotent(t *testing.T) {
	tx, rx := New[int]()
	clone, err := tx.Clone()
	require.NoError(t, err)

	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())

	st, err := rx.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Senders, "closing twice must release only one reference")
	assert.Equal(t, StateOpen, st.State)

	require.NoError(t, clone.Close())
	require.NoError(t, rx.Close())
	require.NoError(t, rx.Close())
}

func TestClosedHandles(t *testing.T) {
	tx, rx := New[int]()
	clone, err := tx.Clone()
	require.NoError(t, err)
	defer clone.Close()

	require.NoError(t, tx.Close())
	assert.ErrorIs(t, tx.Send(1), ErrHandleClosed)
	_, err = tx.Clone()
	assert.ErrorIs(t, err, ErrHandleClosed)

	require.NoError(t, clone.Send(1))
	require.NoError(t, rx.Close())
	_, err = rx.Receive()
	assert.ErrorIs(t, err, ErrHandleClosed)
}

func TestReceiverClose_DropsBufferedValues(t *testing.T) {
	tx, rx := New[int]()
	defer tx.Close()
	for i := 0; i < 3; i++ {
		require.NoError(t, tx.Send(i))
	}
	_, err := rx.Receive()
	require.NoError(t, err)
	require.Equal(t, 2, rx.buffer.Len())

	require.NoError(t, rx.Close())
	assert.Equal(t, 0, rx.buffer.Len())

	var sendErr *SendError[int]
	assert.ErrorAs(t, tx.Send(9), &sendErr)
}

func TestStatus(t *testing.T) {
	tx, rx := New[int]()

	st, err := rx.Status()
	require.NoError(t, err)
	assert.Equal(t, Status{State: StateOpen, Senders: 1, ReceiverAlive: true}, st)
	assert.Equal(t, "open", st.State.String())

	clone, err := tx.Clone()
	require.NoError(t, err)
	require.NoError(t, clone.Send(1))

	st, err = rx.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Senders)
	assert.Equal(t, 1, st.Pending)

	require.NoError(t, tx.Close())
	require.NoError(t, clone.Close())
	st, err = rx.Status()
	require.NoError(t, err)
	assert.Equal(t, StateDraining, st.State)
	assert.Equal(t, "draining", st.State.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestSendError_Message(t *testing.T) {
	err := error(&SendError[int]{Value: 3})
	assert.Equal(t, "mpsc: send on channel with no receiver", err.Error())
	assert.True(t, errors.Is(err, ErrDisconnected))
}
